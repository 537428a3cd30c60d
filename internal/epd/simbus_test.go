package epd

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
)

func TestSimBusFraming(t *testing.T) {
	tests := []struct {
		name    string
		steps   func(b *SimBus) error
		wantErr bool
	}{
		{
			name: "framed command",
			steps: func(b *SimBus) error {
				b.SetPin(PinDC, gpio.Low)
				b.SetPin(PinCS, gpio.Low)
				err := b.Write([]byte{0x12})
				b.SetPin(PinCS, gpio.High)
				return err
			},
		},
		{
			name: "write without chip select",
			steps: func(b *SimBus) error {
				return b.Write([]byte{0x12})
			},
			wantErr: true,
		},
		{
			name: "two writes under one chip select",
			steps: func(b *SimBus) error {
				b.SetPin(PinCS, gpio.Low)
				if err := b.Write([]byte{0x12}); err != nil {
					return err
				}
				return b.Write([]byte{0x13})
			},
			wantErr: true,
		},
		{
			name: "status read with DC low",
			steps: func(b *SimBus) error {
				b.SetPin(PinDC, gpio.Low)
				b.SetPin(PinCS, gpio.Low)
				_, err := b.ReadByte()
				return err
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewSimBus(RevisionB)
			if err := b.Open(); err != nil {
				t.Fatal(err)
			}
			err := tt.steps(b)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSimBusDCWhileSelected(t *testing.T) {
	b := NewSimBus(RevisionLegacy)
	if err := b.Open(); err != nil {
		t.Fatal(err)
	}
	b.SetPin(PinCS, gpio.Low)
	b.SetPin(PinDC, gpio.High)
	if b.Err() == nil {
		t.Error("DC change under chip select not flagged")
	}
}

func TestSimBusBusyPolarity(t *testing.T) {
	for _, tt := range []struct {
		rev  Revision
		busy gpio.Level
	}{
		{RevisionB, gpio.High},
		{RevisionLegacy, gpio.Low},
	} {
		b := NewSimBus(tt.rev)
		b.BusyReads = 1
		if err := b.Open(); err != nil {
			t.Fatal(err)
		}
		b.SetPin(PinDC, gpio.Low)
		b.SetPin(PinCS, gpio.Low)
		if err := b.Write([]byte{0x20}); err != nil {
			t.Fatal(err)
		}
		b.SetPin(PinCS, gpio.High)
		if got := b.ReadPin(PinBusy); got != tt.busy {
			t.Errorf("%s: first sample = %v, want busy %v", tt.rev, got, tt.busy)
		}
		if got := b.ReadPin(PinBusy); got == tt.busy {
			t.Errorf("%s: second sample still busy", tt.rev)
		}
	}
}

func TestSimBusClosed(t *testing.T) {
	b := NewSimBus(RevisionB)
	if err := b.Close(); err == nil {
		t.Error("Close on a closed bus succeeded")
	}
	b.SetPin(PinCS, gpio.Low)
	if b.Err() == nil {
		t.Error("pin change on closed bus not flagged")
	}
}
