package epd

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	appLog "epd4in2b/internal/log"
)

// Transaction is one chip-select bracketed transfer seen by a SimBus.
type Transaction struct {
	// Command is true when DC was low (a command byte).
	Command bool
	Data    []byte
}

// SimBus is an in-memory Bus. It emulates a Panel controller whose status
// byte reads back as Status and which reports busy for BusyReads polls after
// every command, enforces the framing rules (DC set before CS, CS low for
// exactly one transfer), records every transaction, and never sleeps.
//
// It backs the -dry-run mode and the driver tests.
type SimBus struct {
	// Panel is the emulated controller; it sets the BUSY polarity.
	Panel Revision

	// Status is returned by the detection read. NewSimBus makes it match
	// Panel; setting it apart models a bus that misreads the status byte.
	Status byte

	// BusyReads is how many BUSY samples report busy after each command.
	BusyReads int

	// OpenErr, if set, is returned by Open.
	OpenErr error

	// WriteErr, if set, is returned by every Write.
	WriteErr error

	// Transactions holds every transfer, in order.
	Transactions []Transaction

	// Delays holds every requested delay, in order.
	Delays []time.Duration

	// BusyPolls counts BUSY samples taken.
	BusyPolls int

	// Opens and Closes count bus acquisitions and releases.
	Opens  int
	Closes int

	open       bool
	pins       map[Pin]gpio.Level
	csUsed     bool
	busyRemain int
	violation  error
}

// NewSimBus returns a SimBus that detects as the given revision.
func NewSimBus(rev Revision) *SimBus {
	b := &SimBus{Panel: rev}
	if rev == RevisionB {
		b.Status = detectRevisionB
	}
	return b
}

func (b *SimBus) Open() error {
	if b.OpenErr != nil {
		return b.OpenErr
	}
	b.open = true
	b.Opens++
	b.pins = map[Pin]gpio.Level{PinCS: gpio.High, PinReset: gpio.High}
	return nil
}

func (b *SimBus) Close() error {
	if !b.open {
		return errors.New("simbus: close while not open")
	}
	b.open = false
	b.Closes++
	return nil
}

// IsOpen reports whether the bus is currently acquired.
func (b *SimBus) IsOpen() bool { return b.open }

func (b *SimBus) SetPin(p Pin, l gpio.Level) {
	if !b.open {
		b.fail(fmt.Errorf("simbus: set %s while closed", p))
		return
	}
	if p == PinDC && b.pins[PinCS] == gpio.Low {
		b.fail(errors.New("simbus: DC changed while CS asserted"))
	}
	if p == PinCS && l == gpio.Low {
		b.csUsed = false
	}
	b.pins[p] = l
}

// ReadPin emulates BUSY: after each command the line reports busy for
// BusyReads samples, using the polarity of Panel.
func (b *SimBus) ReadPin(p Pin) gpio.Level {
	if p != PinBusy {
		return b.pins[p]
	}
	b.BusyPolls++
	busy := b.busyLevel()
	if b.busyRemain > 0 {
		b.busyRemain--
		return busy
	}
	return !busy
}

func (b *SimBus) Write(data []byte) error {
	if b.WriteErr != nil {
		return b.WriteErr
	}
	if err := b.frame(); err != nil {
		return err
	}
	t := Transaction{
		Command: b.pins[PinDC] == gpio.Low,
		Data:    append([]byte(nil), data...),
	}
	b.Transactions = append(b.Transactions, t)
	if t.Command {
		b.busyRemain = b.BusyReads
		appLog.Debug("simbus command", "cmd", fmt.Sprintf("%#02x", data[0]))
	}
	return nil
}

func (b *SimBus) ReadByte() (byte, error) {
	if err := b.frame(); err != nil {
		return 0, err
	}
	if b.pins[PinDC] != gpio.High {
		return 0, errors.New("simbus: status read with DC low")
	}
	return b.Status, nil
}

func (b *SimBus) Delay(d time.Duration) {
	b.Delays = append(b.Delays, d)
}

// Err returns the first framing violation observed, if any.
func (b *SimBus) Err() error { return b.violation }

// Commands returns the command bytes in the order they were sent.
func (b *SimBus) Commands() []byte {
	var out []byte
	for _, t := range b.Transactions {
		if t.Command {
			out = append(out, t.Data...)
		}
	}
	return out
}

// DataAfter returns the concatenated data sent after the n-th occurrence
// (zero-based) of command c, up to the next command.
func (b *SimBus) DataAfter(c byte, n int) []byte {
	var out []byte
	seen := -1
	collecting := false
	for _, t := range b.Transactions {
		if t.Command {
			if collecting {
				break
			}
			if len(t.Data) == 1 && t.Data[0] == c {
				seen++
				collecting = seen == n
			}
			continue
		}
		if collecting {
			out = append(out, t.Data...)
		}
	}
	return out
}

// ClearLog drops recorded traffic but keeps configuration and pin state.
func (b *SimBus) ClearLog() {
	b.Transactions = nil
	b.Delays = nil
	b.BusyPolls = 0
}

func (b *SimBus) frame() error {
	if !b.open {
		return errors.New("simbus: transfer while closed")
	}
	if b.pins[PinCS] != gpio.Low {
		return errors.New("simbus: transfer without chip select")
	}
	if b.csUsed {
		return errors.New("simbus: chip select held across transfers")
	}
	b.csUsed = true
	return nil
}

func (b *SimBus) busyLevel() gpio.Level {
	if b.Panel == RevisionB {
		return gpio.High
	}
	return gpio.Low
}

func (b *SimBus) fail(err error) {
	if b.violation == nil {
		b.violation = err
	}
}
