// Package epd drives the Waveshare 4.2" (B) v2 black/red e-paper panel.
//
// The panel protocol (reset, revision detection, command/data framing, busy
// synchronization, two-plane refresh and sleep) lives in Driver. All
// physical I/O goes through a Bus, so the same Driver runs on real GPIO/SPI
// (PeriphBus, CBus) or fully in memory (SimBus).
package epd

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Pin names one of the auxiliary control lines of the panel.
type Pin int

const (
	// PinReset is the active-low hardware reset line.
	PinReset Pin = iota
	// PinDC selects command (low) or data (high) for the next transfer.
	PinDC
	// PinCS is the active-low chip select.
	PinCS
	// PinBusy is the panel's busy output. Its polarity depends on the
	// detected revision.
	PinBusy
)

func (p Pin) String() string {
	switch p {
	case PinReset:
		return "RST"
	case PinDC:
		return "DC"
	case PinCS:
		return "CS"
	case PinBusy:
		return "BUSY"
	default:
		return fmt.Sprintf("Pin(%d)", int(p))
	}
}

// Bus is the platform shim the driver talks through. Implementations are
// not required to be safe for concurrent use; a Bus is owned by exactly one
// Driver.
type Bus interface {
	// Open acquires the bus and GPIO lines. A non-nil error is fatal for
	// the driver using it.
	Open() error
	// Close releases the bus and GPIO lines.
	Close() error

	// SetPin drives an output line.
	SetPin(p Pin, l gpio.Level)
	// ReadPin samples an input line without blocking.
	ReadPin(p Pin) gpio.Level

	// Write transfers data while chip select is asserted by the caller.
	Write(data []byte) error
	// ReadByte clocks in one status byte. Only used during detection.
	ReadByte() (byte, error)

	// Delay blocks for at least d.
	Delay(d time.Duration)
}
