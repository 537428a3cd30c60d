//go:build !(linux && arm && cgo)

// CBus stub for targets without the Waveshare C library.

package epd

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// ErrCBusUnavailable is returned by NewCBus on targets other than
// linux/arm with cgo enabled.
var ErrCBusUnavailable = errors.New("epd(cgo): C bus is only available on linux/arm with cgo enabled")

// CBus is unavailable on this platform; NewCBus always fails.
type CBus struct{}

func NewCBus() (*CBus, error) { return nil, ErrCBusUnavailable }

func (b *CBus) Open() error             { return ErrCBusUnavailable }
func (b *CBus) Close() error            { return ErrCBusUnavailable }
func (b *CBus) SetPin(Pin, gpio.Level)  {}
func (b *CBus) ReadPin(Pin) gpio.Level  { return gpio.Low }
func (b *CBus) Write([]byte) error      { return ErrCBusUnavailable }
func (b *CBus) ReadByte() (byte, error) { return 0, ErrCBusUnavailable }
func (b *CBus) Delay(time.Duration)     {}

var _ Bus = (*CBus)(nil)
