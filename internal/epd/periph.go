package epd

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	appLog "epd4in2b/internal/log"
)

// defaultMaxTx is the spidev transfer limit used when the port does not
// report one.
const defaultMaxTx = 4096

// PeriphPins names the GPIO lines, as understood by gpioreg.ByName.
//
// Standard Raspberry Pi HAT wiring:
//
//	RST  - GPIO17 (pin 11)
//	DC   - GPIO25 (pin 22)
//	CS   - GPIO8  (pin 24)
//	BUSY - GPIO24 (pin 18)
type PeriphPins struct {
	RST  string
	DC   string
	CS   string
	Busy string
}

// DefaultPeriphPins is the Waveshare e-Paper HAT wiring.
var DefaultPeriphPins = PeriphPins{
	RST:  "GPIO17",
	DC:   "GPIO25",
	CS:   "GPIO8",
	Busy: "GPIO24",
}

// PeriphBus is a Bus on top of periph.io: a spidev port for data and
// plain GPIO lines for RST, DC, CS and BUSY.
type PeriphBus struct {
	port string
	freq physic.Frequency
	pins PeriphPins

	closer spi.PortCloser
	conn   spi.Conn
	maxTx  int
	out    map[Pin]gpio.PinOut
	busy   gpio.PinIn
}

// NewPeriphBus prepares a bus on the given spireg port ("" for the first
// one) clocked at freq. Nothing is touched until Open.
func NewPeriphBus(port string, freq physic.Frequency, pins PeriphPins) *PeriphBus {
	if freq <= 0 {
		freq = 4 * physic.MegaHertz
	}
	return &PeriphBus{port: port, freq: freq, pins: pins}
}

func (b *PeriphBus) String() string {
	return fmt.Sprintf("epd.PeriphBus{%q, %s, rst=%s dc=%s cs=%s busy=%s}",
		b.port, b.freq, b.pins.RST, b.pins.DC, b.pins.CS, b.pins.Busy)
}

// Open initializes periph.io, opens the SPI port and configures the GPIO
// lines: CS and RST idle high, DC low, BUSY as a floating input.
func (b *PeriphBus) Open() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}

	port, err := spireg.Open(b.port)
	if err != nil {
		return fmt.Errorf("spireg.Open(%q): %w", b.port, err)
	}
	c, err := port.Connect(b.freq, spi.Mode0, 8)
	if err != nil {
		connErr := fmt.Errorf("port.Connect(%s, %v, 8): %w", b.freq, spi.Mode0, err)
		if err := port.Close(); err != nil {
			return fmt.Errorf("port.Close(): %w while handling %w", err, connErr)
		}
		return connErr
	}

	out := map[Pin]gpio.PinOut{}
	for _, p := range []struct {
		pin   Pin
		name  string
		level gpio.Level
	}{
		{PinReset, b.pins.RST, gpio.High},
		{PinDC, b.pins.DC, gpio.Low},
		{PinCS, b.pins.CS, gpio.High},
	} {
		line := gpioreg.ByName(p.name)
		if line == nil {
			_ = port.Close()
			return fmt.Errorf("gpio %s (%s) not found", p.name, p.pin)
		}
		if err := line.Out(p.level); err != nil {
			_ = port.Close()
			return fmt.Errorf("gpio %s Out(%v): %w", p.name, p.level, err)
		}
		out[p.pin] = line
	}

	busy := gpioreg.ByName(b.pins.Busy)
	if busy == nil {
		_ = port.Close()
		return fmt.Errorf("gpio %s (BUSY) not found", b.pins.Busy)
	}
	if err := busy.In(gpio.Float, gpio.NoEdge); err != nil {
		_ = port.Close()
		return fmt.Errorf("gpio %s In: %w", b.pins.Busy, err)
	}

	b.maxTx = defaultMaxTx
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		b.maxTx = l.MaxTxSize()
	}
	b.closer = port
	b.conn = c
	b.out = out
	b.busy = busy
	appLog.Debug("periph bus open", "bus", b.String(), "max_tx", b.maxTx)
	return nil
}

// Close releases the SPI port. GPIO lines need no explicit release.
func (b *PeriphBus) Close() error {
	if b.closer == nil {
		return errors.New("periph bus not open")
	}
	err := b.closer.Close()
	b.closer = nil
	b.conn = nil
	b.out = nil
	b.busy = nil
	return err
}

func (b *PeriphBus) SetPin(p Pin, l gpio.Level) {
	pin, ok := b.out[p]
	if !ok {
		appLog.Warn("periph bus: set on unknown output", "pin", p)
		return
	}
	if err := pin.Out(l); err != nil {
		appLog.Error("periph bus: gpio write failed", err, "pin", p, "level", l)
	}
}

func (b *PeriphBus) ReadPin(p Pin) gpio.Level {
	if p == PinBusy && b.busy != nil {
		return b.busy.Read()
	}
	if pin, ok := b.out[p]; ok {
		if in, ok := pin.(gpio.PinIn); ok {
			return in.Read()
		}
	}
	return gpio.Low
}

// Write sends data in chunks no larger than the port's transfer limit.
// Chip select is a GPIO owned by the driver, so chunking does not split
// the transaction as seen by the panel.
func (b *PeriphBus) Write(data []byte) error {
	if b.conn == nil {
		return errors.New("periph bus not open")
	}
	for len(data) > 0 {
		n := len(data)
		if n > b.maxTx {
			n = b.maxTx
		}
		if err := b.conn.Tx(data[:n], nil); err != nil {
			return fmt.Errorf("spi tx: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// ReadByte clocks one dummy byte out and returns what the panel sent back.
func (b *PeriphBus) ReadByte() (byte, error) {
	if b.conn == nil {
		return 0, errors.New("periph bus not open")
	}
	rx := make([]byte, 1)
	if err := b.conn.Tx([]byte{0x00}, rx); err != nil {
		return 0, fmt.Errorf("spi rx: %w", err)
	}
	return rx[0], nil
}

func (b *PeriphBus) Delay(d time.Duration) {
	time.Sleep(d)
}

var _ Bus = (*PeriphBus)(nil)
var _ Bus = (*SimBus)(nil)
