// Package battery reads the charge of a PiSugar-style UPS board so a
// battery-powered frame can report it next to the panel status.
package battery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Gauge registers.
const (
	regVoltageHigh byte = 0x22
	regVoltageLow  byte = 0x23
	regPercent     byte = 0x2A
)

// Status is one battery reading.
type Status struct {
	Percent   int `json:"percent"`
	VoltageMv int `json:"voltage_mv"`
}

// Reader obtains a battery reading.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Static always returns the same reading. It stands in for the gauge in
// dry-run mode.
type Static Status

func (s Static) Read(context.Context) (Status, error) { return Status(s), nil }

// I2CReader talks to the gauge over I2C. The bus is opened per read, so a
// missing or busy bus only fails that read.
type I2CReader struct {
	busName string
	addr    uint16
}

// NewI2CReader prepares a reader for the gauge at addr on busName ("" for
// the first bus).
func NewI2CReader(busName string, addr uint16) *I2CReader {
	return &I2CReader{busName: busName, addr: addr}
}

func (r *I2CReader) Read(_ context.Context) (Status, error) {
	if _, err := host.Init(); err != nil {
		return Status{}, fmt.Errorf("battery: host init: %w", err)
	}
	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, fmt.Errorf("battery: i2creg.Open(%q): %w", r.busName, err)
	}
	defer bus.Close()
	return readGauge(bus, r.addr)
}

// readGauge reads voltage and percentage, one register per transaction.
func readGauge(bus i2c.Bus, addr uint16) (Status, error) {
	dev := &i2c.Dev{Bus: bus, Addr: addr}
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, fmt.Errorf("battery: read %#02x: %w", reg, err)
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}
	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// Cached wraps a Reader and reuses a reading for ttl. Battery level does
// not need sub-second precision and I2C reads are slow.
type Cached struct {
	r   Reader
	ttl time.Duration

	mu   sync.Mutex
	last Status
	at   time.Time
}

func NewCached(r Reader, ttl time.Duration) *Cached {
	return &Cached{r: r, ttl: ttl}
}

func (c *Cached) Read(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.at.IsZero() && time.Since(c.at) < c.ttl {
		return c.last, nil
	}
	st, err := c.r.Read(ctx)
	if err != nil {
		return Status{}, err
	}
	c.last, c.at = st, time.Now()
	return st, nil
}
