package epd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	appLog "epd4in2b/internal/log"
	"epd4in2b/internal/model"
)

var (
	// ErrBusInit is returned when the bus cannot be opened. The driver
	// stays Uninitialized.
	ErrBusInit = errors.New("epd: bus init failed")
	// ErrBufferLength is returned when a plane is not exactly
	// Geometry.PlaneSize() bytes long.
	ErrBufferLength = errors.New("epd: buffer length mismatch")
	// ErrInvalidState is returned when an operation is not valid in the
	// driver's current state, e.g. Display before Init or after Sleep.
	ErrInvalidState = errors.New("epd: invalid state")
)

// Fixed panel timings.
const (
	resetHold        = 200 * time.Millisecond
	resetPulse       = 5 * time.Millisecond
	detectSettle     = 100 * time.Millisecond
	busyPollInterval = 100 * time.Millisecond
	sleepSettle      = 2000 * time.Millisecond
)

// State is the protocol state of a Driver.
type State int

const (
	StateUninitialized State = iota
	StateDetecting
	StateReady
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDetecting:
		return "detecting"
	case StateReady:
		return "ready"
	case StateSleeping:
		return "sleeping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Driver is the panel protocol state machine. It is not safe for
// concurrent use: two interleaved command/data framings corrupt the panel's
// command stream, so callers sharing a Driver must serialize access.
//
// Every blocking method takes a context. Busy waits are unbounded unless
// the context carries a deadline or is cancelled; cancellation surfaces as
// the context's error and drops the driver back to Uninitialized.
type Driver struct {
	bus     Bus
	geom    model.Geometry
	profile *revisionProfile
	mode    RevisionMode
	state   State
	busOpen bool
}

// NewDriver opens bus and binds it to a panel of geometry g.
func NewDriver(bus Bus, g model.Geometry) (*Driver, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", ErrBusInit)
	}
	if !g.Valid() {
		return nil, fmt.Errorf("epd: invalid geometry %dx%d", g.Width, g.Height)
	}
	d := &Driver{bus: bus, geom: g}
	if err := d.openBus(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) String() string {
	return fmt.Sprintf("epd.Driver{%dx%d, %s, %s}", d.geom.Width, d.geom.Height, d.state, d.Revision())
}

// Geometry returns the panel geometry bound at construction.
func (d *Driver) Geometry() model.Geometry { return d.geom }

// State returns the current protocol state.
func (d *Driver) State() State { return d.state }

// SetRevisionMode overrides detection on the next Init.
func (d *Driver) SetRevisionMode(m RevisionMode) { d.mode = m }

// RevisionMode returns the mode set by SetRevisionMode.
func (d *Driver) RevisionMode() RevisionMode { return d.mode }

// Revision returns the revision the last Init configured the panel for.
// Before that it reports RevisionLegacy.
func (d *Driver) Revision() Revision {
	if d.profile == nil {
		return RevisionLegacy
	}
	return d.profile.revision
}

// Init resets the panel, detects its revision and runs the revision's
// configuration sequence. It may be called again at any time, including
// after Sleep, to re-detect and return to Ready. A context that is already
// done fails Init before the bus is reopened or touched.
func (d *Driver) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("epd: init: %w", err)
	}
	if !d.busOpen {
		if err := d.openBus(); err != nil {
			d.state = StateUninitialized
			return err
		}
	}

	d.state = StateDetecting
	d.profile = nil

	d.reset()

	detected, err := d.detect()
	if err != nil {
		d.state = StateUninitialized
		return fmt.Errorf("epd: detect: %w", err)
	}
	rev := d.mode.resolve(detected)
	if rev != detected {
		appLog.Warn("epd detection overridden", "detected", detected, "forced", rev)
	}
	d.profile = profiles[rev]
	appLog.Info("epd panel revision", "revision", rev, "mode", d.mode)

	if err := d.run(ctx, d.profile.setup(d.geom)); err != nil {
		d.state = StateUninitialized
		return fmt.Errorf("epd: init %s: %w", rev, err)
	}

	d.state = StateReady
	return nil
}

// Display pushes a full frame and refreshes the panel. The black plane is
// sent verbatim; the red plane is complemented byte by byte on the wire.
func (d *Driver) Display(ctx context.Context, black, red model.FrameBuffer) error {
	if err := d.requireReady("display"); err != nil {
		return err
	}
	if err := d.checkPlane("black", black); err != nil {
		return err
	}
	if err := d.checkPlane("red", red); err != nil {
		return err
	}
	return d.push(ctx, black, invert(red))
}

// DisplayBlack pushes a black plane with a blank red plane.
func (d *Driver) DisplayBlack(ctx context.Context, black model.FrameBuffer) error {
	if err := d.requireReady("display black"); err != nil {
		return err
	}
	if err := d.checkPlane("black", black); err != nil {
		return err
	}
	return d.push(ctx, black, d.filled(0x00))
}

// DisplayRed pushes a red plane with a blank black plane.
func (d *Driver) DisplayRed(ctx context.Context, red model.FrameBuffer) error {
	if err := d.requireReady("display red"); err != nil {
		return err
	}
	if err := d.checkPlane("red", red); err != nil {
		return err
	}
	return d.push(ctx, d.filled(0xFF), invert(red))
}

// Clear paints the whole panel white.
func (d *Driver) Clear(ctx context.Context) error {
	if err := d.requireReady("clear"); err != nil {
		return err
	}
	return d.push(ctx, d.filled(0xFF), d.filled(0x00))
}

// Sleep powers the panel down and releases the bus. Only Init is valid
// afterwards.
func (d *Driver) Sleep(ctx context.Context) error {
	if err := d.requireReady("sleep"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("epd: sleep: %w", err)
	}
	if err := d.run(ctx, d.profile.sleep); err != nil {
		d.state = StateUninitialized
		return fmt.Errorf("epd: sleep: %w", err)
	}
	d.bus.Delay(sleepSettle)

	d.state = StateSleeping
	if err := d.closeBus(); err != nil {
		return fmt.Errorf("epd: sleep: %w", err)
	}
	return nil
}

// Close releases the bus without talking to the panel. Use Sleep for an
// orderly power-down.
func (d *Driver) Close() error {
	if d.state != StateSleeping {
		d.state = StateUninitialized
	}
	return d.closeBus()
}

// push writes both planes (already in wire format) and turns the display
// on. A context that is already done stops it before any traffic and keeps
// the driver Ready. A transfer error or an aborted busy wait leaves the
// panel in an unknown state, so the driver requires a fresh Init afterwards.
func (d *Driver) push(ctx context.Context, blackWire, redWire []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("epd: refresh: %w", err)
	}
	err := d.sendCommand(d.profile.writeBlack)
	if err == nil {
		err = d.sendData(blackWire...)
	}
	if err == nil {
		err = d.sendCommand(d.profile.writeRed)
	}
	if err == nil {
		err = d.sendData(redWire...)
	}
	if err == nil {
		err = d.turnOnDisplay(ctx)
	}
	if err != nil {
		d.state = StateUninitialized
		return fmt.Errorf("epd: refresh: %w", err)
	}
	return nil
}

func (d *Driver) turnOnDisplay(ctx context.Context) error {
	return d.run(ctx, d.profile.refresh)
}

// reset pulses RST: 200ms high, 5ms low, 200ms high.
func (d *Driver) reset() {
	d.bus.SetPin(PinReset, gpio.High)
	d.bus.Delay(resetHold)
	d.bus.SetPin(PinReset, gpio.Low)
	d.bus.Delay(resetPulse)
	d.bus.SetPin(PinReset, gpio.High)
	d.bus.Delay(resetHold)
}

// detect sends the ID probe and reads the status byte back with chip
// select held low for the read.
func (d *Driver) detect() (Revision, error) {
	if err := d.sendCommand(cmdReadID); err != nil {
		return 0, err
	}
	d.bus.Delay(detectSettle)

	d.bus.SetPin(PinDC, gpio.High)
	d.bus.SetPin(PinCS, gpio.Low)
	status, err := d.bus.ReadByte()
	d.bus.SetPin(PinCS, gpio.High)
	if err != nil {
		return 0, err
	}
	appLog.Debug("epd detection status", "status", fmt.Sprintf("%#02x", status))
	return classify(status), nil
}

func (d *Driver) run(ctx context.Context, ops []op) error {
	for _, o := range ops {
		switch o.kind {
		case opCommand:
			if err := d.sendCommand(o.cmd); err != nil {
				return err
			}
			if len(o.data) > 0 {
				if err := d.sendData(o.data...); err != nil {
					return err
				}
			}
		case opBusy:
			if err := d.readBusy(ctx); err != nil {
				return err
			}
		case opDelay:
			d.bus.Delay(o.delay)
		}
	}
	return nil
}

func (d *Driver) sendCommand(c byte) error {
	return d.transfer(gpio.Low, []byte{c})
}

func (d *Driver) sendData(data ...byte) error {
	return d.transfer(gpio.High, data)
}

// transfer frames one transaction: DC, CS low, payload, CS high.
func (d *Driver) transfer(dc gpio.Level, payload []byte) error {
	d.bus.SetPin(PinDC, dc)
	d.bus.SetPin(PinCS, gpio.Low)
	err := d.bus.Write(payload)
	d.bus.SetPin(PinCS, gpio.High)
	return err
}

// readBusy polls BUSY every 100ms until it leaves the revision's busy
// level. There is no built-in timeout.
func (d *Driver) readBusy(ctx context.Context) error {
	appLog.Debug("e-Paper busy")
	start := time.Now()
	for d.bus.ReadPin(PinBusy) == d.profile.busyLevel {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("busy wait aborted after %s: %w", time.Since(start), err)
		}
		d.bus.Delay(busyPollInterval)
	}
	appLog.Debug("e-Paper busy release", "waited", time.Since(start))
	return nil
}

func (d *Driver) requireReady(op string) error {
	if d.state != StateReady {
		return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, d.state)
	}
	return nil
}

func (d *Driver) checkPlane(name string, buf model.FrameBuffer) error {
	if want := d.geom.PlaneSize(); len(buf) != want {
		return fmt.Errorf("%w: %s plane is %d bytes, want %d", ErrBufferLength, name, len(buf), want)
	}
	return nil
}

func (d *Driver) filled(v byte) []byte {
	buf := make([]byte, d.geom.PlaneSize())
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func (d *Driver) openBus() error {
	if err := d.bus.Open(); err != nil {
		return fmt.Errorf("%w: %w", ErrBusInit, err)
	}
	d.busOpen = true
	return nil
}

func (d *Driver) closeBus() error {
	if !d.busOpen {
		return nil
	}
	d.busOpen = false
	return d.bus.Close()
}

// invert returns the bitwise complement of buf; the red plane's wire
// format is the complement of its frame buffer.
func invert(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = ^b
	}
	return out
}
