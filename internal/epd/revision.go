package epd

import (
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"

	"epd4in2b/internal/model"
)

// Revision is the panel controller variant found by the detection probe.
type Revision int

const (
	// RevisionLegacy is the earlier controller: busy is active low and
	// planes are written with 0x10/0x13.
	RevisionLegacy Revision = iota
	// RevisionB answers 0x01 to the 0x2F probe: busy is active high and
	// planes are written with 0x24/0x26.
	RevisionB
)

func (r Revision) String() string {
	switch r {
	case RevisionLegacy:
		return "legacy"
	case RevisionB:
		return "revision-b"
	default:
		return fmt.Sprintf("Revision(%d)", int(r))
	}
}

// RevisionMode selects how Init chooses the controller profile.
type RevisionMode int

const (
	// RevisionAuto trusts the detected status byte.
	RevisionAuto RevisionMode = iota
	// ForceRevisionB and ForceRevisionLegacy still send 0x2F and read the
	// status byte, but ignore it. Buses that cannot read the byte back
	// always report legacy, so a revision B panel on such a bus needs
	// ForceRevisionB.
	ForceRevisionB
	ForceRevisionLegacy
)

// ParseRevisionMode accepts "auto" (or empty), "b" and "legacy".
func ParseRevisionMode(s string) (RevisionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return RevisionAuto, nil
	case "b", "revision-b":
		return ForceRevisionB, nil
	case "legacy":
		return ForceRevisionLegacy, nil
	default:
		return 0, fmt.Errorf("epd: unknown revision %q (want auto, b or legacy)", s)
	}
}

func (m RevisionMode) String() string {
	switch m {
	case RevisionAuto:
		return "auto"
	case ForceRevisionB:
		return "b"
	case ForceRevisionLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("RevisionMode(%d)", int(m))
	}
}

// resolve picks the revision to run given the detected one.
func (m RevisionMode) resolve(detected Revision) Revision {
	switch m {
	case ForceRevisionB:
		return RevisionB
	case ForceRevisionLegacy:
		return RevisionLegacy
	default:
		return detected
	}
}

// Commands used by both controller variants. Values overlap between the two
// (0x10, 0x12), so they are only meaningful together with a profile.
const (
	cmdPanelSetting           byte = 0x00
	cmdPowerOff               byte = 0x02
	cmdPowerOn                byte = 0x04
	cmdDeepSleep              byte = 0x07
	cmdDataStartTransmission1 byte = 0x10 // legacy: black plane
	cmdDeepSleepModeB         byte = 0x10 // revision B: deep sleep mode
	cmdDataEntryMode          byte = 0x11
	cmdDisplayRefresh         byte = 0x12 // legacy: refresh; revision B: SW reset
	cmdDataStartTransmission2 byte = 0x13
	cmdTempSensorControl      byte = 0x18
	cmdMasterActivation       byte = 0x20
	cmdDisplayUpdateControl2  byte = 0x22
	cmdWriteRAMBW             byte = 0x24
	cmdWriteRAMRed            byte = 0x26
	cmdReadID                 byte = 0x2F
	cmdBorderWaveform         byte = 0x3C
	cmdSetRAMXStartEnd        byte = 0x44
	cmdSetRAMYStartEnd        byte = 0x45
	cmdSetRAMXCounter         byte = 0x4E
	cmdSetRAMYCounter         byte = 0x4F
	cmdVCOMDataInterval       byte = 0x50
)

// detectRevisionB is the status byte a revision B controller returns.
const detectRevisionB byte = 0x01

type opKind int

const (
	opCommand opKind = iota
	opBusy
	opDelay
)

// op is one step of a fixed panel sequence.
type op struct {
	kind  opKind
	cmd   byte
	data  []byte
	delay time.Duration
}

func command(c byte, data ...byte) op { return op{kind: opCommand, cmd: c, data: data} }
func waitBusy() op                    { return op{kind: opBusy} }
func pause(d time.Duration) op        { return op{kind: opDelay, delay: d} }

// revisionProfile carries everything that differs between revisions, so
// the driver never branches on the revision itself.
type revisionProfile struct {
	revision Revision
	// busyLevel is the BUSY level that means "still working".
	busyLevel gpio.Level
	// writeBlack and writeRed start the plane transfers.
	writeBlack byte
	writeRed   byte

	setup   func(g model.Geometry) []op
	refresh []op
	sleep   []op
}

var profiles = map[Revision]*revisionProfile{
	RevisionB: {
		revision:   RevisionB,
		busyLevel:  gpio.High,
		writeBlack: cmdWriteRAMBW,
		writeRed:   cmdWriteRAMRed,

		setup: func(g model.Geometry) []op {
			last := g.Height - 1
			return []op{
				waitBusy(),
				command(cmdDisplayRefresh),
				waitBusy(),
				command(cmdBorderWaveform, 0x05),
				command(cmdTempSensorControl, 0x80),
				command(cmdDataEntryMode, 0x03),
				command(cmdSetRAMXStartEnd, 0x00, byte(g.Stride()-1)),
				command(cmdSetRAMYStartEnd, 0x00, 0x00, byte(last%256), byte(last/256)),
				command(cmdSetRAMXCounter, 0x00),
				command(cmdSetRAMYCounter, 0x00, 0x00),
				waitBusy(),
			}
		},
		refresh: []op{
			command(cmdDisplayUpdateControl2, 0xF7),
			command(cmdMasterActivation),
			waitBusy(),
		},
		sleep: []op{
			command(cmdDeepSleepModeB, 0x03),
		},
	},
	RevisionLegacy: {
		revision:   RevisionLegacy,
		busyLevel:  gpio.Low,
		writeBlack: cmdDataStartTransmission1,
		writeRed:   cmdDataStartTransmission2,

		setup: func(model.Geometry) []op {
			return []op{
				command(cmdPowerOn),
				waitBusy(),
				command(cmdPanelSetting, 0x0F),
			}
		},
		refresh: []op{
			command(cmdDisplayRefresh),
			pause(100 * time.Millisecond),
			waitBusy(),
		},
		sleep: []op{
			command(cmdVCOMDataInterval, 0xF7),
			command(cmdPowerOff),
			waitBusy(),
			command(cmdDeepSleep, 0xA5),
		},
	},
}

// classify maps the detection status byte to a revision.
func classify(status byte) Revision {
	if status == detectRevisionB {
		return RevisionB
	}
	return RevisionLegacy
}
