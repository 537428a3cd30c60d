//go:build linux && arm && cgo

// cgo-backed Bus.
//
// Only built for linux/arm with cgo enabled. It wraps the hardware layer of
// the Waveshare C demo (DEV_Config.c on lgpio), which is known to work on a
// Zero 2 W where the spidev path can be flaky. Only the platform shim is
// taken from C; the panel protocol still runs in Driver.
//
// The headers and libepddrv.a are expected under internal/epd/c/, built from
// the Waveshare RaspberryPi_JetsonNano/c/lib/Config sources. The following
// symbols are used:
//
//	UBYTE DEV_Module_Init(void);
//	void  DEV_Module_Exit(void);
//	void  DEV_Digital_Write(UWORD Pin, UBYTE Value);
//	UBYTE DEV_Digital_Read(UWORD Pin);
//	void  DEV_SPI_Write_nByte(uint8_t *pData, uint32_t Len);
//	UBYTE DEV_SPI_ReadData(void);
//	extern int EPD_RST_PIN, EPD_DC_PIN, EPD_CS_PIN, EPD_BUSY_PIN;

package epd

/*
#cgo linux,arm CFLAGS: -I${SRCDIR}/c
#cgo linux,arm LDFLAGS: -L${SRCDIR}/c -lepddrv -llgpio

#include <stdint.h>
#include "DEV_Config.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"periph.io/x/conn/v3/gpio"
)

// CBus drives the panel through the Waveshare C hardware layer. The C
// library keeps global state, so at most one CBus may be open at a time.
type CBus struct {
	open bool
}

// NewCBus returns an unopened CBus.
func NewCBus() (*CBus, error) {
	return &CBus{}, nil
}

func (b *CBus) Open() error {
	// DEV_Module_Init returns 0 on success.
	if ret := C.DEV_Module_Init(); ret != 0 {
		return fmt.Errorf("epd(cgo): DEV_Module_Init failed (ret=%d)", int(ret))
	}
	b.open = true
	return nil
}

func (b *CBus) Close() error {
	if !b.open {
		return errors.New("epd(cgo): bus not open")
	}
	C.DEV_Module_Exit()
	b.open = false
	return nil
}

func (b *CBus) SetPin(p Pin, l gpio.Level) {
	v := C.UBYTE(0)
	if l {
		v = 1
	}
	C.DEV_Digital_Write(C.UWORD(cPin(p)), v)
}

func (b *CBus) ReadPin(p Pin) gpio.Level {
	return C.DEV_Digital_Read(C.UWORD(cPin(p))) != 0
}

func (b *CBus) Write(data []byte) error {
	if !b.open {
		return errors.New("epd(cgo): bus not open")
	}
	if len(data) == 0 {
		return nil
	}
	C.DEV_SPI_Write_nByte((*C.uint8_t)(unsafe.Pointer(&data[0])), C.uint32_t(len(data)))
	return nil
}

func (b *CBus) ReadByte() (byte, error) {
	if !b.open {
		return 0, errors.New("epd(cgo): bus not open")
	}
	return byte(C.DEV_SPI_ReadData()), nil
}

func (b *CBus) Delay(d time.Duration) {
	time.Sleep(d)
}

func cPin(p Pin) C.int {
	switch p {
	case PinReset:
		return C.EPD_RST_PIN
	case PinDC:
		return C.EPD_DC_PIN
	case PinCS:
		return C.EPD_CS_PIN
	default:
		return C.EPD_BUSY_PIN
	}
}

var _ Bus = (*CBus)(nil)
