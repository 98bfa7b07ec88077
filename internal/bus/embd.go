package bus

import (
	"fmt"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	"github.com/sirupsen/logrus"
)

// embdTransport drives the I2C bus through embd, as used on older Raspberry Pi images.
type embdTransport struct {
	num byte
	bus embd.I2CBus
	log *logrus.Entry
}

// NewEmbdTransport returns a Transport on I2C bus number num.
func NewEmbdTransport(num byte, log *logrus.Entry) Transport {
	return &embdTransport{num: num, log: log}
}

func (e *embdTransport) Begin() error {
	if e.bus != nil {
		return nil
	}
	if err := embd.InitI2C(); err != nil {
		return fmt.Errorf("embd i2c init: %w", err)
	}
	e.bus = embd.NewI2CBus(e.num)
	e.log.Infof("i2c bus %d opened (embd)", e.num)
	return nil
}

func (e *embdTransport) Write(addr uint16, data []byte) Status {
	if e.bus == nil {
		return StatusOther
	}
	if addr > 0x7F {
		return StatusAddrNack
	}
	if err := e.bus.WriteBytes(byte(addr), data); err != nil {
		e.log.WithField("addr", fmt.Sprintf("0x%02X", addr)).Debugf("i2c write: %v", err)
		return StatusAddrNack
	}
	return StatusOK
}

func (e *embdTransport) Read(addr uint16, n int) ([]byte, error) {
	if e.bus == nil {
		return nil, errNotOpen
	}
	if addr > 0x7F {
		return nil, fmt.Errorf("embd: 10-bit address 0x%03X not supported", addr)
	}
	b, err := e.bus.ReadBytes(byte(addr), n)
	if err != nil {
		e.log.WithField("addr", fmt.Sprintf("0x%02X", addr)).Debugf("i2c read: %v", err)
		return nil, err
	}
	return b, nil
}

func (e *embdTransport) Close() error {
	if e.bus == nil {
		return nil
	}
	err := e.bus.Close()
	e.bus = nil
	if cerr := embd.CloseI2C(); err == nil {
		err = cerr
	}
	return err
}
