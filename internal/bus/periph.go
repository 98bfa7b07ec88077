// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// periphTransport drives a Linux I2C adapter through periph.io.
type periphTransport struct {
	name  string
	speed physic.Frequency
	bus   i2c.BusCloser
	log   *logrus.Entry
}

// NewPeriphTransport returns a Transport on the named I2C bus ("1", "/dev/i2c-1", ...).
// A zero speed leaves the adapter's clock untouched.
func NewPeriphTransport(name string, speed physic.Frequency, log *logrus.Entry) Transport {
	return &periphTransport{name: name, speed: speed, log: log}
}

func (p *periphTransport) Begin() error {
	if p.bus != nil {
		p.bus.Close()
		p.bus = nil
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	b, err := i2creg.Open(p.name)
	if err != nil {
		return fmt.Errorf("i2c open %q: %w", p.name, err)
	}
	if p.speed > 0 {
		if err := b.SetSpeed(p.speed); err != nil {
			b.Close()
			return fmt.Errorf("i2c %q set speed %s: %w", p.name, p.speed, err)
		}
	}
	p.bus = b
	p.log.Infof("i2c bus %s opened (%s)", p.name, b)
	return nil
}

func (p *periphTransport) Write(addr uint16, data []byte) Status {
	if p.bus == nil {
		return StatusOther
	}
	if err := p.bus.Tx(addr, data, nil); err != nil {
		p.log.WithField("addr", fmt.Sprintf("0x%02X", addr)).Debugf("i2c write: %v", err)
		return StatusAddrNack
	}
	return StatusOK
}

func (p *periphTransport) Read(addr uint16, n int) ([]byte, error) {
	if p.bus == nil {
		return nil, errNotOpen
	}
	buf := make([]byte, n)
	if err := p.bus.Tx(addr, nil, buf); err != nil {
		p.log.WithField("addr", fmt.Sprintf("0x%02X", addr)).Debugf("i2c read: %v", err)
		return nil, err
	}
	return buf, nil
}

func (p *periphTransport) Close() error {
	if p.bus == nil {
		return nil
	}
	err := p.bus.Close()
	p.bus = nil
	return err
}
