// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/flightcore/internal/bus"
	"github.com/relabs-tech/flightcore/internal/imu"
)

// ErrShortRead is matched by every ShortReadError.
var ErrShortRead = errors.New("short read")

// ShortReadError reports a read transaction that returned fewer bytes than requested.
type ShortReadError struct {
	Register byte
	Want     int
	Got      int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("mpu6050: short read at 0x%02X: got %d of %d bytes", e.Register, e.Got, e.Want)
}

func (e *ShortReadError) Is(target error) bool { return target == ErrShortRead }

// DeviceWriteError reports a register write that returned a non-zero status
// during initialization.
type DeviceWriteError struct {
	Register byte
	Status   bus.Status
}

func (e *DeviceWriteError) Error() string {
	return fmt.Sprintf("mpu6050: write to register 0x%02X failed: status %d (%s)", e.Register, uint8(e.Status), e.Status)
}

// Delays in milliseconds.
const (
	busSettleMs   = 100
	resetSettleMs = 5
)

// MPU6050 is the gyro/accelerometer device on the two-wire bus.
type MPU6050 struct {
	bus   *bus.Bus
	sleep bus.Sleeper
	log   *logrus.Entry
}

// NewMPU6050 returns a device handle on b. Nothing is sent until Init.
func NewMPU6050(b *bus.Bus, sleep bus.Sleeper, log *logrus.Entry) *MPU6050 {
	return &MPU6050{bus: b, sleep: sleep, log: log}
}

type initWrite struct {
	reg, val byte
	name     string
}

// initSequence is the ordered register program applied after reset.
var initSequence = []initWrite{
	{RegPwrMgmt1, PwrMgmt1PLLGyroZ, "power: PLL with Z gyro reference"},
	{RegConfig, ConfigDLPF260Hz, "config: DLPF 260Hz, no FSYNC"},
	{RegGyroConfig, GyroConfigFS2000, "gyro: ±2000°/s"},
	{RegAccelConfig, AccelConfigFS8G, "accel: ±8g"},
}

// Init opens the bus, resets the device and programs power, filter and
// full-scale registers. The first failing write stops the sequence. On
// success the temperature register is read once to confirm the device
// answers reads.
func (d *MPU6050) Init(ctx context.Context) error {
	if err := d.bus.Begin(); err != nil {
		return fmt.Errorf("mpu6050: %w", err)
	}
	d.sleep.SleepMs(busSettleMs)

	if err := d.write(ctx, RegPwrMgmt1, PwrMgmt1DeviceReset); err != nil {
		return err
	}
	d.log.Debug("device reset")
	d.sleep.SleepMs(resetSettleMs)

	for _, w := range initSequence {
		if err := d.write(ctx, w.reg, w.val); err != nil {
			return err
		}
		d.log.Debug(w.name)
	}

	raw, err := d.ReadTemperatureRaw(ctx)
	if err != nil {
		return fmt.Errorf("mpu6050: connectivity check: %w", err)
	}
	d.log.Infof("initialized, temperature %.1f°C", imu.TemperatureCelsius(raw))
	return nil
}

func (d *MPU6050) write(ctx context.Context, reg, val byte) error {
	err := d.bus.WriteRegister(ctx, Address, reg, val)
	if err == nil {
		return nil
	}
	var se *bus.StatusError
	if errors.As(err, &se) {
		return &DeviceWriteError{Register: reg, Status: se.Status}
	}
	return fmt.Errorf("mpu6050: write 0x%02X: %w", reg, err)
}

// ReadGyroRaw returns the angular velocity counts for roll, pitch and yaw.
func (d *MPU6050) ReadGyroRaw(ctx context.Context) ([3]int16, error) {
	return d.readTriple(ctx, RegGyroXOutH)
}

// ReadAccelRaw returns the acceleration counts for roll, pitch and yaw.
func (d *MPU6050) ReadAccelRaw(ctx context.Context) ([3]int16, error) {
	return d.readTriple(ctx, RegAccelXOutH)
}

// ReadTemperatureRaw returns the raw temperature word.
func (d *MPU6050) ReadTemperatureRaw(ctx context.Context) (int16, error) {
	var buf [2]byte
	if err := d.readBlock(ctx, RegTempOutH, buf[:]); err != nil {
		return 0, err
	}
	return be16(buf[0], buf[1]), nil
}

// ReadRegister returns a single register value.
func (d *MPU6050) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	var buf [1]byte
	if err := d.readBlock(ctx, reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *MPU6050) readTriple(ctx context.Context, reg byte) ([3]int16, error) {
	var buf [6]byte
	if err := d.readBlock(ctx, reg, buf[:]); err != nil {
		return [3]int16{}, err
	}
	return [3]int16{
		imu.Roll:  be16(buf[0], buf[1]),
		imu.Pitch: be16(buf[2], buf[3]),
		imu.Yaw:   be16(buf[4], buf[5]),
	}, nil
}

func (d *MPU6050) readBlock(ctx context.Context, reg byte, buf []byte) error {
	n, err := d.bus.ReadRegisters(ctx, Address, reg, buf)
	if err != nil {
		return fmt.Errorf("mpu6050: read 0x%02X: %w", reg, err)
	}
	if n < len(buf) {
		return &ShortReadError{Register: reg, Want: len(buf), Got: n}
	}
	return nil
}

func be16(hi, lo byte) int16 {
	return int16(uint16(hi)<<8 | uint16(lo))
}
