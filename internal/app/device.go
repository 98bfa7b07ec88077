// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/flightcore/internal/bus"
	"github.com/relabs-tech/flightcore/internal/config"
	"github.com/relabs-tech/flightcore/internal/imu"
	"github.com/relabs-tech/flightcore/internal/logging"
	"github.com/relabs-tech/flightcore/internal/orientation"
	"github.com/relabs-tech/flightcore/internal/sensors"
)

// newTransport selects the bus driver named by BUS_DRIVER.
func newTransport(cfg *config.Config) (bus.Transport, error) {
	log := logging.Component("i2c")
	switch cfg.BusDriver {
	case "periph":
		return bus.NewPeriphTransport(cfg.I2CBus, physic.Frequency(cfg.BusSpeedKHz)*physic.KiloHertz, log), nil
	case "embd":
		n, err := strconv.Atoi(cfg.I2CBus)
		if err != nil {
			return nil, fmt.Errorf("embd bus number %q: %w", cfg.I2CBus, err)
		}
		return bus.NewEmbdTransport(byte(n), log), nil
	case "sim":
		sim := sensors.NewSim()
		sim.SetMotion(mockMotion(time.Now()))
		log.Warn("using simulated MPU6050, attitude is synthetic")
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}
}

// openDevice builds the bus and MPU6050 handle from configuration. Nothing is
// sent to the device until Init.
func openDevice(cfg *config.Config, sleep bus.Sleeper) (*sensors.MPU6050, *bus.Bus, error) {
	tr, err := newTransport(cfg)
	if err != nil {
		return nil, nil, err
	}
	b := bus.New(tr, time.Duration(cfg.BusTimeoutMS)*time.Millisecond, sleep, logging.Component("bus"))
	return sensors.NewMPU6050(b, sleep, logging.Component("mpu6050")), b, nil
}

// mockMotion drives the simulated device through the mock rocking motion:
// gyro counts follow the pose rates and the accelerometer sees gravity
// rotated by the pose.
func mockMotion(start time.Time) func() (gyro, accel [3]int16) {
	return func() (gyro, accel [3]int16) {
		t := time.Since(start)
		pose := orientation.MockPoseAt(t)
		rollRate, pitchRate := orientation.MockRatesAt(t)

		gyro[imu.Roll] = imu.CountsFromDPS(rollRate)
		gyro[imu.Pitch] = imu.CountsFromDPS(-pitchRate)

		accel[imu.Roll] = imu.CountsFromG(math.Sin(pose.Roll))
		accel[imu.Pitch] = imu.CountsFromG(math.Sin(pose.Pitch))
		accel[imu.Yaw] = imu.CountsFromG(math.Cos(pose.Roll) * math.Cos(pose.Pitch))
		return gyro, accel
	}
}
