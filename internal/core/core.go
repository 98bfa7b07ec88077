// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package core runs one control cycle of sensor acquisition, calibration,
// unit conversion and attitude fusion.
//
// A Core owns all of its state (last samples, calibration offsets, attitude
// history) and assumes a single writer: exactly one goroutine calls Init, Step
// and the calibration triggers. Concurrent callers would race on the offsets
// and the attitude; wrap the Core in a lock or channel if that ever changes.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/flightcore/internal/bus"
	"github.com/relabs-tech/flightcore/internal/calibration"
	"github.com/relabs-tech/flightcore/internal/clock"
	"github.com/relabs-tech/flightcore/internal/imu"
	"github.com/relabs-tech/flightcore/internal/metrics"
	"github.com/relabs-tech/flightcore/internal/orientation"
	"github.com/relabs-tech/flightcore/internal/sensors"
)

var (
	// ErrSensorLost is returned once consecutive bus timeouts reach the limit.
	// It is sticky until the next successful Init.
	ErrSensorLost = errors.New("core: sensor lost")

	// ErrNotInitialized is returned by Step before a successful Init.
	ErrNotInitialized = errors.New("core: not initialized")
)

// Device is the sensor the core samples.
type Device interface {
	Init(ctx context.Context) error
	ReadGyroRaw(ctx context.Context) ([3]int16, error)
	ReadAccelRaw(ctx context.Context) ([3]int16, error)
}

// Options tunes a Core.
type Options struct {
	FilterWeight float64 // gyro share of the complementary blend
	TimeoutLimit int     // consecutive timeouts before ErrSensorLost
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		FilterWeight: orientation.DefaultWeight,
		TimeoutLimit: 10,
	}
}

// Output is what one cycle publishes to the flight-control loop.
type Output struct {
	TimeMs           uint32     `json:"time_ms"`
	Roll             float64    `json:"roll_rad"`
	Pitch            float64    `json:"pitch_rad"`
	GyroDPS          [3]float64 `json:"gyro_dps"`
	AccelG           [3]float64 `json:"accel_g"`
	EarthAccelG      [3]float64 `json:"earth_accel_g"`
	Velocity         [3]float64 `json:"velocity_ms"`
	Raw              imu.IMURaw `json:"raw"`
	GyroCalibrating  bool       `json:"gyro_calibrating"`
	AccelCalibrating bool       `json:"accel_calibrating"`
}

// Core is the sensor acquisition and attitude estimation state.
type Core struct {
	dev     Device
	clk     clock.Clock
	opts    Options
	log     *logrus.Entry
	metrics *metrics.Metrics

	gyroCal  calibration.Calibrator
	accelCal calibration.Calibrator
	filter   *orientation.Filter

	raw    imu.IMURaw
	scaled imu.Scaled
	out    Output

	ready    bool
	lost     bool
	timeouts int
}

// New returns a Core sampling dev. m may be nil.
func New(dev Device, clk clock.Clock, opts Options, log *logrus.Entry, m *metrics.Metrics) *Core {
	if opts.TimeoutLimit <= 0 {
		opts.TimeoutLimit = DefaultOptions().TimeoutLimit
	}
	return &Core{
		dev:     dev,
		clk:     clk,
		opts:    opts,
		log:     log,
		metrics: m,
		filter:  orientation.NewFilter(opts.FilterWeight),
	}
}

// Init programs the device. A failure leaves the core unusable and must be
// treated as not flight-ready.
func (c *Core) Init(ctx context.Context) error {
	c.ready = false
	if err := c.dev.Init(ctx); err != nil {
		return fmt.Errorf("core: init: %w", err)
	}
	c.ready = true
	c.lost = false
	c.timeouts = 0
	c.filter.Reset()
	c.metrics.Timeouts(0)
	c.log.WithField("filter_weight", c.filter.Weight()).Info("sensor initialized")
	return nil
}

// BeginGyroCalibration starts a gyro zero-offset run over the next
// calibration.Samples cycles. The device must be at rest.
func (c *Core) BeginGyroCalibration() {
	c.gyroCal.Begin()
	c.metrics.Calibration("gyro", c.gyroCal.Remaining())
	c.log.Infof("gyro calibration started (%d samples)", calibration.Samples)
}

// BeginAccelCalibration starts an accelerometer zero-offset run over the next
// calibration.Samples cycles. The device must be level and at rest.
func (c *Core) BeginAccelCalibration() {
	c.accelCal.Begin()
	c.metrics.Calibration("accel", c.accelCal.Remaining())
	c.log.Infof("accel calibration started (%d samples)", calibration.Samples)
}

// Calibrating reports whether either sensor is still calibrating.
func (c *Core) Calibrating() bool {
	return c.gyroCal.Active() || c.accelCal.Active()
}

// GyroOffset returns the stored gyro bias in counts.
func (c *Core) GyroOffset() [3]int32 { return c.gyroCal.Offset() }

// AccelOffset returns the stored accelerometer bias in counts.
func (c *Core) AccelOffset() [3]int32 { return c.accelCal.Offset() }

// Last returns the output of the most recent successful cycle.
func (c *Core) Last() Output { return c.out }

// Step runs one control cycle: read gyro, read accelerometer, then either
// accumulate calibration samples or convert and fuse. On a read error the
// previous sample and attitude are kept and returned with the error; the
// caller should hold its last command for this cycle.
func (c *Core) Step(ctx context.Context) (Output, error) {
	if !c.ready {
		return c.out, ErrNotInitialized
	}
	if c.lost {
		return c.out, ErrSensorLost
	}
	start := time.Now()

	gyro, err := c.dev.ReadGyroRaw(ctx)
	if err != nil {
		return c.out, c.readFailed("gyro", err)
	}
	accel, err := c.dev.ReadAccelRaw(ctx)
	if err != nil {
		return c.out, c.readFailed("accel", err)
	}
	if c.timeouts > 0 {
		c.timeouts = 0
		c.metrics.Timeouts(0)
	}

	gyroCorr, gyroCal := c.gyroCal.Apply(gyro)
	if gyroCal {
		c.calibrationProgress("gyro", &c.gyroCal)
	}
	accelCorr, accelCal := c.accelCal.Apply(accel)
	if accelCal {
		c.calibrationProgress("accel", &c.accelCal)
	} else {
		c.scaled.AccelG = imu.AccelG(accelCorr)
	}

	c.raw = imu.IMURaw{Gyro: gyroCorr, Accel: accelCorr}

	now := c.clk.NowMs()
	if !gyroCal {
		c.scaled.GyroDPS = imu.GyroDPS(gyroCorr)
		c.filter.Update(c.scaled.GyroDPS, c.scaled.AccelG, now)
	}

	pose := c.filter.Pose()
	c.out = Output{
		TimeMs:           now,
		Roll:             pose.Roll,
		Pitch:            pose.Pitch,
		GyroDPS:          c.scaled.GyroDPS,
		AccelG:           c.scaled.AccelG,
		EarthAccelG:      c.filter.EarthAccel(),
		Velocity:         c.filter.Velocity(),
		Raw:              c.raw,
		GyroCalibrating:  gyroCal,
		AccelCalibrating: accelCal,
	}
	c.metrics.Cycle(pose.Roll, pose.Pitch, time.Since(start).Seconds())
	if c.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		c.log.WithFields(logrus.Fields{
			"roll":  pose.Roll,
			"pitch": pose.Pitch,
			"gyro":  c.scaled.GyroDPS,
			"accel": c.scaled.AccelG,
		}).Trace("cycle")
	}
	return c.out, nil
}

func (c *Core) calibrationProgress(sensor string, cal *calibration.Calibrator) {
	c.metrics.Calibration(sensor, cal.Remaining())
	if !cal.Active() {
		o := cal.Offset()
		c.log.WithField("offset", o).Infof("%s calibration complete", sensor)
	}
}

func (c *Core) readFailed(what string, err error) error {
	switch {
	case errors.Is(err, bus.ErrTimeout):
		c.timeouts++
		c.metrics.ReadError("timeout")
		c.metrics.Timeouts(c.timeouts)
		if c.timeouts >= c.opts.TimeoutLimit {
			c.lost = true
			c.log.WithField("timeouts", c.timeouts).Error("sensor lost")
			return fmt.Errorf("%w: %d consecutive timeouts: %w", ErrSensorLost, c.timeouts, err)
		}
		c.log.WithField("timeouts", c.timeouts).Warnf("%s read timed out", what)
	case errors.Is(err, sensors.ErrShortRead):
		c.metrics.ReadError("short_read")
		c.log.Warnf("%s read: %v", what, err)
	default:
		c.metrics.ReadError("bus")
		c.log.Warnf("%s read: %v", what, err)
	}
	return fmt.Errorf("core: %s read: %w", what, err)
}
