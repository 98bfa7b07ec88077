// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/relabs-tech/flightcore/internal/imu"
)

// DefaultWeight is the gyro share of the complementary blend.
const DefaultWeight = 0.98

// StandardGravity in m/s².
const StandardGravity = 9.81

// Filter is a complementary filter fusing integrated gyro rate with the
// accelerometer tilt. It also integrates earth-frame acceleration into a
// velocity estimate. Not safe for concurrent use.
type Filter struct {
	weight float64

	pose    Pose
	prevMs  uint32
	started bool

	earthAccel [3]float64 // g
	velocity   [3]float64 // m/s
}

// NewFilter returns a filter with gyro weight a, expected in [0, 1].
func NewFilter(a float64) *Filter {
	return &Filter{weight: a}
}

// Weight returns the gyro weight.
func (f *Filter) Weight() float64 { return f.weight }

// Pose returns the last computed attitude.
func (f *Filter) Pose() Pose { return f.pose }

// EarthAccel returns the last earth-frame acceleration in g.
func (f *Filter) EarthAccel() [3]float64 { return f.earthAccel }

// Velocity returns the integrated earth-frame velocity in m/s.
func (f *Filter) Velocity() [3]float64 { return f.velocity }

// Reset forgets the attitude, velocity and time base.
func (f *Filter) Reset() {
	*f = Filter{weight: f.weight}
}

// Update advances the estimate to nowMs. The first call only establishes the
// time base and returns a level pose.
func (f *Filter) Update(gyroDPS, accelG [3]float64, nowMs uint32) Pose {
	eRoll, ePitch := TiltFromAccel(accelG)

	if !f.started {
		f.started = true
		f.pose = Pose{}
		f.prevMs = nowMs
		return f.pose
	}

	dt := float64(nowMs-f.prevMs) / 1000.0
	f.prevMs = nowMs

	iRoll := gyroDPS[imu.Roll] * math.Pi / 180.0 * dt
	iPitch := -gyroDPS[imu.Pitch] * math.Pi / 180.0 * dt

	a := f.weight
	f.pose.Roll = a*(f.pose.Roll+iRoll) + (1-a)*eRoll
	f.pose.Pitch = a*(f.pose.Pitch+iPitch) + (1-a)*ePitch

	cr := math.Cos(f.pose.Roll)
	cp := math.Cos(f.pose.Pitch)
	f.earthAccel = [3]float64{
		accelG[imu.Pitch] * cr,
		accelG[imu.Roll] * cp,
		accelG[imu.Yaw] * cr * cp,
	}
	for i, v := range f.earthAccel {
		f.velocity[i] += v * StandardGravity * dt
	}

	return f.pose
}
