// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"
)

// MockPoseAt returns the pose of a slow, smooth rocking motion (±20° roll,
// ±15° pitch) at elapsed time t. The sim bus driver uses it to synthesize
// sensor data.
func MockPoseAt(t time.Duration) Pose {
	s := t.Seconds()
	return Pose{
		Roll:  20 * math.Pi / 180 * math.Sin(s),
		Pitch: 15 * math.Pi / 180 * math.Cos(s*0.7),
	}
}

// MockRatesAt returns the roll and pitch rates of the mock motion at t, in °/s.
func MockRatesAt(t time.Duration) (rollDPS, pitchDPS float64) {
	s := t.Seconds()
	return 20 * math.Cos(s), -15 * 0.7 * math.Sin(s*0.7)
}
