// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration measures a per-axis zero offset by averaging a fixed
// run of consecutive samples taken while the vehicle is at rest.
package calibration

// Samples is the length of a calibration run. At a 2ms loop this is about one
// second; callers rely on that timing.
const Samples = 512

// Calibrator is a countdown plus accumulator for one three-axis sensor.
// A zero counter means idle: samples are corrected by the stored offset.
type Calibrator struct {
	counter int
	sum     [3]int32
	offset  [3]int32
}

// Begin starts a new run. Any run in progress restarts from its first sample.
func (c *Calibrator) Begin() {
	c.counter = Samples
}

// Active reports whether a run is in progress.
func (c *Calibrator) Active() bool {
	return c.counter > 0
}

// Remaining returns the number of samples left in the current run, including
// the next one.
func (c *Calibrator) Remaining() int {
	return c.counter
}

// Offset returns the stored per-axis bias.
func (c *Calibrator) Offset() [3]int32 {
	return c.offset
}

// Apply feeds one raw sample. While a run is in progress the sample is
// accumulated and reported as zero; the last sample of the run stores
// the integer mean of the run as the new offset. While idle the sample is returned with the offset
// subtracted.
func (c *Calibrator) Apply(raw [3]int16) (corrected [3]int32, calibrating bool) {
	if c.counter == 0 {
		for axis, v := range raw {
			corrected[axis] = int32(v) - c.offset[axis]
		}
		return corrected, false
	}

	if c.counter == Samples {
		c.sum = [3]int32{}
		c.offset = [3]int32{}
	}
	for axis, v := range raw {
		c.sum[axis] += int32(v)
	}
	if c.counter == 1 {
		for axis := range c.offset {
			c.offset[axis] = c.sum[axis] / Samples
		}
	}
	c.counter--
	return corrected, true
}
