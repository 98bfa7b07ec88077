package app

import (
	"github.com/relabs-tech/flightcore/internal/core"
	"github.com/relabs-tech/flightcore/internal/orientation"
)

// Attitude is the payload published on TOPIC_ATTITUDE.
type Attitude struct {
	TimeMs      uint32  `json:"time_ms"`
	Roll        float64 `json:"roll_rad"`
	Pitch       float64 `json:"pitch_rad"`
	RollDeg     float64 `json:"roll_deg"`
	PitchDeg    float64 `json:"pitch_deg"`
	Calibrating bool    `json:"calibrating"`
}

func attitudeFrom(out core.Output) Attitude {
	p := orientation.Pose{Roll: out.Roll, Pitch: out.Pitch}
	return Attitude{
		TimeMs:      out.TimeMs,
		Roll:        p.Roll,
		Pitch:       p.Pitch,
		RollDeg:     p.RollDeg(),
		PitchDeg:    p.PitchDeg(),
		Calibrating: out.GyroCalibrating || out.AccelCalibrating,
	}
}
