package orientation

import (
	"math"

	"github.com/relabs-tech/flightcore/internal/imu"
)

// Pose is the roll/pitch attitude in radians.
type Pose struct {
	Roll  float64 `json:"roll_rad"`
	Pitch float64 `json:"pitch_rad"`
}

// RollDeg returns roll in degrees.
func (p Pose) RollDeg() float64 { return p.Roll * 180.0 / math.Pi }

// PitchDeg returns pitch in degrees.
func (p Pose) PitchDeg() float64 { return p.Pitch * 180.0 / math.Pi }

// TiltFromAccel computes roll and pitch from an acceleration vector in g.
// One g is added back on the yaw axis so the denominator stays near 1 when
// the measured acceleration is close to zero:
//
//	roll  = atan2(ax, sqrt((az+1)² + ay²))
//	pitch = atan2(ay, sqrt((az+1)² + ax²))
func TiltFromAccel(accelG [3]float64) (roll, pitch float64) {
	ax := accelG[imu.Roll]
	ay := accelG[imu.Pitch]
	az := accelG[imu.Yaw] + 1

	roll = math.Atan2(ax, math.Sqrt(az*az+ay*ay))
	pitch = math.Atan2(ay, math.Sqrt(az*az+ax*ax))
	return roll, pitch
}
