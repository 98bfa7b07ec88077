package imu

// Axis indices shared by every per-axis array in this module.
const (
	Roll  = 0
	Pitch = 1
	Yaw   = 2
)

// IMURaw is one cycle of device counts with the calibration offset removed.
// A sensor that is calibrating reports zero counts.
type IMURaw struct {
	Gyro  [3]int32 `json:"gyro"`  // angular velocity counts, roll/pitch/yaw
	Accel [3]int32 `json:"accel"` // acceleration counts, roll/pitch/yaw
}

// Scaled is a bias-corrected sample in physical units.
type Scaled struct {
	GyroDPS [3]float64 `json:"gyro_dps"`
	AccelG  [3]float64 `json:"accel_g"`
}
