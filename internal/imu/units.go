package imu

// Full-scale spans configured at init: ±2000°/s and ±8g over a signed 16-bit range.
const (
	GyroSpanDPS   = 4000.0
	AccelSpanG    = 16.0
	countsPerSpan = 65536.0
)

// GyroDPS converts bias-corrected gyro counts to degrees per second.
func GyroDPS(raw [3]int32) [3]float64 {
	var out [3]float64
	for axis, v := range raw {
		out[axis] = float64(v) * GyroSpanDPS / countsPerSpan
	}
	return out
}

// AccelG converts bias-corrected accelerometer counts to g.
func AccelG(raw [3]int32) [3]float64 {
	var out [3]float64
	for axis, v := range raw {
		out[axis] = float64(v) * AccelSpanG / countsPerSpan
	}
	return out
}

// TemperatureCelsius converts the raw temperature word to °C.
func TemperatureCelsius(raw int16) float64 {
	return (float64(raw) + 12412.0) / 340.0
}

// CountsFromDPS is the inverse of GyroDPS for a single axis, saturating at the int16 range.
func CountsFromDPS(dps float64) int16 {
	return saturate(dps * countsPerSpan / GyroSpanDPS)
}

// CountsFromG is the inverse of AccelG for a single axis, saturating at the int16 range.
func CountsFromG(g float64) int16 {
	return saturate(g * countsPerSpan / AccelSpanG)
}

func saturate(v float64) int16 {
	switch {
	case v >= 32767:
		return 32767
	case v <= -32768:
		return -32768
	case v < 0:
		return int16(v - 0.5)
	default:
		return int16(v + 0.5)
	}
}
