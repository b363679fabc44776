package frame

import "math"

// Physical conversion constants for the acquisition front end.
const (
	HIGH_GAIN_VREF  = 3.3   // Reference voltage of the high-gain neural ADC (volts)
	HIGH_GAIN_SCALE = 32768 // Full-scale divisor for the signed 16-bit neural ADC
	MCU_ADC_VREF    = 3.3   // Reference voltage of the MCU's auxiliary ADC (volts)
	MCU_ADC_MAX     = 4095  // Full-scale code of the 12-bit MCU ADC
)

// NeuralVolts converts a raw high-gain ADC code to volts. The converter
// reports a 16-bit two's-complement code in an unsigned field, so values
// above 32767 fold to negative before scaling by vref/gain. A gain of
// zero or below falls back to unity rather than dividing by zero.
func NeuralVolts(raw uint16, gain float64) float64 {
	if gain <= 0 {
		gain = 1
	}
	value := float64(raw)
	if value > 32767 {
		value -= 65536
	}
	return (value / HIGH_GAIN_SCALE) * (HIGH_GAIN_VREF / gain)
}

// AuxVolts converts a 12-bit MCU ADC code to volts. Codes above full
// scale clip at vref.
func AuxVolts(raw uint16) float64 {
	if raw > MCU_ADC_MAX {
		raw = MCU_ADC_MAX
	}
	return (float64(raw) / MCU_ADC_MAX) * MCU_ADC_VREF
}

// Quaternion is a normalized orientation quaternion (w, x, y, z).
type Quaternion struct {
	Q0 float64 `json:"q0"`
	Q1 float64 `json:"q1"`
	Q2 float64 `json:"q2"`
	Q3 float64 `json:"q3"`
}

// EulerAngles are intrinsic rotations in radians derived from a quaternion.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// OrientationQuaternion normalizes the frame's raw int32 quaternion into
// unit components. The motion coprocessor's fixed-point scale cancels out
// in the normalization, so no scale constant is needed. An all-zero
// orientation (coprocessor not ready) yields the zero quaternion.
func OrientationQuaternion(raw [4]int32) Quaternion {
	q0, q1, q2, q3 := float64(raw[0]), float64(raw[1]), float64(raw[2]), float64(raw[3])
	norm := math.Sqrt(q0*q0 + q1*q1 + q2*q2 + q3*q3)
	if norm == 0 {
		return Quaternion{}
	}
	return Quaternion{Q0: q0 / norm, Q1: q1 / norm, Q2: q2 / norm, Q3: q3 / norm}
}

// Euler converts the quaternion to roll/pitch/yaw in radians. The asin
// argument is clamped to [-1, 1] so accumulated float error near the
// ±90° pitch singularity cannot produce NaN.
func (q Quaternion) Euler() EulerAngles {
	sinPitch := 2 * (q.Q0*q.Q2 - q.Q3*q.Q1)
	if sinPitch > 1 {
		sinPitch = 1
	} else if sinPitch < -1 {
		sinPitch = -1
	}
	return EulerAngles{
		Roll:  math.Atan2(2*(q.Q0*q.Q1+q.Q2*q.Q3), 1-2*(q.Q1*q.Q1+q.Q2*q.Q2)),
		Pitch: math.Asin(sinPitch),
		Yaw:   math.Atan2(2*(q.Q0*q.Q3+q.Q1*q.Q2), 1-2*(q.Q2*q.Q2+q.Q3*q.Q3)),
	}
}

// OrientationEuler is the one-step raw-orientation to Euler-angles path
// used by the render snapshot.
func OrientationEuler(raw [4]int32) EulerAngles {
	return OrientationQuaternion(raw).Euler()
}
