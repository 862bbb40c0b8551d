package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Mat3 is a row-major 3x3 rotation matrix.
type Mat3 [3][3]float64

// Identity returns the identity rotation.
func Identity() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec returns m*v.
func (m Mat3) MulVec(v Point3D) Point3D {
	return Point3D{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// EulerDeg holds roll, pitch and yaw in degrees.
type EulerDeg struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Array returns [roll, pitch, yaw].
func (e EulerDeg) Array() [3]float64 {
	return [3]float64{e.Roll, e.Pitch, e.Yaw}
}

func rad2deg(r float64) float64 { return r * 180 / math.Pi }

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

// RotationMatrixToEulerDeg converts R to roll (about X), pitch (about Y) and
// yaw (about Z) in degrees, using the Z-Y-X convention.
func RotationMatrixToEulerDeg(r Mat3) EulerDeg {
	sinPitch := math.Max(-1, math.Min(1, -r[2][0]))
	return EulerDeg{
		Roll:  rad2deg(math.Atan2(r[2][1], r[2][2])),
		Pitch: rad2deg(math.Asin(sinPitch)),
		Yaw:   rad2deg(math.Atan2(r[1][0], r[0][0])),
	}
}

// RotationMatrixToQuaternion converts R to a unit quaternion with a
// non-negative real part.
//
// When the trace is positive the trace formula is used. Otherwise the
// branch keyed on the largest diagonal element is taken so that the divisor
// never approaches zero near half-turn rotations.
func RotationMatrixToQuaternion(r Mat3) quat.Number {
	var w, x, y, z float64
	trace := r[0][0] + r[1][1] + r[2][2]

	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		w = 0.25 * s
		x = (r[2][1] - r[1][2]) / s
		y = (r[0][2] - r[2][0]) / s
		z = (r[1][0] - r[0][1]) / s
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := math.Sqrt(1+r[0][0]-r[1][1]-r[2][2]) * 2
		w = (r[2][1] - r[1][2]) / s
		x = 0.25 * s
		y = (r[0][1] + r[1][0]) / s
		z = (r[0][2] + r[2][0]) / s
	case r[1][1] > r[2][2]:
		s := math.Sqrt(1+r[1][1]-r[0][0]-r[2][2]) * 2
		w = (r[0][2] - r[2][0]) / s
		x = (r[0][1] + r[1][0]) / s
		y = 0.25 * s
		z = (r[1][2] + r[2][1]) / s
	default:
		s := math.Sqrt(1+r[2][2]-r[0][0]-r[1][1]) * 2
		w = (r[1][0] - r[0][1]) / s
		x = (r[0][2] + r[2][0]) / s
		y = (r[1][2] + r[2][1]) / s
		z = 0.25 * s
	}

	q := quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// QuaternionToRotationMatrix converts q to a rotation matrix. q is
// normalized first; the zero quaternion maps to the identity.
func QuaternionToRotationMatrix(q quat.Number) Mat3 {
	n := quat.Abs(q)
	if n == 0 {
		return Identity()
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// QuaternionArray returns q as [w, x, y, z].
func QuaternionArray(q quat.Number) [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

// RotateAboutY rotates p by deg degrees about the vertical (Y) axis through
// origin.
func RotateAboutY(p, origin Point3D, deg float64) Point3D {
	s, c := math.Sincos(deg2rad(deg))
	rot := Mat3{
		{c, 0, s},
		{0, 1, 0},
		{-s, 0, c},
	}
	return r3.Add(origin, rot.MulVec(r3.Sub(p, origin)))
}
