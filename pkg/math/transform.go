package math

import "math"

// Mat4 is a 4x4 matrix in column-major order.
// Layout: [m0 m4 m8  m12]
//
//	[m1 m5 m9  m13]
//	[m2 m6 m10 m14]
//	[m3 m7 m11 m15]
type Mat4 [16]float32

// Identity returns an identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translate returns a translation matrix.
func Translate(v Vec3) Mat4 {
	m := Identity()
	m[12], m[13], m[14] = v.X, v.Y, v.Z
	return m
}

// ScaleMat returns a scale matrix.
func ScaleMat(v Vec3) Mat4 {
	m := Identity()
	m[0], m[5], m[10] = v.X, v.Y, v.Z
	return m
}

// RotateZ returns a rotation matrix around the up axis.
// angle is in radians.
func RotateZ(angle float32) Mat4 {
	c := float32(math.Cos(float64(angle)))
	s := float32(math.Sin(float64(angle)))

	return Mat4{
		c, s, 0, 0,
		-s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul multiplies this matrix by another (m * other).
func (m Mat4) Mul(other Mat4) Mat4 {
	var result Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			result[col*4+row] =
				m[0*4+row]*other[col*4+0] +
					m[1*4+row]*other[col*4+1] +
					m[2*4+row]*other[col*4+2] +
					m[3*4+row]*other[col*4+3]
		}
	}
	return result
}

// TransformPoint transforms a point (w=1).
func (m Mat4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
	}
}

// TransformDirection transforms a direction vector (ignores translation).
func (m Mat4) TransformDirection(d Vec3) Vec3 {
	return Vec3{
		m[0]*d.X + m[4]*d.Y + m[8]*d.Z,
		m[1]*d.X + m[5]*d.Y + m[9]*d.Z,
		m[2]*d.X + m[6]*d.Y + m[10]*d.Z,
	}
}

// Transform is a tile's placement: translation, rotation about the up axis
// and a non-uniform scale, applied scale first.
type Transform struct {
	Translation Vec3
	Yaw         float32 // radians
	Scale       Vec3
}

// NewTransform returns a transform at translation with unit scale.
func NewTransform(translation Vec3) Transform {
	return Transform{Translation: translation, Scale: Vec3{1, 1, 1}}
}

// Matrix returns T * R * S.
func (t Transform) Matrix() Mat4 {
	return Translate(t.Translation).Mul(RotateZ(t.Yaw)).Mul(ScaleMat(t.Scale))
}

// Axes returns the unit local X and Y axes in world space.
func (t Transform) Axes() (Vec3, Vec3) {
	r := RotateZ(t.Yaw)
	return r.TransformDirection(Vec3{1, 0, 0}).Normalize(),
		r.TransformDirection(Vec3{0, 1, 0}).Normalize()
}

// LocalToWorld maps a point in the tile's local frame to world space.
func (t Transform) LocalToWorld(p Vec3) Vec3 {
	return t.Matrix().TransformPoint(p)
}
