package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a 4x4 homogeneous affine transformation, row-major.
type Matrix [4][4]float64

// IdentityMatrix returns the identity transformation.
func IdentityMatrix() Matrix {
	var m Matrix
	for i := 0; i < 4; i++ {
		m[i][i] = 1
	}
	return m
}

// NewTranslation returns a pure translation.
func NewTranslation(tx, ty, tz float64) Matrix {
	m := IdentityMatrix()
	m[0][3], m[1][3], m[2][3] = tx, ty, tz
	return m
}

// NewAffine composes translation * rotation(z,y,x) * scale, rotations given in degrees.
// A zero scale component is treated as 1.
func NewAffine(translation, rotationDeg, scale [3]float64) Matrix {
	s := IdentityMatrix()
	for ia := 0; ia < 3; ia++ {
		if scale[ia] != 0 {
			s[ia][ia] = scale[ia]
		}
	}
	rot := func(axis int, deg float64) Matrix {
		r := IdentityMatrix()
		c, sn := math.Cos(deg*math.Pi/180), math.Sin(deg*math.Pi/180)
		a, b := (axis+1)%3, (axis+2)%3
		r[a][a], r[a][b] = c, -sn
		r[b][a], r[b][b] = sn, c
		return r
	}
	t := NewTranslation(translation[0], translation[1], translation[2])
	return t.Multiply(rot(2, rotationDeg[2])).Multiply(rot(1, rotationDeg[1])).Multiply(rot(0, rotationDeg[0])).Multiply(s)
}

// Dense copies the matrix into a gonum dense matrix.
func (m Matrix) Dense() *mat.Dense {
	d := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			d.Set(i, j, m[i][j])
		}
	}
	return d
}

// MatrixFromDense copies a 4x4 gonum matrix.
func MatrixFromDense(d mat.Matrix) Matrix {
	var m Matrix
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = d.At(i, j)
		}
	}
	return m
}

// Multiply returns m*o, i.e. o is applied first.
func (m Matrix) Multiply(o Matrix) Matrix {
	var out mat.Dense
	out.Mul(m.Dense(), o.Dense())
	return MatrixFromDense(&out)
}

// TransformPoint applies the affine part of m.
func (m Matrix) TransformPoint(p Point) Point {
	var q Point
	for i := 0; i < 3; i++ {
		q[i] = m[i][0]*p[0] + m[i][1]*p[1] + m[i][2]*p[2] + m[i][3]
	}
	return q
}

// IsIdentity reports whether m equals the identity exactly.
func (m Matrix) IsIdentity() bool {
	return m == IdentityMatrix()
}

func (m Matrix) String() string {
	s := ""
	for i := 0; i < 4; i++ {
		s += fmt.Sprintf("[ %8.4f %8.4f %8.4f %8.4f ]", m[i][0], m[i][1], m[i][2], m[i][3])
		if i < 3 {
			s += "\n"
		}
	}
	return s
}
