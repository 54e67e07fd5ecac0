// Package transform models the geometric pipeline of a depth camera:
// per-pixel depth correction, lens distortion, and the projective
// transforms that carry depth pixels into 3D space and back.
package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PTransform is a 4x4 projective transform in row-major order,
// applied to homogeneous column vectors.
type PTransform [4][4]float64

// IdentityPTransform returns the identity transform.
func IdentityPTransform() PTransform {
	var p PTransform
	for i := 0; i < 4; i++ {
		p[i][i] = 1
	}
	return p
}

// Mul returns the composition p*q, the transform that applies q first.
func (p PTransform) Mul(q PTransform) PTransform {
	var r PTransform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				sum += p[i][k] * q[k][j]
			}
			r[i][j] = sum
		}
	}
	return r
}

// Apply transforms v as a homogeneous point and divides out the
// weight component.
func (p PTransform) Apply(v r3.Vector) r3.Vector {
	x := p[0][0]*v.X + p[0][1]*v.Y + p[0][2]*v.Z + p[0][3]
	y := p[1][0]*v.X + p[1][1]*v.Y + p[1][2]*v.Z + p[1][3]
	z := p[2][0]*v.X + p[2][1]*v.Y + p[2][2]*v.Z + p[2][3]
	w := p[3][0]*v.X + p[3][1]*v.Y + p[3][2]*v.Z + p[3][3]
	return r3.Vector{X: x / w, Y: y / w, Z: z / w}
}

// Inverse returns the inverse transform. It returns an error if the
// transform is singular.
func (p PTransform) Inverse() (PTransform, error) {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m.Set(i, j, p[i][j])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return PTransform{}, errors.Wrap(err, "cannot invert projective transform")
	}
	var r PTransform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			r[i][j] = inv.At(i, j)
		}
	}
	return r, nil
}
