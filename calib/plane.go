package calib

import (
	"gonum.org/v1/gonum/mat"

	"github.com/golang/geo/r3"
)

// Plane is a best-fit plane in depth image space, in Hessian normal
// form: Normal dot p == Offset for points p on the plane.
type Plane struct {
	Normal   r3.Vector
	Centroid r3.Vector
	Offset   float64
}

// FitPlane fits a plane to points by principal component analysis.
// The plane normal is the eigenvector of the point covariance matrix
// associated with its smallest eigenvalue.
func FitPlane(points []r3.Vector) (Plane, error) {
	if len(points) < 3 {
		return Plane{}, NewInsufficientDataError("points", len(points), 3)
	}

	var centroid r3.Vector
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(len(points)))

	cov := mat.NewSymDense(3, nil)
	for _, p := range points {
		d := p.Sub(centroid)
		c := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+c[i]*c[j])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return Plane{}, NewRankDeficientError("eigen decomposition of the point covariance failed", nil)
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// eigenvalues are in ascending order; the first eigenvector is
	// the direction of least variance
	normal := r3.Vector{X: vectors.At(0, 0), Y: vectors.At(1, 0), Z: vectors.At(2, 0)}
	return Plane{
		Normal:   normal,
		Centroid: centroid,
		Offset:   normal.Dot(centroid),
	}, nil
}

// ExpectedDepth returns the depth at which the plane passes over the
// given undistorted depth image position.
func (p Plane) ExpectedDepth(x, y float64) float64 {
	return (p.Offset - x*p.Normal.X - y*p.Normal.Y) / p.Normal.Z
}
