package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/transform"
)

// MinTiePoints is the fewest tie points accepted by the homography
// solver. Four is the theoretical minimum for the homogeneous
// 12-unknown system up to scale; requiring five guards against
// degenerate configurations.
const MinTiePoints = 5

// Homography is the 3x4 projective map from homogeneous depth camera
// space to normalized color image coordinates.
type Homography [3][4]float64

// Apply maps a camera-space point to normalized color coordinates.
func (h *Homography) Apply(world r3.Vector) r2.Point {
	s := h[0][0]*world.X + h[0][1]*world.Y + h[0][2]*world.Z + h[0][3]
	t := h[1][0]*world.X + h[1][1]*world.Y + h[1][2]*world.Z + h[1][3]
	w := h[2][0]*world.X + h[2][1]*world.Y + h[2][2]*world.Z + h[2][3]
	return r2.Point{X: s / w, Y: t / w}
}

// ColorProjection extends the homography into the 4x4 color
// projection matrix mapping depth image space directly to color image
// space, by composing it with the depth unprojection matrix.
func (h *Homography) ColorProjection(depthProjection transform.PTransform) transform.PTransform {
	var cp transform.PTransform
	for j := 0; j < 4; j++ {
		cp[0][j] = h[0][j]
		cp[1][j] = h[1][j]
		cp[3][j] = h[2][j]
	}
	cp[2][2] = 1
	return cp.Mul(depthProjection)
}

// Report carries reprojection quality diagnostics of a solved
// homography, in color image pixels.
type Report struct {
	NumTiePoints int
	RMS          float64
	Max          float64
}

// SolveColorHomography recovers the depth-to-color homography from
// tie points via a direct linear transform. Color coordinates are
// normalized by the color frame size before building the system; the
// solution is the eigenvector of the symmetric accumulator matrix
// associated with its smallest-magnitude eigenvalue.
func SolveColorHomography(tiePoints []TiePoint, colorSize frame.Size) (*Homography, *Report, error) {
	if len(tiePoints) < MinTiePoints {
		return nil, nil, NewInsufficientDataError("tie points", len(tiePoints), MinTiePoints)
	}

	a := mat.NewSymDense(12, nil)
	for _, tp := range tiePoints {
		x, y, z := tp.World.X, tp.World.Y, tp.World.Z
		s := tp.Color.X / float64(colorSize.Width)
		t := tp.Color.Y / float64(colorSize.Height)

		eqs := [2][12]float64{
			{x, y, z, 1, 0, 0, 0, 0, -s * x, -s * y, -s * z, -s},
			{0, 0, 0, 0, x, y, z, 1, -t * x, -t * y, -t * z, -t},
		}
		for _, eq := range eqs {
			for i := 0; i < 12; i++ {
				for j := i; j < 12; j++ {
					a.SetSym(i, j, a.At(i, j)+eq[i]*eq[j])
				}
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return nil, nil, NewRankDeficientError("eigen decomposition of the tie point system failed", nil)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	minIndex := 0
	minE := math.Abs(values[0])
	for i := 1; i < 12; i++ {
		if e := math.Abs(values[i]); minE > e {
			minIndex = i
			minE = e
		}
	}

	scale := vectors.At(11, minIndex)
	if scale == 0 {
		return nil, nil, NewRankDeficientError("homography solution has zero scale", nil)
	}
	var hom Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			hom[i][j] = vectors.At(i*4+j, minIndex) / scale
		}
	}

	report := &Report{NumTiePoints: len(tiePoints)}
	for _, tp := range tiePoints {
		p := hom.Apply(tp.World)
		ds := tp.Color.X - p.X*float64(colorSize.Width)
		dt := tp.Color.Y - p.Y*float64(colorSize.Height)
		e2 := ds*ds + dt*dt
		report.RMS += e2
		if e := math.Sqrt(e2); e > report.Max {
			report.Max = e
		}
	}
	report.RMS = math.Sqrt(report.RMS / float64(len(tiePoints)))

	return &hom, report, nil
}
