package calib

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/transform"
)

// InvalidAverageDepth marks a pixel with no usable depth in an
// averaged depth frame.
const InvalidAverageDepth = float32(frame.InvalidDepth)

// Default B-spline layout of fitted depth correction fields.
const (
	DefaultCorrectionDegree = 3
)

// DefaultCorrectionSegments is the default number of B-spline
// segments per axis of a fitted depth correction field.
var DefaultCorrectionSegments = frame.Size{Width: 12, Height: 9}

// PlaneObservation is one averaged capture of a flat target: the
// per-pixel averaged depth values of the frame and the plane fitted
// to them in depth image space.
type PlaneObservation struct {
	Depths []float32
	Plane  Plane
}

// NewPlaneObservation fits a plane to the valid pixels of an averaged
// depth frame, undistorting pixel positions when the intrinsics carry
// a depth lens distortion model.
func NewPlaneObservation(depths []float32, depthSize frame.Size, intrinsics *transform.IntrinsicParameters) (PlaneObservation, error) {
	if len(depths) != depthSize.Volume() {
		return PlaneObservation{}, NewInsufficientDataError("averaged depth pixels", len(depths), depthSize.Volume())
	}
	undistort := intrinsics != nil && !intrinsics.DepthLensDistortion.IsIdentity()

	points := make([]r3.Vector, 0, len(depths))
	idx := 0
	for y := 0; y < depthSize.Height; y++ {
		for x := 0; x < depthSize.Width; x++ {
			if d := depths[idx]; d != InvalidAverageDepth {
				p := r2.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5}
				if undistort {
					p = intrinsics.UndistortDepthPixel(p)
				}
				points = append(points, r3.Vector{X: p.X, Y: p.Y, Z: float64(d)})
			}
			idx++
		}
	}
	plane, err := FitPlane(points)
	if err != nil {
		return PlaneObservation{}, err
	}
	return PlaneObservation{Depths: depths, Plane: plane}, nil
}

// FitDepthCorrection fits a depth correction B-spline to plane
// observations. Each pixel seen with valid depth in at least two
// observations contributes a least-squares estimate of its depth
// scale and offset; the control points are then solved as the
// B-spline best approximating the per-pixel estimates.
func FitDepthCorrection(
	observations []PlaneObservation,
	depthSize frame.Size,
	intrinsics *transform.IntrinsicParameters,
	degree int,
	numSegments frame.Size,
) (*transform.DepthCorrection, error) {
	if len(observations) < 2 {
		return nil, NewInsufficientDataError("plane observations", len(observations), 2)
	}
	if degree < 1 || degree > transform.MaxBSplineDegree {
		return nil, NewRankDeficientError("unsupported B-spline degree", nil)
	}
	undistort := intrinsics != nil && !intrinsics.DepthLensDistortion.IsIdentity()

	numControlPoints := (numSegments.Width + degree) * (numSegments.Height + degree)
	ata := mat.NewDense(numControlPoints, numControlPoints, nil)
	atb := mat.NewDense(numControlPoints, 2, nil)
	numEquations := 0

	// basis values for one pixel; only (degree+1)^2 entries are
	// nonzero, so the nonzero indices are collected once per pixel
	basis := make([]float64, numControlPoints)
	nonzero := make([]int, 0, (degree+1)*(degree+1))

	pixelOffset := 0
	for y := 0; y < depthSize.Height; y++ {
		dy := (float64(y) + 0.5) * float64(numSegments.Height) / float64(depthSize.Height)
		for x := 0; x < depthSize.Width; x++ {
			dx := (float64(x) + 0.5) * float64(numSegments.Width) / float64(depthSize.Width)

			// least-squares regression of expected against actual
			// depth across observations of this pixel
			var ata00, ata01, ata11, atb0, atb1 float64
			numValid := 0
			for _, obs := range observations {
				actual := float64(obs.Depths[pixelOffset])
				if float32(actual) == InvalidAverageDepth {
					continue
				}
				ata00 += actual * actual
				ata01 += actual
				ata11++

				p := r2.Point{X: float64(x) + 0.5, Y: float64(y) + 0.5}
				if undistort {
					p = intrinsics.UndistortDepthPixel(p)
				}
				expected := obs.Plane.ExpectedDepth(p.X, p.Y)
				atb0 += actual * expected
				atb1 += expected
				numValid++
			}
			pixelOffset++
			if numValid < 2 {
				continue
			}
			det := ata00*ata11 - ata01*ata01
			if math.Abs(det) < 1e-9 {
				// degenerate pixel, e.g. identical depth in every
				// observation
				continue
			}
			scale := (ata11*atb0 - ata01*atb1) / det
			offset := (ata00*atb1 - ata01*atb0) / det

			nonzero = nonzero[:0]
			for i := 0; i < numSegments.Height+degree; i++ {
				bsi := float64(transform.BSplineBasis(i-degree, degree, float32(dy)))
				if bsi == 0 {
					continue
				}
				for j := 0; j < numSegments.Width+degree; j++ {
					bsj := float64(transform.BSplineBasis(j-degree, degree, float32(dx)))
					if bsj == 0 {
						continue
					}
					idx := i*(numSegments.Width+degree) + j
					basis[idx] = bsi * bsj
					nonzero = append(nonzero, idx)
				}
			}
			for _, i := range nonzero {
				for _, j := range nonzero {
					ata.Set(i, j, ata.At(i, j)+basis[i]*basis[j])
				}
				atb.Set(i, 0, atb.At(i, 0)+basis[i]*scale)
				atb.Set(i, 1, atb.At(i, 1)+basis[i]*offset)
			}
			numEquations++
		}
	}

	if numEquations < numControlPoints {
		return nil, NewInsufficientDataError("valid pixel estimates", numEquations, numControlPoints)
	}

	var coeffs mat.Dense
	if err := coeffs.Solve(ata, atb); err != nil {
		return nil, NewRankDeficientError("cannot solve for B-spline control points", err)
	}

	controlPoints := make([]transform.PixelCorrection, numControlPoints)
	for i := range controlPoints {
		controlPoints[i].Scale = float32(coeffs.At(i, 0))
		controlPoints[i].Offset = float32(coeffs.At(i, 1))
	}
	return transform.NewDepthCorrectionFromControlPoints(degree, numSegments, controlPoints)
}
