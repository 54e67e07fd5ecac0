package transform

import (
	"math"

	"github.com/pkg/errors"

	"github.com/viam-labs/facade/frame"
)

// MaxBSplineDegree bounds the degree of depth correction B-splines so
// that evaluation can use fixed-size scratch buffers.
const MaxBSplineDegree = 15

// PixelCorrection is the affine depth correction applied to one depth
// pixel.
type PixelCorrection struct {
	Scale  float32
	Offset float32
}

// Correct applies the correction to a raw depth value.
func (pc PixelCorrection) Correct(depth float32) float32 {
	return depth*pc.Scale + pc.Offset
}

// DepthCorrection is a per-pixel depth correction field represented
// as a bivariate uniform non-rational B-spline over the depth frame.
// A degree of zero marks the absence of a correction.
type DepthCorrection struct {
	degree        int
	numSegments   frame.Size
	controlPoints []PixelCorrection
}

// NewDepthCorrection returns an identity correction field of the
// given degree and segment counts, with all control points at scale 1
// and offset 0.
func NewDepthCorrection(degree int, numSegments frame.Size) (*DepthCorrection, error) {
	if degree < 1 || degree > MaxBSplineDegree {
		return nil, errors.Errorf("depth correction degree %d out of range [1, %d]", degree, MaxBSplineDegree)
	}
	if numSegments.Width < 1 || numSegments.Height < 1 {
		return nil, errors.Errorf("depth correction needs at least one segment per axis, got %dx%d",
			numSegments.Width, numSegments.Height)
	}
	dc := &DepthCorrection{
		degree:        degree,
		numSegments:   numSegments,
		controlPoints: make([]PixelCorrection, (numSegments.Width+degree)*(numSegments.Height+degree)),
	}
	for i := range dc.controlPoints {
		dc.controlPoints[i].Scale = 1
	}
	return dc, nil
}

// NewDepthCorrectionFromControlPoints wraps an existing control point
// array in row-major order.
func NewDepthCorrectionFromControlPoints(degree int, numSegments frame.Size, controlPoints []PixelCorrection) (*DepthCorrection, error) {
	dc, err := NewDepthCorrection(degree, numSegments)
	if err != nil {
		return nil, err
	}
	if len(controlPoints) != len(dc.controlPoints) {
		return nil, errors.Errorf("expected %d control points for degree %d and %dx%d segments, got %d",
			len(dc.controlPoints), degree, numSegments.Width, numSegments.Height, len(controlPoints))
	}
	copy(dc.controlPoints, controlPoints)
	return dc, nil
}

// NoDepthCorrection returns the degree-zero sentinel marking a source
// without a depth correction field.
func NoDepthCorrection() *DepthCorrection {
	return &DepthCorrection{}
}

// IsValid reports whether the correction field carries actual
// correction data.
func (dc *DepthCorrection) IsValid() bool {
	return dc.degree > 0
}

// Degree returns the B-spline degree, zero for the sentinel.
func (dc *DepthCorrection) Degree() int {
	return dc.degree
}

// NumSegments returns the number of B-spline segments per axis.
func (dc *DepthCorrection) NumSegments() frame.Size {
	return dc.numSegments
}

// ControlPoints returns the control point array in row-major order.
func (dc *DepthCorrection) ControlPoints() []PixelCorrection {
	return dc.controlPoints
}

// BSplineBasis evaluates the uniform non-rational B-spline basis
// function of the given degree for control point index i at x, using
// Cox-deBoor recursion.
func BSplineBasis(i, degree int, x float32) float32 {
	// support of the basis function is [i, i+degree+1)
	if x < float32(i) || x >= float32(i+degree+1) {
		return 0
	}
	var temp [MaxBSplineDegree + 1]float32
	for j := 0; j <= degree; j++ {
		if x >= float32(i+j) && x < float32(i+j+1) {
			temp[j] = 1
		} else {
			temp[j] = 0
		}
	}
	for n := 1; n <= degree; n++ {
		for j := 0; j <= degree-n; j++ {
			temp[j] = ((x-float32(i+j))*temp[j] + (float32(i+j+n+1)-x)*temp[j+1]) / float32(n)
		}
	}
	return temp[0]
}

// PixelCorrection evaluates the correction field at one depth pixel.
func (dc *DepthCorrection) PixelCorrection(x, y int, frameSize frame.Size) PixelCorrection {
	dx := (float32(x) + 0.5) * float32(dc.numSegments.Width) / float32(frameSize.Width)
	dy := (float32(y) + 0.5) * float32(dc.numSegments.Height) / float32(frameSize.Height)

	var result PixelCorrection
	maxI := dc.numSegments.Height + dc.degree
	maxJ := dc.numSegments.Width + dc.degree
	cp := 0
	for i := 0; i < maxI; i++ {
		bsi := BSplineBasis(i-dc.degree, dc.degree, dy)
		for j := 0; j < maxJ; j++ {
			bsj := BSplineBasis(j-dc.degree, dc.degree, dx)
			result.Scale += dc.controlPoints[cp].Scale * bsi * bsj
			result.Offset += dc.controlPoints[cp].Offset * bsi * bsj
			cp++
		}
	}
	return result
}

// bspline evaluates the bivariate B-spline at (x, y) in spline space
// using deBoor's algorithm.
func (dc *DepthCorrection) bspline(x, y float32) PixelCorrection {
	i0 := int(math.Floor(float64(y)))
	j0 := int(math.Floor(float64(x)))

	var temp [MaxBSplineDegree + 1][MaxBSplineDegree + 1]PixelCorrection
	stride := dc.numSegments.Width + dc.degree
	for i := 0; i <= dc.degree; i++ {
		for j := 0; j <= dc.degree; j++ {
			temp[i][j] = dc.controlPoints[(i0+i)*stride+(j0+j)]
		}
	}
	for n := 0; n < dc.degree; n++ {
		sd := dc.degree - n
		for j := 0; j < sd; j++ {
			w0 := (float32(j0+j+1) - x) / float32(sd)
			w1 := 1 - w0
			for i := 0; i <= sd; i++ {
				temp[i][j].Scale = w1*temp[i][j+1].Scale + w0*temp[i][j].Scale
				temp[i][j].Offset = w1*temp[i][j+1].Offset + w0*temp[i][j].Offset
			}
		}
		for i := 0; i < sd; i++ {
			w0 := (float32(i0+i+1) - y) / float32(sd)
			w1 := 1 - w0
			for j := 0; j <= sd; j++ {
				temp[i][j].Scale = w1*temp[i+1][j].Scale + w0*temp[i][j].Scale
				temp[i][j].Offset = w1*temp[i+1][j].Offset + w0*temp[i][j].Offset
			}
		}
	}
	return temp[0][0]
}

// PixelCorrectionGrid evaluates the correction field once per pixel
// of a frame of the given size, in row-major order.
func (dc *DepthCorrection) PixelCorrectionGrid(frameSize frame.Size) []PixelCorrection {
	result := make([]PixelCorrection, frameSize.Volume())
	idx := 0
	for y := 0; y < frameSize.Height; y++ {
		dy := (float32(y) + 0.5) * float32(dc.numSegments.Height) / float32(frameSize.Height)
		for x := 0; x < frameSize.Width; x++ {
			dx := (float32(x) + 0.5) * float32(dc.numSegments.Width) / float32(frameSize.Width)
			result[idx] = dc.bspline(dx, dy)
			idx++
		}
	}
	return result
}
