package transform

import (
	"bytes"
	"math/rand"
	"testing"

	"go.viam.com/test"

	"github.com/viam-labs/facade/frame"
)

func TestBSplineBasisPartitionOfUnity(t *testing.T) {
	for _, degree := range []int{1, 2, 3, 5} {
		for _, x := range []float32{0.0, 0.3, 1.7, 4.99, 7.5} {
			sum := float32(0)
			for i := -degree; i <= int(x); i++ {
				sum += BSplineBasis(i, degree, x)
			}
			test.That(t, sum, test.ShouldAlmostEqual, 1, 1e-5)
		}
	}
}

func TestBSplineBasisSupport(t *testing.T) {
	test.That(t, BSplineBasis(0, 3, -0.5), test.ShouldEqual, float32(0))
	test.That(t, BSplineBasis(0, 3, 4.0), test.ShouldEqual, float32(0))
	test.That(t, BSplineBasis(0, 3, 2.0), test.ShouldBeGreaterThan, float32(0))
}

func TestDepthCorrectionIdentity(t *testing.T) {
	dc, err := NewDepthCorrection(3, frame.Size{Width: 12, Height: 9})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dc.IsValid(), test.ShouldBeTrue)

	size := frame.Size{Width: 64, Height: 48}
	for _, p := range [][2]int{{0, 0}, {31, 17}, {63, 47}} {
		pc := dc.PixelCorrection(p[0], p[1], size)
		test.That(t, pc.Scale, test.ShouldAlmostEqual, 1, 1e-5)
		test.That(t, pc.Offset, test.ShouldAlmostEqual, 0, 1e-5)
		test.That(t, pc.Correct(500), test.ShouldAlmostEqual, 500, 1e-2)
	}
}

func TestDepthCorrectionGridMatchesSinglePixel(t *testing.T) {
	dc, err := NewDepthCorrection(3, frame.Size{Width: 4, Height: 3})
	test.That(t, err, test.ShouldBeNil)
	rng := rand.New(rand.NewSource(7))
	for i := range dc.controlPoints {
		dc.controlPoints[i].Scale = 1 + float32(rng.Float64()-0.5)*0.1
		dc.controlPoints[i].Offset = float32(rng.Float64()-0.5) * 10
	}

	size := frame.Size{Width: 32, Height: 24}
	grid := dc.PixelCorrectionGrid(size)
	test.That(t, len(grid), test.ShouldEqual, size.Volume())
	for _, p := range [][2]int{{0, 0}, {5, 11}, {16, 12}, {31, 23}} {
		want := dc.PixelCorrection(p[0], p[1], size)
		got := grid[p[1]*size.Width+p[0]]
		test.That(t, got.Scale, test.ShouldAlmostEqual, want.Scale, 1e-4)
		test.That(t, got.Offset, test.ShouldAlmostEqual, want.Offset, 1e-4)
	}
}

func TestNoDepthCorrection(t *testing.T) {
	dc := NoDepthCorrection()
	test.That(t, dc.IsValid(), test.ShouldBeFalse)
	test.That(t, dc.Degree(), test.ShouldEqual, 0)
}

func TestDepthCorrectionValidation(t *testing.T) {
	_, err := NewDepthCorrection(0, frame.Size{Width: 4, Height: 3})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDepthCorrection(MaxBSplineDegree+1, frame.Size{Width: 4, Height: 3})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewDepthCorrection(3, frame.Size{Width: 0, Height: 3})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewDepthCorrectionFromControlPoints(3, frame.Size{Width: 4, Height: 3}, make([]PixelCorrection, 5))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDepthCorrectionRoundTrip(t *testing.T) {
	dc, err := NewDepthCorrection(2, frame.Size{Width: 5, Height: 4})
	test.That(t, err, test.ShouldBeNil)
	rng := rand.New(rand.NewSource(3))
	for i := range dc.controlPoints {
		dc.controlPoints[i].Scale = float32(rng.Float64())
		dc.controlPoints[i].Offset = float32(rng.Float64())
	}

	var buf bytes.Buffer
	test.That(t, dc.WriteDepthCorrection(&buf), test.ShouldBeNil)
	got, err := ReadDepthCorrection(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Degree(), test.ShouldEqual, dc.Degree())
	test.That(t, got.NumSegments(), test.ShouldResemble, dc.NumSegments())
	test.That(t, got.ControlPoints(), test.ShouldResemble, dc.ControlPoints())
}

func TestDepthCorrectionSentinelRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, NoDepthCorrection().WriteDepthCorrection(&buf), test.ShouldBeNil)
	got, err := ReadDepthCorrection(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.IsValid(), test.ShouldBeFalse)
}
