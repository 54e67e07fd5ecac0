package transform

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func testLensDistortion() *LensDistortion {
	ld := NewLensDistortion()
	ld.Center = r2.Point{X: 0.01, Y: -0.02}
	ld.Kappas = [6]float64{0.08, -0.03, 0.005, 0, 0, 0}
	ld.Rhos = [2]float64{0.001, -0.002}
	return ld
}

func TestLensDistortionIdentity(t *testing.T) {
	ld := NewLensDistortion()
	test.That(t, ld.IsIdentity(), test.ShouldBeTrue)
	p := r2.Point{X: 0.3, Y: -0.4}
	test.That(t, ld.Distort(p), test.ShouldResemble, p)
	test.That(t, ld.Undistort(p), test.ShouldResemble, p)
	test.That(t, ld.DistortPixel(p), test.ShouldResemble, p)

	test.That(t, testLensDistortion().IsIdentity(), test.ShouldBeFalse)
}

func TestLensDistortionRoundTrip(t *testing.T) {
	ld := testLensDistortion()
	for _, p := range []r2.Point{
		{X: 0, Y: 0},
		{X: 0.25, Y: 0.1},
		{X: -0.4, Y: 0.35},
		{X: 0.5, Y: -0.5},
	} {
		d := ld.Distort(p)
		u := ld.Undistort(d)
		test.That(t, u.X, test.ShouldAlmostEqual, p.X, 1e-6)
		test.That(t, u.Y, test.ShouldAlmostEqual, p.Y, 1e-6)
	}
}

func TestLensDistortionPixelRoundTrip(t *testing.T) {
	ld := testLensDistortion()
	test.That(t, ld.SetProjection(pinholeUnprojection()), test.ShouldBeNil)

	for _, p := range []r2.Point{
		{X: 320, Y: 240},
		{X: 10, Y: 470},
		{X: 600, Y: 20},
	} {
		d := ld.DistortPixel(p)
		u := ld.UndistortPixel(d)
		test.That(t, u.X, test.ShouldAlmostEqual, p.X, 1e-4)
		test.That(t, u.Y, test.ShouldAlmostEqual, p.Y, 1e-4)
	}
}

// pinholeUnprojection maps depth pixels of a camera with fx=fy=580,
// cx=320, cy=240 onto the plane z=1 scaled by the homogeneous depth.
func pinholeUnprojection() PTransform {
	return PTransform{
		{1.0 / 580, 0, 0, -320.0 / 580},
		{0, 1.0 / 580, 0, -240.0 / 580},
		{0, 0, 0, 1},
		{0, 0, 1, 0},
	}
}

func TestSetProjectionRecoversPinhole(t *testing.T) {
	ld := NewLensDistortion()
	test.That(t, ld.SetProjection(pinholeUnprojection()), test.ShouldBeNil)

	// the principal point must land at the tangent-plane origin
	tc := ld.PixelToTangent(r2.Point{X: 320, Y: 240})
	test.That(t, tc.X, test.ShouldAlmostEqual, 0)
	test.That(t, tc.Y, test.ShouldAlmostEqual, 0)

	// one focal length off center maps to unit tangent
	tx := ld.PixelToTangent(r2.Point{X: 320 + 580, Y: 240})
	test.That(t, tx.X, test.ShouldAlmostEqual, 1)
	test.That(t, tx.Y, test.ShouldAlmostEqual, 0)

	// round trip through the pixel mapping
	p := r2.Point{X: 123.5, Y: 456.5}
	back := ld.TangentToPixel(ld.PixelToTangent(p))
	test.That(t, back.X, test.ShouldAlmostEqual, p.X)
	test.That(t, back.Y, test.ShouldAlmostEqual, p.Y)
}

func TestSetProjectionIdentity(t *testing.T) {
	ld := NewLensDistortion()
	test.That(t, ld.SetProjection(IdentityPTransform()), test.ShouldBeNil)
	p := r2.Point{X: 7, Y: -3}
	test.That(t, ld.PixelToTangent(p), test.ShouldResemble, p)
}

func TestSetProjectionDegenerate(t *testing.T) {
	ld := NewLensDistortion()
	var p PTransform
	p[2][2] = 1
	p[3][3] = 1
	test.That(t, ld.SetProjection(p), test.ShouldNotBeNil)
}
