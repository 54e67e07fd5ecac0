package transform

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func testIntrinsics() *IntrinsicParameters {
	ip := NewIntrinsicParameters()
	ip.DepthLensDistortion.Kappas[0] = 0.1
	ip.DepthLensDistortion.Kappas[1] = -0.05
	ip.DepthLensDistortion.Rhos[0] = 0.002
	ip.DepthProjection = pinholeUnprojection()
	ip.ColorProjection = IdentityPTransform()
	ip.ColorProjection[0][3] = 0.25
	return ip
}

func TestIntrinsicsLegacyRoundTrip(t *testing.T) {
	ip := testIntrinsics()
	var buf bytes.Buffer
	test.That(t, WriteIntrinsicParameters(&buf, ip, IntrinsicsFormatLegacy), test.ShouldBeNil)
	test.That(t, buf.Len(), test.ShouldEqual, legacyIntrinsicsFileSize)

	got, format, err := ReadIntrinsicParameters(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, IntrinsicsFormatLegacy)
	test.That(t, got.DepthLensDistortion.Kappas, test.ShouldResemble, ip.DepthLensDistortion.Kappas)
	test.That(t, got.DepthLensDistortion.Rhos, test.ShouldResemble, ip.DepthLensDistortion.Rhos)
	test.That(t, got.DepthProjection, test.ShouldResemble, ip.DepthProjection)
	test.That(t, got.ColorProjection, test.ShouldResemble, ip.ColorProjection)
}

func TestIntrinsicsExtendedRoundTrip(t *testing.T) {
	ip := testIntrinsics()
	ip.DepthLensDistortion.Center = r2.Point{X: 0.01, Y: 0.02}
	ip.DepthLensDistortion.Kappas[4] = 1e-4
	ip.ColorLensDistortion.Kappas[0] = -0.2

	var buf bytes.Buffer
	test.That(t, WriteIntrinsicParameters(&buf, ip, IntrinsicsFormatExtended), test.ShouldBeNil)

	got, format, err := ReadIntrinsicParameters(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, IntrinsicsFormatExtended)
	test.That(t, got.DepthLensDistortion.Center, test.ShouldResemble, ip.DepthLensDistortion.Center)
	test.That(t, got.DepthLensDistortion.Kappas, test.ShouldResemble, ip.DepthLensDistortion.Kappas)
	test.That(t, got.ColorLensDistortion.Kappas, test.ShouldResemble, ip.ColorLensDistortion.Kappas)
	test.That(t, got.DepthProjection, test.ShouldResemble, ip.DepthProjection)
	test.That(t, got.ColorProjection, test.ShouldResemble, ip.ColorProjection)
}

func TestIntrinsicsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, binary.Write(&buf, binary.LittleEndian, uint32(99)), test.ShouldBeNil)
	_, _, err := ReadIntrinsicParameters(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIntrinsicsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intrinsics.dat")
	ip := testIntrinsics()
	test.That(t, WriteIntrinsicsFile(path, ip, IntrinsicsFormatLegacy), test.ShouldBeNil)

	got, format, err := ReadIntrinsicsFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, IntrinsicsFormatLegacy)
	test.That(t, got.DepthProjection, test.ShouldResemble, ip.DepthProjection)

	// the loaded intrinsics can undistort depth pixels right away
	p := r2.Point{X: 100, Y: 200}
	back := got.UndistortDepthPixel(got.DistortDepthPixel(p))
	test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-4)
	test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, 1e-4)
}

func TestIntrinsicsMissingFile(t *testing.T) {
	_, _, err := ReadIntrinsicsFile(filepath.Join(t.TempDir(), "nope.dat"))
	test.That(t, err, test.ShouldNotBeNil)
}
