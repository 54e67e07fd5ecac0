package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/transform"
)

const calibrationCSV = `0, 0, 0, 10, 10
10, 0, 0, 630, 10
0, 10, 0, 10, 470
10, 10, 0, 630, 470
5, 5, 5, 320, 240
`

func TestParseArgs(t *testing.T) {
	parsed, err := parseArgs([]string{"calibrate_cameras"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed.colorSize, test.ShouldResemble, frame.Size{Width: 640, Height: 480})
	test.That(t, parsed.tiePointPath, test.ShouldEqual, defaultTiePointFile)
	test.That(t, parsed.matrixPath, test.ShouldEqual, defaultMatrixFile)

	parsed, err = parseArgs([]string{"calibrate_cameras", "-size", "1280", "720", "in.csv", "out.dat"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed.colorSize, test.ShouldResemble, frame.Size{Width: 1280, Height: 720})
	test.That(t, parsed.tiePointPath, test.ShouldEqual, "in.csv")
	test.That(t, parsed.matrixPath, test.ShouldEqual, "out.dat")

	_, err = parseArgs([]string{"calibrate_cameras", "-size", "1280"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = parseArgs([]string{"calibrate_cameras", "-size", "x", "720"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = parseArgs([]string{"calibrate_cameras", "a", "b", "c"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibrateEndToEnd(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "CalibrationData.csv")
	matrixPath := filepath.Join(dir, "CameraCalibrationMatrices.dat")
	test.That(t, os.WriteFile(csvPath, []byte(calibrationCSV), 0o600), test.ShouldBeNil)

	args := arguments{
		colorSize:    frame.Size{Width: 640, Height: 480},
		tiePointPath: csvPath,
		matrixPath:   matrixPath,
	}
	test.That(t, calibrate(args, logger), test.ShouldBeNil)

	ip, format, err := transform.ReadIntrinsicsFile(matrixPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, transform.IntrinsicsFormatExtended)

	// the solved color projection maps into normalized color image
	// coordinates; scaled back up by the frame size, every tie point
	// must land within a pixel
	wants := []struct {
		world r3.Vector
		s, t  float64
	}{
		{r3.Vector{X: 0, Y: 0, Z: 0}, 10, 10},
		{r3.Vector{X: 10, Y: 0, Z: 0}, 630, 10},
		{r3.Vector{X: 0, Y: 10, Z: 0}, 10, 470},
		{r3.Vector{X: 10, Y: 10, Z: 0}, 630, 470},
		{r3.Vector{X: 5, Y: 5, Z: 5}, 320, 240},
	}
	for _, want := range wants {
		got := ip.ColorProjection.Apply(want.world)
		test.That(t, got.X*640, test.ShouldAlmostEqual, want.s, 1.0)
		test.That(t, got.Y*480, test.ShouldAlmostEqual, want.t, 1.0)
	}
}

func TestCalibratePreservesExistingCalibration(t *testing.T) {
	logger := golog.NewTestLogger(t)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "CalibrationData.csv")
	matrixPath := filepath.Join(dir, "CameraCalibrationMatrices.dat")
	test.That(t, os.WriteFile(csvPath, []byte(calibrationCSV), 0o600), test.ShouldBeNil)

	ip := transform.NewIntrinsicParameters()
	ip.DepthLensDistortion.Kappas[0] = 0.125
	ip.DepthProjection[0][0] = 2.5
	test.That(t, transform.WriteIntrinsicsFile(matrixPath, ip, transform.IntrinsicsFormatExtended), test.ShouldBeNil)

	args := arguments{
		colorSize:    frame.Size{Width: 640, Height: 480},
		tiePointPath: csvPath,
		matrixPath:   matrixPath,
	}
	test.That(t, calibrate(args, logger), test.ShouldBeNil)

	// the original file moves aside and its lens and depth fields
	// survive into the rewritten one
	_, err := os.Stat(matrixPath + ".backup")
	test.That(t, err, test.ShouldBeNil)

	updated, _, err := transform.ReadIntrinsicsFile(matrixPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, updated.DepthLensDistortion.Kappas[0], test.ShouldEqual, 0.125)
	test.That(t, updated.DepthProjection[0][0], test.ShouldEqual, 2.5)
	test.That(t, updated.ColorProjection, test.ShouldNotResemble, ip.ColorProjection)
}

func TestCalibrateMissingTiePointFile(t *testing.T) {
	logger := golog.NewTestLogger(t)
	args := arguments{
		colorSize:    frame.Size{Width: 640, Height: 480},
		tiePointPath: filepath.Join(t.TempDir(), "missing.csv"),
		matrixPath:   filepath.Join(t.TempDir(), "out.dat"),
	}
	test.That(t, calibrate(args, logger), test.ShouldNotBeNil)
}
