// Package main implements a command that solves for the color camera's
// projective relationship to the depth camera from a recorded tie-point
// table and updates the camera calibration matrix file.
package main

import (
	"context"
	"os"
	"strconv"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/viam-labs/facade/calib"
	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/transform"
)

var logger = golog.NewDevelopmentLogger("calibrate_cameras")

const (
	defaultTiePointFile = "CalibrationData.csv"
	defaultMatrixFile   = "CameraCalibrationMatrices.dat"
)

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

type arguments struct {
	colorSize    frame.Size
	tiePointPath string
	matrixPath   string
}

func parseArgs(args []string) (arguments, error) {
	parsed := arguments{
		colorSize:    frame.Size{Width: 640, Height: 480},
		tiePointPath: defaultTiePointFile,
		matrixPath:   defaultMatrixFile,
	}
	positional := 0
	for i := 1; i < len(args); i++ {
		if args[i] == "-size" {
			if i+2 >= len(args) {
				return parsed, errors.New("-size needs a width and a height")
			}
			w, err := strconv.Atoi(args[i+1])
			if err != nil {
				return parsed, errors.Wrapf(err, "bad frame width %q", args[i+1])
			}
			h, err := strconv.Atoi(args[i+2])
			if err != nil {
				return parsed, errors.Wrapf(err, "bad frame height %q", args[i+2])
			}
			parsed.colorSize = frame.Size{Width: w, Height: h}
			i += 2
			continue
		}
		switch positional {
		case 0:
			parsed.tiePointPath = args[i]
		case 1:
			parsed.matrixPath = args[i]
		default:
			return parsed, errors.Errorf("unrecognized argument %q", args[i])
		}
		positional++
	}
	if parsed.colorSize.Volume() <= 0 {
		return parsed, errors.Errorf("bad color frame size %dx%d",
			parsed.colorSize.Width, parsed.colorSize.Height)
	}
	return parsed, nil
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	parsed, err := parseArgs(args)
	if err != nil {
		return err
	}
	return calibrate(parsed, logger)
}

func calibrate(args arguments, logger golog.Logger) error {
	tiePoints, err := calib.ReadTiePointsFile(args.tiePointPath)
	if err != nil {
		return err
	}
	logger.Infof("read %d tie points from %s", len(tiePoints), args.tiePointPath)

	hom, report, err := calib.SolveColorHomography(tiePoints, args.colorSize)
	if err != nil {
		return err
	}
	logger.Infof("reprojection error: %.4f px RMS, %.4f px max", report.RMS, report.Max)

	// keep the lens distortion and depth projection of an existing
	// calibration file; only the color projection is re-solved here
	ip := transform.NewIntrinsicParameters()
	format := transform.IntrinsicsFormatExtended
	if _, statErr := os.Stat(args.matrixPath); statErr == nil {
		if ip, format, err = transform.ReadIntrinsicsFile(args.matrixPath); err != nil {
			return err
		}
		backupPath := args.matrixPath + ".backup"
		if err := os.Rename(args.matrixPath, backupPath); err != nil {
			return errors.Wrapf(err, "cannot back up %s to %s", args.matrixPath, backupPath)
		}
		logger.Infof("backed up %s to %s", args.matrixPath, backupPath)
	} else {
		logger.Warnf("no existing calibration at %s; writing identity lens and depth fields", args.matrixPath)
	}

	ip.ColorProjection = hom.ColorProjection(ip.DepthProjection)
	if err := transform.WriteIntrinsicsFile(args.matrixPath, ip, format); err != nil {
		return err
	}
	logger.Infof("wrote calibration matrices to %s", args.matrixPath)
	for _, row := range ip.ColorProjection {
		logger.Infof("  [%12.6f %12.6f %12.6f %12.6f]", row[0], row[1], row[2], row[3])
	}
	return nil
}
