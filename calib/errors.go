// Package calib solves for depth camera calibration parameters: the
// projective homography relating the depth and color cameras, and the
// per-pixel depth correction field fitted from planar target
// observations.
package calib

import "github.com/pkg/errors"

// ErrInsufficientData denotes that too few observations were supplied
// to run a solver.
var ErrInsufficientData = errors.New("not enough calibration data")

// NewInsufficientDataError returns ErrInsufficientData annotated with
// the observed and required counts.
func NewInsufficientDataError(kind string, got, want int) error {
	return errors.Wrapf(ErrInsufficientData, "got %d %s, need at least %d", got, kind, want)
}

// ErrRankDeficient denotes that the observations were degenerate and
// the solver's linear system had no unique solution.
var ErrRankDeficient = errors.New("calibration system is rank deficient")

// NewRankDeficientError returns ErrRankDeficient annotated with the
// solver stage that failed.
func NewRankDeficientError(stage string, cause error) error {
	if cause == nil {
		return errors.Wrap(ErrRankDeficient, stage)
	}
	return errors.Wrapf(ErrRankDeficient, "%s: %v", stage, cause)
}
