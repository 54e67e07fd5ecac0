// Package fsource defines the frame source abstraction feeding the
// projection pipeline, along with a synthetic source for testing and
// a file-backed source that records and replays depth streams.
package fsource

import (
	"context"

	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/transform"
)

// FrameCallback receives one frame from a streaming source. The
// callback owns the passed reference and must release it.
type FrameCallback func(fb frame.FrameBuffer)

// FrameSource produces streams of depth and color frames together
// with the calibration parameters describing them.
type FrameSource interface {
	// ColorSpace returns the pixel layout of the color stream.
	ColorSpace() frame.ColorSpace

	// ActualFrameSize returns the frame size of one of the source's
	// sensors.
	ActualFrameSize(sensor frame.Sensor) frame.Size

	// IntrinsicParameters returns the source's intrinsic calibration.
	IntrinsicParameters() (*transform.IntrinsicParameters, error)

	// ExtrinsicParameters returns the transform from the source's
	// camera space to world space.
	ExtrinsicParameters() transform.PTransform

	// DepthCorrectionParameters returns the source's per-pixel depth
	// correction field. Sources without one return the degree-zero
	// sentinel.
	DepthCorrectionParameters() (*transform.DepthCorrection, error)

	// StartStreaming begins delivering frames to the given callbacks.
	// Either callback may be nil to skip that stream.
	StartStreaming(colorCB, depthCB FrameCallback) error

	// StopStreaming stops frame delivery; no callback fires after it
	// returns.
	StopStreaming() error

	// Close releases the source's resources, stopping streaming
	// first if needed.
	Close(ctx context.Context) error
}
