package fsource

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/transform"
)

// SyntheticConfig configures a synthetic frame source.
type SyntheticConfig struct {
	DepthSize   frame.Size
	ColorSize   frame.Size
	FramePeriod time.Duration
	// Clock paces frame generation; defaults to the wall clock.
	Clock clock.Clock
}

// Synthetic is a frame source producing procedurally generated depth
// and color frames of a slowly undulating surface, for pipeline and
// calibration testing without camera hardware.
type Synthetic struct {
	cfg        SyntheticConfig
	intrinsics *transform.IntrinsicParameters
	extrinsics transform.PTransform
	logger     golog.Logger

	mu                      sync.Mutex
	cancelCtx               context.Context
	cancelFunc              context.CancelFunc
	streaming               bool
	activeBackgroundWorkers sync.WaitGroup
}

// NewSynthetic returns a synthetic source with identity calibration.
func NewSynthetic(cfg SyntheticConfig, logger golog.Logger) (*Synthetic, error) {
	if cfg.DepthSize.Volume() == 0 || cfg.ColorSize.Volume() == 0 {
		return nil, errors.New("synthetic source needs nonzero depth and color frame sizes")
	}
	if cfg.FramePeriod <= 0 {
		cfg.FramePeriod = 33 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Synthetic{
		cfg:        cfg,
		intrinsics: transform.NewIntrinsicParameters(),
		extrinsics: transform.IdentityPTransform(),
		logger:     logger,
	}, nil
}

// ColorSpace returns RGB; synthetic color frames are 8-bit RGB.
func (s *Synthetic) ColorSpace() frame.ColorSpace {
	return frame.RGB
}

// ActualFrameSize returns the configured size of the given sensor.
func (s *Synthetic) ActualFrameSize(sensor frame.Sensor) frame.Size {
	if sensor == frame.DepthSensor {
		return s.cfg.DepthSize
	}
	return s.cfg.ColorSize
}

// IntrinsicParameters returns identity intrinsics.
func (s *Synthetic) IntrinsicParameters() (*transform.IntrinsicParameters, error) {
	return s.intrinsics, nil
}

// ExtrinsicParameters returns the identity transform.
func (s *Synthetic) ExtrinsicParameters() transform.PTransform {
	return s.extrinsics
}

// DepthCorrectionParameters returns the degree-zero sentinel.
func (s *Synthetic) DepthCorrectionParameters() (*transform.DepthCorrection, error) {
	return transform.NoDepthCorrection(), nil
}

// StartStreaming begins generating frames on a background worker.
func (s *Synthetic) StartStreaming(colorCB, depthCB FrameCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return errors.New("synthetic source is already streaming")
	}
	s.streaming = true
	s.cancelCtx, s.cancelFunc = context.WithCancel(context.Background())

	cancelCtx := s.cancelCtx
	s.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		ticker := s.cfg.Clock.Ticker(s.cfg.FramePeriod)
		defer ticker.Stop()
		start := s.cfg.Clock.Now()
		frameIndex := 0
		for {
			select {
			case <-cancelCtx.Done():
				return
			case <-ticker.C:
			}
			timestamp := s.cfg.Clock.Since(start).Seconds()
			if depthCB != nil {
				depthCB(s.makeDepthFrame(frameIndex, timestamp))
			}
			if colorCB != nil {
				colorCB(s.makeColorFrame(frameIndex, timestamp))
			}
			frameIndex++
		}
	}, s.activeBackgroundWorkers.Done)
	return nil
}

// StopStreaming cancels the generator worker and waits for it.
func (s *Synthetic) StopStreaming() error {
	s.mu.Lock()
	if !s.streaming {
		s.mu.Unlock()
		return nil
	}
	s.streaming = false
	s.cancelFunc()
	s.mu.Unlock()
	s.activeBackgroundWorkers.Wait()
	return nil
}

// Close stops streaming.
func (s *Synthetic) Close(ctx context.Context) error {
	return s.StopStreaming()
}

// makeDepthFrame renders an undulating surface around mid range, with
// an invalid hole sweeping across the frame.
func (s *Synthetic) makeDepthFrame(frameIndex int, timestamp float64) frame.FrameBuffer {
	fb := frame.NewDepthFrameBuffer(s.cfg.DepthSize)
	fb.Timestamp = timestamp
	depths := fb.Depths()
	phase := float64(frameIndex) * 0.1
	holeX := frameIndex % s.cfg.DepthSize.Width
	idx := 0
	for y := 0; y < s.cfg.DepthSize.Height; y++ {
		for x := 0; x < s.cfg.DepthSize.Width; x++ {
			if x == holeX {
				depths[idx] = frame.InvalidDepth
			} else {
				d := 1000 + 200*math.Sin(float64(x)*0.05+phase)*math.Cos(float64(y)*0.05)
				depths[idx] = frame.Depth(d)
			}
			idx++
		}
	}
	return fb
}

// makeColorFrame renders an RGB gradient shifting over time.
func (s *Synthetic) makeColorFrame(frameIndex int, timestamp float64) frame.FrameBuffer {
	fb := frame.NewFrameBuffer(s.cfg.ColorSize, s.cfg.ColorSize.Volume()*3)
	fb.Timestamp = timestamp
	data := fb.Bytes()
	idx := 0
	for y := 0; y < s.cfg.ColorSize.Height; y++ {
		for x := 0; x < s.cfg.ColorSize.Width; x++ {
			data[idx] = byte((x + frameIndex) & 0xff)
			data[idx+1] = byte(y & 0xff)
			data[idx+2] = byte(frameIndex & 0xff)
			idx += 3
		}
	}
	return fb
}
