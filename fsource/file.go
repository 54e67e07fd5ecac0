package fsource

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/transform"
)

// DepthStreamWriter records a sequence of depth frames into a binary
// stream: a little-endian uint32 width and height header, then one
// float64 timestamp and width*height uint16 depth samples per frame.
type DepthStreamWriter struct {
	w    io.Writer
	size frame.Size
}

// NewDepthStreamWriter writes the stream header and returns a writer
// for frames of the given size.
func NewDepthStreamWriter(w io.Writer, size frame.Size) (*DepthStreamWriter, error) {
	header := [2]uint32{uint32(size.Width), uint32(size.Height)}
	if err := binary.Write(w, binary.LittleEndian, header[:]); err != nil {
		return nil, errors.Wrap(err, "cannot write depth stream header")
	}
	return &DepthStreamWriter{w: w, size: size}, nil
}

// WriteFrame appends one depth frame to the stream.
func (dw *DepthStreamWriter) WriteFrame(fb *frame.FrameBuffer) error {
	if fb.Size() != dw.size {
		return errors.Errorf("depth frame size %dx%d does not match stream size %dx%d",
			fb.Size().Width, fb.Size().Height, dw.size.Width, dw.size.Height)
	}
	if err := binary.Write(dw.w, binary.LittleEndian, fb.Timestamp); err != nil {
		return errors.Wrap(err, "cannot write depth frame timestamp")
	}
	if err := binary.Write(dw.w, binary.LittleEndian, fb.Depths()); err != nil {
		return errors.Wrap(err, "cannot write depth frame samples")
	}
	return nil
}

// FileConfig configures a file-backed frame source.
type FileConfig struct {
	// FramePeriod is the replay pacing; zero replays as fast as the
	// consumer accepts frames.
	FramePeriod time.Duration
	// Clock paces replay; defaults to the wall clock.
	Clock clock.Clock
	// IntrinsicsPath optionally names an intrinsics file to load.
	IntrinsicsPath string
	// DepthCorrectionPath optionally names a depth correction file
	// to load.
	DepthCorrectionPath string
}

// File is a frame source replaying a recorded depth stream from a
// file, optionally gzip-compressed. It produces no color frames.
type File struct {
	cfg             FileConfig
	size            frame.Size
	reader          io.Reader
	closers         []io.Closer
	intrinsics      *transform.IntrinsicParameters
	depthCorrection *transform.DepthCorrection
	logger          golog.Logger

	mu                      sync.Mutex
	cancelCtx               context.Context
	cancelFunc              context.CancelFunc
	streaming               bool
	activeBackgroundWorkers sync.WaitGroup
}

// NewFile opens a recorded depth stream for replay. Files with a
// ".gz" extension are decompressed transparently.
func NewFile(path string, cfg FileConfig, logger golog.Logger) (*File, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open depth stream file %s", path)
	}
	fs := &File{cfg: cfg, logger: logger, closers: []io.Closer{f}}
	fs.reader = bufio.NewReader(f)
	if filepath.Ext(path) == ".gz" {
		gz, err := gzip.NewReader(fs.reader)
		if err != nil {
			utils.UncheckedErrorFunc(f.Close)
			return nil, errors.Wrapf(err, "cannot decompress depth stream file %s", path)
		}
		fs.closers = append(fs.closers, gz)
		fs.reader = gz
	}

	var header [2]uint32
	if err := binary.Read(fs.reader, binary.LittleEndian, header[:]); err != nil {
		utils.UncheckedErrorFunc(fs.closeReaders)
		return nil, errors.Wrapf(err, "cannot read depth stream header of %s", path)
	}
	fs.size = frame.Size{Width: int(header[0]), Height: int(header[1])}
	if fs.size.Volume() == 0 {
		utils.UncheckedErrorFunc(fs.closeReaders)
		return nil, errors.Errorf("depth stream %s has empty frame size", path)
	}

	fs.intrinsics = transform.NewIntrinsicParameters()
	if cfg.IntrinsicsPath != "" {
		if fs.intrinsics, _, err = transform.ReadIntrinsicsFile(cfg.IntrinsicsPath); err != nil {
			utils.UncheckedErrorFunc(fs.closeReaders)
			return nil, err
		}
	}
	fs.depthCorrection = transform.NoDepthCorrection()
	if cfg.DepthCorrectionPath != "" {
		if fs.depthCorrection, err = transform.ReadDepthCorrectionFile(cfg.DepthCorrectionPath); err != nil {
			utils.UncheckedErrorFunc(fs.closeReaders)
			return nil, err
		}
	}
	return fs, nil
}

// ColorSpace returns RGB; the file source produces no color frames.
func (fs *File) ColorSpace() frame.ColorSpace {
	return frame.RGB
}

// ActualFrameSize returns the recorded depth frame size for both
// sensors.
func (fs *File) ActualFrameSize(frame.Sensor) frame.Size {
	return fs.size
}

// IntrinsicParameters returns the loaded intrinsics, identity when no
// intrinsics file was configured.
func (fs *File) IntrinsicParameters() (*transform.IntrinsicParameters, error) {
	return fs.intrinsics, nil
}

// ExtrinsicParameters returns the identity transform.
func (fs *File) ExtrinsicParameters() transform.PTransform {
	return transform.IdentityPTransform()
}

// DepthCorrectionParameters returns the loaded correction field, the
// degree-zero sentinel when no correction file was configured.
func (fs *File) DepthCorrectionParameters() (*transform.DepthCorrection, error) {
	return fs.depthCorrection, nil
}

// ReadFrame reads the next recorded depth frame directly, bypassing
// streaming. It returns io.EOF at the end of the stream.
func (fs *File) ReadFrame() (frame.FrameBuffer, error) {
	var timestamp float64
	if err := binary.Read(fs.reader, binary.LittleEndian, &timestamp); err != nil {
		if errors.Is(err, io.EOF) {
			return frame.FrameBuffer{}, io.EOF
		}
		return frame.FrameBuffer{}, errors.Wrap(err, "cannot read depth frame timestamp")
	}
	fb := frame.NewDepthFrameBuffer(fs.size)
	fb.Timestamp = timestamp
	if err := binary.Read(fs.reader, binary.LittleEndian, fb.Depths()); err != nil {
		fb.Release()
		return frame.FrameBuffer{}, errors.Wrap(err, "cannot read depth frame samples")
	}
	return fb, nil
}

// StartStreaming replays the recorded frames to the depth callback,
// paced by the configured frame period. Streaming stops on its own at
// the end of the stream.
func (fs *File) StartStreaming(colorCB, depthCB FrameCallback) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.streaming {
		return errors.New("file source is already streaming")
	}
	if depthCB == nil {
		return errors.New("file source needs a depth callback")
	}
	fs.streaming = true
	fs.cancelCtx, fs.cancelFunc = context.WithCancel(context.Background())

	cancelCtx := fs.cancelCtx
	fs.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			if cancelCtx.Err() != nil {
				return
			}
			fb, err := fs.ReadFrame()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					fs.logger.Errorw("depth stream replay failed", "error", err)
				}
				return
			}
			depthCB(fb)
			if fs.cfg.FramePeriod > 0 {
				select {
				case <-cancelCtx.Done():
					return
				case <-fs.cfg.Clock.After(fs.cfg.FramePeriod):
				}
			}
		}
	}, fs.activeBackgroundWorkers.Done)
	return nil
}

// StopStreaming cancels replay and waits for the worker.
func (fs *File) StopStreaming() error {
	fs.mu.Lock()
	if !fs.streaming {
		fs.mu.Unlock()
		return nil
	}
	fs.streaming = false
	fs.cancelFunc()
	fs.mu.Unlock()
	fs.activeBackgroundWorkers.Wait()
	return nil
}

func (fs *File) closeReaders() error {
	var err error
	for i := len(fs.closers) - 1; i >= 0; i-- {
		err = multierr.Combine(err, fs.closers[i].Close())
	}
	fs.closers = nil
	return err
}

// Close stops streaming and closes the underlying file.
func (fs *File) Close(ctx context.Context) error {
	return multierr.Combine(fs.StopStreaming(), fs.closeReaders())
}
