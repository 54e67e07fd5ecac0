package projector

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/viam-labs/facade/frame"
	"github.com/viam-labs/facade/fsource"
)

// MeshFrame pairs a processed mesh with the depth frame it was built
// from, so consumers can look up raw depth under mesh vertices.
type MeshFrame struct {
	Depth frame.FrameBuffer
	Mesh  MeshBuffer
}

// StreamingCallback is invoked by the meshing worker after each
// processed depth frame. The mesh is owned by the projector and only
// valid for the duration of the call.
type StreamingCallback func(mesh *MeshBuffer)

// Projector runs the meshing pipeline as a streaming system: raw
// depth frames are handed to a background worker over a depth-one
// slot guarded by a condition variable, processed meshes and color
// frames flow to the consumer through triple buffers, and the
// consumer picks up the newest of each with UpdateFrames.
type Projector struct {
	*ProjectorBase

	logger golog.Logger

	inMu      sync.Mutex
	inCond    *sync.Cond
	inFrame   frame.FrameBuffer
	inVersion uint64
	streaming bool
	callback  StreamingCallback

	// filter toggles, read by the worker under inMu
	filterDepthFrames  bool
	lowpassDepthFrames bool

	// worker-owned filtering state
	filteredDepthFrame []frame.Depth
	spatialBuffer      []frame.Depth

	// outMu serializes producers filling the output triple buffers:
	// the worker, SetMesh, and SetColorFrame can run on different
	// threads
	outMu       sync.Mutex
	meshes      *frame.TripleBuffer[MeshFrame]
	colorFrames *frame.TripleBuffer[frame.FrameBuffer]

	meshVersion       uint64
	colorFrameVersion uint64

	activeBackgroundWorkers sync.WaitGroup
}

// New returns a projector with identity calibration.
func New(logger golog.Logger) *Projector {
	p := &Projector{
		ProjectorBase: NewProjectorBase(),
		logger:        logger,
		meshes:        frame.NewTripleBuffer[MeshFrame](),
		colorFrames:   frame.NewTripleBuffer[frame.FrameBuffer](),
	}
	p.inCond = sync.NewCond(&p.inMu)
	return p
}

// NewFromSource returns a projector configured from a frame source's
// size, color space, and calibration parameters.
func NewFromSource(src fsource.FrameSource, logger golog.Logger) (*Projector, error) {
	p := New(logger)
	p.SetDepthFrameSize(src.ActualFrameSize(frame.DepthSensor))
	p.SetColorSpace(src.ColorSpace())

	dc, err := src.DepthCorrectionParameters()
	if err != nil {
		return nil, errors.Wrap(err, "cannot query depth correction parameters")
	}
	p.SetDepthCorrection(dc)

	ip, err := src.IntrinsicParameters()
	if err != nil {
		return nil, errors.Wrap(err, "cannot query intrinsic parameters")
	}
	if err := p.SetIntrinsicParameters(ip); err != nil {
		return nil, err
	}
	if err := p.SetExtrinsicParameters(src.ExtrinsicParameters()); err != nil {
		return nil, err
	}
	return p, nil
}

// SetFilterDepthFrames toggles temporal IIR filtering of incoming
// depth frames and the optional spatial lowpass pass on top of it.
// Takes effect on the next processed frame.
func (p *Projector) SetFilterDepthFrames(filter, lowpass bool) {
	p.inMu.Lock()
	p.filterDepthFrames = filter
	p.lowpassDepthFrames = lowpass
	p.inMu.Unlock()
}

// StartStreaming spins up the background meshing worker. The callback
// may be nil.
func (p *Projector) StartStreaming(callback StreamingCallback) error {
	p.inMu.Lock()
	defer p.inMu.Unlock()
	if p.streaming {
		return errors.New("projector is already streaming")
	}
	if p.depthSize.Volume() == 0 {
		return errors.New("depth frame size is not set")
	}
	p.streaming = true
	p.callback = callback

	p.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(p.processingLoop, p.activeBackgroundWorkers.Done)
	return nil
}

// SetDepthFrame hands a raw depth frame to the meshing worker,
// replacing any frame not yet picked up. The projector takes its own
// reference; the caller keeps ownership of fb.
func (p *Projector) SetDepthFrame(fb frame.FrameBuffer) {
	p.inMu.Lock()
	p.inFrame.Release()
	p.inFrame = fb.Share()
	p.inVersion++
	p.inCond.Signal()
	p.inMu.Unlock()
}

// SetMesh posts an externally produced mesh and its depth frame
// straight into the consumer-facing triple buffer.
func (p *Projector) SetMesh(depthFrame frame.FrameBuffer, mesh MeshBuffer) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	slot := p.meshes.StartNewValue()
	slot.Depth.Release()
	slot.Depth = depthFrame.Share()
	slot.Mesh = mesh
	p.meshes.PostNewValue()
}

// SetColorFrame posts a color frame for the consumer. The projector
// takes its own reference.
func (p *Projector) SetColorFrame(fb frame.FrameBuffer) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	slot := p.colorFrames.StartNewValue()
	slot.Release()
	*slot = fb.Share()
	p.colorFrames.PostNewValue()
}

// StopStreaming shuts down the meshing worker and waits for it. No
// callback fires after StopStreaming returns.
func (p *Projector) StopStreaming() {
	p.inMu.Lock()
	if !p.streaming {
		p.inMu.Unlock()
		return
	}
	p.streaming = false
	p.inCond.Broadcast()
	p.inMu.Unlock()
	p.activeBackgroundWorkers.Wait()

	p.inMu.Lock()
	p.callback = nil
	p.inMu.Unlock()
}

// UpdateFrames locks the newest available mesh and color frame for
// the consumer, bumping the respective version counters when a newer
// value was picked up. It never blocks.
func (p *Projector) UpdateFrames() {
	if p.meshes.LockNewValue() {
		p.meshVersion++
	}
	if p.colorFrames.LockNewValue() {
		p.colorFrameVersion++
	}
}

// Mesh returns the currently locked mesh frame.
func (p *Projector) Mesh() *MeshFrame {
	return p.meshes.LockedValue()
}

// MeshVersion returns a counter incremented whenever UpdateFrames
// picks up a new mesh.
func (p *Projector) MeshVersion() uint64 {
	return p.meshVersion
}

// ColorFrame returns the currently locked color frame.
func (p *Projector) ColorFrame() *frame.FrameBuffer {
	return p.colorFrames.LockedValue()
}

// ColorFrameVersion returns a counter incremented whenever
// UpdateFrames picks up a new color frame.
func (p *Projector) ColorFrameVersion() uint64 {
	return p.colorFrameVersion
}

// Close stops streaming and releases all frame references held by
// the projector.
func (p *Projector) Close(ctx context.Context) error {
	p.StopStreaming()

	p.inMu.Lock()
	p.inFrame.Release()
	p.inMu.Unlock()

	p.outMu.Lock()
	defer p.outMu.Unlock()
	p.meshes.Drain(func(mf *MeshFrame) { mf.Depth.Release() })
	p.colorFrames.Drain(func(fb *frame.FrameBuffer) { fb.Release() })
	return nil
}

// processingLoop is the background meshing worker: it waits for new
// raw depth frames, optionally filters them, meshes them into the
// next triple buffer slot, and invokes the streaming callback.
func (p *Projector) processingLoop() {
	var version uint64
	var raw frame.FrameBuffer
	defer raw.Release()

	for {
		p.inMu.Lock()
		for p.streaming && version == p.inVersion {
			p.inCond.Wait()
		}
		if !p.streaming {
			p.inMu.Unlock()
			return
		}
		version = p.inVersion
		raw.Release()
		raw = p.inFrame.Share()
		filter, lowpass := p.filterDepthFrames, p.lowpassDepthFrames
		callback := p.callback
		p.inMu.Unlock()

		p.outMu.Lock()
		slot := p.meshes.StartNewValue()
		slot.Depth.Release()
		if filter {
			slot.Depth = p.filterDepthFrame(&raw, lowpass)
		} else {
			p.filteredDepthFrame = nil
			p.spatialBuffer = nil
			slot.Depth = raw.Share()
		}
		if err := p.ProcessDepthFrame(&slot.Depth, &slot.Mesh); err != nil {
			p.logger.Errorw("cannot mesh depth frame", "error", err)
			slot.Depth.Release()
			p.outMu.Unlock()
			continue
		}
		p.meshes.PostNewValue()
		p.outMu.Unlock()

		if callback != nil {
			callback(&slot.Mesh)
		}
	}
}

// filterDepthFrame applies temporal IIR filtering against the running
// filtered frame, plus an optional spatial 1-2-1 lowpass, and returns
// the filtered frame as a fresh buffer.
func (p *Projector) filterDepthFrame(raw *frame.FrameBuffer, lowpass bool) frame.FrameBuffer {
	out := frame.NewDepthFrameBuffer(p.depthSize)
	out.Timestamp = raw.Timestamp
	outDepths := out.Depths()
	rawDepths := raw.Depths()

	if p.filteredDepthFrame == nil {
		// first frame seeds the running filter
		p.filteredDepthFrame = make([]frame.Depth, p.depthSize.Volume())
		copy(p.filteredDepthFrame, rawDepths)
		copy(outDepths, rawDepths)
	} else {
		for i, d := range rawDepths {
			f := p.filteredDepthFrame[i]
			if d != frame.InvalidDepth && f != frame.InvalidDepth {
				f = frame.Depth((uint32(f)*15 + uint32(d) + 8) >> 4)
			} else {
				f = d
			}
			p.filteredDepthFrame[i] = f
			outDepths[i] = f
		}
	}

	if lowpass {
		p.spatialLowpass(outDepths)
	} else {
		p.spatialBuffer = nil
	}
	return out
}

// spatialLowpass smooths a depth frame in place with a separable
// 1-2-1 kernel, treating invalid pixels as holes rather than depth
// values.
func (p *Projector) spatialLowpass(depths []frame.Depth) {
	w, h := p.depthSize.Width, p.depthSize.Height
	if p.spatialBuffer == nil {
		p.spatialBuffer = make([]frame.Depth, len(depths))
	}
	tmp := p.spatialBuffer

	// vertical pass
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var sum, weight uint32
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				if d := depths[yy*w+x]; d != frame.InvalidDepth {
					k := uint32(2 - dy*dy)
					sum += uint32(d) * k
					weight += k
				}
			}
			if weight != 0 {
				tmp[y*w+x] = frame.Depth((sum + weight/2) / weight)
			} else {
				tmp[y*w+x] = frame.InvalidDepth
			}
		}
	}

	// horizontal pass
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum, weight uint32
			for dx := -1; dx <= 1; dx++ {
				xx := x + dx
				if xx < 0 || xx >= w {
					continue
				}
				if d := tmp[y*w+xx]; d != frame.InvalidDepth {
					k := uint32(2 - dx*dx)
					sum += uint32(d) * k
					weight += k
				}
			}
			if weight != 0 {
				depths[y*w+x] = frame.Depth((sum + weight/2) / weight)
			} else {
				depths[y*w+x] = frame.InvalidDepth
			}
		}
	}
}
