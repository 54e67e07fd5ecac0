// Package frame provides depth frame buffers and the small shared types
// that flow between a camera source, the calibration tools, and the
// projector pipeline.
package frame

import (
	"sync/atomic"
	"unsafe"
)

// Depth is a single raw depth sample as delivered by the sensor.
type Depth = uint16

// InvalidDepth is the sentinel raw value marking a pixel with no depth
// reading. Pixels carrying this value are excluded from filtering,
// meshing, and calibration.
const InvalidDepth Depth = 0x07ff

// Sensor identifies one of the two imaging streams of a depth camera.
type Sensor int

const (
	// ColorSensor is the RGB camera stream.
	ColorSensor Sensor = iota
	// DepthSensor is the depth camera stream.
	DepthSensor
)

// ColorSpace describes the pixel layout of a color stream.
type ColorSpace int

const (
	// RGB is 8-bit interleaved red/green/blue.
	RGB ColorSpace = iota
	// YpCbCr is 8-bit interleaved luma/chroma.
	YpCbCr
)

// Size is a frame extent in pixels.
type Size struct {
	Width  int
	Height int
}

// Volume returns the number of pixels in a frame of this size.
func (s Size) Volume() int {
	return s.Width * s.Height
}

// bufferHeader is the shared state behind every copy of a FrameBuffer.
// The reference count lives here so that all copies observe the same
// count, and the free hook lets tests observe deallocation.
type bufferHeader struct {
	refCount atomic.Int32
	data     []byte
	free     func([]byte)
}

// FrameBuffer is a reference-counted view of one raw camera frame.
// Copying a FrameBuffer shares the underlying storage; call Share to
// account for the new reference and Release when done with it. The
// zero value is an invalid buffer with no storage.
type FrameBuffer struct {
	size   Size
	header *bufferHeader

	// Timestamp is the capture time of the frame, in seconds on the
	// source's clock.
	Timestamp float64
}

// NewFrameBuffer allocates storage for one frame of the given pixel
// size and byte length, with a reference count of one.
func NewFrameBuffer(size Size, byteLen int) FrameBuffer {
	return newFrameBuffer(size, byteLen, nil)
}

func newFrameBuffer(size Size, byteLen int, free func([]byte)) FrameBuffer {
	h := &bufferHeader{data: make([]byte, byteLen), free: free}
	h.refCount.Store(1)
	return FrameBuffer{size: size, header: h}
}

// Share records an additional reference to the underlying storage and
// returns a copy of the buffer. Sharing an invalid buffer returns
// another invalid buffer.
func (fb FrameBuffer) Share() FrameBuffer {
	if fb.header != nil {
		fb.header.refCount.Add(1)
	}
	return fb
}

// Release drops one reference to the underlying storage, freeing it
// when the last reference is dropped, and resets the buffer to the
// invalid state. Releasing an invalid buffer is a no-op.
func (fb *FrameBuffer) Release() {
	if fb.header != nil && fb.header.refCount.Add(-1) == 0 {
		if fb.header.free != nil {
			fb.header.free(fb.header.data)
		}
		fb.header.data = nil
	}
	fb.header = nil
	fb.size = Size{}
	fb.Timestamp = 0
}

// Invalidate is Release under a name that reads better at call sites
// that never held a share of their own.
func (fb *FrameBuffer) Invalidate() {
	fb.Release()
}

// IsValid reports whether the buffer currently references storage.
func (fb *FrameBuffer) IsValid() bool {
	return fb.header != nil
}

// Size returns the pixel extent of the frame, or the zero Size for an
// invalid buffer.
func (fb *FrameBuffer) Size() Size {
	return fb.size
}

// Bytes returns the raw storage of the frame. The slice is only valid
// while the caller holds a reference.
func (fb *FrameBuffer) Bytes() []byte {
	if fb.header == nil {
		return nil
	}
	return fb.header.data
}

// Depths reinterprets the raw storage as 16-bit depth samples in
// row-major order.
func (fb *FrameBuffer) Depths() []Depth {
	if fb.header == nil || len(fb.header.data) == 0 {
		return nil
	}
	return unsafe.Slice((*Depth)(unsafe.Pointer(&fb.header.data[0])), len(fb.header.data)/2)
}

// NewDepthFrameBuffer allocates a buffer sized to hold one 16-bit
// depth sample per pixel.
func NewDepthFrameBuffer(size Size) FrameBuffer {
	return NewFrameBuffer(size, size.Volume()*2)
}
