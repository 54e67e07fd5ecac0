package frame

import (
	"sync"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestFrameBufferRefCounting(t *testing.T) {
	var frees atomic.Int32
	fb := newFrameBuffer(Size{4, 3}, 4*3*2, func([]byte) { frees.Add(1) })
	test.That(t, fb.IsValid(), test.ShouldBeTrue)
	test.That(t, fb.Size(), test.ShouldResemble, Size{4, 3})
	test.That(t, len(fb.Bytes()), test.ShouldEqual, 24)
	test.That(t, len(fb.Depths()), test.ShouldEqual, 12)

	cp := fb.Share()
	cp.Release()
	test.That(t, frees.Load(), test.ShouldEqual, 0)
	test.That(t, cp.IsValid(), test.ShouldBeFalse)
	test.That(t, fb.IsValid(), test.ShouldBeTrue)

	fb.Release()
	test.That(t, frees.Load(), test.ShouldEqual, 1)
	test.That(t, fb.IsValid(), test.ShouldBeFalse)
	test.That(t, fb.Size(), test.ShouldResemble, Size{})
	test.That(t, fb.Bytes(), test.ShouldBeNil)

	// releasing an invalid buffer stays a no-op
	fb.Release()
	test.That(t, frees.Load(), test.ShouldEqual, 1)
}

func TestFrameBufferSharedData(t *testing.T) {
	fb := NewDepthFrameBuffer(Size{2, 2})
	defer fb.Release()
	cp := fb.Share()
	defer cp.Release()

	fb.Depths()[3] = 1234
	test.That(t, cp.Depths()[3], test.ShouldEqual, Depth(1234))
}

func TestFrameBufferConcurrentShareRelease(t *testing.T) {
	var frees atomic.Int32
	fb := newFrameBuffer(Size{8, 8}, 8*8*2, func([]byte) { frees.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		cp := fb.Share()
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp.Release()
		}()
	}
	wg.Wait()
	test.That(t, frees.Load(), test.ShouldEqual, 0)
	fb.Release()
	test.That(t, frees.Load(), test.ShouldEqual, 1)
}

func TestTripleBufferLatestWins(t *testing.T) {
	tb := NewTripleBuffer[int]()
	test.That(t, tb.LockNewValue(), test.ShouldBeFalse)

	for i := 1; i <= 5; i++ {
		tb.PostValue(i)
	}
	test.That(t, tb.LockNewValue(), test.ShouldBeTrue)
	test.That(t, *tb.LockedValue(), test.ShouldEqual, 5)
	// no new value has been posted since
	test.That(t, tb.LockNewValue(), test.ShouldBeFalse)
	test.That(t, *tb.LockedValue(), test.ShouldEqual, 5)
}

func TestTripleBufferInPlaceFill(t *testing.T) {
	tb := NewTripleBuffer[[4]int]()
	slot := tb.StartNewValue()
	slot[2] = 7
	tb.PostNewValue()
	test.That(t, tb.LockNewValue(), test.ShouldBeTrue)
	test.That(t, tb.LockedValue()[2], test.ShouldEqual, 7)
}

func TestTripleBufferDrainReleasesAllSlots(t *testing.T) {
	var frees atomic.Int32
	tb := NewTripleBuffer[FrameBuffer]()

	// two post/lock cycles leave an unconsumed earlier frame parked
	// in the hand-off slot
	for i := 0; i < 2; i++ {
		fb := newFrameBuffer(Size{2, 2}, 8, func([]byte) { frees.Add(1) })
		slot := tb.StartNewValue()
		slot.Release()
		*slot = fb
		tb.PostNewValue()
		tb.LockNewValue()
	}
	test.That(t, frees.Load(), test.ShouldEqual, 0)

	tb.Drain(func(fb *FrameBuffer) { fb.Release() })
	test.That(t, frees.Load(), test.ShouldEqual, 2)
	test.That(t, tb.LockNewValue(), test.ShouldBeFalse)
}

func TestTripleBufferConcurrentMonotonic(t *testing.T) {
	tb := NewTripleBuffer[int]()
	const n = 1000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= n; i++ {
			tb.PostValue(i)
		}
	}()

	last := 0
	for last != n {
		if tb.LockNewValue() {
			v := *tb.LockedValue()
			test.That(t, v, test.ShouldBeGreaterThan, last)
			last = v
		}
	}
	<-done
	test.That(t, last, test.ShouldEqual, n)
}
