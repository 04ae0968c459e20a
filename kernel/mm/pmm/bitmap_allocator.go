// Package pmm implements the physical memory allocator of the hosted kernel.
// Physical memory is a byte arena; frame N occupies bytes
// [N*mm.PageSize, (N+1)*mm.PageSize) of the arena.
package pmm

import (
	"gophervm/kernel"
	"gophervm/kernel/kfmt"
	"gophervm/kernel/mm"
	"gophervm/kernel/mm/bitmap"
	"gophervm/kernel/sync"
)

var (
	errNoFrames          = &kernel.Error{Module: "pmm", Message: "allocator requires at least one frame per pool"}
	errOutOfMemory       = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errFrameNotAllocated = &kernel.Error{Module: "pmm", Message: "attempted to free a frame that is not allocated"}
	errFrameOutOfRange   = &kernel.Error{Module: "pmm", Message: "frame does not belong to any pool"}

	log = kfmt.Logger("pmm")
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame tracks the last frame in the pool.
	endFrame mm.Frame

	// freeBitmap tracks used/free pages in the pool.
	freeBitmap *bitmap.Bitmap
}

func (pool *framePool) contains(frame mm.Frame) bool {
	return frame >= pool.startFrame && frame <= pool.endFrame
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across a kernel pool and a user pool using bitmaps. It is safe
// for concurrent use.
type BitmapAllocator struct {
	lock sync.Spinlock

	// memory is the physical memory arena backing both pools.
	memory []byte

	kernelPool framePool
	userPool   framePool
}

// Init reserves a physical memory arena for kernelFrames + userFrames frames.
// The kernel pool occupies the lower frames and the user pool follows it.
func (alloc *BitmapAllocator) Init(kernelFrames, userFrames uint32) *kernel.Error {
	if kernelFrames == 0 || userFrames == 0 {
		return errNoFrames
	}

	totalFrames := kernelFrames + userFrames
	alloc.memory = make([]byte, uintptr(totalFrames)*mm.PageSize)
	alloc.kernelPool = framePool{
		startFrame: 0,
		endFrame:   mm.Frame(kernelFrames - 1),
		freeBitmap: bitmap.New(kernelFrames),
	}
	alloc.userPool = framePool{
		startFrame: mm.Frame(kernelFrames),
		endFrame:   mm.Frame(totalFrames - 1),
		freeBitmap: bitmap.New(userFrames),
	}

	log.Info("physical memory ready",
		"kernel_frames", kernelFrames,
		"user_frames", userFrames,
		"size", mm.SizeOfPages(totalFrames).String(),
	)
	return nil
}

// AllocFrame reserves a free frame from the user pool if flags contains
// mm.AllocUser or from the kernel pool otherwise. If flags contains
// mm.AllocZero the frame contents are cleared.
func (alloc *BitmapAllocator) AllocFrame(flags mm.AllocFlag) (mm.Frame, *kernel.Error) {
	pool := &alloc.kernelPool
	if flags&mm.AllocUser != 0 {
		pool = &alloc.userPool
	}

	alloc.lock.Acquire()
	index, ok := pool.freeBitmap.Reserve()
	alloc.lock.Release()

	if !ok {
		return mm.InvalidFrame, errOutOfMemory
	}

	frame := pool.startFrame + mm.Frame(index)
	if flags&mm.AllocZero != 0 {
		kernel.Memset(alloc.FrameBytes(frame), 0)
	}

	return frame, nil
}

// FreeFrame releases a frame previously reserved by AllocFrame.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	pool := alloc.poolForFrame(frame)
	if pool == nil {
		return errFrameOutOfRange
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !pool.freeBitmap.Clear(uint32(frame - pool.startFrame)) {
		return errFrameNotAllocated
	}

	return nil
}

// FrameBytes returns the physical memory backing frame.
func (alloc *BitmapAllocator) FrameBytes(frame mm.Frame) []byte {
	start := frame.Address()
	return alloc.memory[start : start+mm.PageSize : start+mm.PageSize]
}

// FrameCount returns the number of frames in the user pool.
func (alloc *BitmapAllocator) FrameCount() uint32 {
	return alloc.userPool.freeBitmap.Size()
}

// FreeCount returns the number of unreserved frames in the user pool.
func (alloc *BitmapAllocator) FreeCount() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	return alloc.userPool.freeBitmap.Size() - alloc.userPool.freeBitmap.Used()
}

func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) *framePool {
	switch {
	case alloc.kernelPool.freeBitmap != nil && alloc.kernelPool.contains(frame):
		return &alloc.kernelPool
	case alloc.userPool.freeBitmap != nil && alloc.userPool.contains(frame):
		return &alloc.userPool
	default:
		return nil
	}
}
