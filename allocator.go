package dav1d

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// PictureAlignment is the byte alignment dav1d requires for every plane
// base pointer and stride handed out by a PictureAllocator.
const PictureAlignment = 64

// PictureParameters describes the picture dav1d wants memory for.
type PictureParameters struct {
	Width    int
	Height   int
	Layout   PixelLayout
	BitDepth int
}

// PictureAllocation is the memory a PictureAllocator hands to dav1d.
//
// Data[0] is the luma plane, Data[1] and Data[2] the chroma planes (nil
// for PixelLayoutI400). Stride[0] applies to luma, Stride[1] to both
// chroma planes. Every non-nil pointer must be PictureAlignment aligned
// and each plane must allow reads of PictureAlignment bytes past its
// last row. Go memory must stay pinned until ReleasePicture.
type PictureAllocation struct {
	Data          [3]unsafe.Pointer
	Stride        [2]int
	AllocatorData any
}

// PictureAllocator lets the caller own the memory decoded pictures are
// written to. Both methods are called from dav1d worker threads,
// concurrently and in any order, and must be safe for that.
//
// An AllocPicture error is reported to dav1d: an *Error keeps its kind,
// anything else is reported as KindNotEnoughMemory. The failure surfaces
// from the SendData or GetPicture call that triggered the allocation.
type PictureAllocator interface {
	AllocPicture(p PictureParameters) (PictureAllocation, error)
	ReleasePicture(a PictureAllocation)
}

// allocatorRef shares one installed PictureAllocator between a Decoder
// and every Picture it produced.
type allocatorRef struct {
	alloc  PictureAllocator
	cookie uintptr
	refs   atomic.Int32
}

type allocationRecord struct {
	owner *allocatorRef
	alloc PictureAllocation
}

var (
	allocators  handleTable[*allocatorRef]
	allocations handleTable[allocationRecord]
)

func newAllocatorRef(a PictureAllocator) *allocatorRef {
	r := &allocatorRef{alloc: a}
	r.refs.Store(1)
	r.cookie = allocators.register(r)
	return r
}

func (r *allocatorRef) acquire() *allocatorRef {
	if r == nil {
		return nil
	}
	if r.refs.Add(1) <= 1 {
		panic("dav1d: allocator reference revived after release")
	}
	return r
}

func (r *allocatorRef) release() {
	if r == nil {
		return
	}
	switch n := r.refs.Add(-1); {
	case n == 0:
		allocators.unregister(r.cookie)
	case n < 0:
		panic("dav1d: allocator reference released too often")
	}
}

// allocErrorCode converts an AllocPicture error to a negative native code.
func allocErrorCode(err error) int32 {
	var e *Error
	if !errors.As(err, &e) {
		return ErrNotEnoughMemory.nativeCode()
	}
	if code := e.nativeCode(); code < 0 {
		return code
	}
	return ErrNotEnoughMemory.nativeCode()
}

// allocPictureTrampoline backs Dav1dPicAllocator.alloc_picture_callback.
func allocPictureTrampoline(pic *cPicture, cookie uintptr) int32 {
	owner, ok := allocators.load(cookie)
	if !ok {
		return ErrInvalidArgument.nativeCode()
	}
	a, err := owner.alloc.AllocPicture(PictureParameters{
		Width:    int(pic.p.w),
		Height:   int(pic.p.h),
		Layout:   PixelLayout(pic.p.layout),
		BitDepth: int(pic.p.bpc),
	})
	if err != nil {
		return allocErrorCode(err)
	}
	if a.Data[0] == nil {
		panic("dav1d: PictureAllocator returned no luma plane")
	}
	for i, p := range a.Data {
		if uintptr(p)%PictureAlignment != 0 {
			panic(fmt.Sprintf("dav1d: PictureAllocator plane %d is not %d-byte aligned", i, PictureAlignment))
		}
	}
	for i, s := range a.Stride {
		if s%PictureAlignment != 0 {
			panic(fmt.Sprintf("dav1d: PictureAllocator stride %d is not a multiple of %d", i, PictureAlignment))
		}
	}
	pic.data = a.Data
	pic.stride = a.Stride
	pic.allocatorData = allocations.register(allocationRecord{owner: owner, alloc: a})
	return 0
}

// releasePictureTrampoline backs Dav1dPicAllocator.release_picture_callback.
func releasePictureTrampoline(pic *cPicture, _ uintptr) {
	rec, ok := allocations.unregister(pic.allocatorData)
	if !ok {
		panic("dav1d: release of a picture the allocator never handed out")
	}
	rec.owner.alloc.ReleasePicture(rec.alloc)
}

// AllocatorDataAs returns the AllocatorData the installed PictureAllocator
// attached to p, if it has type T. It reports false for pictures decoded
// with the built-in allocator.
func AllocatorDataAs[T any](p *Picture) (T, bool) {
	v, ok := p.AllocatorData().(T)
	return v, ok
}
