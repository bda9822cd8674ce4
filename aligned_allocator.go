package dav1d

import (
	"runtime"
	"sync"
	"unsafe"
)

// AlignedAllocator is a PictureAllocator backed by pinned Go memory. It
// lays planes out the way libdav1d's built-in allocator does, which makes
// decoded pixels ordinary Go memory that survives the Decoder.
type AlignedAllocator struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]*alignedBuffer
}

type alignedBuffer struct {
	buf    []byte
	pinner runtime.Pinner
}

// NewAlignedAllocator returns an empty allocator.
func NewAlignedAllocator() *AlignedAllocator {
	return &AlignedAllocator{live: make(map[uint64]*alignedBuffer)}
}

// planeGeometry is the stride and allocated row count of the luma and
// chroma planes for p.
type planeGeometry struct {
	stride [2]int
	rows   [2]int
}

func (g planeGeometry) size() int {
	return g.stride[0]*g.rows[0] + 2*g.stride[1]*g.rows[1]
}

func alignUp(v, a int) int {
	return (v + a - 1) &^ (a - 1)
}

func alignedGeometry(p PictureParameters) planeGeometry {
	w := alignUp(p.Width, 128)
	h := alignUp(p.Height, 128)
	shift := 0
	if p.BitDepth > 8 {
		shift = 1
	}

	var g planeGeometry
	g.stride[0] = w << shift
	g.rows[0] = h
	// Strides that are multiples of 1024 alias in the cache.
	if g.stride[0]&1023 == 0 {
		g.stride[0] += PictureAlignment
	}

	switch p.Layout {
	case PixelLayoutI400:
		return g
	case PixelLayoutI420:
		g.stride[1] = alignUp((p.Width+1)/2, 128) << shift
		g.rows[1] = alignUp((p.Height+1)/2, 128)
	case PixelLayoutI422:
		g.stride[1] = alignUp((p.Width+1)/2, 128) << shift
		g.rows[1] = h
	default:
		g.stride[1] = w << shift
		g.rows[1] = h
	}
	if g.stride[1]&1023 == 0 {
		g.stride[1] += PictureAlignment
	}
	return g
}

// AllocPicture implements PictureAllocator. AllocatorData is a uint64
// identifying the allocation.
func (a *AlignedAllocator) AllocPicture(p PictureParameters) (PictureAllocation, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return PictureAllocation{}, ErrInvalidArgument
	}
	g := alignedGeometry(p)

	b := &alignedBuffer{buf: make([]byte, g.size()+2*PictureAlignment)}
	b.pinner.Pin(&b.buf[0])

	base := unsafe.Pointer(&b.buf[0])
	if off := int(uintptr(base) % PictureAlignment); off != 0 {
		base = unsafe.Add(base, PictureAlignment-off)
	}

	var out PictureAllocation
	out.Stride = g.stride
	out.Data[0] = base
	if p.Layout != PixelLayoutI400 {
		chroma := g.stride[1] * g.rows[1]
		out.Data[1] = unsafe.Add(base, g.stride[0]*g.rows[0])
		out.Data[2] = unsafe.Add(out.Data[1], chroma)
	}

	a.mu.Lock()
	a.next++
	id := a.next
	a.live[id] = b
	a.mu.Unlock()

	out.AllocatorData = id
	return out, nil
}

// ReleasePicture implements PictureAllocator.
func (a *AlignedAllocator) ReleasePicture(alloc PictureAllocation) {
	id, ok := alloc.AllocatorData.(uint64)
	if !ok {
		return
	}
	a.mu.Lock()
	b := a.live[id]
	delete(a.live, id)
	a.mu.Unlock()
	if b != nil {
		b.pinner.Unpin()
	}
}

// Outstanding returns the number of allocations not yet released.
func (a *AlignedAllocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
