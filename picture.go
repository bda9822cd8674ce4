package dav1d

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"
)

// PixelLayout is the chroma subsampling of a picture.
type PixelLayout uint32

const (
	PixelLayoutI400 PixelLayout = iota // monochrome
	PixelLayoutI420
	PixelLayoutI422
	PixelLayoutI444
)

func (l PixelLayout) String() string {
	switch l {
	case PixelLayoutI400:
		return "I400"
	case PixelLayoutI420:
		return "I420"
	case PixelLayoutI422:
		return "I422"
	case PixelLayoutI444:
		return "I444"
	default:
		return fmt.Sprintf("PixelLayout(%d)", uint32(l))
	}
}

// PlanarImageComponent selects one plane of a picture.
type PlanarImageComponent int

const (
	PlaneY PlanarImageComponent = iota
	PlaneU
	PlaneV
)

func (c PlanarImageComponent) String() string {
	switch c {
	case PlaneY:
		return "Y"
	case PlaneU:
		return "U"
	case PlaneV:
		return "V"
	default:
		return fmt.Sprintf("PlanarImageComponent(%d)", int(c))
	}
}

// pictureRef owns one native Dav1dPicture reference. Every Picture
// handle holds one count; the last release unrefs the native picture.
type pictureRef struct {
	eng   engine
	pic   cPicture
	alloc *allocatorRef
	refs  atomic.Int32
}

func (r *pictureRef) unref() {
	switch n := r.refs.Add(-1); {
	case n == 0:
		r.eng.pictureUnref(&r.pic)
		r.alloc.release()
		r.alloc = nil
	case n < 0:
		panic("dav1d: picture released too often")
	}
}

// Picture is a decoded frame. Pixel memory is shared between clones and
// stays valid until every clone and every Plane taken from it has been
// released. Pictures may outlive the Decoder that produced them and are
// safe for concurrent reads.
//
// Call Release when done. A finalizer releases forgotten handles, but
// decoded frames are large and collection timing is not predictable.
type Picture struct {
	ref      *pictureRef
	released atomic.Bool
}

func newPicture(r *pictureRef) *Picture {
	p := &Picture{ref: r}
	runtime.SetFinalizer(p, (*Picture).Release)
	return p
}

// Clone returns a new handle to the same decoded frame.
func (p *Picture) Clone() *Picture {
	p.check()
	p.ref.refs.Add(1)
	return newPicture(p.ref)
}

// Release drops this handle's reference. Subsequent calls are no-ops.
func (p *Picture) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(p, nil)
	p.ref.unref()
}

func (p *Picture) check() {
	if p.released.Load() {
		panic("dav1d: use of released Picture")
	}
}

func (p *Picture) raw() *cPicture {
	p.check()
	return &p.ref.pic
}

func (p *Picture) Width() int               { return int(p.raw().p.w) }
func (p *Picture) Height() int              { return int(p.raw().p.h) }
func (p *Picture) BitDepth() int            { return int(p.raw().p.bpc) }
func (p *Picture) PixelLayout() PixelLayout { return PixelLayout(p.raw().p.layout) }

// BitsPerComponent derives 8, 10 or 12 from the sequence header. It
// reports false when the header carries a value this package does not
// know.
func (p *Picture) BitsPerComponent() (int, bool) {
	hdr := p.raw().seqHdr
	if hdr == nil {
		return 0, false
	}
	switch hdr.hbd {
	case 0:
		return 8, true
	case 1:
		return 10, true
	case 2:
		return 12, true
	default:
		return 0, false
	}
}

// Stride returns the byte distance between rows of plane c.
func (p *Picture) Stride(c PlanarImageComponent) int {
	if c == PlaneY {
		return p.raw().stride[0]
	}
	return p.raw().stride[1]
}

// PlaneDataGeometry returns the stride and number of rows of plane c.
// Chroma rows are halved, rounding up, for PixelLayoutI420.
func (p *Picture) PlaneDataGeometry(c PlanarImageComponent) (stride, height int) {
	stride = p.Stride(c)
	height = p.Height()
	if c != PlaneY && p.PixelLayout() == PixelLayoutI420 {
		height = (height + 1) / 2
	}
	return stride, height
}

// Plane returns a view of plane c that keeps the frame alive until the
// Plane is released.
func (p *Picture) Plane(c PlanarImageComponent) *Plane {
	if c < PlaneY || c > PlaneV {
		panic(fmt.Sprintf("dav1d: invalid plane %d", int(c)))
	}
	return &Plane{pic: p.Clone(), component: c}
}

// Timestamp returns the timestamp passed with the data this frame was
// decoded from. It reports false when none was set.
func (p *Picture) Timestamp() (int64, bool) {
	ts := p.raw().m.timestamp
	if ts == timestampUnset {
		return 0, false
	}
	return ts, true
}

func (p *Picture) Duration() int64 { return p.raw().m.duration }
func (p *Picture) Offset() int64   { return p.raw().m.offset }

// AllocatorData returns the AllocatorData of the PictureAllocation the
// installed allocator returned for this frame, or nil with the built-in
// allocator.
func (p *Picture) AllocatorData() any {
	raw := p.raw()
	if p.ref.alloc == nil || raw.allocatorData == 0 {
		return nil
	}
	rec, ok := allocations.load(raw.allocatorData)
	if !ok {
		return nil
	}
	return rec.alloc.AllocatorData
}

// Plane is a read-only view of one plane of a Picture.
type Plane struct {
	pic       *Picture
	component PlanarImageComponent
}

func (pl *Plane) Component() PlanarImageComponent { return pl.component }

func (pl *Plane) Stride() int {
	s, _ := pl.pic.PlaneDataGeometry(pl.component)
	return s
}

func (pl *Plane) Height() int {
	_, h := pl.pic.PlaneDataGeometry(pl.component)
	return h
}

// Data returns the plane bytes, Stride()*Height() long. The slice
// aliases decoder or allocator memory: do not write to it, and do not
// use it after Release. It is nil for the chroma planes of a monochrome
// picture.
//
// The slice does not keep the frame alive. Hold the Plane until the last
// use of the bytes and Release it afterwards; a Plane that becomes
// unreachable while its bytes are still read may be finalized first.
// Use runtime.KeepAlive(pl) when the Plane is otherwise unused.
func (pl *Plane) Data() []byte {
	ptr := pl.pic.raw().data[pl.component]
	stride, height := pl.pic.PlaneDataGeometry(pl.component)
	if ptr == nil || stride <= 0 || height <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), stride*height)
}

// Picture returns the frame the plane belongs to. The result is owned
// by the Plane.
func (pl *Plane) Picture() *Picture { return pl.pic }

// Release drops the Plane's reference to its frame.
func (pl *Plane) Release() { pl.pic.Release() }
