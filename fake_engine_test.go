package dav1d

import (
	"encoding/binary"
	"sync"
	"testing"
	"unsafe"
)

// Function pointer sentinels the fake hands out in place of native code.
const (
	fakeAllocFn      uintptr = 0xa110c
	fakeReleaseFn    uintptr = 0xf4ee
	fakeDefaultAlloc uintptr = 0xdefa
	fakeDefaultFree  uintptr = 0xdefb
	fakeLogFn        uintptr = 0x1060
)

// Sample values written to each plane of a synthetic picture (8-bit
// scale).
var fakeFill = [3]byte{0x40, 0x80, 0xc0}

// fakePacket encodes a synthetic "bitstream" the fake engine decodes into
// one picture:
//
//	0xfa, layout, bpc, width (le16), height (le16), flags, payload...
//
// flags: 1 = HDR metadata, 2 = film grain, 4 = BT.2020 PQ colorimetry.
func fakePacket(layout PixelLayout, bpc, w, h int, flags byte, payload ...byte) []byte {
	b := []byte{0xfa, byte(layout), byte(bpc), 0, 0, 0, 0, flags}
	binary.LittleEndian.PutUint16(b[3:], uint16(w))
	binary.LittleEndian.PutUint16(b[5:], uint16(h))
	return append(b, payload...)
}

const (
	fakeFlagHDR       = 1
	fakeFlagFilmGrain = 2
	fakeFlagBT2020    = 4
)

type fakeBuffer struct {
	refs   int
	custom bool
	cookie uintptr
	mem    []byte
}

type fakeWrapped struct {
	refs   int
	cookie uintptr
}

type fakeContext struct {
	settings cSettings
	partial  []byte
	queue    []cPicture
	frames   int
	events   uint32
	errProps cDataProps
}

// fakeEngine implements engine in Go. sendData consumes at most
// consumeLimit bytes per call and refuses input while maxQueued pictures
// are waiting, which exercises both backpressure paths.
type fakeEngine struct {
	mu sync.Mutex

	consumeLimit int
	maxQueued    int
	openCode     int32
	sendCode     int32
	getCode      int32
	wrapCode     int32
	frameDelayN  int32
	noOptional   bool

	ctxs    map[uintptr]*fakeContext
	nextCtx uintptr
	bufs    map[uintptr]*fakeBuffer
	nextBuf uintptr
	wrapped map[uintptr]*fakeWrapped
	nextRef uintptr

	opened        []cSettings
	closed        int
	consumed      int
	dataUnrefs    int
	pictureUnrefs int
	propsUnrefs   int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		ctxs:    make(map[uintptr]*fakeContext),
		bufs:    make(map[uintptr]*fakeBuffer),
		wrapped: make(map[uintptr]*fakeWrapped),
	}
}

// useFakeEngine installs e as the process engine for the test.
func useFakeEngine(t *testing.T, e *fakeEngine) *fakeEngine {
	t.Helper()
	prev := loadEngine
	loadEngine = func() (engine, error) { return e, nil }
	t.Cleanup(func() { loadEngine = prev })
	return e
}

func (e *fakeEngine) livePictures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bufs)
}

func (e *fakeEngine) liveData() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.wrapped)
}

func (e *fakeEngine) totalConsumed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumed
}

func (e *fakeEngine) version() string { return "1.4.3-fake" }

func (e *fakeEngine) defaultSettings(s *cSettings) {
	builtinDefaults(s)
	s.allocator = cPicAllocator{alloc: fakeDefaultAlloc, release: fakeDefaultFree}
	s.logger = cLogger{callback: fakeLogFn}
}

func (e *fakeEngine) allocatorCallbacks() (uintptr, uintptr) {
	return fakeAllocFn, fakeReleaseFn
}

func (e *fakeEngine) open(s *cSettings) (uintptr, int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openCode < 0 {
		return 0, e.openCode
	}
	if s.allocator.alloc == 0 || s.allocator.release == 0 {
		return 0, ErrInvalidArgument.nativeCode()
	}
	e.opened = append(e.opened, *s)
	e.nextCtx++
	e.ctxs[e.nextCtx] = &fakeContext{settings: *s}
	return e.nextCtx, 0
}

func (e *fakeEngine) close(ctx *uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.ctxs[*ctx]
	if c == nil {
		panic("fake: close of unknown context")
	}
	e.flushLocked(c)
	delete(e.ctxs, *ctx)
	*ctx = 0
	e.closed++
}

func (e *fakeEngine) sendData(ctx uintptr, data *cData) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.ctxs[ctx]
	if code := e.sendCode; code != 0 {
		e.sendCode = 0
		return code
	}
	if data.data == nil || data.sz == 0 {
		return ErrInvalidArgument.nativeCode()
	}
	if e.maxQueued > 0 && len(c.queue) >= e.maxQueued {
		return ErrAgain.nativeCode()
	}

	n := int(data.sz)
	if e.consumeLimit > 0 && n > e.consumeLimit {
		n = e.consumeLimit
	}
	c.partial = append(c.partial, unsafe.Slice((*byte)(data.data), n)...)
	e.consumed += n
	if n < int(data.sz) {
		data.data = unsafe.Add(data.data, n)
		data.sz -= uintptr(n)
		return 0
	}
	data.sz = 0

	pkt := c.partial
	c.partial = nil
	props := data.m
	props.size = uintptr(len(pkt))
	if code := e.decodeLocked(c, pkt, props); code < 0 {
		c.errProps = props
		return code
	}
	e.dataUnrefLocked(data)
	return 0
}

func (e *fakeEngine) decodeLocked(c *fakeContext, pkt []byte, props cDataProps) int32 {
	if len(pkt) < 8 || pkt[0] != 0xfa {
		return ErrInvalidArgument.nativeCode()
	}
	layout := uint32(pkt[1])
	bpc := int32(pkt[2])
	w := int32(binary.LittleEndian.Uint16(pkt[3:]))
	h := int32(binary.LittleEndian.Uint16(pkt[5:]))
	flags := pkt[7]
	if layout > 3 || (bpc != 8 && bpc != 10 && bpc != 12) || w == 0 || h == 0 {
		return ErrUnsupportedBitstream.nativeCode()
	}

	pic := cPicture{
		p: cPictureParameters{w: w, h: h, layout: layout, bpc: bpc},
		m: props,
	}
	seq := &cSequenceHeader{
		maxWidth:           w,
		maxHeight:          h,
		layout:             layout,
		hbd:                uint8((bpc - 8) / 2),
		pri:                1,
		trc:                1,
		mtrx:               1,
		numOperatingPoints: 1,
	}
	if flags&fakeFlagBT2020 != 0 {
		seq.pri, seq.trc, seq.mtrx, seq.colorRange, seq.chr = 9, 16, 9, 1, 2
	}
	frame := &cFrameHeader{
		frameType: uint32(FrameTypeInter),
		width:     [2]int32{w, w},
		height:    h,
		frameID:   uint32(c.frames),
		showFrame: 1,
	}
	if c.frames == 0 {
		frame.frameType = uint32(FrameTypeKey)
		frame.showableFrame = 1
		c.events |= uint32(EventNewSequence)
	}
	if flags&fakeFlagFilmGrain != 0 {
		frame.filmGrainPresent = 1
	}
	pic.seqHdr, pic.frameHdr = seq, frame
	if flags&fakeFlagHDR != 0 {
		pic.contentLight = &cContentLightLevel{maxContentLightLevel: 1000, maxFrameAverageLightLevel: 400}
		pic.masteringDisplay = &cMasteringDisplay{
			primaries:    [3][2]uint16{{34000, 16000}, {13250, 34500}, {7500, 3000}},
			whitePoint:   [2]uint16{15635, 16450},
			maxLuminance: 1000 << 8,
			minLuminance: 50,
		}
	}

	if code := e.allocLocked(c, &pic); code < 0 {
		return code
	}
	fillPicture(&pic, 0)
	c.frames++
	c.queue = append(c.queue, pic)
	return 0
}

// allocLocked gives pic pixel memory from the installed allocator, or
// from Go memory when none is installed, and a fresh buffer reference.
func (e *fakeEngine) allocLocked(c *fakeContext, pic *cPicture) int32 {
	b := &fakeBuffer{refs: 1}
	if c.settings.allocator.alloc == fakeAllocFn {
		if code := allocPictureTrampoline(pic, c.settings.allocator.cookie); code < 0 {
			return code
		}
		b.custom, b.cookie = true, c.settings.allocator.cookie
	} else {
		bps := 1
		if pic.p.bpc > 8 {
			bps = 2
		}
		w, h := int(pic.p.w), int(pic.p.h)
		cw, ch := w, h
		switch PixelLayout(pic.p.layout) {
		case PixelLayoutI420:
			cw, ch = (w+1)/2, (h+1)/2
		case PixelLayoutI422:
			cw = (w + 1) / 2
		case PixelLayoutI400:
			cw, ch = 0, 0
		}
		ys := alignUp(w*bps, PictureAlignment)
		cs := alignUp(cw*bps, PictureAlignment)
		b.mem = make([]byte, ys*h+2*cs*ch+PictureAlignment)
		base := unsafe.Pointer(&b.mem[0])
		if off := int(uintptr(base) % PictureAlignment); off != 0 {
			base = unsafe.Add(base, PictureAlignment-off)
		}
		pic.data[0] = base
		pic.stride = [2]int{ys, cs}
		if cw > 0 {
			pic.data[1] = unsafe.Add(base, ys*h)
			pic.data[2] = unsafe.Add(pic.data[1], cs*ch)
		}
	}
	e.nextBuf++
	e.bufs[e.nextBuf] = b
	pic.ref = e.nextBuf
	return 0
}

// fillPicture writes fakeFill+delta to every visible sample.
func fillPicture(pic *cPicture, delta byte) {
	w, h := int(pic.p.w), int(pic.p.h)
	shift := uint(pic.p.bpc - 8)
	for plane := 0; plane < 3; plane++ {
		if pic.data[plane] == nil {
			continue
		}
		pw, ph, stride := w, h, pic.stride[0]
		if plane > 0 {
			stride = pic.stride[1]
			switch PixelLayout(pic.p.layout) {
			case PixelLayoutI420:
				pw, ph = (w+1)/2, (h+1)/2
			case PixelLayoutI422:
				pw = (w + 1) / 2
			}
		}
		v := fakeFill[plane] + delta
		buf := unsafe.Slice((*byte)(pic.data[plane]), stride*ph)
		for y := 0; y < ph; y++ {
			row := buf[y*stride:]
			for x := 0; x < pw; x++ {
				if shift == 0 {
					row[x] = v
				} else {
					binary.NativeEndian.PutUint16(row[2*x:], uint16(v)<<shift)
				}
			}
		}
	}
}

func (e *fakeEngine) getPicture(ctx uintptr, out *cPicture) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if code := e.getCode; code != 0 {
		e.getCode = 0
		return code
	}
	c := e.ctxs[ctx]
	if len(c.queue) == 0 {
		return ErrAgain.nativeCode()
	}
	*out = c.queue[0]
	c.queue = c.queue[1:]
	return 0
}

func (e *fakeEngine) applyGrain(ctx uintptr, out, in *cPicture) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.ctxs[ctx]
	if in.ref == 0 {
		return ErrInvalidArgument.nativeCode()
	}
	if in.frameHdr == nil || in.frameHdr.filmGrainPresent == 0 {
		*out = *in
		e.bufs[in.ref].refs++
		return 0
	}
	pic := *in
	pic.data = [3]unsafe.Pointer{}
	pic.allocatorData = 0
	if code := e.allocLocked(c, &pic); code < 0 {
		return code
	}
	fillPicture(&pic, 1)
	*out = pic
	return 0
}

func (e *fakeEngine) flush(ctx uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked(e.ctxs[ctx])
}

func (e *fakeEngine) flushLocked(c *fakeContext) {
	for i := range c.queue {
		e.pictureUnrefLocked(&c.queue[i])
	}
	c.queue = nil
	c.partial = nil
}

func (e *fakeEngine) frameDelay(s *cSettings) (int32, bool) {
	if e.noOptional {
		return 0, false
	}
	if e.frameDelayN != 0 {
		return e.frameDelayN, true
	}
	if s.maxFrameDelay > 0 {
		return s.maxFrameDelay, true
	}
	return 1, true
}

func (e *fakeEngine) eventFlags(ctx uintptr) (uint32, int32, bool) {
	if e.noOptional {
		return 0, 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.ctxs[ctx]
	flags := c.events
	c.events = 0
	return flags, 0, true
}

func (e *fakeEngine) decodeErrorDataProps(ctx uintptr, out *cDataProps) (int32, bool) {
	if e.noOptional {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	*out = e.ctxs[ctx].errProps
	return 0, true
}

func (e *fakeEngine) parseSequenceHeader(out *cSequenceHeaderStorage, buf []byte) int32 {
	if len(buf) < 8 || buf[0] != 0xfa {
		return ErrInvalidArgument.nativeCode()
	}
	out.hdr = cSequenceHeader{
		profile:            0,
		maxWidth:           int32(binary.LittleEndian.Uint16(buf[3:])),
		maxHeight:          int32(binary.LittleEndian.Uint16(buf[5:])),
		layout:             uint32(buf[1]),
		hbd:                (buf[2] - 8) / 2,
		pri:                1,
		trc:                13,
		mtrx:               1,
		numOperatingPoints: 1,
	}
	return 0
}

func (e *fakeEngine) dataWrap(data *cData, buf []byte, cookie uintptr) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if code := e.wrapCode; code != 0 {
		e.wrapCode = 0
		return code
	}
	e.nextRef++
	e.wrapped[e.nextRef] = &fakeWrapped{refs: 1, cookie: cookie}
	*data = cData{
		data: unsafe.Pointer(&buf[0]),
		sz:   uintptr(len(buf)),
		ref:  e.nextRef,
		m:    cDataProps{timestamp: timestampUnset, offset: -1, size: uintptr(len(buf))},
	}
	return 0
}

func (e *fakeEngine) dataUnref(data *cData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dataUnrefLocked(data)
}

func (e *fakeEngine) dataUnrefLocked(data *cData) {
	if data.ref != 0 {
		w := e.wrapped[data.ref]
		w.refs--
		if w.refs == 0 {
			delete(e.wrapped, data.ref)
			releaseWrappedData(w.cookie)
		}
		e.dataUnrefs++
	}
	*data = cData{m: cDataProps{timestamp: timestampUnset, offset: -1}}
}

func (e *fakeEngine) pictureUnref(p *cPicture) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pictureUnrefLocked(p)
}

func (e *fakeEngine) pictureUnrefLocked(p *cPicture) {
	if p.ref == 0 {
		return
	}
	b := e.bufs[p.ref]
	if b == nil {
		panic("fake: unref of unknown picture buffer")
	}
	e.pictureUnrefs++
	b.refs--
	if b.refs == 0 {
		delete(e.bufs, p.ref)
		if b.custom {
			releasePictureTrampoline(p, b.cookie)
		}
	}
	*p = cPicture{}
}

func (e *fakeEngine) dataPropsUnref(p *cDataProps) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.propsUnrefs++
	*p = cDataProps{timestamp: timestampUnset, offset: -1}
}
