package dav1d

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/pion/logging"
)

// DataOption sets the properties attached to submitted data. dav1d
// copies them onto every picture decoded from that data.
type DataOption func(*cDataProps)

// WithTimestamp attaches a presentation timestamp in caller units.
func WithTimestamp(ts int64) DataOption {
	return func(m *cDataProps) { m.timestamp = ts }
}

func WithDuration(d int64) DataOption {
	return func(m *cDataProps) { m.duration = d }
}

// WithOffset attaches a byte offset, typically the position of the data
// in its container.
func WithOffset(off int64) DataOption {
	return func(m *cDataProps) { m.offset = off }
}

// DataProps are the properties of submitted data as reported back by
// the decoder.
type DataProps struct {
	Timestamp    int64
	HasTimestamp bool
	Duration     int64
	Offset       int64
	Size         int
}

func dataPropsFrom(m *cDataProps) DataProps {
	return DataProps{
		Timestamp:    m.timestamp,
		HasTimestamp: m.timestamp != timestampUnset,
		Duration:     m.duration,
		Offset:       m.offset,
		Size:         int(m.size),
	}
}

// EventFlags report stream changes seen since the last query.
type EventFlags uint32

const (
	// EventNewSequence is set when a new sequence header was seen.
	EventNewSequence EventFlags = 1 << 0
	// EventNewOpParamsInfo is set when new operating parameters were seen.
	EventNewOpParamsInfo EventFlags = 1 << 1
)

func (f EventFlags) Has(flag EventFlags) bool { return f&flag == flag }

// wrappedData keeps a submitted buffer pinned until libdav1d releases it.
type wrappedData struct {
	buf    []byte
	pinner runtime.Pinner
}

var wrappedBuffers handleTable[*wrappedData]

// releaseWrappedData is the free callback of dav1d_data_wrap. Unknown or
// already released cookies are ignored.
func releaseWrappedData(cookie uintptr) {
	w, ok := wrappedBuffers.unregister(cookie)
	if !ok {
		return
	}
	w.pinner.Unpin()
	w.buf = nil
}

// Decoder decodes AV1 data with libdav1d.
//
// Decoding is a loop: SendData until it returns ErrAgain, then drain with
// GetPicture until that returns ErrAgain, then SendPendingData to resubmit
// what the decoder could not take, and continue. Calling SendData while
// data is pending is a programming error and panics.
//
// Methods are serialized by an internal mutex. A Decoder must be closed
// with Close; Pictures it returned stay valid afterwards. A finalizer
// closes forgotten decoders and logs a warning.
type Decoder struct {
	mu         sync.Mutex
	eng        engine
	ctx        uintptr
	settings   cSettings
	pending    cData
	hasPending bool
	alloc      *allocatorRef
	closed     bool
	log        logging.LeveledLogger
}

// NewDecoder opens a decoder using libdav1d's own picture allocator.
func NewDecoder(s Settings) (*Decoder, error) {
	return newDecoder(s, nil)
}

// NewDecoderWithAllocator opens a decoder that takes picture memory from a.
// a is kept alive until the decoder and every picture it produced have
// been released.
func NewDecoderWithAllocator(s Settings, a PictureAllocator) (*Decoder, error) {
	if a == nil {
		return nil, fmt.Errorf("open decoder: nil allocator: %w", ErrInvalidArgument)
	}
	return newDecoder(s, a)
}

func newDecoder(s Settings, a PictureAllocator) (*Decoder, error) {
	eng, err := loadEngine()
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		eng:      eng,
		settings: s.raw,
		log:      s.logger(),
	}
	if s.quietNative {
		d.settings.logger = cLogger{}
	}
	if a != nil {
		d.alloc = newAllocatorRef(a)
		allocFn, releaseFn := eng.allocatorCallbacks()
		d.settings.allocator = cPicAllocator{
			cookie:  d.alloc.cookie,
			alloc:   allocFn,
			release: releaseFn,
		}
	}

	ctx, code := eng.open(&d.settings)
	if err := errorFromCode(code); err != nil {
		d.alloc.release()
		return nil, fmt.Errorf("open decoder: %w", err)
	}
	d.ctx = ctx
	runtime.SetFinalizer(d, (*Decoder).finalize)

	d.log.Debugf("decoder opened: threads=%d max_frame_delay=%d custom_allocator=%t",
		d.settings.nThreads, d.settings.maxFrameDelay, a != nil)
	return d, nil
}

// SendData submits one chunk of AV1 data, usually a temporal unit.
//
// buf is not copied. It stays pinned and referenced by libdav1d until
// decoding no longer needs it and must not be modified in that time.
//
// ErrAgain means the decoder kept buf, fully or partly, as pending data:
// drain pictures with GetPicture, then call SendPendingData.
func (d *Decoder) SendData(buf []byte, opts ...DataOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecoderClosed
	}
	if d.hasPending {
		panic("dav1d: SendData called with pending data; drain pictures and call SendPendingData first")
	}
	if len(buf) == 0 {
		return fmt.Errorf("send data: empty buffer: %w", ErrInvalidArgument)
	}

	w := &wrappedData{buf: buf}
	w.pinner.Pin(&buf[0])
	cookie := wrappedBuffers.register(w)

	d.pending = cData{}
	if code := d.eng.dataWrap(&d.pending, buf, cookie); code < 0 {
		d.pending = cData{}
		releaseWrappedData(cookie)
		return fmt.Errorf("wrap data: %w", errorFromCode(code))
	}
	for _, opt := range opts {
		opt(&d.pending.m)
	}
	return d.submit()
}

// SendPendingData resubmits data kept after SendData or a previous
// SendPendingData returned ErrAgain. Without pending data it does nothing.
func (d *Decoder) SendPendingData() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDecoderClosed
	}
	if !d.hasPending {
		return nil
	}
	return d.submit()
}

// submit hands d.pending to libdav1d and records whether anything is
// left over.
func (d *Decoder) submit() error {
	code := d.eng.sendData(d.ctx, &d.pending)
	if err := errorFromCode(code); err != nil {
		if errors.Is(err, ErrAgain) {
			d.setPending(true)
			return ErrAgain
		}
		d.eng.dataUnref(&d.pending)
		d.setPending(false)
		return fmt.Errorf("send data: %w", err)
	}
	if d.pending.sz > 0 {
		d.setPending(true)
		return ErrAgain
	}
	if d.pending.ref != 0 {
		d.eng.dataUnref(&d.pending)
	}
	d.pending = cData{}
	d.setPending(false)
	return nil
}

func (d *Decoder) setPending(v bool) {
	if v != d.hasPending {
		if v {
			d.log.Tracef("backpressured: %d bytes pending", d.pending.sz)
		} else {
			d.log.Trace("pending data consumed")
		}
	}
	d.hasPending = v
}

// HasPendingData reports whether SendPendingData must be called before
// the next SendData.
func (d *Decoder) HasPendingData() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasPending
}

// GetPicture returns the next decoded picture, or ErrAgain when none is
// ready. The caller owns the result and must Release it.
func (d *Decoder) GetPicture() (*Picture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDecoderClosed
	}

	r := &pictureRef{eng: d.eng}
	if err := errorFromCode(d.eng.getPicture(d.ctx, &r.pic)); err != nil {
		if errors.Is(err, ErrAgain) {
			return nil, ErrAgain
		}
		return nil, fmt.Errorf("get picture: %w", err)
	}
	return d.wrapPicture(r), nil
}

func (d *Decoder) wrapPicture(r *pictureRef) *Picture {
	r.alloc = d.alloc.acquire()
	r.refs.Store(1)
	return newPicture(r)
}

// ApplyGrain returns p with film grain synthesis applied. It is meant for
// decoders configured with SetApplyGrain(false); without grain parameters
// the result shares p's pixels.
func (d *Decoder) ApplyGrain(p *Picture) (*Picture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDecoderClosed
	}

	r := &pictureRef{eng: d.eng}
	if err := errorFromCode(d.eng.applyGrain(d.ctx, &r.pic, p.raw())); err != nil {
		return nil, fmt.Errorf("apply grain: %w", err)
	}
	return d.wrapPicture(r), nil
}

// Flush drops all frames buffered inside the decoder and any pending
// data, for example before a seek.
func (d *Decoder) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.eng.flush(d.ctx)
	if d.hasPending {
		d.eng.dataUnref(&d.pending)
		d.pending = cData{}
		d.setPending(false)
	}
	d.log.Debug("decoder flushed")
}

// FrameDelay returns how many frames the decoder may buffer before the
// first picture comes out with the decoder's settings. It returns
// ErrNotSupported with libdav1d older than 1.0.
func (d *Decoder) FrameDelay() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrDecoderClosed
	}
	n, ok := d.eng.frameDelay(&d.settings)
	if !ok {
		return 0, ErrNotSupported
	}
	if err := errorFromCode(n); err != nil {
		return 0, fmt.Errorf("frame delay: %w", err)
	}
	return int(n), nil
}

// EventFlags returns and clears the stream events seen since the last
// call.
func (d *Decoder) EventFlags() (EventFlags, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrDecoderClosed
	}
	flags, code, ok := d.eng.eventFlags(d.ctx)
	if !ok {
		return 0, ErrNotSupported
	}
	if err := errorFromCode(code); err != nil {
		return 0, fmt.Errorf("event flags: %w", err)
	}
	return EventFlags(flags), nil
}

// DecodeErrorDataProps returns the properties of the data that caused
// the most recent decoding error.
func (d *Decoder) DecodeErrorDataProps() (DataProps, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return DataProps{}, ErrDecoderClosed
	}
	var m cDataProps
	code, ok := d.eng.decodeErrorDataProps(d.ctx, &m)
	if !ok {
		return DataProps{}, ErrNotSupported
	}
	if err := errorFromCode(code); err != nil {
		return DataProps{}, fmt.Errorf("decode error data props: %w", err)
	}
	props := dataPropsFrom(&m)
	d.eng.dataPropsUnref(&m)
	return props, nil
}

func (d *Decoder) finalize() {
	d.log.Warn("decoder collected without Close")
	d.Close()
}

// Close releases pending data and the native context. Pictures already
// returned remain valid. Close is idempotent.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	runtime.SetFinalizer(d, nil)
	if d.hasPending {
		d.eng.dataUnref(&d.pending)
		d.pending = cData{}
		d.hasPending = false
	}
	d.eng.close(&d.ctx)
	d.alloc.release()
	d.alloc = nil
	d.log.Debug("decoder closed")
	return nil
}
