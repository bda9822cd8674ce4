package dav1d

import (
	"errors"
	"sync"
	"unsafe"
)

// Go mirrors of the dav1d 1.x public structs. Field order and widths
// must match dav1d/dav1d.h, dav1d/picture.h, dav1d/data.h and
// dav1d/headers.h exactly; struct_layout_test.go pins the sizes.

type cPicAllocator struct {
	cookie  uintptr
	alloc   uintptr
	release uintptr
}

type cLogger struct {
	cookie   uintptr
	callback uintptr
}

type cSettings struct {
	nThreads              int32
	maxFrameDelay         int32
	applyGrain            int32
	operatingPoint        int32
	allLayers             int32
	frameSizeLimit        uint32
	strictStdCompliance   int32
	outputInvisibleFrames int32
	inloopFilters         uint32
	decodeFrameType       uint32
	reserved              [16]uint8
	allocator             cPicAllocator
	logger                cLogger
}

type cUserData struct {
	data unsafe.Pointer
	ref  uintptr
}

type cDataProps struct {
	timestamp int64
	duration  int64
	offset    int64
	size      uintptr
	userData  cUserData
}

type cData struct {
	data unsafe.Pointer
	sz   uintptr
	ref  uintptr
	m    cDataProps
}

type cPictureParameters struct {
	w      int32
	h      int32
	layout uint32
	bpc    int32
}

type cContentLightLevel struct {
	maxContentLightLevel      uint16
	maxFrameAverageLightLevel uint16
}

type cMasteringDisplay struct {
	primaries    [3][2]uint16
	whitePoint   [2]uint16
	maxLuminance uint32
	minLuminance uint32
}

// cSequenceHeader covers the leading fields of Dav1dSequenceHeader.
// Only ever read through a pointer owned by the library.
type cSequenceHeader struct {
	profile            uint8
	maxWidth           int32
	maxHeight          int32
	layout             uint32
	pri                uint32
	trc                uint32
	mtrx               uint32
	chr                uint32
	hbd                uint8
	colorRange         uint8
	numOperatingPoints uint8
}

// cSequenceHeaderStorage is large enough to receive a full
// Dav1dSequenceHeader from dav1d_parse_sequence_header.
type cSequenceHeaderStorage struct {
	hdr cSequenceHeader
	_   [4096 - unsafe.Sizeof(cSequenceHeader{})]byte
}

// cFrameHeader covers the leading fields of Dav1dFrameHeader. The film
// grain parameters are opaque here; only the present flag is read.
type cFrameHeader struct {
	filmGrainData          [28]uint64
	filmGrainPresent       uint8
	filmGrainUpdate        uint8
	frameType              uint32
	width                  [2]int32
	height                 int32
	frameOffset            uint8
	temporalID             uint8
	spatialID              uint8
	showExistingFrame      uint8
	existingFrameIdx       uint8
	frameID                uint32
	framePresentationDelay uint32
	showFrame              uint8
	showableFrame          uint8
}

type cPicture struct {
	seqHdr              *cSequenceHeader
	frameHdr            *cFrameHeader
	data                [3]unsafe.Pointer
	stride              [2]int
	p                   cPictureParameters
	m                   cDataProps
	contentLight        *cContentLightLevel
	masteringDisplay    *cMasteringDisplay
	itutT35             uintptr
	nITUTT35            uintptr
	reserved            [3]uintptr
	frameHdrRef         uintptr
	seqHdrRef           uintptr
	contentLightRef     uintptr
	masteringDisplayRef uintptr
	itutT35Ref          uintptr
	reservedRef         [4]uintptr
	ref                 uintptr
	allocatorData       uintptr
}

// timestampUnset is the INT64_MIN sentinel dav1d uses for "no timestamp".
const timestampUnset = -1 << 63

// engine is the native ABI surface the binding drives. The purego
// backend implements it over libdav1d; tests substitute a fake.
type engine interface {
	version() string
	defaultSettings(s *cSettings)
	// allocatorCallbacks returns the native function pointers bound to
	// allocPictureTrampoline and releasePictureTrampoline.
	allocatorCallbacks() (alloc, release uintptr)
	open(s *cSettings) (ctx uintptr, code int32)
	close(ctx *uintptr)
	sendData(ctx uintptr, data *cData) int32
	getPicture(ctx uintptr, out *cPicture) int32
	applyGrain(ctx uintptr, out, in *cPicture) int32
	flush(ctx uintptr)
	// frameDelay reports false when the symbol is missing.
	frameDelay(s *cSettings) (int32, bool)
	eventFlags(ctx uintptr) (flags uint32, code int32, ok bool)
	decodeErrorDataProps(ctx uintptr, out *cDataProps) (code int32, ok bool)
	parseSequenceHeader(out *cSequenceHeaderStorage, buf []byte) int32
	// dataWrap wraps buf without copying; the library calls
	// releaseWrappedData(cookie) once it no longer references buf.
	dataWrap(data *cData, buf []byte, cookie uintptr) int32
	dataUnref(data *cData)
	pictureUnref(p *cPicture)
	dataPropsUnref(p *cDataProps)
}

// ErrLibraryNotFound is returned when libdav1d cannot be loaded.
var ErrLibraryNotFound = errors.New("dav1d: library not found")

var (
	engineOnce sync.Once
	engineInst engine
	engineErr  error
)

// loadEngine returns the process-wide native engine. Tests replace it.
var loadEngine = func() (engine, error) {
	engineOnce.Do(func() {
		engineInst, engineErr = openNativeEngine()
	})
	return engineInst, engineErr
}

// Available reports whether libdav1d could be loaded.
func Available() bool {
	_, err := loadEngine()
	return err == nil
}

// Version returns the libdav1d version string, or "" when the library
// is unavailable.
func Version() string {
	eng, err := loadEngine()
	if err != nil {
		return ""
	}
	return eng.version()
}

// builtinDefaults mirrors dav1d_default_settings for use without the
// native library.
func builtinDefaults(s *cSettings) {
	*s = cSettings{
		applyGrain:      1,
		allLayers:       1,
		inloopFilters:   uint32(InloopFilterAll),
		decodeFrameType: uint32(DecodeFrameTypeAll),
	}
}
