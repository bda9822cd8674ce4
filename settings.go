package dav1d

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/logging"
)

// InloopFilterType is a bitmask selecting which post-filters run.
type InloopFilterType uint32

const (
	InloopFilterNone        InloopFilterType = 0
	InloopFilterDeblock     InloopFilterType = 1 << 0
	InloopFilterCDEF        InloopFilterType = 1 << 1
	InloopFilterRestoration InloopFilterType = 1 << 2
	InloopFilterAll         InloopFilterType = InloopFilterDeblock | InloopFilterCDEF | InloopFilterRestoration
)

func (f InloopFilterType) String() string {
	if f == InloopFilterNone {
		return "none"
	}
	var parts []string
	if f&InloopFilterDeblock != 0 {
		parts = append(parts, "deblock")
	}
	if f&InloopFilterCDEF != 0 {
		parts = append(parts, "cdef")
	}
	if f&InloopFilterRestoration != 0 {
		parts = append(parts, "restoration")
	}
	if rest := f &^ InloopFilterAll; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// DecodeFrameType restricts which frames are decoded.
type DecodeFrameType uint32

const (
	DecodeFrameTypeAll       DecodeFrameType = 0
	DecodeFrameTypeReference DecodeFrameType = 1
	DecodeFrameTypeIntra     DecodeFrameType = 2
	DecodeFrameTypeKey       DecodeFrameType = 3
)

func (t DecodeFrameType) String() string {
	switch t {
	case DecodeFrameTypeAll:
		return "all"
	case DecodeFrameTypeReference:
		return "reference"
	case DecodeFrameTypeIntra:
		return "intra"
	case DecodeFrameTypeKey:
		return "key"
	default:
		return fmt.Sprintf("DecodeFrameType(%d)", uint32(t))
	}
}

// ErrInvalidDecodeFrameType matches every *InvalidDecodeFrameTypeError.
var ErrInvalidDecodeFrameType = errors.New("dav1d: invalid decode frame type")

// InvalidDecodeFrameTypeError reports a raw value outside DecodeFrameType.
type InvalidDecodeFrameTypeError struct {
	Value uint32
}

func (e *InvalidDecodeFrameTypeError) Error() string {
	return fmt.Sprintf("dav1d: invalid decode frame type %d", e.Value)
}

func (e *InvalidDecodeFrameTypeError) Is(target error) bool {
	return target == ErrInvalidDecodeFrameType
}

// DecodeFrameTypeFromRaw validates a raw native value.
func DecodeFrameTypeFromRaw(raw uint32) (DecodeFrameType, error) {
	t := DecodeFrameType(raw)
	switch t {
	case DecodeFrameTypeAll, DecodeFrameTypeReference, DecodeFrameTypeIntra, DecodeFrameTypeKey:
		return t, nil
	}
	return 0, &InvalidDecodeFrameTypeError{Value: raw}
}

// Settings configures a Decoder. Obtain one from NewSettings; the zero
// value does not carry the library defaults.
type Settings struct {
	raw           cSettings
	loggerFactory logging.LoggerFactory
	quietNative   bool
}

// NewSettings returns the library defaults. When libdav1d cannot be
// loaded the documented dav1d defaults are used instead.
func NewSettings() Settings {
	var s Settings
	eng, err := loadEngine()
	if err != nil {
		builtinDefaults(&s.raw)
		return s
	}
	eng.defaultSettings(&s.raw)
	return s
}

// Threads is the number of worker threads. 0 lets dav1d pick.
func (s *Settings) Threads() int           { return int(s.raw.nThreads) }
func (s *Settings) SetThreads(n int)       { s.raw.nThreads = int32(n) }
func (s *Settings) MaxFrameDelay() int     { return int(s.raw.maxFrameDelay) }
func (s *Settings) SetMaxFrameDelay(n int) { s.raw.maxFrameDelay = int32(n) }

func (s *Settings) ApplyGrain() bool { return s.raw.applyGrain != 0 }
func (s *Settings) SetApplyGrain(v bool) {
	s.raw.applyGrain = boolToInt32(v)
}

func (s *Settings) OperatingPoint() int     { return int(s.raw.operatingPoint) }
func (s *Settings) SetOperatingPoint(n int) { s.raw.operatingPoint = int32(n) }

func (s *Settings) AllLayers() bool     { return s.raw.allLayers != 0 }
func (s *Settings) SetAllLayers(v bool) { s.raw.allLayers = boolToInt32(v) }

// FrameSizeLimit caps width*height of decoded frames. 0 means unlimited.
func (s *Settings) FrameSizeLimit() uint32     { return s.raw.frameSizeLimit }
func (s *Settings) SetFrameSizeLimit(n uint32) { s.raw.frameSizeLimit = n }

func (s *Settings) StrictStdCompliance() bool { return s.raw.strictStdCompliance != 0 }
func (s *Settings) SetStrictStdCompliance(v bool) {
	s.raw.strictStdCompliance = boolToInt32(v)
}

func (s *Settings) OutputInvisibleFrames() bool { return s.raw.outputInvisibleFrames != 0 }
func (s *Settings) SetOutputInvisibleFrames(v bool) {
	s.raw.outputInvisibleFrames = boolToInt32(v)
}

func (s *Settings) InloopFilters() InloopFilterType { return InloopFilterType(s.raw.inloopFilters) }
func (s *Settings) SetInloopFilters(f InloopFilterType) {
	s.raw.inloopFilters = uint32(f & InloopFilterAll)
}

// DecodeFrameType returns the configured frame type filter. A raw value
// the binding does not know is reported as an error.
func (s *Settings) DecodeFrameType() (DecodeFrameType, error) {
	return DecodeFrameTypeFromRaw(s.raw.decodeFrameType)
}

func (s *Settings) SetDecodeFrameType(t DecodeFrameType) error {
	if _, err := DecodeFrameTypeFromRaw(uint32(t)); err != nil {
		return err
	}
	s.raw.decodeFrameType = uint32(t)
	return nil
}

// SetLoggerFactory sets the factory the Decoder takes its "dav1d" scoped
// logger from. nil selects logging.NewDefaultLoggerFactory.
func (s *Settings) SetLoggerFactory(f logging.LoggerFactory) { s.loggerFactory = f }

// SetNativeLogging enables or disables libdav1d's own stderr logger.
func (s *Settings) SetNativeLogging(enabled bool) { s.quietNative = !enabled }

func (s *Settings) NativeLogging() bool { return !s.quietNative }

func (s *Settings) logger() logging.LeveledLogger {
	f := s.loggerFactory
	if f == nil {
		f = logging.NewDefaultLoggerFactory()
	}
	return f.NewLogger("dav1d")
}

func boolToInt32(v bool) int32 {
	if v {
		return 1
	}
	return 0
}
