// Package demux extracts AV1 temporal units from containers and RTP
// streams so they can be fed to a dav1d.Decoder.
package demux

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Packet is one AV1 temporal unit.
type Packet struct {
	Data []byte
	// PTS and Duration are in milliseconds.
	PTS      int64
	Duration int64
	// Keyframe is the container's random access flag where it has one,
	// otherwise whether the unit carries a sequence header.
	Keyframe bool
}

// Reader is a source of packets. ReadPacket returns io.EOF after the
// last packet.
type Reader interface {
	ReadPacket() (Packet, error)
}

var (
	// ErrUnsupportedCodec is returned for streams that are not AV1.
	ErrUnsupportedCodec = errors.New("demux: unsupported codec")
	// ErrUnknownFormat is returned when no container signature matches.
	ErrUnknownFormat = errors.New("demux: unknown container format")
)

// Format is a container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatIVF
	FormatMP4
)

func (f Format) String() string {
	switch f {
	case FormatIVF:
		return "ivf"
	case FormatMP4:
		return "mp4"
	default:
		return "unknown"
	}
}

// DetectFormat identifies a container from its first bytes. Twelve bytes
// are enough.
func DetectFormat(head []byte) Format {
	switch {
	case len(head) >= 4 && bytes.Equal(head[:4], []byte("DKIF")):
		return FormatIVF
	case len(head) >= 8 && isMP4Box(head[4:8]):
		return FormatMP4
	default:
		return FormatUnknown
	}
}

func isMP4Box(typ []byte) bool {
	switch string(typ) {
	case "ftyp", "styp", "moov", "moof", "free", "mdat":
		return true
	}
	return false
}

// StreamInfo describes an opened stream.
type StreamInfo struct {
	Format Format
	FourCC string
	Width  int
	Height int
	// Timebase is TimebaseNum/TimebaseDen seconds per tick.
	TimebaseNum uint32
	TimebaseDen uint32
	// Frames is the frame count the container declares, or 0.
	Frames int
}

// File is a Reader over a container file.
type File struct {
	Reader
	Info StreamInfo
	f    *os.File
}

// OpenFile opens an IVF or fragmented MP4 file.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	head, err := bufio.NewReader(f).Peek(12)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("demux: read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	out := &File{f: f}
	switch DetectFormat(head) {
	case FormatIVF:
		r, err := NewIVFReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, err
		}
		out.Reader, out.Info = r, r.Info()
	case FormatMP4:
		r, err := NewMP4Reader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		out.Reader, out.Info = r, r.Info()
	default:
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
	}
	return out, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// rescale converts ts ticks of num/den seconds to milliseconds.
func rescale(ts int64, num, den uint32) int64 {
	if den == 0 {
		return ts
	}
	return ts * 1000 * int64(num) / int64(den)
}
