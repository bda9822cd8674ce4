// Package y4m writes decoded pictures as a YUV4MPEG2 stream.
package y4m

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/thesyncim/dav1d"
)

// ErrFormatChange is returned when a picture's size, layout or bit depth
// differs from the first picture written. YUV4MPEG2 has no way to signal
// a change mid-stream.
var ErrFormatChange = errors.New("y4m: picture format changed mid-stream")

type format struct {
	width, height int
	layout        dav1d.PixelLayout
	depth         int
}

// Writer writes a YUV4MPEG2 stream. The stream header is taken from the
// first picture.
type Writer struct {
	w      *bufio.Writer
	fpsNum int
	fpsDen int
	format format
	frames int
}

// Option configures a Writer.
type Option func(*Writer)

// WithFrameRate sets the frame rate written to the header. The default
// is 25:1.
func WithFrameRate(num, den int) Option {
	return func(w *Writer) {
		w.fpsNum, w.fpsDen = num, den
	}
}

func NewWriter(w io.Writer, opts ...Option) *Writer {
	yw := &Writer{w: bufio.NewWriter(w), fpsNum: 25, fpsDen: 1}
	for _, opt := range opts {
		opt(yw)
	}
	return yw
}

// colorspace returns the C tag for a layout and depth, following the
// names dav1d's own y4m output uses.
func colorspace(layout dav1d.PixelLayout, depth int, chroma dav1d.ChromaLocation) (string, error) {
	var base string
	switch layout {
	case dav1d.PixelLayoutI400:
		base = "mono"
	case dav1d.PixelLayoutI420:
		if depth == 8 {
			switch chroma {
			case dav1d.ChromaLocationLeft:
				return "420mpeg2", nil
			case dav1d.ChromaLocationTopLeft:
				return "420", nil
			default:
				return "420jpeg", nil
			}
		}
		base = "420p"
	case dav1d.PixelLayoutI422:
		base = "422"
	case dav1d.PixelLayoutI444:
		base = "444"
	default:
		return "", fmt.Errorf("y4m: unsupported layout %v", layout)
	}
	switch depth {
	case 8:
		return base, nil
	case 10, 12:
		if base == "420p" || base == "mono" {
			return fmt.Sprintf("%s%d", base, depth), nil
		}
		return fmt.Sprintf("%sp%d", base, depth), nil
	default:
		return "", fmt.Errorf("y4m: unsupported bit depth %d", depth)
	}
}

// Frame is one raw picture. Planes hold Stride*rows bytes each; U and V
// are unused for PixelLayoutI400.
type Frame struct {
	Width, Height  int
	Layout         dav1d.PixelLayout
	BitDepth       int
	ColorRange     dav1d.ColorRange
	ChromaLocation dav1d.ChromaLocation
	Planes         [3][]byte
	Strides        [3]int
}

func (w *Writer) writeHeader(fr *Frame, f format) error {
	cs, err := colorspace(f.layout, f.depth, fr.ChromaLocation)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("YUV4MPEG2 W%d H%d F%d:%d Ip A0:0 C%s", f.width, f.height, w.fpsNum, w.fpsDen, cs)
	if fr.ColorRange == dav1d.ColorRangeFull {
		header += " XCOLORRANGE=FULL"
	}
	_, err = w.w.WriteString(header + "\n")
	return err
}

// WritePicture appends one decoded picture.
func (w *Writer) WritePicture(p *dav1d.Picture) error {
	fr := Frame{
		Width:          p.Width(),
		Height:         p.Height(),
		Layout:         p.PixelLayout(),
		BitDepth:       p.BitDepth(),
		ColorRange:     p.ColorRange(),
		ChromaLocation: p.ChromaLocation(),
	}
	for _, c := range []dav1d.PlanarImageComponent{dav1d.PlaneY, dav1d.PlaneU, dav1d.PlaneV} {
		pl := p.Plane(c)
		defer pl.Release()
		fr.Planes[c] = pl.Data()
		fr.Strides[c] = pl.Stride()
	}
	return w.WriteFrame(fr)
}

// WriteFrame appends one frame. Only the visible area of each plane is
// written. High bit depth samples are copied as stored, which matches
// the little endian 16-bit words y4m expects on little endian hosts.
func (w *Writer) WriteFrame(fr Frame) error {
	f := format{width: fr.Width, height: fr.Height, layout: fr.Layout, depth: fr.BitDepth}
	if w.frames == 0 {
		if err := w.writeHeader(&fr, f); err != nil {
			return err
		}
		w.format = f
	} else if f != w.format {
		return fmt.Errorf("%w: %dx%d %v %d-bit after %dx%d %v %d-bit", ErrFormatChange,
			f.width, f.height, f.layout, f.depth,
			w.format.width, w.format.height, w.format.layout, w.format.depth)
	}

	bps := 1
	if f.depth > 8 {
		bps = 2
	}
	cw, ch := f.width, f.height
	switch f.layout {
	case dav1d.PixelLayoutI420:
		cw, ch = (f.width+1)/2, (f.height+1)/2
	case dav1d.PixelLayoutI422:
		cw = (f.width + 1) / 2
	}

	if _, err := w.w.WriteString("FRAME\n"); err != nil {
		return err
	}
	if err := w.writePlane(fr.Planes[0], fr.Strides[0], f.width*bps, f.height); err != nil {
		return err
	}
	if f.layout != dav1d.PixelLayoutI400 {
		for c := 1; c < 3; c++ {
			if err := w.writePlane(fr.Planes[c], fr.Strides[c], cw*bps, ch); err != nil {
				return err
			}
		}
	}
	w.frames++
	return nil
}

func (w *Writer) writePlane(data []byte, stride, rowBytes, rows int) error {
	if stride < rowBytes || len(data) < stride*(rows-1)+rowBytes {
		return fmt.Errorf("y4m: plane of %d bytes too small for %d rows of %d", len(data), rows, rowBytes)
	}
	for row := 0; row < rows; row++ {
		if _, err := w.w.Write(data[row*stride : row*stride+rowBytes]); err != nil {
			return err
		}
	}
	return nil
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int { return w.frames }

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error { return w.w.Flush() }
