package demux

import (
	"fmt"
	"io"
	"strings"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// IVFReader reads AV1 packets from an IVF stream.
type IVFReader struct {
	r      *ivfreader.IVFReader
	header *ivfreader.IVFFileHeader
}

// IVFOption configures an IVFReader.
type IVFOption func(*ivfConfig)

type ivfConfig struct {
	anyFourCC bool
}

// WithAnyFourCC accepts streams whose FourCC is not AV01.
func WithAnyFourCC() IVFOption {
	return func(c *ivfConfig) { c.anyFourCC = true }
}

// NewIVFReader parses the IVF file header from r.
func NewIVFReader(r io.Reader, opts ...IVFOption) (*IVFReader, error) {
	var cfg ivfConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return nil, fmt.Errorf("demux: ivf header: %w", err)
	}
	if header.TimebaseNumerator == 0 {
		return nil, fmt.Errorf("demux: ivf timebase 0/%d", header.TimebaseDenominator)
	}
	if !cfg.anyFourCC && !strings.EqualFold(header.FourCC, "AV01") {
		return nil, fmt.Errorf("%w: ivf fourcc %q", ErrUnsupportedCodec, header.FourCC)
	}
	return &IVFReader{r: ivf, header: header}, nil
}

// Info returns the stream description from the file header.
func (r *IVFReader) Info() StreamInfo {
	return StreamInfo{
		Format:      FormatIVF,
		FourCC:      r.header.FourCC,
		Width:       int(r.header.Width),
		Height:      int(r.header.Height),
		TimebaseNum: r.header.TimebaseNumerator,
		TimebaseDen: r.header.TimebaseDenominator,
		Frames:      int(r.header.NumFrames),
	}
}

// ReadPacket returns the next frame with its timestamp converted to
// milliseconds.
func (r *IVFReader) ReadPacket() (Packet, error) {
	data, fh, err := r.r.ParseNextFrame()
	if err != nil {
		if err == io.EOF {
			return Packet{}, io.EOF
		}
		return Packet{}, fmt.Errorf("demux: ivf frame: %w", err)
	}
	return Packet{
		Data:     data,
		PTS:      rescale(r.rawPTS(fh.Timestamp), r.header.TimebaseNumerator, r.header.TimebaseDenominator),
		Keyframe: ExtractSequenceHeader(data) != nil,
	}, nil
}

// rawPTS recovers the pts stored in the file from ivfreader's
// Timestamp, which is floor(pts*den/num). For den >= num exactly one
// integer maps to it: ceil(ts*num/den).
func (r *IVFReader) rawPTS(ts uint64) int64 {
	num, den := uint64(r.header.TimebaseNumerator), uint64(r.header.TimebaseDenominator)
	return int64((ts*num + den - 1) / den)
}
