package dav1d

import (
	"fmt"
)

// ContentLightLevel is the HDR content light level metadata of a frame,
// in cd/m².
type ContentLightLevel struct {
	MaxContentLightLevel      uint16
	MaxFrameAverageLightLevel uint16
}

// MasteringDisplay is the HDR mastering display colour volume of a
// frame. Primaries and WhitePoint are 0.16 fixed point chromaticity
// coordinates ordered R, G, B; luminances are 24.8 and 18.14 fixed point
// cd/m² as coded in the bitstream.
type MasteringDisplay struct {
	Primaries    [3][2]uint16
	WhitePoint   [2]uint16
	MaxLuminance uint32
	MinLuminance uint32
}

// ContentLight returns the content light level metadata, if the stream
// carried any for this frame.
func (p *Picture) ContentLight() (ContentLightLevel, bool) {
	cl := p.raw().contentLight
	if cl == nil {
		return ContentLightLevel{}, false
	}
	return ContentLightLevel{
		MaxContentLightLevel:      cl.maxContentLightLevel,
		MaxFrameAverageLightLevel: cl.maxFrameAverageLightLevel,
	}, true
}

// MasteringDisplay returns the mastering display metadata, if the stream
// carried any for this frame.
func (p *Picture) MasteringDisplay() (MasteringDisplay, bool) {
	md := p.raw().masteringDisplay
	if md == nil {
		return MasteringDisplay{}, false
	}
	return MasteringDisplay{
		Primaries:    md.primaries,
		WhitePoint:   md.whitePoint,
		MaxLuminance: md.maxLuminance,
		MinLuminance: md.minLuminance,
	}, true
}

// SequenceHeader is a snapshot of the commonly used fields of an AV1
// sequence header.
type SequenceHeader struct {
	Profile                int
	MaxWidth               int
	MaxHeight              int
	Layout                 PixelLayout
	BitDepth               int
	ColorPrimaries         ColorPrimaries
	TransferCharacteristic TransferCharacteristic
	MatrixCoefficients     MatrixCoefficients
	ColorRange             ColorRange
	ChromaLocation         ChromaLocation
	NumOperatingPoints     int
}

func sequenceHeaderFrom(h *cSequenceHeader) SequenceHeader {
	s := SequenceHeader{
		Profile:                int(h.profile),
		MaxWidth:               int(h.maxWidth),
		MaxHeight:              int(h.maxHeight),
		Layout:                 PixelLayout(h.layout),
		BitDepth:               8 + 2*int(h.hbd),
		ColorPrimaries:         ColorPrimariesUnspecified,
		TransferCharacteristic: TransferUnspecified,
		MatrixCoefficients:     MatrixUnspecified,
		NumOperatingPoints:     int(h.numOperatingPoints),
	}
	if h.pri <= 0xff {
		s.ColorPrimaries = ColorPrimaries(h.pri).normalize()
	}
	if h.trc <= 0xff {
		s.TransferCharacteristic = TransferCharacteristic(h.trc).normalize()
	}
	if h.mtrx <= 0xff {
		s.MatrixCoefficients = MatrixCoefficients(h.mtrx).normalize()
	}
	if h.colorRange != 0 {
		s.ColorRange = ColorRangeFull
	}
	switch h.chr {
	case 1:
		s.ChromaLocation = ChromaLocationLeft
	case 2:
		s.ChromaLocation = ChromaLocationTopLeft
	}
	return s
}

// SequenceHeader returns the sequence header the frame was decoded with.
func (p *Picture) SequenceHeader() (SequenceHeader, bool) {
	h := p.raw().seqHdr
	if h == nil {
		return SequenceHeader{}, false
	}
	return sequenceHeaderFrom(h), true
}

// ParseSequenceHeader locates and parses the first sequence header OBU
// in data without creating a decoder.
func ParseSequenceHeader(data []byte) (SequenceHeader, error) {
	if len(data) == 0 {
		return SequenceHeader{}, ErrInvalidArgument
	}
	eng, err := loadEngine()
	if err != nil {
		return SequenceHeader{}, err
	}
	out := new(cSequenceHeaderStorage)
	if err := errorFromCode(eng.parseSequenceHeader(out, data)); err != nil {
		return SequenceHeader{}, fmt.Errorf("parse sequence header: %w", err)
	}
	return sequenceHeaderFrom(&out.hdr), nil
}

// FrameType is the AV1 frame_type of a frame header.
type FrameType uint32

const (
	FrameTypeKey FrameType = iota
	FrameTypeInter
	FrameTypeIntra
	FrameTypeSwitch
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeKey:
		return "key"
	case FrameTypeInter:
		return "inter"
	case FrameTypeIntra:
		return "intra"
	case FrameTypeSwitch:
		return "switch"
	default:
		return fmt.Sprintf("FrameType(%d)", uint32(t))
	}
}

// FrameHeader is a snapshot of the commonly used fields of an AV1 frame
// header.
type FrameHeader struct {
	FrameType              FrameType
	CodedWidth             int
	UpscaledWidth          int
	Height                 int
	FrameOffset            int
	TemporalID             int
	SpatialID              int
	ShowExistingFrame      bool
	ExistingFrameIdx       int
	FrameID                uint32
	FramePresentationDelay uint32
	ShowFrame              bool
	ShowableFrame          bool
	FilmGrain              bool
}

// FrameHeader returns the header of the frame.
func (p *Picture) FrameHeader() (FrameHeader, bool) {
	h := p.raw().frameHdr
	if h == nil {
		return FrameHeader{}, false
	}
	return FrameHeader{
		FrameType:              FrameType(h.frameType),
		CodedWidth:             int(h.width[0]),
		UpscaledWidth:          int(h.width[1]),
		Height:                 int(h.height),
		FrameOffset:            int(h.frameOffset),
		TemporalID:             int(h.temporalID),
		SpatialID:              int(h.spatialID),
		ShowExistingFrame:      h.showExistingFrame != 0,
		ExistingFrameIdx:       int(h.existingFrameIdx),
		FrameID:                h.frameID,
		FramePresentationDelay: h.framePresentationDelay,
		ShowFrame:              h.showFrame != 0,
		ShowableFrame:          h.showableFrame != 0,
		FilmGrain:              h.filmGrainPresent != 0,
	}, true
}
