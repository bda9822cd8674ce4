package dav1d

// Colorimetry values use the ITU-T H.273 code points, which is also
// what the AV1 sequence header carries. Reserved or unknown code points
// read back as the Unspecified value of each type.

type ColorPrimaries uint8

const (
	ColorPrimariesBT709       ColorPrimaries = 1
	ColorPrimariesUnspecified ColorPrimaries = 2
	ColorPrimariesBT470M      ColorPrimaries = 4
	ColorPrimariesBT470BG     ColorPrimaries = 5
	ColorPrimariesBT601       ColorPrimaries = 6
	ColorPrimariesSMPTE240    ColorPrimaries = 7
	ColorPrimariesGenericFilm ColorPrimaries = 8
	ColorPrimariesBT2020      ColorPrimaries = 9
	ColorPrimariesXYZ         ColorPrimaries = 10
	ColorPrimariesSMPTE431    ColorPrimaries = 11
	ColorPrimariesSMPTE432    ColorPrimaries = 12
	ColorPrimariesEBU3213     ColorPrimaries = 22
)

var colorPrimariesNames = map[ColorPrimaries]string{
	ColorPrimariesBT709:       "bt709",
	ColorPrimariesUnspecified: "unspecified",
	ColorPrimariesBT470M:      "bt470m",
	ColorPrimariesBT470BG:     "bt470bg",
	ColorPrimariesBT601:       "bt601",
	ColorPrimariesSMPTE240:    "smpte240",
	ColorPrimariesGenericFilm: "film",
	ColorPrimariesBT2020:      "bt2020",
	ColorPrimariesXYZ:         "xyz",
	ColorPrimariesSMPTE431:    "smpte431",
	ColorPrimariesSMPTE432:    "smpte432",
	ColorPrimariesEBU3213:     "ebu3213",
}

func (c ColorPrimaries) String() string { return colorPrimariesNames[c.normalize()] }

func (c ColorPrimaries) normalize() ColorPrimaries {
	if _, ok := colorPrimariesNames[c]; !ok {
		return ColorPrimariesUnspecified
	}
	return c
}

type TransferCharacteristic uint8

const (
	TransferBT709        TransferCharacteristic = 1
	TransferUnspecified  TransferCharacteristic = 2
	TransferBT470M       TransferCharacteristic = 4
	TransferBT470BG      TransferCharacteristic = 5
	TransferBT601        TransferCharacteristic = 6
	TransferSMPTE240     TransferCharacteristic = 7
	TransferLinear       TransferCharacteristic = 8
	TransferLog100       TransferCharacteristic = 9
	TransferLog100Sqrt10 TransferCharacteristic = 10
	TransferIEC61966     TransferCharacteristic = 11
	TransferBT1361       TransferCharacteristic = 12
	TransferSRGB         TransferCharacteristic = 13
	TransferBT2020Ten    TransferCharacteristic = 14
	TransferBT2020Twelve TransferCharacteristic = 15
	TransferSMPTE2084    TransferCharacteristic = 16
	TransferSMPTE428     TransferCharacteristic = 17
	TransferHLG          TransferCharacteristic = 18
)

var transferNames = map[TransferCharacteristic]string{
	TransferBT709:        "bt709",
	TransferUnspecified:  "unspecified",
	TransferBT470M:       "bt470m",
	TransferBT470BG:      "bt470bg",
	TransferBT601:        "bt601",
	TransferSMPTE240:     "smpte240",
	TransferLinear:       "linear",
	TransferLog100:       "log100",
	TransferLog100Sqrt10: "log100-sqrt10",
	TransferIEC61966:     "iec61966",
	TransferBT1361:       "bt1361",
	TransferSRGB:         "srgb",
	TransferBT2020Ten:    "bt2020-10",
	TransferBT2020Twelve: "bt2020-12",
	TransferSMPTE2084:    "smpte2084",
	TransferSMPTE428:     "smpte428",
	TransferHLG:          "hlg",
}

func (t TransferCharacteristic) String() string { return transferNames[t.normalize()] }

func (t TransferCharacteristic) normalize() TransferCharacteristic {
	if _, ok := transferNames[t]; !ok {
		return TransferUnspecified
	}
	return t
}

type MatrixCoefficients uint8

const (
	MatrixIdentity    MatrixCoefficients = 0
	MatrixBT709       MatrixCoefficients = 1
	MatrixUnspecified MatrixCoefficients = 2
	MatrixFCC         MatrixCoefficients = 4
	MatrixBT470BG     MatrixCoefficients = 5
	MatrixBT601       MatrixCoefficients = 6
	MatrixSMPTE240    MatrixCoefficients = 7
	MatrixYCgCo       MatrixCoefficients = 8
	MatrixBT2020NCL   MatrixCoefficients = 9
	MatrixBT2020CL    MatrixCoefficients = 10
	MatrixSMPTE2085   MatrixCoefficients = 11
	MatrixChromatNCL  MatrixCoefficients = 12
	MatrixChromatCL   MatrixCoefficients = 13
	MatrixICtCp       MatrixCoefficients = 14
)

var matrixNames = map[MatrixCoefficients]string{
	MatrixIdentity:    "identity",
	MatrixBT709:       "bt709",
	MatrixUnspecified: "unspecified",
	MatrixFCC:         "fcc",
	MatrixBT470BG:     "bt470bg",
	MatrixBT601:       "bt601",
	MatrixSMPTE240:    "smpte240",
	MatrixYCgCo:       "ycgco",
	MatrixBT2020NCL:   "bt2020-ncl",
	MatrixBT2020CL:    "bt2020-cl",
	MatrixSMPTE2085:   "smpte2085",
	MatrixChromatNCL:  "chromat-ncl",
	MatrixChromatCL:   "chromat-cl",
	MatrixICtCp:       "ictcp",
}

func (m MatrixCoefficients) String() string { return matrixNames[m.normalize()] }

func (m MatrixCoefficients) normalize() MatrixCoefficients {
	if _, ok := matrixNames[m]; !ok {
		return MatrixUnspecified
	}
	return m
}

type ColorRange uint8

const (
	ColorRangeLimited ColorRange = iota
	ColorRangeFull
)

func (r ColorRange) String() string {
	if r == ColorRangeFull {
		return "full"
	}
	return "limited"
}

// ChromaLocation is the position of chroma samples relative to luma.
type ChromaLocation uint8

const (
	ChromaLocationUnspecified ChromaLocation = iota
	ChromaLocationLeft                       // dav1d "vertical"
	ChromaLocationTopLeft                    // dav1d "colocated"
)

func (c ChromaLocation) String() string {
	switch c {
	case ChromaLocationLeft:
		return "left"
	case ChromaLocationTopLeft:
		return "topleft"
	default:
		return "unspecified"
	}
}

// unknownSequenceHeader stands in when a picture carries no sequence
// header.
var unknownSequenceHeader = cSequenceHeader{pri: 2, trc: 2, mtrx: 2}

func (p *Picture) colorimetry() SequenceHeader {
	h := p.raw().seqHdr
	if h == nil {
		h = &unknownSequenceHeader
	}
	return sequenceHeaderFrom(h)
}

func (p *Picture) ColorPrimaries() ColorPrimaries {
	return p.colorimetry().ColorPrimaries
}

func (p *Picture) TransferCharacteristic() TransferCharacteristic {
	return p.colorimetry().TransferCharacteristic
}

func (p *Picture) MatrixCoefficients() MatrixCoefficients {
	return p.colorimetry().MatrixCoefficients
}

func (p *Picture) ColorRange() ColorRange {
	return p.colorimetry().ColorRange
}

func (p *Picture) ChromaLocation() ChromaLocation {
	return p.colorimetry().ChromaLocation
}
