package demux

import (
	"github.com/pion/rtp/codecs/av1/obu"
)

// temporalDelimiter is a sized, empty temporal delimiter OBU.
var temporalDelimiter = (&obu.OBU{
	Header: obu.Header{Type: obu.OBUTemporalDelimiter, HasSizeField: true},
}).Marshal()

// ReadLEB128 decodes a leb128 value of at most 8 bytes. It returns the
// value and the number of bytes read, or 0 bytes when data holds no
// valid value.
func ReadLEB128(data []byte) (uint64, int) {
	if len(data) > 8 {
		data = data[:8]
	}
	v, n, err := obu.ReadLeb128(data)
	if err != nil {
		return 0, 0
	}
	return uint64(v), int(n)
}

// AppendLEB128 appends the leb128 encoding of v to dst.
func AppendLEB128(dst []byte, v uint64) []byte {
	return append(dst, obu.WriteToLeb128(uint(v))...)
}

// EnsureOBUSize returns unit with obu_has_size_field set, adding the
// size field if the OBU lacks one. Sized or malformed OBUs are returned
// unchanged.
func EnsureOBUSize(unit []byte) []byte {
	h, err := obu.ParseOBUHeader(unit)
	if err != nil || h.HasSizeField {
		return unit
	}
	h.HasSizeField = true
	sized := obu.OBU{Header: *h, Payload: unit[h.Size():]}
	return sized.Marshal()
}

// forEachOBU walks a low overhead bitstream (sized OBUs, where the last
// OBU may be unsized) and calls fn with each complete OBU until fn
// returns false. It stops at the first malformed OBU.
func forEachOBU(data []byte, fn func(typ obu.Type, unit []byte) bool) {
	for off := 0; off < len(data); {
		h, err := obu.ParseOBUHeader(data[off:])
		if err != nil {
			return
		}
		hs := h.Size()
		end := len(data)
		if h.HasSizeField {
			size, n := ReadLEB128(data[off+hs:])
			if n == 0 {
				return
			}
			end = off + hs + n + int(size)
			if size > uint64(len(data)) || end > len(data) {
				return
			}
		}
		if !fn(h.Type, data[off:end]) {
			return
		}
		off = end
	}
}

// ExtractSequenceHeader returns the first sequence header OBU in data,
// or nil.
func ExtractSequenceHeader(data []byte) []byte {
	var seq []byte
	forEachOBU(data, func(typ obu.Type, unit []byte) bool {
		if typ == obu.OBUSequenceHeader {
			seq = unit
			return false
		}
		return true
	})
	return seq
}

// normalizeTemporalUnit prefixes a temporal delimiter and, when the unit
// has no sequence header of its own, the cached one.
func normalizeTemporalUnit(data, seqHeader []byte) []byte {
	out := make([]byte, 0, len(temporalDelimiter)+len(seqHeader)+len(data))
	out = append(out, temporalDelimiter...)
	if seqHeader != nil && ExtractSequenceHeader(data) == nil {
		out = append(out, seqHeader...)
	}
	return append(out, data...)
}
