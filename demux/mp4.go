package demux

import (
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
)

// MP4Reader reads the samples of the first video track of a fragmented
// MP4 file. The track must be AV1 (av01 sample entry).
type MP4Reader struct {
	info    StreamInfo
	samples []Packet
	next    int
}

// NewMP4Reader parses a fragmented MP4 file from rs.
func NewMP4Reader(rs io.ReadSeeker) (*MP4Reader, error) {
	f, err := mp4.DecodeFile(rs)
	if err != nil {
		return nil, fmt.Errorf("demux: decode mp4: %w", err)
	}
	if !f.IsFragmented() || f.Init == nil || f.Init.Moov == nil {
		return nil, fmt.Errorf("demux: progressive mp4 not supported, use fragmented mp4")
	}

	var (
		trackID   uint32
		timescale uint32 = 1000
		trex      *mp4.TrexBox
		config    []byte
		r         = &MP4Reader{info: StreamInfo{Format: FormatMP4}}
	)
	for _, trak := range f.Init.Moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		trackID = trak.Tkhd.TrackID
		if trak.Mdia.Mdhd != nil {
			timescale = trak.Mdia.Mdhd.Timescale
		}
		if trak.Mdia.Minf != nil && trak.Mdia.Minf.Stbl != nil && trak.Mdia.Minf.Stbl.Stsd != nil {
			for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
				vse, ok := child.(*mp4.VisualSampleEntryBox)
				if !ok {
					continue
				}
				r.info.FourCC = vse.Type()
				r.info.Width = int(vse.Width)
				r.info.Height = int(vse.Height)
				if vse.Av1C != nil {
					config = vse.Av1C.ConfigOBUs
				}
				break
			}
		}
		break
	}
	if trackID == 0 {
		return nil, fmt.Errorf("demux: no video track found")
	}
	if r.info.FourCC != "av01" {
		return nil, fmt.Errorf("%w: mp4 sample entry %q", ErrUnsupportedCodec, r.info.FourCC)
	}
	r.info.TimebaseNum, r.info.TimebaseDen = 1, timescale
	if mvex := f.Init.Moov.Mvex; mvex != nil {
		for _, t := range mvex.Trexs {
			if t.TrackID == trackID {
				trex = t
				break
			}
		}
	}

	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				if traf.Tfhd.TrackID != trackID {
					continue
				}
				var decodeTime uint64
				if traf.Tfdt != nil {
					decodeTime = traf.Tfdt.BaseMediaDecodeTime()
				}
				samples, err := frag.GetFullSamples(trex)
				if err != nil {
					return nil, fmt.Errorf("demux: mp4 samples: %w", err)
				}
				for _, s := range samples {
					r.samples = append(r.samples, Packet{
						Data:     s.Data,
						PTS:      rescale(int64(decodeTime), 1, timescale),
						Duration: rescale(int64(s.Dur), 1, timescale),
						Keyframe: s.Flags == mp4.SyncSampleFlags,
					})
					decodeTime += uint64(s.Dur)
				}
			}
		}
	}
	r.info.Frames = len(r.samples)

	// The sequence header may live only in the av1C box.
	if len(r.samples) > 0 && len(config) > 0 && ExtractSequenceHeader(r.samples[0].Data) == nil {
		first := &r.samples[0]
		first.Data = append(append([]byte(nil), config...), first.Data...)
	}
	return r, nil
}

// Info describes the video track.
func (r *MP4Reader) Info() StreamInfo { return r.info }

// ReadPacket returns the next sample in decode order.
func (r *MP4Reader) ReadPacket() (Packet, error) {
	if r.next >= len(r.samples) {
		return Packet{}, io.EOF
	}
	p := r.samples[r.next]
	r.next++
	return p, nil
}
