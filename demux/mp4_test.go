package demux

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/Eyevinn/mp4ff/av1"
	"github.com/Eyevinn/mp4ff/mp4"
)

type mp4Sample struct {
	data []byte
	dur  uint32
	sync bool
}

func buildFragmentedMP4(t *testing.T, codec string, config []byte, timescale uint32, samples []mp4Sample) []byte {
	t.Helper()

	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "en")
	trak := init.Moov.Trak

	var entry mp4.Box = &mp4.Av1CBox{
		CodecConfRec: av1.CodecConfRec{
			Version:            1,
			SeqLevelIdx0:       8,
			ChromaSubsamplingX: 1,
			ChromaSubsamplingY: 1,
			ConfigOBUs:         config,
		},
	}
	trak.Mdia.Minf.Stbl.Stsd.AddChild(mp4.CreateVisualSampleEntryBox(codec, 320, 240, entry))
	trak.Tkhd.Width = mp4.Fixed32(320 << 16)
	trak.Tkhd.Height = mp4.Fixed32(240 << 16)

	frag, err := mp4.CreateFragment(1, 1)
	if err != nil {
		t.Fatalf("create fragment: %v", err)
	}
	var decodeTime uint64
	for _, s := range samples {
		flags := mp4.NonSyncSampleFlags
		if s.sync {
			flags = mp4.SyncSampleFlags
		}
		frag.AddFullSample(mp4.FullSample{
			Sample: mp4.Sample{
				Flags: flags,
				Size:  uint32(len(s.data)),
				Dur:   s.dur,
			},
			DecodeTime: decodeTime,
			Data:       s.data,
		})
		decodeTime += uint64(s.dur)
	}

	var buf bytes.Buffer
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso2", "av01", "mp41"})
	if err := ftyp.Encode(&buf); err != nil {
		t.Fatalf("encode ftyp: %v", err)
	}
	if err := init.Moov.Encode(&buf); err != nil {
		t.Fatalf("encode moov: %v", err)
	}
	if err := frag.Encode(&buf); err != nil {
		t.Fatalf("encode fragment: %v", err)
	}
	return buf.Bytes()
}

func TestMP4Reader(t *testing.T) {
	key := append(append([]byte{0x12, 0x00}, testSeqOBU...), testFrameOBU...)
	delta := append([]byte{0x12, 0x00}, testFrameOBU...)
	data := buildFragmentedMP4(t, "av01", testSeqOBU, 1000, []mp4Sample{
		{data: key, dur: 33, sync: true},
		{data: delta, dur: 34},
		{data: delta, dur: 33},
	})
	if DetectFormat(data) != FormatMP4 {
		t.Fatalf("DetectFormat did not recognise the file")
	}

	r, err := NewMP4Reader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewMP4Reader failed: %v", err)
	}
	info := r.Info()
	if info.FourCC != "av01" || info.Width != 320 || info.Height != 240 || info.Frames != 3 {
		t.Errorf("unexpected info: %+v", info)
	}

	wantPTS := []int64{0, 33, 67}
	wantDur := []int64{33, 34, 33}
	for i := range wantPTS {
		pkt, err := r.ReadPacket()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if pkt.PTS != wantPTS[i] || pkt.Duration != wantDur[i] {
			t.Errorf("packet %d: PTS=%d Duration=%d, want %d/%d", i, pkt.PTS, pkt.Duration, wantPTS[i], wantDur[i])
		}
		want := delta
		if i == 0 {
			want = key
		}
		if !bytes.Equal(pkt.Data, want) {
			t.Errorf("packet %d: data = %x, want %x", i, pkt.Data, want)
		}
	}
	if _, err := r.ReadPacket(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestMP4ReaderPrependsConfigOBUs(t *testing.T) {
	delta := append([]byte{0x12, 0x00}, testFrameOBU...)
	data := buildFragmentedMP4(t, "av01", testSeqOBU, 1000, []mp4Sample{{data: delta, dur: 40, sync: true}})

	r, err := NewMP4Reader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewMP4Reader failed: %v", err)
	}
	pkt, err := r.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if got := ExtractSequenceHeader(pkt.Data); !bytes.Equal(got, testSeqOBU) {
		t.Errorf("first sample lacks the av1C sequence header: %x", pkt.Data)
	}
}

func TestMP4ReaderRejectsOtherCodecs(t *testing.T) {
	data := buildFragmentedMP4(t, "avc1", nil, 1000, []mp4Sample{{data: testFrameOBU, dur: 40, sync: true}})
	if _, err := NewMP4Reader(bytes.NewReader(data)); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
}
