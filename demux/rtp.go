package demux

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/rtp/codecs/av1/obu"
)

// av1ClockRate is the RTP clock rate of the AV1 payload format.
const av1ClockRate = 90000

// RTPDepacketizer reassembles AV1 temporal units from RTP packets in the
// AV1 RTP payload format. Units are emitted on the marker bit with sized
// OBUs, a leading temporal delimiter and, for units without one, the
// last sequence header seen. Units that lost packets are dropped.
type RTPDepacketizer struct {
	mu sync.Mutex

	obus     []byte
	fragment []byte
	inFrag   bool
	keyframe bool
	broken   bool
	inUnit   bool

	seqHeader []byte
	timestamp uint32
	nextSeq   uint16

	clock struct {
		started bool
		last    uint32
		ticks   int64
	}
	lastDone    uint32
	hasLastDone bool
	dropped     int
}

// NewRTPDepacketizer returns an empty depacketizer.
func NewRTPDepacketizer() *RTPDepacketizer {
	return &RTPDepacketizer{}
}

// Push adds one packet. It returns a packet and true when pkt completed a
// temporal unit.
func (d *RTPDepacketizer) Push(pkt *rtp.Packet) (Packet, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Late packet of a unit already emitted.
	if d.hasLastDone && int32(pkt.Timestamp-d.lastDone) <= 0 {
		return Packet{}, false, nil
	}
	if d.inUnit && pkt.Timestamp != d.timestamp {
		// The previous unit never saw its marker.
		d.dropped++
		d.resetUnit()
	}
	if d.inUnit && pkt.SequenceNumber != d.nextSeq {
		d.broken = true
	}
	d.inUnit = true
	d.timestamp = pkt.Timestamp
	d.nextSeq = pkt.SequenceNumber + 1

	// AV1Packet caches OBUElements across Unmarshal calls, so each
	// packet needs its own.
	var payload codecs.AV1Packet
	if _, err := payload.Unmarshal(pkt.Payload); err != nil {
		d.broken = true
		return Packet{}, false, fmt.Errorf("demux: av1 rtp payload: %w", err)
	}
	if payload.N {
		d.keyframe = true
	}

	elems := payload.OBUElements
	for i, el := range elems {
		first, last := i == 0, i == len(elems)-1
		if first && payload.Z {
			if !d.inFrag {
				// Continuation of a fragment whose start was lost.
				d.broken = true
				continue
			}
			d.fragment = append(d.fragment, el...)
			if last && payload.Y {
				continue
			}
			d.addOBU(d.fragment)
			d.fragment, d.inFrag = nil, false
			continue
		}
		if first && d.inFrag {
			d.broken = true
			d.fragment, d.inFrag = nil, false
		}
		if last && payload.Y {
			d.fragment = append([]byte(nil), el...)
			d.inFrag = true
			continue
		}
		d.addOBU(el)
	}

	if !pkt.Marker {
		return Packet{}, false, nil
	}

	defer d.resetUnit()
	d.lastDone, d.hasLastDone = pkt.Timestamp, true
	if d.broken || d.inFrag || len(d.obus) == 0 {
		d.dropped++
		return Packet{}, false, nil
	}
	if seq := ExtractSequenceHeader(d.obus); seq != nil {
		d.seqHeader = append(d.seqHeader[:0], seq...)
		d.keyframe = true
	}
	return Packet{
		Data:     normalizeTemporalUnit(d.obus, d.seqHeader),
		PTS:      d.pts(pkt.Timestamp),
		Keyframe: d.keyframe,
	}, true, nil
}

func (d *RTPDepacketizer) addOBU(unit []byte) {
	if len(unit) == 0 {
		return
	}
	h, err := obu.ParseOBUHeader(unit)
	if err != nil {
		d.broken = true
		return
	}
	switch h.Type {
	case obu.OBUTemporalDelimiter, obu.OBUTileList:
		return
	}
	d.obus = append(d.obus, EnsureOBUSize(unit)...)
}

// pts unwraps the 32-bit RTP timestamp and converts it to milliseconds
// since the first unit.
func (d *RTPDepacketizer) pts(ts uint32) int64 {
	if !d.clock.started {
		d.clock.started = true
		d.clock.last = ts
	}
	d.clock.ticks += int64(int32(ts - d.clock.last))
	d.clock.last = ts
	return d.clock.ticks * 1000 / av1ClockRate
}

func (d *RTPDepacketizer) resetUnit() {
	d.obus = d.obus[:0]
	d.fragment, d.inFrag = nil, false
	d.keyframe, d.broken, d.inUnit = false, false, false
}

// Dropped returns the number of temporal units discarded because of
// packet loss or corruption.
func (d *RTPDepacketizer) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Reset forgets all state, including the cached sequence header.
func (d *RTPDepacketizer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetUnit()
	d.seqHeader = nil
	d.clock.started, d.clock.ticks = false, 0
	d.hasLastDone = false
	d.dropped = 0
}

// RTPSource is anything that yields RTP packets, such as
// *webrtc.TrackRemote or an interceptor chain reader.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RTPReader adapts an RTPSource to Reader.
type RTPReader struct {
	src RTPSource
	dep *RTPDepacketizer
}

// NewRTPReader reads AV1 RTP packets from src.
func NewRTPReader(src RTPSource) *RTPReader {
	return &RTPReader{src: src, dep: NewRTPDepacketizer()}
}

// Depacketizer exposes the underlying depacketizer, for statistics.
func (r *RTPReader) Depacketizer() *RTPDepacketizer { return r.dep }

// ReadPacket reads RTP packets until a temporal unit completes. Malformed
// payloads are skipped; source errors, including io.EOF, are returned
// as is.
func (r *RTPReader) ReadPacket() (Packet, error) {
	for {
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			return Packet{}, err
		}
		out, ok, err := r.dep.Push(pkt)
		if err != nil {
			continue
		}
		if ok {
			return out, nil
		}
	}
}

// PacketConnSource reads raw RTP datagrams, for example from a UDP
// socket, and filters them by payload type.
type PacketConnSource struct {
	conn        net.PacketConn
	payloadType uint8
	buf         []byte
}

// NewPacketConnSource returns a source that keeps packets with payload
// type pt. A pt of 0 keeps everything.
func NewPacketConnSource(conn net.PacketConn, pt uint8) *PacketConnSource {
	return &PacketConnSource{conn: conn, payloadType: pt, buf: make([]byte, 1500)}
}

// ReadRTP implements RTPSource.
func (s *PacketConnSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	for {
		n, _, err := s.conn.ReadFrom(s.buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("demux: read rtp: %w", err)
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), s.buf[:n]...)); err != nil {
			continue
		}
		if s.payloadType != 0 && pkt.PayloadType != s.payloadType {
			continue
		}
		return pkt, interceptor.Attributes{}, nil
	}
}
