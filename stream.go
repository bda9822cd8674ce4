package dav1d

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/thesyncim/dav1d/demux"
)

// StreamStats summarises a DecodeStream run.
type StreamStats struct {
	Packets  int
	Bytes    int
	Pictures int
	// Backpressure counts SendData or SendPendingData calls answered
	// with ErrAgain.
	Backpressure int
}

// DecodeStream feeds every packet of r to d and passes each decoded
// picture to fn in decode order. The picture is released when fn
// returns, so fn must Clone it to keep it. At the end of r the decoder
// is drained. ctx is checked between packets.
//
// A nil fn discards pictures.
func DecodeStream(ctx context.Context, d *Decoder, r demux.Reader, fn func(*Picture) error) (StreamStats, error) {
	var stats StreamStats

	emit := func(p *Picture) error {
		stats.Pictures++
		defer p.Release()
		if fn == nil {
			return nil
		}
		return fn(p)
	}
	drain := func() error {
		for {
			p, err := d.GetPicture()
			if IsAgain(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := emit(p); err != nil {
				return err
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		pkt, err := r.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read packet: %w", err)
		}
		stats.Packets++
		stats.Bytes += len(pkt.Data)

		opts := []DataOption{WithTimestamp(pkt.PTS)}
		if pkt.Duration > 0 {
			opts = append(opts, WithDuration(pkt.Duration))
		}
		err = d.SendData(pkt.Data, opts...)
		for IsAgain(err) {
			stats.Backpressure++
			if err := drain(); err != nil {
				return stats, err
			}
			err = d.SendPendingData()
		}
		if err != nil {
			return stats, fmt.Errorf("packet %d: %w", stats.Packets-1, err)
		}
		if err := drain(); err != nil {
			return stats, err
		}
	}
	return stats, drain()
}
