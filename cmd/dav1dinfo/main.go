// Command dav1dinfo decodes an AV1 stream with libdav1d and prints one
// line per picture.
//
//	dav1dinfo [flags] FILE
//	dav1dinfo --rtp-listen :5004 [flags]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/logging"
	"github.com/urfave/cli/v2"

	"github.com/thesyncim/dav1d"
	"github.com/thesyncim/dav1d/demux"
	"github.com/thesyncim/dav1d/internal/config"
	"github.com/thesyncim/dav1d/internal/y4m"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dav1dinfo:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "dav1dinfo",
		Usage:     "decode an AV1 stream and describe every picture",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "decoder settings `FILE` (YAML)"},
			&cli.IntFlag{Name: "threads", Usage: "worker threads, 0 for auto", Value: -1},
			&cli.IntFlag{Name: "max-frame-delay", Usage: "frame delay, 0 for auto, 1 for low latency", Value: -1},
			&cli.StringFlag{Name: "y4m", Aliases: []string{"o"}, Usage: "write decoded pictures to `FILE` as YUV4MPEG2"},
			&cli.StringFlag{Name: "log-level", Usage: "disabled, error, warn, info, debug or trace", Value: "warn"},
			&cli.StringFlag{Name: "rtp-listen", Usage: "read RTP from UDP `ADDR` instead of a file"},
			&cli.UintFlag{Name: "payload-type", Usage: "RTP payload type to keep, 0 for any"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only print the summary"},
			&cli.BoolFlag{Name: "version-only", Usage: "print the libdav1d version and exit"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	if !dav1d.Available() {
		return cli.Exit("libdav1d not found (set DAV1D_LIB_PATH)", 2)
	}
	if c.Bool("version-only") {
		fmt.Fprintln(c.App.Writer, dav1d.Version())
		return nil
	}

	level, err := parseLogLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = level
	lf.Writer = c.App.ErrWriter
	log := lf.NewLogger("dav1dinfo")

	settings, err := buildSettings(c, lf)
	if err != nil {
		return err
	}

	r, closeInput, err := openInput(c, log)
	if err != nil {
		return err
	}
	defer closeInput()

	d, err := dav1d.NewDecoder(settings)
	if err != nil {
		return fmt.Errorf("open decoder: %w", err)
	}
	defer d.Close()

	var yw *y4m.Writer
	if path := c.String("y4m"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		yw = y4m.NewWriter(f)
		defer func() {
			if err := yw.Flush(); err != nil {
				log.Errorf("flush %s: %v", path, err)
			}
		}()
	}

	out := c.App.Writer
	quiet := c.Bool("quiet")
	stats, err := dav1d.DecodeStream(c.Context, d, r, func(p *dav1d.Picture) error {
		if !quiet {
			fmt.Fprintln(out, describe(p))
		}
		if yw != nil {
			return yw.WritePicture(p)
		}
		return nil
	})
	fmt.Fprintf(out, "packets=%d bytes=%d pictures=%d backpressure=%d\n",
		stats.Packets, stats.Bytes, stats.Pictures, stats.Backpressure)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildSettings(c *cli.Context, lf logging.LoggerFactory) (dav1d.Settings, error) {
	s := dav1d.NewSettings()
	s.SetLoggerFactory(lf)
	if path := c.String("config"); path != "" {
		f, err := config.Load(path)
		if err != nil {
			return s, err
		}
		if err := f.Apply(&s); err != nil {
			return s, fmt.Errorf("%s: %w", path, err)
		}
	}
	// Flags override the file.
	if n := c.Int("threads"); n >= 0 {
		s.SetThreads(n)
	}
	if n := c.Int("max-frame-delay"); n >= 0 {
		s.SetMaxFrameDelay(n)
	}
	return s, nil
}

func openInput(c *cli.Context, log logging.LeveledLogger) (demux.Reader, func(), error) {
	if addr := c.String("rtp-listen"); addr != "" {
		if c.Args().Present() {
			return nil, nil, cli.Exit("--rtp-listen takes no FILE argument", 2)
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("listening for RTP on %s", conn.LocalAddr())
		// Closing the socket ends ReadPacket with net.ErrClosed.
		go func() {
			<-c.Context.Done()
			conn.Close()
		}()
		r := demux.NewRTPReader(demux.NewPacketConnSource(conn, uint8(c.Uint("payload-type"))))
		return rtpEOF{r}, func() { conn.Close() }, nil
	}

	if c.NArg() != 1 {
		return nil, nil, cli.Exit("expected exactly one FILE", 2)
	}
	f, err := demux.OpenFile(c.Args().First())
	if err != nil {
		return nil, nil, err
	}
	info := f.Info
	fmt.Fprintf(c.App.Writer, "%s %s %dx%d timebase=%d/%d frames=%d\n",
		info.Format, info.FourCC, info.Width, info.Height, info.TimebaseNum, info.TimebaseDen, info.Frames)
	return f, func() { f.Close() }, nil
}

// rtpEOF turns a closed socket into a clean end of stream so the
// decoder is drained.
type rtpEOF struct{ r *demux.RTPReader }

func (e rtpEOF) ReadPacket() (demux.Packet, error) {
	p, err := e.r.ReadPacket()
	if errors.Is(err, net.ErrClosed) {
		return p, io.EOF
	}
	return p, err
}

func describe(p *dav1d.Picture) string {
	var b strings.Builder
	if ts, ok := p.Timestamp(); ok {
		fmt.Fprintf(&b, "pts=%d ", ts)
	} else {
		b.WriteString("pts=- ")
	}
	fmt.Fprintf(&b, "%dx%d %v %d-bit", p.Width(), p.Height(), p.PixelLayout(), p.BitDepth())
	if fh, ok := p.FrameHeader(); ok {
		fmt.Fprintf(&b, " %v id=%d offset=%d", fh.FrameType, fh.FrameID, fh.FrameOffset)
		if fh.ShowExistingFrame {
			b.WriteString(" show-existing")
		}
		if fh.FilmGrain {
			b.WriteString(" grain")
		}
	}
	if cl, ok := p.ContentLight(); ok {
		fmt.Fprintf(&b, " maxcll=%d maxfall=%d", cl.MaxContentLightLevel, cl.MaxFrameAverageLightLevel)
	}
	return b.String()
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
}
