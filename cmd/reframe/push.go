package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	srtgo "github.com/zsiec/srtgo"

	srtingest "github.com/zsiec/reframe/internal/ingest/srt"
	"github.com/zsiec/reframe/internal/mpegts"
)

// pushChunk is seven packets, the usual SRT payload for transport streams.
const pushChunk = mpegts.PacketSize * 7

func runPush(ctx context.Context, e *env, args []string) error {
	fs, debug := e.flagSet("push", "[flags] FILE HOST:PORT")
	key := fs.StringP("key", "k", "", "stream key (default: live/ plus the file name)")
	rate := fs.String("rate", "", "send rate per second, e.g. 2MB (default: derived from timestamps)")
	loop := fs.Bool("loop", false, "repeat the file and reconnect on errors until interrupted")
	latency := fs.Duration("latency", srtingest.DefaultLatency, "SRT latency")
	if err := e.parse(fs, debug, args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errUsage
	}
	path, addr := fs.Arg(0), fs.Arg(1)
	if *key == "" {
		base := filepath.Base(path)
		*key = "live/" + strings.TrimSuffix(base, filepath.Ext(base))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data)%mpegts.PacketSize != 0 {
		e.log.Warn("file size is not a whole number of packets", "size", len(data))
	}
	ts := mpegts.ScanTimestamps(data)

	bytesPerSec, err := pushRate(*rate, len(data), ts)
	if err != nil {
		return err
	}
	e.log.Info("pushing",
		"file", path,
		"size", humanize.Bytes(uint64(len(data))),
		"duration", ts.Duration(),
		"rate", humanize.Bytes(uint64(bytesPerSec))+"/s",
		"stream_key", *key,
	)

	loops := 1
	if *loop {
		loops = 0
	}
	p := &pusher{log: e.log, data: data, ts: ts, rate: bytesPerSec, loops: loops}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = *latency
	cfg.StreamID = *key
	for {
		conn, err := srtgo.Dial(addr, cfg)
		if err == nil {
			e.log.Info("connected", "address", addr)
			err = p.send(ctx, conn)
			conn.Close()
			if err == nil {
				e.log.Info("push finished", "sent", humanize.Bytes(uint64(p.sent)))
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		if !*loop {
			return fmt.Errorf("push to %s: %w", addr, err)
		}
		e.log.Warn("connection lost, reconnecting", "address", addr, "error", err)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}

// pushRate parses an explicit rate or derives one from the stream's
// timestamps.
func pushRate(rate string, size int, ts *mpegts.Timestamps) (float64, error) {
	if rate != "" {
		n, err := humanize.ParseBytes(rate)
		if err != nil || n == 0 {
			return 0, fmt.Errorf("%w: --rate %q", errUsage, rate)
		}
		return float64(n), nil
	}
	d := ts.Duration()
	if d <= 0 {
		return 0, fmt.Errorf("%w: no video timestamps to pace by, pass --rate", errUsage)
	}
	return float64(size) / d.Seconds(), nil
}

// pusher sends a transport stream at a fixed byte rate. Between passes
// every timestamp is moved forward by one stream period so a looped file
// plays as one continuous stream.
type pusher struct {
	log   *slog.Logger
	data  []byte
	ts    *mpegts.Timestamps
	rate  float64
	loops int // 0 repeats until ctx is done

	sent  int64
	start time.Time
	pass  int
}

// send writes passes to w until loops are complete. Pacing follows one
// clock across passes and reconnects.
func (p *pusher) send(ctx context.Context, w io.Writer) error {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	for p.loops == 0 || p.pass < p.loops {
		if p.pass > 0 {
			p.ts.Shift(p.data, p.ts.Period())
			p.log.Debug("pass complete", "pass", p.pass, "sent", humanize.Bytes(uint64(p.sent)))
		}
		for i := 0; i < len(p.data); i += pushChunk {
			end := min(i+pushChunk, len(p.data))
			if _, err := w.Write(p.data[i:end]); err != nil {
				return err
			}
			p.sent += int64(end - i)

			due := p.start.Add(time.Duration(float64(p.sent) / p.rate * float64(time.Second)))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
		}
		p.pass++
	}
	return nil
}
