// Package pipeline runs the per-stream data flow: format detection,
// demuxing, packed B-frame unpacking for MPEG-4 Part 2 and delivery of the
// resulting access units to a Sink, while collecting telemetry.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reframe/internal/demux"
	"github.com/zsiec/reframe/internal/diag"
	"github.com/zsiec/reframe/internal/media"
	"github.com/zsiec/reframe/internal/metrics"
	"github.com/zsiec/reframe/internal/mpeg4"
)

// readBufferSize covers the probe window with room for several TS packets.
const readBufferSize = 64 << 10

// StatsRecorder receives per-unit telemetry for output units.
type StatsRecorder interface {
	RecordUnit(bytes int, keyframe bool)
}

// Stats summarizes one pipeline run.
type Stats struct {
	Format   string
	Codec    string
	UnitsIn  int64
	BytesIn  int64
	UnitsOut int64
	BytesOut int64
	Unpack   mpeg4.Stats
	Elapsed  time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("%s/%s: %d units in (%s), %d units out (%s), %d unpacked, %d n-vops dropped in %s",
		s.Format, s.Codec,
		s.UnitsIn, humanize.Bytes(uint64(s.BytesIn)),
		s.UnitsOut, humanize.Bytes(uint64(s.BytesOut)),
		s.Unpack.Unpacked, s.Unpack.NVOPsDropped,
		s.Elapsed.Round(time.Millisecond))
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFormat skips detection and reads the input as format.
func WithFormat(format string) Option {
	return func(p *Pipeline) {
		p.format = format
	}
}

// WithChunkSize sets the read size for raw formats.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) {
		p.chunkSize = n
	}
}

// WithMaxFrameSize bounds raw frames.
func WithMaxFrameSize(n int) Option {
	return func(p *Pipeline) {
		p.maxFrame = n
	}
}

// WithReporter sets the diagnostics sink shared by every stage.
func WithReporter(r diag.Reporter) Option {
	return func(p *Pipeline) {
		p.report = r
	}
}

// WithMetrics counts units, bytes and anomalies on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithRecorder adds a recorder fed with every output unit.
func WithRecorder(r StatsRecorder) Option {
	return func(p *Pipeline) {
		p.recorders = append(p.recorders, r)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// Pipeline bridges a single stream's Demuxer and Sink.
type Pipeline struct {
	log       *slog.Logger
	key       string
	input     io.Reader
	sink      Sink
	report    diag.Reporter
	metrics   *metrics.Metrics
	recorders []StatsRecorder

	format    string
	chunkSize int
	maxFrame  int

	stats Stats
}

// New creates a Pipeline that reads input and writes to sink. The sink is
// not closed by the pipeline.
func New(key string, input io.Reader, sink Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		key:   key,
		input: input,
		sink:  sink,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	p.log = p.log.With("stream", key)
	if p.report == nil {
		p.report = diag.NewLogReporter(p.log)
	}
	if p.metrics != nil {
		p.report = p.metrics.Reporter(p.report)
	}
	return p
}

// Stats returns the summary of the last run. It is complete once Run has
// returned.
func (p *Pipeline) Stats() Stats {
	return p.stats
}

// Run detects the input format, if not given, and processes the stream
// until end of input. Cancellation of ctx is not an error.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()
	defer func() { p.stats.Elapsed = time.Since(start) }()

	br := bufio.NewReaderSize(p.input, readBufferSize)
	if p.format == "" {
		format, err := demux.Detect(br)
		if err != nil {
			return fmt.Errorf("pipeline: detect input format: %w", err)
		}
		p.format = format
		p.log.Info("detected input format", "format", format)
	}

	dopts := []demux.Option{
		demux.WithChunkSize(p.chunkSize),
		demux.WithMaxFrameSize(p.maxFrame),
		demux.WithReporter(p.report),
	}
	codec, err := demux.CodecFor(p.format)
	if err != nil {
		return err
	}
	if p.metrics != nil {
		dopts = append(dopts, demux.WithStats(p.metrics.DemuxRecorder(codec)))
		p.recorders = append(p.recorders, p.metrics.OutputRecorder(codec))
		p.metrics.Streams.Inc()
		defer p.metrics.Streams.Dec()
	}
	d, err := demux.NewDemuxer(br, p.format, p.log, dopts...)
	if err != nil {
		return err
	}
	p.stats.Format, p.stats.Codec = p.format, codec

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := d.Run(gctx)
		p.log.Debug("demuxer exited", "error", err)
		return err
	})
	g.Go(func() error {
		return p.forward(gctx, d)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		p.log.Info("pipeline stopped", "stats", p.stats.String())
		return nil
	}
	if err != nil {
		return err
	}
	p.log.Info("stream finished", "stats", p.stats.String())
	return nil
}

// forward drains the demuxer into the sink, unpacking MPEG-4 units.
func (p *Pipeline) forward(ctx context.Context, d *demux.Demuxer) error {
	var unpacker *mpeg4.Unpacker
	if d.Codec() == demux.CodecMPEG4 {
		unpacker = mpeg4.New(mpeg4.WithReporter(p.report), mpeg4.WithLogger(p.log))
		defer func() {
			p.stats.Unpack = unpacker.Stats()
			unpacker.Close()
		}()
	}

	for u := range d.Units() {
		p.stats.UnitsIn++
		p.stats.BytesIn += int64(u.Size())

		if unpacker == nil {
			if err := p.write(u); err != nil {
				return err
			}
			continue
		}

		if u.ExtraData != nil {
			extra, err := unpacker.Init(u.ExtraData)
			if err != nil {
				return err
			}
			u.ExtraData = extra
		}
		out, err := unpacker.Filter(u)
		if err != nil {
			return fmt.Errorf("pipeline: unpack: %w", err)
		}
		if err := p.write(out); err != nil {
			return err
		}
	}

	if unpacker != nil && ctx.Err() == nil {
		unpacker.Flush()
	}
	return nil
}

func (p *Pipeline) write(u *media.AccessUnit) error {
	n, key := u.Size(), u.IsKeyframe()
	if err := p.sink.WriteUnit(u); err != nil {
		return fmt.Errorf("pipeline: write unit: %w", err)
	}
	p.stats.UnitsOut++
	p.stats.BytesOut += int64(n)
	for _, r := range p.recorders {
		r.RecordUnit(n, key)
	}
	return nil
}
