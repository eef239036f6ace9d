package demux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/reframe/internal/diag"
	"github.com/zsiec/reframe/internal/media"
	"github.com/zsiec/reframe/internal/mpegts"
	"github.com/zsiec/reframe/internal/probe"
	"github.com/zsiec/reframe/internal/prores"
)

// Input formats.
const (
	FormatMPEGTS = "mpegts"
	FormatProRes = "prores"
)

// Codecs of the units a Demuxer emits.
const (
	CodecMPEG4  = "mpeg4"
	CodecProRes = "prores"
)

// ErrUnsupportedFormat is returned for a format no reader exists for.
var ErrUnsupportedFormat = errors.New("demux: unsupported format")

func init() {
	// Earlier registrations win score ties.
	if err := probe.Register(FormatMPEGTS, mpegts.Probe); err != nil {
		panic(err)
	}
	if err := probe.Register(FormatProRes, prores.Probe); err != nil {
		panic(err)
	}
}

// Detect identifies the format of the stream behind br without consuming
// any bytes.
func Detect(br *bufio.Reader) (string, error) {
	f, _, err := probe.Default().DetectReader(br)
	if err != nil {
		return "", err
	}
	return f.Name, nil
}

// CodecFor returns the codec of the units a Demuxer emits for format.
func CodecFor(format string) (string, error) {
	switch format {
	case FormatMPEGTS:
		return CodecMPEG4, nil
	case FormatProRes:
		return CodecProRes, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// StatsRecorder receives per-unit telemetry from a Demuxer.
type StatsRecorder interface {
	RecordUnit(bytes int, keyframe bool)
}

// Option configures a Demuxer.
type Option func(*Demuxer)

// WithChunkSize sets the read size for raw formats.
func WithChunkSize(n int) Option {
	return func(d *Demuxer) {
		d.chunkSize = n
	}
}

// WithMaxFrameSize bounds raw frames. Zero disables the limit.
func WithMaxFrameSize(n int) Option {
	return func(d *Demuxer) {
		d.maxFrame = n
	}
}

// WithReporter sets the diagnostics sink.
func WithReporter(r diag.Reporter) Option {
	return func(d *Demuxer) {
		d.report = r
	}
}

// WithStats attaches a StatsRecorder.
func WithStats(s StatsRecorder) Option {
	return func(d *Demuxer) {
		d.stats = s
	}
}

// Demuxer splits an input stream of a known format into access units,
// delivered in stream order on the channel returned by Units.
type Demuxer struct {
	log    *slog.Logger
	report diag.Reporter
	stats  StatsRecorder
	reader io.Reader
	format string
	codec  string
	units  chan *media.AccessUnit

	chunkSize int
	maxFrame  int
	count     int64
}

// NewDemuxer creates a Demuxer reading format from r. Call Run to start it.
// If log is nil, slog.Default() is used.
func NewDemuxer(r io.Reader, format string, log *slog.Logger, opts ...Option) (*Demuxer, error) {
	codec, err := CodecFor(format)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Demuxer{
		log:    log.With("component", "demux", "format", format),
		reader: r,
		format: format,
		codec:  codec,
		units:  make(chan *media.AccessUnit, media.UnitBufferSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.report == nil {
		d.report = diag.NewLogReporter(d.log)
	}
	return d, nil
}

// Units returns the channel on which access units are delivered. It is
// closed when Run returns.
func (d *Demuxer) Units() <-chan *media.AccessUnit {
	return d.units
}

// Format returns the input format.
func (d *Demuxer) Format() string {
	return d.format
}

// Codec returns the codec of the emitted units.
func (d *Demuxer) Codec() string {
	return d.codec
}

// Run reads the input until EOF or context cancellation and closes the
// Units channel on return. End of input is not an error.
func (d *Demuxer) Run(ctx context.Context) error {
	defer close(d.units)

	var err error
	switch d.format {
	case FormatMPEGTS:
		err = d.runMPEGTS(ctx)
	case FormatProRes:
		err = d.runProRes(ctx)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	d.log.Debug("input finished", "units", d.count)
	return err
}

// emit delivers u. It reports false once ctx is done.
func (d *Demuxer) emit(ctx context.Context, u *media.AccessUnit) bool {
	d.count++
	if d.stats != nil {
		d.stats.RecordUnit(u.Size(), u.IsKeyframe())
	}
	select {
	case d.units <- u:
		return true
	case <-ctx.Done():
		u.Release()
		return false
	}
}
