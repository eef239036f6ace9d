package mpeg4

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/reframe/internal/diag"
	"github.com/zsiec/reframe/internal/media"
)

var (
	// ErrClosed is returned by Filter after Close.
	ErrClosed = errors.New("mpeg4: unpacker closed")
	// ErrNilUnit is returned by Filter when given no unit.
	ErrNilUnit = errors.New("mpeg4: nil access unit")
)

// Stats counts the units and bytes that passed through an Unpacker. Every
// input byte is either emitted, dropped as an N-VOP or discarded as a stale
// or orphaned B-frame:
//
//	BytesIn == BytesOut + NVOPBytes + DiscardedBytes + pending bytes
type Stats struct {
	UnitsIn        int64
	UnitsOut       int64
	BytesIn        int64
	BytesOut       int64
	Unpacked       int64 // packed units split
	NVOPsDropped   int64
	NVOPBytes      int64
	Discarded      int64 // withheld frames discarded
	DiscardedBytes int64
	FlagsCleared   int64
}

// pending holds at most one withheld B-frame.
type pending struct {
	unit *media.AccessUnit
}

func (p *pending) holding() bool {
	return p.unit != nil
}

// swap stores u and returns the previously held unit, if any.
func (p *pending) swap(u *media.AccessUnit) *media.AccessUnit {
	old := p.unit
	p.unit = u
	return old
}

// take removes and returns the held unit.
func (p *pending) take() *media.AccessUnit {
	return p.swap(nil)
}

// Option configures an Unpacker.
type Option func(*Unpacker)

// WithReporter sets the diagnostics sink. The default logs through the
// unpacker's logger.
func WithReporter(r diag.Reporter) Option {
	return func(u *Unpacker) {
		u.report = r
	}
}

// WithLogger sets the logger used by the default reporter.
func WithLogger(log *slog.Logger) Option {
	return func(u *Unpacker) {
		u.log = log
	}
}

// Unpacker is a stateful filter that turns a stream of MPEG-4 access units
// using packed B-frames into one frame per unit, in decode order. Units that
// do not use packing pass through untouched. An Unpacker serves one stream
// and is not safe for concurrent use.
type Unpacker struct {
	log    *slog.Logger
	report diag.Reporter
	bframe pending
	stats  Stats
	closed bool
}

// New creates an Unpacker. If no logger is given, slog.Default() is used.
func New(opts ...Option) *Unpacker {
	u := &Unpacker{}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		u.log = slog.Default()
	}
	u.log = u.log.With("component", "mpeg4-unpack")
	if u.report == nil {
		u.report = diag.NewLogReporter(u.log)
	}
	return u
}

// Init inspects the stream's codec extra data (the VOS/VOL headers) and
// returns the extra data downstream should use: a copy with the packed flag
// cleared when present, otherwise extra itself. extra is never modified.
func (u *Unpacker) Init(extra []byte) ([]byte, error) {
	if u.closed {
		return nil, ErrClosed
	}
	if len(extra) == 0 {
		return extra, nil
	}
	res := scanBuffer(extra)
	if res.packedPos < 0 {
		return extra, nil
	}
	out := make([]byte, len(extra))
	copy(out, extra)
	out[res.packedPos] = 0
	u.report.Debug("updating DivX userdata in extradata, removing trailing 'p'")
	return out, nil
}

// Filter consumes one access unit and returns the unit to emit in its decode
// slot. The input is moved: after the call in is empty and must not be
// reused. On error nothing is emitted and the input is released.
func (u *Unpacker) Filter(in *media.AccessUnit) (*media.AccessUnit, error) {
	if u.closed {
		in.Release()
		return nil, ErrClosed
	}
	if in == nil {
		return nil, ErrNilUnit
	}

	u.stats.UnitsIn++
	u.stats.BytesIn += int64(in.Size())

	res := scanBuffer(in.Data)
	u.report.Debug("scanned access unit", "vops", res.vopCount, "size", in.Size())

	// The suffix is carved off before the VOP count checks so that a unit
	// with more than two VOPs still honours its first pair.
	var head *media.AccessUnit
	if res.secondVOP >= 0 {
		if stale := u.bframe.take(); stale != nil {
			u.report.Anomaly(diag.KindPendingCollision,
				"missing one N-VOP packet, discarding one B-frame",
				"bytes", stale.Size())
			u.discard(stale)
		}
		head = in
		u.bframe.swap(head.Split(res.secondVOP))
		u.stats.Unpacked++
	}

	if res.vopCount > 2 {
		u.report.Anomaly(diag.KindExcessMarkers,
			fmt.Sprintf("found %d VOP headers in one packet, only unpacking one", res.vopCount),
			"vops", res.vopCount)
	}

	var out *media.AccessUnit
	switch {
	case res.vopCount == 1 && u.bframe.holding():
		// in is the decode slot of the withheld frame: emit that frame
		// with in's timing.
		out = u.bframe.take()
		out.CopyProps(in)
		if in.Size() <= MaxNVOPSize {
			u.report.Debug("skipping N-VOP", "size", in.Size())
			u.stats.NVOPsDropped++
			u.stats.NVOPBytes += int64(in.Size())
			in.Release()
		} else {
			u.bframe.swap(in.Move())
		}

	case head != nil:
		out = head.Move()

	case res.packedPos >= 0:
		if err := in.MakeWritable(); err != nil {
			in.Release()
			return nil, fmt.Errorf("mpeg4: make unit writable: %w", err)
		}
		u.report.Debug("updating DivX userdata, removing trailing 'p'")
		out = in.Move()
		out.Data[res.packedPos] = 0
		u.stats.FlagsCleared++

	default:
		out = in.Move()
	}

	u.stats.UnitsOut++
	u.stats.BytesOut += int64(out.Size())
	return out, nil
}

// Pending reports whether a B-frame is withheld.
func (u *Unpacker) Pending() bool {
	return u.bframe.holding()
}

// Flush ends the stream. A withheld frame can no longer receive its
// placeholder, so it is discarded and reported.
func (u *Unpacker) Flush() {
	if stale := u.bframe.take(); stale != nil {
		u.report.Anomaly(diag.KindOrphanFrame,
			"stream ended with a withheld B-frame, discarding it",
			"bytes", stale.Size())
		u.discard(stale)
	}
}

// Close releases the Unpacker's state. Filter fails afterwards.
func (u *Unpacker) Close() {
	if stale := u.bframe.take(); stale != nil {
		u.discard(stale)
	}
	u.closed = true
}

// Stats returns a snapshot of the counters.
func (u *Unpacker) Stats() Stats {
	return u.stats
}

func (u *Unpacker) discard(au *media.AccessUnit) {
	u.stats.Discarded++
	u.stats.DiscardedBytes += int64(au.Size())
	au.Release()
}
