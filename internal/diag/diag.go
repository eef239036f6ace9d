// Package diag is the diagnostics channel for non-fatal stream anomalies.
// Components report protocol anomalies through a Reporter and carry on with
// a defined fallback; nothing reported here aborts processing.
package diag

import (
	"fmt"
	"log/slog"
	"sync"
)

// Kind classifies an anomaly.
type Kind int

// Anomaly kinds.
const (
	// KindPendingCollision: a packed unit arrived while another withheld
	// frame was still waiting for its placeholder.
	KindPendingCollision Kind = iota + 1
	// KindExcessMarkers: more frame start markers in one unit than the
	// packing convention allows.
	KindExcessMarkers
	// KindOrphanFrame: a withheld frame was still pending at end of stream.
	KindOrphanFrame
	// KindTruncatedFrame: a frame was cut short (oversized or incomplete).
	KindTruncatedFrame
)

func (k Kind) String() string {
	switch k {
	case KindPendingCollision:
		return "pending_collision"
	case KindExcessMarkers:
		return "excess_markers"
	case KindOrphanFrame:
		return "orphan_frame"
	case KindTruncatedFrame:
		return "truncated_frame"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reporter receives diagnostics. Implementations must not block.
type Reporter interface {
	Anomaly(kind Kind, msg string, args ...any)
	Debug(msg string, args ...any)
}

// LogReporter writes anomalies as warnings and debug notes to a logger.
type LogReporter struct {
	log *slog.Logger
}

// NewLogReporter returns a Reporter backed by log. If log is nil,
// slog.Default() is used.
func NewLogReporter(log *slog.Logger) *LogReporter {
	if log == nil {
		log = slog.Default()
	}
	return &LogReporter{log: log}
}

// Anomaly logs at warning level with the kind attached.
func (r *LogReporter) Anomaly(kind Kind, msg string, args ...any) {
	r.log.Warn(msg, append([]any{"anomaly", kind.String()}, args...)...)
}

// Debug logs at debug level.
func (r *LogReporter) Debug(msg string, args ...any) {
	r.log.Debug(msg, args...)
}

// Event is one recorded anomaly.
type Event struct {
	Kind    Kind
	Message string
}

// Recorder keeps anomalies in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	counts map[Kind]int
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[Kind]int)}
}

// Anomaly records the event.
func (r *Recorder) Anomaly(kind Kind, msg string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Kind: kind, Message: msg})
	r.counts[kind]++
}

// Debug is a no-op.
func (r *Recorder) Debug(string, ...any) {}

// Events returns a copy of the recorded events in report order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many anomalies of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[kind]
}

// Total returns the number of recorded anomalies.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type multi []Reporter

// Multi fans diagnostics out to every non-nil reporter.
func Multi(rs ...Reporter) Reporter {
	var m multi
	for _, r := range rs {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multi) Anomaly(kind Kind, msg string, args ...any) {
	for _, r := range m {
		r.Anomaly(kind, msg, args...)
	}
}

func (m multi) Debug(msg string, args ...any) {
	for _, r := range m {
		r.Debug(msg, args...)
	}
}

// Discard drops every diagnostic.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Anomaly(Kind, string, ...any) {}
func (discard) Debug(string, ...any)         {}
