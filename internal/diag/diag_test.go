package diag

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogReporter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewLogReporter(log)

	r.Anomaly(KindOrphanFrame, "discarding withheld frame", "bytes", 42)
	r.Debug("skipping N-VOP")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "anomaly=orphan_frame") {
		t.Errorf("warning line missing: %q", out)
	}
	if !strings.Contains(out, "bytes=42") {
		t.Errorf("attrs missing: %q", out)
	}
	if !strings.Contains(out, "level=DEBUG") {
		t.Errorf("debug line missing: %q", out)
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.Anomaly(KindPendingCollision, "a")
	r.Anomaly(KindPendingCollision, "b")
	r.Anomaly(KindExcessMarkers, "c")
	r.Debug("ignored")

	if r.Total() != 3 {
		t.Errorf("Total = %d, want 3", r.Total())
	}
	if r.Count(KindPendingCollision) != 2 {
		t.Errorf("collisions = %d, want 2", r.Count(KindPendingCollision))
	}
	if r.Count(KindOrphanFrame) != 0 {
		t.Error("unexpected orphan count")
	}
	events := r.Events()
	if events[2].Kind != KindExcessMarkers || events[2].Message != "c" {
		t.Errorf("events[2] = %+v", events[2])
	}
}

func TestMulti(t *testing.T) {
	t.Parallel()

	a, b := NewRecorder(), NewRecorder()
	m := Multi(a, nil, b)
	m.Anomaly(KindTruncatedFrame, "x")
	if a.Total() != 1 || b.Total() != 1 {
		t.Errorf("fan-out failed: %d %d", a.Total(), b.Total())
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	if KindExcessMarkers.String() != "excess_markers" {
		t.Errorf("got %q", KindExcessMarkers.String())
	}
	if Kind(99).String() != "kind(99)" {
		t.Errorf("got %q", Kind(99).String())
	}
}
