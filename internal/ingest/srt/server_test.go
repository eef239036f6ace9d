package srt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/reframe/internal/ingest"
)

func TestExtractStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		streamID string
		want     string
	}{
		{name: "simple key", streamID: "camera1", want: "camera1"},
		{name: "leading slash", streamID: "/camera1", want: "camera1"},
		{name: "live prefix", streamID: "live/camera1", want: "camera1"},
		{name: "slash and live prefix", streamID: "/live/camera1", want: "camera1"},
		{name: "empty returns default", streamID: "", want: "default"},
		{name: "just slash returns default", streamID: "/", want: "default"},
		{name: "just live/ returns default", streamID: "live/", want: "default"},
		{name: "nested path preserved", streamID: "studio/camera1", want: "studio/camera1"},
		{name: "live in name preserved", streamID: "liveshow", want: "liveshow"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := extractStreamKey(tc.streamID)
			if got != tc.want {
				t.Errorf("extractStreamKey(%q) = %q, want %q", tc.streamID, got, tc.want)
			}
		})
	}
}

// chunkReader returns one chunk per Read, then err.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestPump(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"eof", io.EOF},
		{"connection error", errors.New("connection reset")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := make(chan []byte, 1)
			reg := ingest.NewRegistry(func(_ *ingest.Stream, in io.Reader) {
				b, _ := io.ReadAll(in)
				got <- b
			})
			stream, w, err := reg.Register("cam", Protocol)
			if err != nil {
				t.Fatal(err)
			}

			conn := &chunkReader{chunks: [][]byte{[]byte("abc"), []byte("defg")}, err: tc.err}
			pump(context.Background(), discardLogger(), conn, stream, w)
			reg.Unregister(stream)

			select {
			case b := <-got:
				if !bytes.Equal(b, []byte("abcdefg")) {
					t.Errorf("pipeline read %q", b)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("pipeline did not finish")
			}
			st := stream.IngestStats()
			if st.BytesReceived != 7 || st.ReadCount != 2 {
				t.Errorf("stats = %+v", st)
			}
		})
	}
}

func TestPumpCanceled(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil)
	stream, w, _ := reg.Register("cam", Protocol)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pump(ctx, discardLogger(), strings.NewReader("never read"), stream, w)
	if stream.IngestStats().ReadCount != 0 {
		t.Error("pump read after cancellation")
	}
}

func TestPullRequest(t *testing.T) {
	t.Parallel()

	if err := (PullRequest{StreamKey: "k"}).validate(); err == nil {
		t.Error("missing address accepted")
	}
	if err := (PullRequest{Address: "host:9000"}).validate(); err == nil {
		t.Error("missing stream key accepted")
	}
	for _, key := range []string{"../../tmp/evil", "studio/cam", ".."} {
		err := (PullRequest{Address: "host:9000", StreamKey: key}).validate()
		if !errors.Is(err, ingest.ErrInvalidKey) {
			t.Errorf("key %q: err = %v, want ErrInvalidKey", key, err)
		}
	}
	if got := (PullRequest{StreamKey: "cam"}).streamID(); got != "live/cam" {
		t.Errorf("default stream ID = %q", got)
	}
	if got := (PullRequest{StreamKey: "cam", StreamID: "#!::r=cam"}).streamID(); got != "#!::r=cam" {
		t.Errorf("explicit stream ID = %q", got)
	}
}

func TestServerAdmit(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil)
	busy, _, err := reg.Register("busy", Protocol)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Unregister(busy)
	s := NewServer(":0", 0, reg, discardLogger())

	tests := []struct {
		streamID string
		accept   bool
	}{
		{"live/cam-1", true},
		{"/feed_2.main", true},
		{"", false},
		{"live/busy", false},
		{"live/../../../tmp/evil", false},
		{"../etc", false},
		{"live/studio/cam", false},
		{"live/cam\\..\\x", false},
		{"live/" + strings.Repeat("k", ingest.MaxKeyLen+1), false},
	}
	for _, tc := range tests {
		got := s.admit(tc.streamID)
		if (got == 0) != tc.accept {
			t.Errorf("admit(%q) = %v, want accept %v", tc.streamID, got, tc.accept)
		}
	}
}

func TestCallerStopUnknown(t *testing.T) {
	t.Parallel()

	c := NewCaller(ingest.NewRegistry(nil), 0, discardLogger())
	if err := c.Stop("nope"); !errors.Is(err, ErrNoPull) {
		t.Errorf("err = %v, want ErrNoPull", err)
	}
	if len(c.ActivePulls()) != 0 {
		t.Error("unexpected active pulls")
	}
	if c.latency != DefaultLatency {
		t.Errorf("latency = %s", c.latency)
	}
}
