// Package ingest manages active ingest connections, coupling transport byte
// readers with session metadata, lifecycle signaling and pipeline dispatch.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStreamExists is returned by Register when the key is already live.
	ErrStreamExists = errors.New("ingest: stream key already registered")
	// ErrInvalidKey is returned for a stream key that is not a single safe
	// path element.
	ErrInvalidKey = errors.New("ingest: invalid stream key")
)

// MaxKeyLen bounds a stream key.
const MaxKeyLen = 128

// ValidateKey accepts keys of ASCII letters, digits, '.', '_' and '-' that
// cannot name a parent or current directory. Keys become file names, so
// separators are rejected.
func ValidateKey(key string) error {
	if key == "" || len(key) > MaxKeyLen {
		return fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	}
	if key == "." || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// IngestStats captures connection-level counters for an ingest stream.
type IngestStats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream is one ingest connection. Bytes written to its pipe by the
// transport are read by the stream's pipeline.
type Stream struct {
	Key       string
	SessionID string
	Protocol  string
	StartedAt time.Time

	input io.ReadCloser
	pw    *io.PipeWriter
	done  chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead counts one transport read of n bytes.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the peer address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IngestStats returns a snapshot of the connection counters.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Handler is invoked in its own goroutine for every registered stream. It
// reads the stream's bytes from input until EOF.
type Handler func(s *Stream, input io.Reader)

// Registry tracks active ingest streams by key and hands new streams to the
// handler. It is the rendezvous point between transports and pipelines.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream Handler
}

// NewRegistry creates a Registry. onStream may be nil.
func NewRegistry(onStream Handler) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a stream under key with a fresh session ID and returns
// it with the writer the transport should copy received bytes into.
func (r *Registry) Register(key, protocol string) (*Stream, io.Writer, error) {
	if err := ValidateKey(key); err != nil {
		return nil, nil, err
	}
	pr, pw := io.Pipe()
	s := &Stream{
		Key:       key,
		SessionID: uuid.NewString(),
		Protocol:  protocol,
		StartedAt: time.Now(),
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, ok := r.streams[key]; ok {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrStreamExists, key)
	}
	r.streams[key] = s
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(s, pr)
	}
	return s, pw, nil
}

// Unregister removes s, closing its pipe and signaling Done. A stream that
// was already replaced or removed is left alone.
func (r *Registry) Unregister(s *Stream) {
	r.mu.Lock()
	cur, ok := r.streams[s.Key]
	if ok && cur == s {
		delete(r.streams, s.Key)
	}
	r.mu.Unlock()

	if ok && cur == s {
		s.pw.Close()
		close(s.done)
	}
}

// Get returns the stream registered under key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns the active streams ordered by key.
func (r *Registry) List() []*Stream {
	r.mu.RLock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
