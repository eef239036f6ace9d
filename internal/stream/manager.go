// Package stream tracks the streams whose pipelines are running, rejecting
// a second pipeline for a key that is already being processed.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDuplicate is returned by Create for a key that is already active.
var ErrDuplicate = errors.New("stream: key already active")

// Stream is one running pipeline.
type Stream struct {
	Key       string
	SessionID string
	StartedAt time.Time

	format atomic.Value
	units  atomic.Int64
	bytes  atomic.Int64
	done   chan struct{}
}

// Info is a point-in-time view of a Stream.
type Info struct {
	Key       string `json:"key"`
	SessionID string `json:"sessionId"`
	Format    string `json:"format,omitempty"`
	Units     int64  `json:"units"`
	Bytes     int64  `json:"bytes"`
	UptimeMs  int64  `json:"uptimeMs"`
}

// SetFormat records the detected input format.
func (s *Stream) SetFormat(format string) {
	s.format.Store(format)
}

// RecordUnit counts one output unit. It satisfies the pipeline's stats
// recorder interface.
func (s *Stream) RecordUnit(n int, _ bool) {
	s.units.Add(1)
	s.bytes.Add(int64(n))
}

// Done is closed when the stream is removed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Info returns a snapshot of the stream.
func (s *Stream) Info() Info {
	format, _ := s.format.Load().(string)
	return Info{
		Key:       s.Key,
		SessionID: s.SessionID,
		Format:    format,
		Units:     s.units.Load(),
		Bytes:     s.bytes.Load(),
		UptimeMs:  time.Since(s.StartedAt).Milliseconds(),
	}
}

// Manager manages the lifecycle of active streams.
type Manager struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager creates a new stream manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:     log.With("component", "stream-manager"),
		streams: make(map[string]*Stream),
	}
}

// Create registers a stream for key, owned by the ingest session.
func (m *Manager) Create(key, session string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[key]; ok {
		m.log.Warn("stream already exists, rejecting duplicate", "key", key, "session", session)
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, key)
	}

	s := &Stream{
		Key:       key,
		SessionID: session,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.streams[key] = s
	m.log.Info("stream created", "key", key, "session", session)
	return s, nil
}

// Get returns the active stream for key.
func (m *Manager) Get(key string) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[key]
	return s, ok
}

// Remove removes a stream from the manager.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.streams[key]
	if ok {
		delete(m.streams, key)
	}
	m.mu.Unlock()

	if ok {
		close(s.done)
		info := s.Info()
		m.log.Info("stream removed", "key", key, "units", info.Units, "uptime_ms", info.UptimeMs)
	}
}

// List returns snapshots of all active streams ordered by key.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
