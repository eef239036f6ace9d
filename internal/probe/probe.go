// Package probe detects the container format of a byte stream from its
// leading bytes. Each format registers a scoring function; Detect asks all
// of them and keeps the most confident answer.
package probe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ScoreMax is the score of a format that is almost certainly right.
const ScoreMax = 100

// DefaultProbeSize is how many leading bytes DetectReader inspects.
const DefaultProbeSize = 2048

var (
	// ErrUnknownFormat is returned when no registered format scores above
	// zero.
	ErrUnknownFormat = errors.New("probe: unknown format")
	// ErrDuplicate is returned by Register for a name already in use.
	ErrDuplicate = errors.New("probe: format already registered")
)

// Func scores how likely buf is the start of a stream in some format, from
// 0 to ScoreMax. It must not modify buf and must have no side effects, as it
// runs speculatively against every candidate.
type Func func(buf []byte) int

// Format is a registered stream format.
type Format struct {
	Name  string
	Probe Func
}

// Registry holds the formats known to Detect. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	formats []Format
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a format. Formats are consulted in registration order, so
// on equal scores the earlier one wins.
func (r *Registry) Register(name string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.formats {
		if f.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
	}
	r.formats = append(r.formats, Format{Name: name, Probe: fn})
	return nil
}

// Names lists the registered format names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.formats))
	for i, f := range r.formats {
		names[i] = f.Name
	}
	return names
}

// Detect returns the best scoring format for buf. The score is zero and the
// format empty when nothing matched.
func (r *Registry) Detect(buf []byte) (Format, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Format
	bestScore := 0
	for _, f := range r.formats {
		if s := clamp(f.Probe(buf)); s > bestScore {
			best, bestScore = f, s
		}
	}
	return best, bestScore
}

// DetectReader peeks up to DefaultProbeSize bytes from br without consuming
// them and detects their format.
func (r *Registry) DetectReader(br *bufio.Reader) (Format, int, error) {
	buf, err := br.Peek(DefaultProbeSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Format{}, 0, fmt.Errorf("probe: peek: %w", err)
	}
	f, score := r.Detect(buf)
	if score == 0 {
		return Format{}, 0, ErrUnknownFormat
	}
	return f, score, nil
}

func clamp(s int) int {
	if s < 0 {
		return 0
	}
	if s > ScoreMax {
		return ScoreMax
	}
	return s
}

var std = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return std
}

// Register adds a format to the process-wide registry.
func Register(name string, fn Func) error {
	return std.Register(name, fn)
}

// Detect runs the process-wide registry over buf.
func Detect(buf []byte) (Format, int) {
	return std.Detect(buf)
}
