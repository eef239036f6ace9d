package framer

import (
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is the read size used by Reader when none is given.
const DefaultChunkSize = 4096

// ErrFrameTooLarge is returned by Reader when an open frame grows past the
// configured limit without being closed by a marker.
var ErrFrameTooLarge = errors.New("framer: frame exceeds size limit")

// Reader pulls chunks from an io.Reader and returns whole frames.
type Reader struct {
	r         io.Reader
	f         *Finder
	chunk     []byte
	maxFrame  int
	pending   [][]byte
	eof       bool
	bytesRead int64
}

// NewReader returns a Reader that feeds f with reads of chunkSize bytes. A
// chunkSize of zero or less selects DefaultChunkSize.
func NewReader(r io.Reader, f *Finder, chunkSize int) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Reader{
		r:     r,
		f:     f,
		chunk: make([]byte, chunkSize),
	}
}

// SetMaxFrameSize bounds the bytes buffered for one frame. Zero disables
// the limit.
func (rd *Reader) SetMaxFrameSize(n int) {
	rd.maxFrame = n
}

// BytesRead returns the number of bytes consumed from the underlying reader.
func (rd *Reader) BytesRead() int64 {
	return rd.bytesRead
}

// Next returns the next frame. After the last frame, including the one
// flushed at end of input, it returns io.EOF.
func (rd *Reader) Next() ([]byte, error) {
	for {
		if len(rd.pending) > 0 {
			frame := rd.pending[0]
			rd.pending = rd.pending[1:]
			return frame, nil
		}
		if rd.eof {
			return nil, io.EOF
		}

		n, err := rd.r.Read(rd.chunk)
		if n > 0 {
			rd.bytesRead += int64(n)
			rd.pending = rd.f.Push(rd.chunk[:n])
			if rd.maxFrame > 0 && rd.f.Buffered() > rd.maxFrame {
				buffered := rd.f.Buffered()
				rd.f.Reset()
				return nil, fmt.Errorf("%w: %d bytes buffered", ErrFrameTooLarge, buffered)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			rd.eof = true
			if last := rd.f.Flush(); last != nil {
				rd.pending = append(rd.pending, last)
			}
		}
	}
}
