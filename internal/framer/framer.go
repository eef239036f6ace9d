// Package framer splits a byte stream delivered in arbitrary chunks into
// frames that each begin with a fixed 32-bit marker. It wraps scan.Scan with
// a resumable two-state machine (seeking a frame start, inside a frame) and
// accumulates bytes until the next marker closes the current frame.
package framer

import (
	"github.com/zsiec/reframe/internal/scan"
)

// markerLen is the size of the marker itself.
const markerLen = 4

// seedWindow primes the scan window so that a stream start cannot complete
// a marker containing zero bytes.
const seedWindow = 0xFFFFFFFF

// EndNotFound is reported by EndOffset when the last chunk did not close a
// frame.
const EndNotFound = -100

// Option configures a Finder.
type Option func(*Finder)

// WithLead declares that n bytes immediately before each marker belong to
// the frame it opens, e.g. a frame size field.
func WithLead(n int) Option {
	return func(f *Finder) {
		if n > 0 {
			f.lead = n
		}
	}
}

// WithCompleteFrames makes the finder treat every pushed chunk as exactly
// one frame without scanning.
func WithCompleteFrames() Option {
	return func(f *Finder) {
		f.complete = true
	}
}

// Finder finds frame boundaries in a chunked stream. It is not safe for
// concurrent use; every stream needs its own Finder.
type Finder struct {
	marker   uint32
	lead     int
	complete bool

	st      scan.State // st.Found means a frame is open
	buf     []byte     // buf[0] is the frame origin while st.Found
	scanned int        // bytes of buf already fed to the scanner
	total   int64      // stream offset of buf[0]

	lastEnd int
}

// New returns a Finder for frames that start with marker.
func New(marker uint32, opts ...Option) *Finder {
	f := &Finder{marker: marker, lastEnd: EndNotFound}
	f.st.Window = seedWindow
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Push appends a chunk and returns every frame it completes, in stream
// order. A nil result means more input is needed. The returned frames are
// owned by the caller; the Finder keeps no reference to them.
func (f *Finder) Push(chunk []byte) [][]byte {
	f.lastEnd = EndNotFound
	if f.complete {
		if len(chunk) == 0 {
			return nil
		}
		f.lastEnd = len(chunk)
		frame := make([]byte, len(chunk))
		copy(frame, chunk)
		return [][]byte{frame}
	}

	chunkStart := len(f.buf)
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for {
		next, ok := scan.Scan(f.buf, f.scanned, f.marker, &f.st)
		if !ok {
			f.scanned = len(f.buf)
			break
		}
		at := next - markerLen - f.lead

		if !f.st.Found {
			// Bytes before the first frame belong to no frame.
			if at < 0 {
				at = 0
			}
			f.drop(at)
			chunkStart -= at
			f.scanned = next - at
			f.st.Found = true
			continue
		}

		if at <= 0 {
			// Zero-length frame: nothing is emitted and the origin stays in
			// place; scanning resumes after the marker.
			f.scanned = next
			continue
		}

		frames = append(frames, f.buf[:at:at])
		f.lastEnd = at - chunkStart
		f.drop(at)
		chunkStart -= at
		f.scanned = next - at
		// The closing marker opens the next frame, so Found stays set.
	}

	if !f.st.Found {
		// Keep just enough bytes to rebuild an origin for a marker that
		// completes in the next chunk.
		keep := markerLen - 1 + f.lead
		if n := len(f.buf) - keep; n > 0 {
			f.drop(n)
			f.scanned = len(f.buf)
		}
	}
	return frames
}

// Flush returns the bytes of the open frame, if any, as the final frame of
// the stream and resets the Finder.
func (f *Finder) Flush() []byte {
	var frame []byte
	if f.st.Found && len(f.buf) > 0 {
		frame = f.buf[:len(f.buf):len(f.buf)]
	}
	f.Reset()
	return frame
}

// Reset discards all buffered bytes and scan state.
func (f *Finder) Reset() {
	f.st = scan.State{Window: seedWindow}
	f.buf = nil
	f.scanned = 0
	f.total = 0
	f.lastEnd = EndNotFound
}

// InFrame reports whether a frame start has been found and not yet closed.
func (f *Finder) InFrame() bool {
	return f.st.Found
}

// Buffered returns the number of bytes held for the open frame.
func (f *Finder) Buffered() int {
	return len(f.buf)
}

// Offset returns the stream offset of the first buffered byte.
func (f *Finder) Offset() int64 {
	return f.total
}

// EndOffset returns where the last frame completed by the previous Push
// ends, relative to the chunk passed to that Push. It is negative when the
// boundary lies in an earlier chunk, and EndNotFound when Push closed no
// frame.
func (f *Finder) EndOffset() int {
	return f.lastEnd
}

// drop releases the first n buffered bytes. Emitted frames keep the old
// backing array; the Finder moves to a fresh one as soon as it appends.
func (f *Finder) drop(n int) {
	f.total += int64(n)
	rest := f.buf[n:]
	f.buf = rest[:len(rest):len(rest)]
}
