// Package scan finds 32-bit marker values in byte streams. The scanners keep
// a rolling window of the last four bytes seen so that a scan can be resumed
// on the next chunk of a stream: scanning a stream in pieces with a carried
// State gives the same matches as scanning it in one pass.
package scan

// State is the resumable part of a scan.
type State struct {
	// Window holds the last four bytes seen, most recent in the low byte.
	Window uint32
	// Found records that a marker has already been matched. Scan itself
	// never reads it; the frame finder uses it as its state bit.
	Found bool
}

// Reset clears the window and the found flag.
func (s *State) Reset() {
	*s = State{}
}

// Scan shifts buf[pos:] into st.Window byte by byte and stops at the first
// window equal to marker. It returns the index just past the match and true,
// or len(buf) and false when the buffer is exhausted. In both cases st holds
// the window as of the last byte consumed.
func Scan(buf []byte, pos int, marker uint32, st *State) (int, bool) {
	w := st.Window
	for i := pos; i < len(buf); i++ {
		w = w<<8 | uint32(buf[i])
		if w == marker {
			st.Window = w
			return i + 1, true
		}
	}
	st.Window = w
	return len(buf), false
}

// ScanTwo reports the end offsets of the first and second occurrences of
// marker in buf. Missing occurrences are reported as -1. The second match may
// share bytes with the first when the marker is self-overlapping.
func ScanTwo(buf []byte, marker uint32) (first, second int) {
	var st State
	first, second = -1, -1
	next, ok := Scan(buf, 0, marker, &st)
	if !ok {
		return first, second
	}
	first = next
	if next, ok = Scan(buf, next, marker, &st); ok {
		second = next
	}
	return first, second
}
