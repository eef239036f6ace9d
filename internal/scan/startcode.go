package scan

// StartCodePrefix is the 24-bit MPEG start code prefix (00 00 01).
const StartCodePrefix = 0x000001

// startCodeSeed primes the window so that bytes before the buffer can never
// complete a prefix.
const startCodeSeed = 0xFF

// IsStartCode reports whether a 32-bit window is an MPEG start code, i.e.
// its top three bytes are 00 00 01.
func IsStartCode(w uint32) bool {
	return w&0xFFFFFF00 == StartCodePrefix<<8
}

// NextStartCode returns the next start code at or after pos together with
// the index just past it. It returns ok=false once the buffer is exhausted.
// Every call starts from a fresh window, so a start code that straddles pos
// is not reported.
func NextStartCode(buf []byte, pos int) (code uint32, next int, ok bool) {
	w := uint32(startCodeSeed)
	for i := pos; i < len(buf); i++ {
		w = w<<8 | uint32(buf[i])
		if IsStartCode(w) {
			return w, i + 1, true
		}
	}
	return 0, len(buf), false
}

// StartCodes iterates over the start codes of a buffer.
type StartCodes struct {
	buf []byte
	pos int

	code uint32
	end  int
}

// NewStartCodes returns an iterator over the start codes in buf.
func NewStartCodes(buf []byte) *StartCodes {
	return &StartCodes{buf: buf}
}

// Next advances to the next start code and reports whether there was one.
func (s *StartCodes) Next() bool {
	code, next, ok := NextStartCode(s.buf, s.pos)
	s.pos = next
	if !ok {
		return false
	}
	s.code = code
	s.end = next
	return true
}

// Code returns the full 32-bit start code found by the last Next.
func (s *StartCodes) Code() uint32 {
	return s.code
}

// End returns the index just past the start code found by the last Next.
func (s *StartCodes) End() int {
	return s.end
}

// Start returns the index of the first byte of the start code found by the
// last Next.
func (s *StartCodes) Start() int {
	return s.end - 4
}
