// Package prores recognises raw Apple ProRes streams: a sequence of frames,
// each a 4-byte big-endian frame size, the "icpf" identifier and a frame
// header describing the picture.
package prores

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zsiec/reframe/internal/framer"
	"github.com/zsiec/reframe/internal/probe"
)

// Marker is the frame identifier "icpf".
const Marker = 0x69637066

const (
	// frameSizeLen is the size field preceding the marker.
	frameSizeLen = 4
	// headerOffset is where the frame header starts.
	headerOffset = frameSizeLen + 4

	// MinProbeSize is the number of bytes Probe needs.
	MinProbeSize = 28
	// MinHeaderSize is the smallest valid frame header.
	MinHeaderSize = 20
	// MaxVersion is the newest supported bitstream version.
	MaxVersion = 1
	// maxAlphaInfo covers no alpha, 8-bit and 16-bit alpha.
	maxAlphaInfo = 2
)

// ErrMalformedHeader is returned when a frame header fails validation.
var ErrMalformedHeader = errors.New("prores: malformed frame header")

// FrameType is the picture structure of a frame.
type FrameType uint8

// Frame types.
const (
	Progressive FrameType = iota
	InterlacedTopFirst
	InterlacedBottomFirst
)

func (t FrameType) String() string {
	switch t {
	case Progressive:
		return "progressive"
	case InterlacedTopFirst:
		return "interlaced-tff"
	case InterlacedBottomFirst:
		return "interlaced-bff"
	default:
		return fmt.Sprintf("frame-type(%d)", uint8(t))
	}
}

// FrameHeader holds the fields of a ProRes frame header.
type FrameHeader struct {
	FrameSize        uint32
	HeaderSize       uint16
	Version          uint16
	Creator          string // encoder FourCC, e.g. "apl0"
	Width            uint16
	Height           uint16
	ChromaFormat     uint8 // 2 = 4:2:2, 3 = 4:4:4
	FrameType        FrameType
	AspectRatio      uint8
	FrameRate        uint8
	ColorPrimaries   uint8
	TransferFunction uint8
	ColorMatrix      uint8
	AlphaInfo        uint8
}

// Interlaced reports whether the frame holds two fields.
func (h FrameHeader) Interlaced() bool {
	return h.FrameType != Progressive
}

// ParseFrameHeader decodes and validates the header at the start of buf,
// which must begin with the frame size field.
func ParseFrameHeader(buf []byte) (FrameHeader, error) {
	var h FrameHeader
	if len(buf) < MinProbeSize {
		return h, fmt.Errorf("%w: %d bytes, need %d", ErrMalformedHeader, len(buf), MinProbeSize)
	}
	if binary.BigEndian.Uint32(buf[frameSizeLen:]) != Marker {
		return h, fmt.Errorf("%w: missing icpf identifier", ErrMalformedHeader)
	}

	h.FrameSize = binary.BigEndian.Uint32(buf)
	hdr := buf[headerOffset:]

	h.HeaderSize = binary.BigEndian.Uint16(hdr)
	if h.HeaderSize < MinHeaderSize {
		return h, fmt.Errorf("%w: header size %d", ErrMalformedHeader, h.HeaderSize)
	}
	h.Version = binary.BigEndian.Uint16(hdr[2:])
	if h.Version > MaxVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrMalformedHeader, h.Version)
	}
	h.Creator = string(hdr[4:8])
	h.Width = binary.BigEndian.Uint16(hdr[8:])
	h.Height = binary.BigEndian.Uint16(hdr[10:])
	if h.Width == 0 || h.Height == 0 {
		return h, fmt.Errorf("%w: dimensions %dx%d", ErrMalformedHeader, h.Width, h.Height)
	}

	h.ChromaFormat = hdr[12] >> 6
	h.FrameType = FrameType((hdr[12] >> 2) & 3)
	if h.FrameType > InterlacedBottomFirst {
		return h, fmt.Errorf("%w: frame type %d", ErrMalformedHeader, h.FrameType)
	}
	h.AspectRatio = hdr[13] >> 4
	h.FrameRate = hdr[13] & 0xf
	h.ColorPrimaries = hdr[14]
	h.TransferFunction = hdr[15]
	h.ColorMatrix = hdr[16]
	h.AlphaInfo = hdr[17] & 0xf
	if h.AlphaInfo > maxAlphaInfo {
		return h, fmt.Errorf("%w: alpha info %d", ErrMalformedHeader, h.AlphaInfo)
	}
	return h, nil
}

// Probe scores buf as the start of a raw ProRes stream: probe.ScoreMax when
// the first frame header is valid, zero otherwise.
func Probe(buf []byte) int {
	if _, err := ParseFrameHeader(buf); err != nil {
		return 0
	}
	return probe.ScoreMax
}

// NewFinder returns a frame finder for raw ProRes. Frames start at the size
// field in front of each identifier.
func NewFinder(opts ...framer.Option) *framer.Finder {
	return framer.New(Marker, append([]framer.Option{framer.WithLead(frameSizeLen)}, opts...)...)
}
