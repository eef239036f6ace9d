package mpeg4

import "github.com/zsiec/reframe/internal/scan"

// VOP coding types (vop_coding_type, the top two bits after the start code).
const (
	CodingI = 0
	CodingP = 1
	CodingB = 2
	CodingS = 3
)

// isConfigCode reports whether code starts a configuration header: visual
// object sequence, visual object or video object layer.
func isConfigCode(code uint32) bool {
	return code == VOSStartCode || (code >= 0x100 && code <= 0x12F)
}

// Headers returns the configuration headers that precede the first GOV or
// VOP in buf, or nil when buf starts with none. The result aliases buf.
func Headers(buf []byte) []byte {
	it := scan.NewStartCodes(buf)
	start := -1
	for it.Next() {
		code := it.Code()
		switch {
		case code == VOPStartCode || code == GOVStartCode:
			if start < 0 {
				return nil
			}
			return buf[start:it.Start():it.Start()]
		case start < 0 && isConfigCode(code):
			start = it.Start()
		}
	}
	if start < 0 {
		return nil
	}
	return buf[start:len(buf):len(buf)]
}

// FirstCodingType returns the coding type of the first VOP in buf, or -1
// when buf holds no complete VOP header.
func FirstCodingType(buf []byte) int {
	it := scan.NewStartCodes(buf)
	for it.Next() {
		if it.Code() != VOPStartCode {
			continue
		}
		if it.End() >= len(buf) {
			return -1
		}
		return int(buf[it.End()] >> 6)
	}
	return -1
}

// IsKeyframe reports whether the first VOP in buf is intra coded.
func IsKeyframe(buf []byte) bool {
	return FirstCodingType(buf) == CodingI
}
