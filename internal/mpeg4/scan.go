// Package mpeg4 handles MPEG-4 Part 2 video elementary streams. Its main
// type, [Unpacker], undoes the DivX "packed B-frames" convention: an encoder
// bundles a P-frame and the following B-frame into one unit and sends an
// empty placeholder VOP (N-VOP) in the B-frame's decode slot. The Unpacker
// splits such units and emits one frame per unit in decode order.
package mpeg4

import "github.com/zsiec/reframe/internal/scan"

// MPEG-4 Part 2 start codes (ISO/IEC 14496-2 Table 6-3).
const (
	VOSStartCode      = 0x1B0
	UserDataStartCode = 0x1B2
	GOVStartCode      = 0x1B3
	VOPStartCode      = 0x1B6
)

// MaxNVOPSize is the largest unit still treated as an N-VOP placeholder.
const MaxNVOPSize = 19

// packedFlag marks packed streams at the end of the DivX user data string,
// e.g. "DivX503b1393p".
const packedFlag = 'p'

// maxUserDataScan bounds the search for the packed flag after a user data
// start code.
const maxUserDataScan = 255

// scanResult describes the start codes of one buffer.
type scanResult struct {
	packedPos int // index of the packed flag in user data, or -1
	vopCount  int
	secondVOP int // index of the second VOP start code, or -1
}

// scanBuffer walks the start codes of buf, locating the packed flag in user
// data and counting VOPs. When several user data blocks carry the flag, the
// last one wins; blocks without it leave the position unchanged.
func scanBuffer(buf []byte) scanResult {
	res := scanResult{packedPos: -1, secondVOP: -1}
	it := scan.NewStartCodes(buf)
	for it.Next() {
		switch it.Code() {
		case UserDataStartCode:
			pos := it.End()
			for i := 0; i < maxUserDataScan && pos+i+1 < len(buf); i++ {
				if buf[pos+i] == packedFlag && buf[pos+i+1] == 0 {
					res.packedPos = pos + i
					break
				}
			}
		case VOPStartCode:
			res.vopCount++
			if res.vopCount == 2 {
				res.secondVOP = it.Start()
			}
		}
	}
	return res
}
