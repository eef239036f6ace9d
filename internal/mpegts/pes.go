package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBadPES is returned for a payload that is not a well-formed PES packet.
var ErrBadPES = errors.New("mpegts: malformed PES packet")

const pesHeaderLen = 6

// isPES reports whether data starts with the packet_start_code_prefix.
func isPES(data []byte) bool {
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

// hasOptionalHeader reports whether PES packets of streamID carry the
// optional header with the timestamp flags (ISO/IEC 13818-1 2.4.3.7).
func hasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// parsePES decodes a reassembled PES packet. Data aliases payload.
func parsePES(payload []byte) (*PES, error) {
	if len(payload) < pesHeaderLen || !isPES(payload) {
		return nil, fmt.Errorf("%w: no start code", ErrBadPES)
	}
	pes := &PES{StreamID: payload[3]}

	end := len(payload)
	if n := int(binary.BigEndian.Uint16(payload[4:])); n > 0 && pesHeaderLen+n < end {
		end = pesHeaderLen + n
	}

	if !hasOptionalHeader(pes.StreamID) {
		pes.Data = payload[pesHeaderLen:end]
		return pes, nil
	}

	if end < pesHeaderLen+3 {
		return nil, fmt.Errorf("%w: optional header cut short", ErrBadPES)
	}
	flags := payload[7] >> 6
	start := pesHeaderLen + 3 + int(payload[8])
	if start > end {
		return nil, fmt.Errorf("%w: header data length %d", ErrBadPES, payload[8])
	}
	opt := payload[pesHeaderLen+3 : start]

	if flags&0x2 != 0 && len(opt) >= 5 {
		pes.PTS = readTimestamp(opt)
		if flags&0x1 != 0 && len(opt) >= 10 {
			pes.DTS = readTimestamp(opt[5:])
		}
	}
	pes.Data = payload[start:end]
	return pes, nil
}

// readTimestamp decodes the 33-bit value spread over 5 bytes with marker
// bits.
func readTimestamp(b []byte) Timestamp {
	v := int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
	return Timestamp{Value: v, Valid: true}
}
