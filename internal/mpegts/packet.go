package mpegts

import (
	"errors"
	"fmt"
)

var (
	// ErrSync is returned for a packet that does not start with SyncByte.
	ErrSync = errors.New("mpegts: lost sync")
	// ErrPacketSize is returned for a buffer that is not one packet long.
	ErrPacketSize = errors.New("mpegts: bad packet size")
)

// parsePacket decodes the header of the 188-byte packet in buf. The payload
// is not copied.
func parsePacket(buf []byte) (Packet, error) {
	var p Packet
	if len(buf) != PacketSize {
		return p, fmt.Errorf("%w: %d bytes", ErrPacketSize, len(buf))
	}
	if buf[0] != SyncByte {
		return p, fmt.Errorf("%w: got 0x%02X", ErrSync, buf[0])
	}

	h := &p.Header
	h.Error = buf[1]&0x80 != 0
	h.Start = buf[1]&0x40 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.HasAdaptation = buf[3]&0x20 != 0
	h.HasPayload = buf[3]&0x10 != 0
	h.Continuity = buf[3] & 0x0F

	pos := 4
	if h.HasAdaptation {
		afLen := int(buf[pos])
		if afLen > 0 {
			flags := buf[pos+1]
			h.Discontinuity = flags&0x80 != 0
			h.RandomAccess = flags&0x40 != 0
		}
		pos += 1 + afLen
	}
	if h.HasPayload && pos < PacketSize {
		p.Payload = buf[pos:]
	}
	return p, nil
}
