package mpegts

import "encoding/binary"

// makePacket builds a payload-only packet. Unused payload bytes are 0xFF,
// the PSI stuffing value.
func makePacket(pid uint16, cc uint8, start bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	buf[0] = SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	if start {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	buf[3] = 0x10 | cc&0x0F
	copy(buf[4:], payload)
	return buf
}

// packetize splits a PES packet over as many packets as needed. The last
// packet is padded with adaptation field stuffing so that the payload is
// exactly pes.
func packetize(pid uint16, cc uint8, randomAccess bool, pes []byte) [][]byte {
	var out [][]byte
	first := true
	for len(pes) > 0 {
		buf := make([]byte, PacketSize)
		buf[0] = SyncByte
		buf[1] = byte(pid>>8) & 0x1F
		if first {
			buf[1] |= 0x40
		}
		buf[2] = byte(pid)

		n := min(len(pes), PacketSize-4)
		needAF := n < PacketSize-4 || (first && randomAccess)
		if needAF {
			n = min(len(pes), PacketSize-4-2)
			afLen := PacketSize - 4 - 1 - n
			buf[3] = 0x30 | cc&0x0F
			buf[4] = byte(afLen)
			if afLen > 0 {
				if first && randomAccess {
					buf[5] = 0x40
				}
				for i := 6; i < 5+afLen; i++ {
					buf[i] = 0xFF
				}
			}
			copy(buf[5+afLen:], pes[:n])
		} else {
			buf[3] = 0x10 | cc&0x0F
			copy(buf[4:], pes[:n])
		}
		out = append(out, buf)
		pes = pes[n:]
		cc = (cc + 1) & 0x0F
		first = false
	}
	return out
}

type program struct{ num, pid uint16 }

type stream struct {
	typ uint8
	pid uint16
}

// buildPAT returns a PAT section with a valid CRC.
func buildPAT(tsID uint16, programs ...program) []byte {
	s := []byte{tableIDPAT, 0, 0, byte(tsID >> 8), byte(tsID), 0xC1, 0, 0}
	for _, p := range programs {
		s = append(s, byte(p.num>>8), byte(p.num), 0xE0|byte(p.pid>>8)&0x1F, byte(p.pid))
	}
	return finishSection(s)
}

// buildPMT returns a PMT section with a valid CRC.
func buildPMT(programNum, pcrPID uint16, streams ...stream) []byte {
	s := []byte{tableIDPMT, 0, 0, byte(programNum >> 8), byte(programNum), 0xC1, 0, 0,
		0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID), 0xF0, 0x00}
	for _, st := range streams {
		s = append(s, st.typ, 0xE0|byte(st.pid>>8)&0x1F, byte(st.pid), 0xF0, 0x00)
	}
	return finishSection(s)
}

// finishSection fills in section_length and appends the CRC.
func finishSection(s []byte) []byte {
	length := len(s) - 3 + crcLen
	s[1] = 0xB0 | byte(length>>8)&0x0F
	s[2] = byte(length)
	return binary.BigEndian.AppendUint32(s, crc32MPEG(s))
}

// psiPayload prefixes a section with a zero pointer field.
func psiPayload(section []byte) []byte {
	return append([]byte{0x00}, section...)
}

// encodeTimestamp writes a 33-bit timestamp with the given 4-bit prefix.
func encodeTimestamp(prefix byte, v int64) []byte {
	return []byte{
		prefix<<4 | byte(v>>29)&0x0E | 0x01,
		byte(v >> 22),
		byte(v>>14)&0xFE | 0x01,
		byte(v >> 7),
		byte(v<<1)&0xFE | 0x01,
	}
}

// pesPacket returns a PES packet. A negative dts omits it; a negative pts
// omits both timestamps. Bounded sets PES_packet_length.
func pesPacket(streamID byte, pts, dts int64, bounded bool, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case pts >= 0 && dts >= 0:
		flags = 0xC0
		opt = append(encodeTimestamp(0x3, pts), encodeTimestamp(0x1, dts)...)
	case pts >= 0:
		flags = 0x80
		opt = encodeTimestamp(0x2, pts)
	}
	b := []byte{0x00, 0x00, 0x01, streamID, 0, 0, 0x80, flags, byte(len(opt))}
	b = append(b, opt...)
	b = append(b, data...)
	if bounded {
		binary.BigEndian.PutUint16(b[4:], uint16(len(b)-pesHeaderLen))
	}
	return b
}
