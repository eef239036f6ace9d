package mpegts

import "time"

// Timescale is the PTS/DTS clock rate in ticks per second.
const Timescale = 90000

type timestampField struct {
	offset int
	pcr    bool
}

// Timestamps records where each PTS, DTS and PCR of an in-memory transport
// stream lives so the whole stream can be moved in time without reparsing.
type Timestamps struct {
	fields []timestampField

	// First and Last bound the video PTS values; First is -1 when the
	// stream carries no video timestamps.
	First, Last int64
	videoPES    int
}

// ScanTimestamps walks the packets of data. Bytes that are not aligned
// packets are skipped.
func ScanTimestamps(data []byte) *Timestamps {
	ts := &Timestamps{First: -1}
	for off := 0; off+PacketSize <= len(data); off += PacketSize {
		pkt := data[off : off+PacketSize]
		if pkt[0] != SyncByte {
			continue
		}
		pos := 4
		if pkt[3]&0x20 != 0 {
			afLen := int(pkt[4])
			if afLen >= 7 && pkt[5]&0x10 != 0 {
				ts.fields = append(ts.fields, timestampField{offset: off + 6, pcr: true})
			}
			pos += 1 + afLen
		}
		if pkt[1]&0x40 == 0 || pkt[3]&0x10 == 0 || pos+14 > PacketSize {
			continue
		}
		pes := pkt[pos:]
		if !isPES(pes) {
			continue
		}
		id := pes[3]
		video := id >= 0xE0 && id <= 0xEF
		if !video && (id < 0xC0 || id > 0xDF) {
			continue
		}
		flags := pes[7] >> 6
		if flags&0x2 == 0 {
			continue
		}
		ts.fields = append(ts.fields, timestampField{offset: off + pos + 9})
		if video {
			pts := readTimestamp(pes[9:]).Value
			if ts.First < 0 || pts < ts.First {
				ts.First = pts
			}
			if pts > ts.Last {
				ts.Last = pts
			}
			ts.videoPES++
		}
		if flags&0x1 != 0 && len(pes) >= 19 {
			ts.fields = append(ts.fields, timestampField{offset: off + pos + 14})
		}
	}
	return ts
}

// Len returns the number of timestamp fields found.
func (t *Timestamps) Len() int {
	return len(t.fields)
}

// Period returns the ticks one pass over the stream covers: the video PTS
// span plus one frame interval. Shifting by Period after each pass keeps
// timestamps increasing when the stream is looped.
func (t *Timestamps) Period() int64 {
	if t.First < 0 || t.videoPES < 2 {
		return 0
	}
	span := t.Last - t.First
	return span + span/int64(t.videoPES-1)
}

// Duration returns Period as wall time.
func (t *Timestamps) Duration() time.Duration {
	return time.Duration(t.Period()) * time.Second / Timescale
}

// Shift adds delta ticks to every recorded timestamp in data, which must be
// the buffer that was scanned. Values wrap at 33 bits.
func (t *Timestamps) Shift(data []byte, delta int64) {
	for _, f := range t.fields {
		b := data[f.offset:]
		if f.pcr {
			writePCRBase(b, readPCRBase(b)+delta)
			continue
		}
		v := readTimestamp(b).Value + delta
		appendTimestamp(b[:0], b[0]&0xF0, v)
	}
	if t.First >= 0 {
		t.First = (t.First + delta) & timestampMask
		t.Last = (t.Last + delta) & timestampMask
	}
}

func readPCRBase(b []byte) int64 {
	return int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4]>>7)
}

// writePCRBase replaces the 33-bit base and keeps the 9-bit extension.
func writePCRBase(b []byte, base int64) {
	v := uint64(base) & timestampMask
	b[0] = byte(v >> 25)
	b[1] = byte(v >> 17)
	b[2] = byte(v >> 9)
	b[3] = byte(v >> 1)
	b[4] = byte(v&1)<<7 | 0x7E | b[4]&0x01
}
