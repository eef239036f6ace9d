package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Muxer defaults.
const (
	DefaultProgramNumber uint16 = 1
	DefaultPMTPID        uint16 = 0x1000
	DefaultStreamPID     uint16 = 0x0100

	videoStreamID = 0xE0
	timestampMask = 1<<33 - 1
)

// ErrMuxerClosed is returned by WriteUnit after Close.
var ErrMuxerClosed = errors.New("mpegts: muxer closed")

// MuxOption configures a Muxer.
type MuxOption func(*Muxer)

// WithPIDs sets the PMT and elementary stream PIDs.
func WithPIDs(pmt, stream uint16) MuxOption {
	return func(m *Muxer) {
		m.pmtPID, m.pid = pmt, stream
	}
}

// Muxer writes a single-program transport stream carrying one video
// elementary stream. PAT and PMT are repeated ahead of every keyframe and a
// PCR derived from the decode timestamp starts every PES.
type Muxer struct {
	w          io.Writer
	streamType uint8
	pmtPID     uint16
	pid        uint16
	cc         map[uint16]uint8
	buf        [PacketSize]byte
	units      int64
	packets    int64
	closed     bool
}

// NewMuxer returns a Muxer writing to w. streamType is the PMT stream type
// of the elementary stream, e.g. StreamTypeMPEG4Video.
func NewMuxer(w io.Writer, streamType uint8, opts ...MuxOption) *Muxer {
	m := &Muxer{
		w:          w,
		streamType: streamType,
		pmtPID:     DefaultPMTPID,
		pid:        DefaultStreamPID,
		cc:         make(map[uint16]uint8),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Packets returns the number of transport packets written.
func (m *Muxer) Packets() int64 {
	return m.packets
}

// WriteUnit writes one access unit as a PES packet. dts equal to pts is
// omitted from the PES header.
func (m *Muxer) WriteUnit(data []byte, pts, dts int64, keyframe bool) error {
	if m.closed {
		return ErrMuxerClosed
	}
	if m.units == 0 || keyframe {
		if err := m.writeTables(); err != nil {
			return err
		}
	}
	m.units++

	pes := buildPES(data, pts, dts)
	af := pcrField(dts, keyframe)
	for start := true; len(pes) > 0; start = false {
		n, err := m.packet(m.pid, start, af, pes)
		if err != nil {
			return err
		}
		pes = pes[n:]
		af = nil
	}
	return nil
}

// Close stops the muxer. It does not close the underlying writer.
func (m *Muxer) Close() error {
	m.closed = true
	return nil
}

func (m *Muxer) writeTables() error {
	pat := []byte{
		0x00, 0, 0,
		0, 1, // transport_stream_id
		0xC1, 0, 0,
		byte(DefaultProgramNumber >> 8), byte(DefaultProgramNumber),
		0xE0 | byte(m.pmtPID>>8), byte(m.pmtPID),
	}
	pmt := []byte{
		0x02, 0, 0,
		byte(DefaultProgramNumber >> 8), byte(DefaultProgramNumber),
		0xC1, 0, 0,
		0xE0 | byte(m.pid>>8), byte(m.pid), // PCR PID
		0xF0, 0, // program_info_length
		m.streamType, 0xE0 | byte(m.pid>>8), byte(m.pid), 0xF0, 0,
	}
	if err := m.writeSection(pidPAT, pat); err != nil {
		return err
	}
	return m.writeSection(m.pmtPID, pmt)
}

// writeSection completes the length and CRC of section and writes it in a
// single packet behind a zero pointer field.
func (m *Muxer) writeSection(pid uint16, section []byte) error {
	n := len(section) - sectionHeaderLen + crcLen
	section[1] = 0xB0 | byte(n>>8)&0x0F
	section[2] = byte(n)
	section = binary.BigEndian.AppendUint32(section, crc32MPEG(section))

	payload := make([]byte, PacketSize-4)
	for i := range payload {
		payload[i] = 0xFF
	}
	payload[0] = 0
	copy(payload[1:], section)
	_, err := m.packet(pid, true, nil, payload)
	return err
}

// packet writes one transport packet with adaptation field body af (nil for
// none) and as much of payload as fits. Short payloads are padded with
// adaptation field stuffing. It returns the payload bytes written.
func (m *Muxer) packet(pid uint16, start bool, af, payload []byte) (int, error) {
	buf := m.buf[:]
	buf[0] = SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	if start {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	cc := m.cc[pid]
	m.cc[pid] = (cc + 1) & 0x0F

	space := PacketSize - 4
	var n int
	if af == nil && len(payload) >= space {
		buf[3] = 0x10 | cc
		n = copy(buf[4:], payload)
	} else {
		n = min(len(payload), space-1-len(af))
		pad := space - 1 - len(af) - n
		if pad > 0 && len(af) == 0 {
			af = []byte{0}
			pad--
		}
		buf[3] = 0x30 | cc
		buf[4] = byte(len(af) + pad)
		i := 5 + copy(buf[5:], af)
		for end := i + pad; i < end; i++ {
			buf[i] = 0xFF
		}
		copy(buf[i:], payload[:n])
	}

	if _, err := m.w.Write(buf); err != nil {
		return 0, fmt.Errorf("mpegts: write packet: %w", err)
	}
	m.packets++
	return n, nil
}

// pcrField returns the adaptation field body of a PES start packet: the
// flags byte and a PCR with base dts.
func pcrField(dts int64, randomAccess bool) []byte {
	flags := byte(0x10)
	if randomAccess {
		flags |= 0x40
	}
	base := uint64(dts) & timestampMask
	return []byte{
		flags,
		byte(base >> 25),
		byte(base >> 17),
		byte(base >> 9),
		byte(base >> 1),
		byte(base&1)<<7 | 0x7E,
		0,
	}
}

func buildPES(data []byte, pts, dts int64) []byte {
	withDTS := dts != pts
	hdrData := 5
	flags := byte(0x80)
	if withDTS {
		hdrData = 10
		flags = 0xC0
	}

	b := make([]byte, 0, pesHeaderLen+3+hdrData+len(data))
	b = append(b, 0, 0, 1, videoStreamID, 0, 0, 0x80, flags, byte(hdrData))
	if withDTS {
		b = appendTimestamp(b, 0x30, pts)
		b = appendTimestamp(b, 0x10, dts)
	} else {
		b = appendTimestamp(b, 0x20, pts)
	}
	if n := len(b) - pesHeaderLen + len(data); n <= 0xFFFF {
		binary.BigEndian.PutUint16(b[4:], uint16(n))
	}
	return append(b, data...)
}

// appendTimestamp encodes the 33-bit value v behind the 4-bit prefix with
// marker bits.
func appendTimestamp(b []byte, prefix byte, v int64) []byte {
	t := uint64(v) & timestampMask
	return append(b,
		prefix|byte(t>>29)&0x0E|0x01,
		byte(t>>22),
		byte(t>>14)|0x01,
		byte(t>>7),
		byte(t<<1)|0x01,
	)
}
