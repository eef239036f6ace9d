// Package mpegts reads MPEG transport streams. It locks onto the sync byte,
// follows the PAT and PMT to learn which PIDs carry which elementary
// streams, and reassembles PES packets with their PTS/DTS.
package mpegts

// Transport packet constants.
const (
	PacketSize = 188
	SyncByte   = 0x47

	pidPAT  uint16 = 0x0000
	pidNull uint16 = 0x1FFF
)

// Stream types from the PMT (ISO/IEC 13818-1 Table 2-34).
const (
	StreamTypeMPEG1Video = 0x01
	StreamTypeMPEG2Video = 0x02
	StreamTypeAAC        = 0x0F
	StreamTypeMPEG4Video = 0x10
	StreamTypeH264       = 0x1B
	StreamTypeH265       = 0x24
)

// Header holds the fields of a transport packet header and the adaptation
// field flags the demuxer uses.
type Header struct {
	PID           uint16
	Continuity    uint8
	Start         bool // payload_unit_start_indicator
	Error         bool // transport_error_indicator
	HasAdaptation bool
	HasPayload    bool
	Discontinuity bool
	RandomAccess  bool
}

// Packet is one parsed transport packet. Payload aliases the buffer the
// packet was parsed from.
type Packet struct {
	Header  Header
	Payload []byte
}

// Data is one unit produced by the Demuxer. Exactly one of PAT, PMT and PES
// is set.
type Data struct {
	PID uint16
	PAT *PAT
	PMT *PMT
	PES *PES
}

// PAT is a Program Association Table.
type PAT struct {
	TransportStreamID uint16
	Programs          []Program
}

// Program maps a program number to the PID of its PMT.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PMT is a Program Map Table.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	Type uint8
	PID  uint16
}

// Timestamp is a 33-bit 90 kHz PES timestamp.
type Timestamp struct {
	Value int64
	Valid bool
}

// PES is a reassembled PES packet.
type PES struct {
	StreamID uint8
	PTS      Timestamp
	DTS      Timestamp
	// RandomAccess is set when the first transport packet of the PES
	// signalled a random access point.
	RandomAccess bool
	Data         []byte
}

// DTSOrPTS returns the decode timestamp, falling back to the presentation
// timestamp when the PES carries only one.
func (p *PES) DTSOrPTS() int64 {
	if p.DTS.Valid {
		return p.DTS.Value
	}
	return p.PTS.Value
}
