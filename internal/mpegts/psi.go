package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02

	sectionHeaderLen = 3
	crcLen           = 4
)

var (
	// ErrCRC is returned for a PSI section whose CRC does not check.
	ErrCRC = errors.New("mpegts: PSI CRC mismatch")
	// ErrShortSection is returned for a truncated PSI section.
	ErrShortSection = errors.New("mpegts: PSI section too short")
)

// sectionLength reads the 12-bit section_length of the section at b.
func sectionLength(b []byte) int {
	return int(binary.BigEndian.Uint16(b[1:]) & 0x0FFF)
}

// walkSections calls fn for every complete section in a PSI payload that
// starts with a pointer field. It reports whether the payload ends cleanly,
// i.e. no section is cut short.
func walkSections(payload []byte, fn func(tableID byte, section []byte) error) (bool, error) {
	if len(payload) == 0 {
		return false, nil
	}
	pos := 1 + int(payload[0])
	if pos >= len(payload) {
		return false, nil
	}
	for pos < len(payload) {
		if payload[pos] == 0xFF {
			return true, nil // stuffing
		}
		if pos+sectionHeaderLen > len(payload) {
			return false, nil
		}
		if payload[pos+1]&0x80 == 0 {
			// section_syntax_indicator clear: zero padding, not a table.
			return true, nil
		}
		end := pos + sectionHeaderLen + sectionLength(payload[pos:])
		if end > len(payload) {
			return false, nil
		}
		if fn != nil {
			if err := fn(payload[pos], payload[pos:end]); err != nil {
				return true, err
			}
		}
		pos = end
	}
	return true, nil
}

// psiComplete reports whether payload holds only whole sections.
func psiComplete(payload []byte) bool {
	ok, _ := walkSections(payload, nil)
	return ok
}

// parsePSI decodes the PAT and PMT sections of payload.
func parsePSI(pid uint16, payload []byte) ([]*Data, error) {
	var out []*Data
	_, err := walkSections(payload, func(tableID byte, section []byte) error {
		switch tableID {
		case tableIDPAT:
			pat, err := parsePAT(section)
			if err != nil {
				return err
			}
			out = append(out, &Data{PID: pid, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return err
			}
			out = append(out, &Data{PID: pid, PMT: pmt})
		}
		return nil
	})
	return out, err
}

// checkSection verifies the CRC of a long-form section and returns the
// bytes between the 8-byte syntax header and the CRC.
func checkSection(section []byte, minBody int) ([]byte, error) {
	if len(section) < 8+minBody+crcLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortSection, len(section))
	}
	if crc32MPEG(section) != 0 {
		return nil, ErrCRC
	}
	return section[8 : len(section)-crcLen], nil
}

func parsePAT(section []byte) (*PAT, error) {
	body, err := checkSection(section, 0)
	if err != nil {
		return nil, fmt.Errorf("PAT: %w", err)
	}
	pat := &PAT{TransportStreamID: binary.BigEndian.Uint16(section[3:])}
	for ; len(body) >= 4; body = body[4:] {
		num := binary.BigEndian.Uint16(body)
		if num == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, Program{
			Number: num,
			PMTPID: binary.BigEndian.Uint16(body[2:]) & 0x1FFF,
		})
	}
	return pat, nil
}

func parsePMT(section []byte) (*PMT, error) {
	body, err := checkSection(section, 4)
	if err != nil {
		return nil, fmt.Errorf("PMT: %w", err)
	}
	pmt := &PMT{
		ProgramNumber: binary.BigEndian.Uint16(section[3:]),
		PCRPID:        binary.BigEndian.Uint16(body) & 0x1FFF,
	}
	infoLen := int(binary.BigEndian.Uint16(body[2:]) & 0x0FFF)
	body = body[4:]
	if infoLen > len(body) {
		return nil, fmt.Errorf("PMT: %w: program info length %d", ErrShortSection, infoLen)
	}
	for body = body[infoLen:]; len(body) >= 5; {
		esInfoLen := int(binary.BigEndian.Uint16(body[3:]) & 0x0FFF)
		pmt.Streams = append(pmt.Streams, ElementaryStream{
			Type: body[0],
			PID:  binary.BigEndian.Uint16(body[1:]) & 0x1FFF,
		})
		if 5+esInfoLen > len(body) {
			break
		}
		body = body[5+esInfoLen:]
	}
	return pmt, nil
}
