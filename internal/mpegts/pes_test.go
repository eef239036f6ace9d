package mpegts

import (
	"bytes"
	"errors"
	"testing"
)

func TestParsePES(t *testing.T) {
	t.Parallel()

	data := []byte{0x00, 0x00, 0x01, 0xB6, 0x10, 0x20}
	tests := []struct {
		name     string
		pts, dts int64
		bounded  bool
	}{
		{"pts only", 90000, -1, false},
		{"pts and dts", 93003, 90000, false},
		{"bounded", 1 << 32, (1 << 32) - 3003, true},
		{"no timestamps", -1, -1, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pes, err := parsePES(pesPacket(0xE0, tc.pts, tc.dts, tc.bounded, data))
			if err != nil {
				t.Fatal(err)
			}
			if pes.StreamID != 0xE0 {
				t.Errorf("StreamID = 0x%02X", pes.StreamID)
			}
			if pes.PTS.Valid != (tc.pts >= 0) || (pes.PTS.Valid && pes.PTS.Value != tc.pts) {
				t.Errorf("PTS = %+v, want %d", pes.PTS, tc.pts)
			}
			if pes.DTS.Valid != (tc.dts >= 0) || (pes.DTS.Valid && pes.DTS.Value != tc.dts) {
				t.Errorf("DTS = %+v, want %d", pes.DTS, tc.dts)
			}
			if !bytes.Equal(pes.Data, data) {
				t.Errorf("Data = %x", pes.Data)
			}
		})
	}
}

func TestParsePESBoundedIgnoresTrailer(t *testing.T) {
	t.Parallel()

	buf := pesPacket(0xC0, 900, -1, true, []byte{1, 2, 3})
	buf = append(buf, 0xFF, 0xFF)
	pes, err := parsePES(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pes.Data, []byte{1, 2, 3}) {
		t.Errorf("Data = %x", pes.Data)
	}
}

func TestParsePESWithoutOptionalHeader(t *testing.T) {
	t.Parallel()

	buf := []byte{0x00, 0x00, 0x01, 0xBE, 0x00, 0x03, 0xFF, 0xFF, 0xFF}
	pes, err := parsePES(buf)
	if err != nil {
		t.Fatal(err)
	}
	if pes.PTS.Valid || len(pes.Data) != 3 {
		t.Errorf("pes = %+v", pes)
	}
}

func TestParsePESErrors(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"no start code":     {0x00, 0x00, 0x02, 0xE0, 0, 0},
		"too short":         {0x00, 0x00, 0x01},
		"header cut short":  {0x00, 0x00, 0x01, 0xE0, 0, 0, 0x80},
		"header length bad": {0x00, 0x00, 0x01, 0xE0, 0, 0, 0x80, 0x80, 40, 1, 2},
	}
	for name, buf := range tests {
		if _, err := parsePES(buf); !errors.Is(err, ErrBadPES) {
			t.Errorf("%s: err = %v, want ErrBadPES", name, err)
		}
	}
}

func TestDTSOrPTS(t *testing.T) {
	t.Parallel()

	p := &PES{PTS: Timestamp{Value: 10, Valid: true}}
	if p.DTSOrPTS() != 10 {
		t.Errorf("DTSOrPTS = %d, want PTS", p.DTSOrPTS())
	}
	p.DTS = Timestamp{Value: 7, Valid: true}
	if p.DTSOrPTS() != 7 {
		t.Errorf("DTSOrPTS = %d, want DTS", p.DTSOrPTS())
	}
}
