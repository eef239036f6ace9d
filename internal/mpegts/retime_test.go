package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func muxUnits(t *testing.T, n int, b frames) []byte {
	t.Helper()
	var buf bytes.Buffer
	m := NewMuxer(&buf, StreamTypeMPEG4Video)
	for i := 0; i < n; i++ {
		pts := int64(3003 * (i + 1))
		dts := pts
		if b.reordered && i%2 == 1 {
			dts = pts - 3003
		}
		if err := m.WriteUnit(bytes.Repeat([]byte{byte(i)}, b.size), pts, dts, i == 0); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

type frames struct {
	size      int
	reordered bool
}

func pesTimestamps(t *testing.T, data []byte) (pts, dts []int64) {
	t.Helper()
	d := NewDemuxer(context.Background(), bytes.NewReader(data))
	for {
		out, err := d.NextData()
		if errors.Is(err, io.EOF) {
			return pts, dts
		}
		if err != nil {
			t.Fatal(err)
		}
		if out.PES != nil {
			pts = append(pts, out.PES.PTS.Value)
			dts = append(dts, out.PES.DTSOrPTS())
		}
	}
}

func TestScanTimestamps(t *testing.T) {
	t.Parallel()

	data := muxUnits(t, 4, frames{size: 500, reordered: true})
	ts := ScanTimestamps(data)

	if ts.First != 3003 || ts.Last != 12012 {
		t.Errorf("PTS range = %d..%d, want 3003..12012", ts.First, ts.Last)
	}
	// Four PCRs, four PTS and two DTS fields.
	if ts.Len() != 10 {
		t.Errorf("Len = %d, want 10", ts.Len())
	}
	if ts.Period() != 12012 {
		t.Errorf("Period = %d, want 12012", ts.Period())
	}
	if want := 12012 * time.Second / Timescale; ts.Duration() != want {
		t.Errorf("Duration = %v, want %v", ts.Duration(), want)
	}
}

func TestScanTimestampsEmpty(t *testing.T) {
	t.Parallel()

	ts := ScanTimestamps([]byte("not a transport stream"))
	if ts.First != -1 || ts.Len() != 0 || ts.Period() != 0 {
		t.Errorf("got %+v", ts)
	}
}

func TestTimestampsShift(t *testing.T) {
	t.Parallel()

	data := muxUnits(t, 3, frames{size: 2000, reordered: true})
	wantPTS, wantDTS := pesTimestamps(t, data)

	ts := ScanTimestamps(data)
	ts.Shift(data, 90000)

	gotPTS, gotDTS := pesTimestamps(t, data)
	if len(gotPTS) != len(wantPTS) {
		t.Fatalf("got %d PES, want %d", len(gotPTS), len(wantPTS))
	}
	for i := range wantPTS {
		if gotPTS[i] != wantPTS[i]+90000 || gotDTS[i] != wantDTS[i]+90000 {
			t.Errorf("PES %d: pts %d dts %d, want %d %d", i, gotPTS[i], gotDTS[i], wantPTS[i]+90000, wantDTS[i]+90000)
		}
	}
	if ts.First != 93003 {
		t.Errorf("First = %d after shift", ts.First)
	}

	rescan := ScanTimestamps(data)
	if rescan.First != ts.First || rescan.Last != ts.Last {
		t.Errorf("rescan range %d..%d, tracked %d..%d", rescan.First, rescan.Last, ts.First, ts.Last)
	}
	for _, f := range rescan.fields {
		if f.pcr && readPCRBase(data[f.offset:]) < 90000 {
			t.Errorf("PCR at %d not shifted", f.offset)
		}
	}
}

func TestTimestampsShiftWraps(t *testing.T) {
	t.Parallel()

	data := muxUnits(t, 2, frames{size: 10})
	ts := ScanTimestamps(data)
	ts.Shift(data, 1<<33-3003)

	pts, _ := pesTimestamps(t, data)
	if len(pts) != 2 || pts[0] != 0 || pts[1] != 3003 {
		t.Errorf("wrapped PTS = %v, want [0 3003]", pts)
	}
}
