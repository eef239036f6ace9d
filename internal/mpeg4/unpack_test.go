package mpeg4

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/reframe/internal/diag"
	"github.com/zsiec/reframe/internal/media"
)

// vop builds a VOP start code followed by a coding-type byte and filler.
func vop(codingType byte, size int) []byte {
	b := []byte{0x00, 0x00, 0x01, 0xB6, codingType}
	for len(b) < size {
		b = append(b, 0x5A)
	}
	return b
}

// userData builds a user data block holding s and its terminator.
func userData(s string) []byte {
	b := []byte{0x00, 0x00, 0x01, 0xB2}
	b = append(b, s...)
	return append(b, 0x00)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func unit(data []byte, pts int64) *media.AccessUnit {
	return media.NewAccessUnit(data, pts, pts-1)
}

func newTestUnpacker() (*Unpacker, *diag.Recorder) {
	rec := diag.NewRecorder()
	return New(WithReporter(rec)), rec
}

func mustFilter(t *testing.T, u *Unpacker, in *media.AccessUnit) *media.AccessUnit {
	t.Helper()
	out, err := u.Filter(in)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	return out
}

func TestScanBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		buf       []byte
		packedPos int
		vops      int
		second    int
	}{
		{name: "empty", buf: nil, packedPos: -1, vops: 0, second: -1},
		{name: "one vop", buf: vop(0x00, 10), packedPos: -1, vops: 1, second: -1},
		{name: "two vops", buf: concat(vop(0x40, 10), vop(0x80, 8)), packedPos: -1, vops: 2, second: 10},
		{name: "three vops", buf: concat(vop(0x40, 6), vop(0x80, 6), vop(0x80, 6)), packedPos: -1, vops: 3, second: 6},
		{name: "packed flag", buf: concat(userData("DivX503b1393p"), vop(0x00, 8)), packedPos: 16, vops: 1, second: -1},
		{name: "p without terminator", buf: concat([]byte{0, 0, 1, 0xB2}, []byte("DivXp1"), vop(0x00, 8)), packedPos: -1, vops: 1, second: -1},
		{name: "unpacked user data", buf: concat(userData("DivX503b1393"), vop(0x00, 8)), packedPos: -1, vops: 1, second: -1},
		{name: "later unflagged block keeps flag", buf: concat(userData("DivX503b1393p"), userData("other"), vop(0x00, 8)), packedPos: 16, vops: 1, second: -1},
		{name: "later flagged block wins", buf: concat(userData("DivX503b1393p"), userData("DivXp"), vop(0x00, 8)), packedPos: 26, vops: 1, second: -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := scanBuffer(tc.buf)
			if res.packedPos != tc.packedPos || res.vopCount != tc.vops || res.secondVOP != tc.second {
				t.Errorf("scanBuffer = %+v, want packedPos=%d vops=%d second=%d",
					res, tc.packedPos, tc.vops, tc.second)
			}
		})
	}
}

func TestUnpackerDecodeOrder(t *testing.T) {
	t.Parallel()

	a, b := vop(0x40, 40), vop(0x80, 30) // P + packed B
	c := vop(0x40, 50)
	nvop := vop(0x80, 7)

	u, rec := newTestUnpacker()

	out := mustFilter(t, u, unit(concat(a, b), 100))
	if !bytes.Equal(out.Data, a) || out.PTS != 100 {
		t.Fatalf("first output = %x (pts %d), want A", out.Data, out.PTS)
	}
	if !u.Pending() {
		t.Fatal("B-frame should be withheld")
	}

	out = mustFilter(t, u, unit(c, 200))
	if !bytes.Equal(out.Data, b) {
		t.Fatalf("second output = %x, want B", out.Data)
	}
	if out.PTS != 200 || out.DTS != 199 {
		t.Errorf("B timestamps = %d/%d, want those of the releasing unit", out.PTS, out.DTS)
	}

	out = mustFilter(t, u, unit(nvop, 300))
	if !bytes.Equal(out.Data, c) {
		t.Fatalf("third output = %x, want C", out.Data)
	}
	if out.PTS != 300 {
		t.Errorf("C pts = %d, want the placeholder's 300", out.PTS)
	}
	if u.Pending() {
		t.Error("N-VOP must not be retained")
	}
	if rec.Total() != 0 {
		t.Errorf("unexpected anomalies: %+v", rec.Events())
	}

	st := u.Stats()
	if st.NVOPsDropped != 1 || st.Unpacked != 1 || st.UnitsOut != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestUnpackerPackedThenNVOP(t *testing.T) {
	t.Parallel()

	a, b := vop(0x00, 60), vop(0x80, 30)
	u, _ := newTestUnpacker()

	mustFilter(t, u, unit(concat(a, b), 1))
	out := mustFilter(t, u, unit(vop(0x80, 8), 2))
	if !bytes.Equal(out.Data, b) || out.PTS != 2 {
		t.Errorf("got %x pts %d, want B with placeholder pts", out.Data, out.PTS)
	}
	if u.Pending() {
		t.Error("nothing should remain pending")
	}
}

func TestUnpackerPendingCollision(t *testing.T) {
	t.Parallel()

	u, rec := newTestUnpacker()
	b1, b2 := vop(0x80, 25), vop(0x80, 35)

	mustFilter(t, u, unit(concat(vop(0x40, 30), b1), 1))
	mustFilter(t, u, unit(concat(vop(0x40, 30), b2), 2))

	if got := rec.Count(diag.KindPendingCollision); got != 1 {
		t.Fatalf("collision anomalies = %d, want 1", got)
	}
	if rec.Total() != 1 {
		t.Errorf("total anomalies = %d, want 1", rec.Total())
	}

	out := mustFilter(t, u, unit(vop(0x80, 5), 3))
	if !bytes.Equal(out.Data, b2) {
		t.Errorf("released %x, want the second B-frame", out.Data)
	}
	st := u.Stats()
	if st.Discarded != 1 || st.DiscardedBytes != int64(len(b1)) {
		t.Errorf("discard stats = %d/%d", st.Discarded, st.DiscardedBytes)
	}
}

func TestUnpackerOrphanAtFlush(t *testing.T) {
	t.Parallel()

	u, rec := newTestUnpacker()
	mustFilter(t, u, unit(concat(vop(0x40, 30), vop(0x80, 20)), 1))
	u.Flush()

	if rec.Total() != 1 || rec.Count(diag.KindOrphanFrame) != 1 {
		t.Fatalf("anomalies = %+v, want one orphan", rec.Events())
	}
	if u.Pending() {
		t.Error("orphan still pending after Flush")
	}

	// A second flush has nothing to report.
	u.Flush()
	if rec.Total() != 1 {
		t.Errorf("second Flush reported again")
	}
}

func TestUnpackerExcessVOPs(t *testing.T) {
	t.Parallel()

	first, second, third := vop(0x40, 20), vop(0x80, 20), vop(0x80, 20)
	u, rec := newTestUnpacker()

	out := mustFilter(t, u, unit(concat(first, second, third), 1))
	if !bytes.Equal(out.Data, first) {
		t.Errorf("output = %x, want only the first VOP", out.Data)
	}
	if rec.Count(diag.KindExcessMarkers) != 1 {
		t.Errorf("excess anomalies = %d, want 1", rec.Count(diag.KindExcessMarkers))
	}

	out = mustFilter(t, u, unit(vop(0x80, 6), 2))
	if !bytes.Equal(out.Data, concat(second, third)) {
		t.Errorf("withheld suffix = %x", out.Data)
	}
}

func TestUnpackerClearsPackedFlag(t *testing.T) {
	t.Parallel()

	payload := concat(userData("DivX503b1393p"), vop(0x00, 30))
	original := append([]byte(nil), payload...)

	u, _ := newTestUnpacker()
	out := mustFilter(t, u, media.NewSharedAccessUnit(payload, 1, 0))

	if len(out.Data) != len(original) {
		t.Fatalf("length changed: %d != %d", len(out.Data), len(original))
	}
	flag := 4 + len("DivX503b1393")
	if out.Data[flag] != 0 {
		t.Errorf("flag byte = %q, want 0", out.Data[flag])
	}
	diff := 0
	for i := range out.Data {
		if out.Data[i] != original[i] {
			diff++
		}
	}
	if diff != 1 {
		t.Errorf("%d bytes changed, want 1", diff)
	}
	if !bytes.Equal(payload, original) {
		t.Error("shared input buffer was mutated")
	}
	if u.Stats().FlagsCleared != 1 {
		t.Error("FlagsCleared not counted")
	}
}

func TestUnpackerPassThroughZeroCopy(t *testing.T) {
	t.Parallel()

	payload := vop(0x00, 64)
	in := unit(payload, 10)
	u, _ := newTestUnpacker()

	out := mustFilter(t, u, in)
	if &out.Data[0] != &payload[0] {
		t.Error("pass-through copied the payload")
	}
	if in.Size() != 0 {
		t.Error("input still owns its payload after Filter")
	}
	if out.PTS != 10 {
		t.Errorf("pts = %d", out.PTS)
	}
}

func TestUnpackerPreservesOrderWithoutPacking(t *testing.T) {
	t.Parallel()

	u, _ := newTestUnpacker()
	for i := int64(0); i < 10; i++ {
		out := mustFilter(t, u, unit(vop(0x40, 20+int(i)), i))
		if out.PTS != i || out.Size() != 20+int(i) {
			t.Fatalf("unit %d came out as pts %d size %d", i, out.PTS, out.Size())
		}
	}
}

func TestUnpackerNoDataLoss(t *testing.T) {
	t.Parallel()

	inputs := [][]byte{
		concat(userData("DivX503b1393p"), vop(0x00, 80)),
		concat(vop(0x40, 40), vop(0x80, 30)),
		vop(0x80, 6),
		concat(vop(0x40, 41), vop(0x80, 31)),
		vop(0x40, 70),
		vop(0x80, 6),
		concat(vop(0x40, 42), vop(0x80, 32)),
		concat(vop(0x40, 43), vop(0x80, 33)),
		vop(0x00, 90),
		concat(vop(0x40, 44), vop(0x80, 34)),
	}

	u, _ := newTestUnpacker()
	var in, out int64
	for i, data := range inputs {
		in += int64(len(data))
		au := mustFilter(t, u, unit(data, int64(i)))
		out += int64(au.Size())
	}
	u.Flush()

	st := u.Stats()
	if st.BytesIn != in || st.BytesOut != out {
		t.Fatalf("byte counters %d/%d, want %d/%d", st.BytesIn, st.BytesOut, in, out)
	}
	if in != out+st.NVOPBytes+st.DiscardedBytes {
		t.Errorf("bytes lost: in=%d out=%d nvop=%d discarded=%d", in, out, st.NVOPBytes, st.DiscardedBytes)
	}
}

func TestUnpackerInit(t *testing.T) {
	t.Parallel()

	extra := concat([]byte{0x00, 0x00, 0x01, 0xB0, 0xF5}, userData("DivX503b1393p"))
	original := append([]byte(nil), extra...)

	u, _ := newTestUnpacker()
	got, err := u.Init(extra)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(extra, original) {
		t.Error("Init mutated its input")
	}
	if got[len(got)-2] != 0 {
		t.Errorf("flag not cleared: %q", got)
	}

	plain := concat([]byte{0x00, 0x00, 0x01, 0xB0, 0xF5}, userData("DivX503b1393"))
	got, err = u.Init(plain)
	if err != nil {
		t.Fatal(err)
	}
	if &got[0] != &plain[0] {
		t.Error("unpacked extradata should be returned as is")
	}
}

func TestUnpackerClosed(t *testing.T) {
	t.Parallel()

	u, _ := newTestUnpacker()
	mustFilter(t, u, unit(concat(vop(0x40, 20), vop(0x80, 20)), 1))
	u.Close()

	if u.Pending() {
		t.Error("Close left a pending frame")
	}
	in := unit(vop(0x00, 20), 2)
	if _, err := u.Filter(in); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if in.Size() != 0 {
		t.Error("rejected input not released")
	}
	if _, err := u.Init(nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Init err = %v, want ErrClosed", err)
	}
}

func TestUnpackerNilUnit(t *testing.T) {
	t.Parallel()

	u, _ := newTestUnpacker()
	if _, err := u.Filter(nil); !errors.Is(err, ErrNilUnit) {
		t.Errorf("err = %v, want ErrNilUnit", err)
	}
}

func TestHeaders(t *testing.T) {
	t.Parallel()

	vos := []byte{0x00, 0x00, 0x01, 0xB0, 0xF5}
	vol := []byte{0x00, 0x00, 0x01, 0x20, 0x08, 0xC8}
	cfg := concat(vos, userData("DivX503b1393p"), vol)

	tests := []struct {
		name string
		buf  []byte
		want []byte
	}{
		{"config then vop", concat(cfg, vop(0x00, 12)), cfg},
		{"config then gov", concat(cfg, []byte{0, 0, 1, 0xB3, 0}, vop(0x00, 12)), cfg},
		{"config only", cfg, cfg},
		{"vop only", vop(0x40, 12), nil},
		{"empty", nil, nil},
	}
	for _, tc := range tests {
		if got := Headers(tc.buf); !bytes.Equal(got, tc.want) {
			t.Errorf("%s: Headers = %x, want %x", tc.name, got, tc.want)
		}
	}
}

func TestFirstCodingType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		buf  []byte
		want int
	}{
		{vop(0x00, 8), CodingI},
		{vop(0x40, 8), CodingP},
		{concat(vop(0x80, 8), vop(0x00, 8)), CodingB},
		{[]byte{0, 0, 1, 0xB6}, -1},
		{userData("x"), -1},
	}
	for i, tc := range tests {
		if got := FirstCodingType(tc.buf); got != tc.want {
			t.Errorf("case %d: FirstCodingType = %d, want %d", i, got, tc.want)
		}
	}
	if !IsKeyframe(vop(0x00, 8)) || IsKeyframe(vop(0x40, 8)) {
		t.Error("IsKeyframe mismatch")
	}
}
