package mpegts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Option configures a Demuxer.
type Option func(*Demuxer)

// WithPacketSize sets the on-wire packet size. 204-byte packets carry 16
// trailing Reed-Solomon bytes, which are skipped.
func WithPacketSize(n int) Option {
	return func(d *Demuxer) {
		if n >= PacketSize {
			d.pktSize = n
		}
	}
}

// Stats counts what the Demuxer has seen.
type Stats struct {
	Packets         int64
	Resyncs         int64 // times sync was lost and recovered
	SkippedBytes    int64 // bytes dropped while resynchronising
	ContinuityGaps  int64
	CorruptSections int64
	CorruptPES      int64
}

// Demuxer reads transport packets and returns PAT, PMT and PES units in
// stream order. It is not safe for concurrent use.
type Demuxer struct {
	ctx     context.Context
	r       *bufio.Reader
	pktSize int
	pkt     []byte

	pmtPIDs map[uint16]bool
	asm     map[uint16]*assembler
	queue   []*Data
	eof     bool
	stats   Stats
}

// NewDemuxer returns a Demuxer reading from r. Reads stop with ctx's error
// once ctx is done.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...Option) *Demuxer {
	d := &Demuxer{
		ctx:     ctx,
		pktSize: PacketSize,
		pmtPIDs: make(map[uint16]bool),
		asm:     make(map[uint16]*assembler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.r = bufio.NewReaderSize(r, d.pktSize*64)
	d.pkt = make([]byte, d.pktSize)
	return d
}

// Stats returns a snapshot of the counters.
func (d *Demuxer) Stats() Stats {
	return d.stats
}

// NextData returns the next unit. At end of input the units still being
// assembled are returned, then io.EOF.
func (d *Demuxer) NextData() (*Data, error) {
	for {
		if len(d.queue) > 0 {
			data := d.queue[0]
			d.queue = d.queue[1:]
			return data, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		if err := d.readPacket(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drain()
				continue
			}
			return nil, err
		}

		p, err := parsePacket(d.pkt[:PacketSize])
		if err != nil {
			continue
		}
		d.stats.Packets++
		d.handle(&p)
	}
}

// readPacket fills d.pkt with the next packet, skipping bytes until a sync
// byte when the stream is out of alignment.
func (d *Demuxer) readPacket() error {
	skipped := 0
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if b == SyncByte {
			break
		}
		skipped++
	}
	if skipped > 0 {
		d.stats.Resyncs++
		d.stats.SkippedBytes += int64(skipped)
	}
	d.pkt[0] = SyncByte
	if _, err := io.ReadFull(d.r, d.pkt[1:]); err != nil {
		return err
	}
	return nil
}

func (d *Demuxer) handle(p *Packet) {
	pid := p.Header.PID
	if pid == pidNull {
		return
	}
	a, ok := d.asm[pid]
	if !ok {
		a = &assembler{psi: d.isPSI(pid)}
		d.asm[pid] = a
	}
	gaps := a.ccErrors
	u, done := a.push(p)
	d.stats.ContinuityGaps += int64(a.ccErrors - gaps)
	if done {
		d.emit(pid, a.psi, u)
	}
}

func (d *Demuxer) isPSI(pid uint16) bool {
	return pid == pidPAT || d.pmtPIDs[pid]
}

func (d *Demuxer) emit(pid uint16, psi bool, u unit) {
	if psi {
		tables, err := parsePSI(pid, u.data)
		if err != nil {
			d.stats.CorruptSections++
		}
		for _, t := range tables {
			if t.PAT != nil {
				d.learnPAT(t.PAT)
			}
		}
		d.queue = append(d.queue, tables...)
		return
	}
	if !isPES(u.data) {
		return
	}
	pes, err := parsePES(u.data)
	if err != nil {
		d.stats.CorruptPES++
		return
	}
	pes.RandomAccess = u.randomAccess
	d.queue = append(d.queue, &Data{PID: pid, PES: pes})
}

// learnPAT marks the PMT PIDs of pat as PSI. An assembler already created
// for such a PID as PES is replaced.
func (d *Demuxer) learnPAT(pat *PAT) {
	for _, prog := range pat.Programs {
		if d.pmtPIDs[prog.PMTPID] {
			continue
		}
		d.pmtPIDs[prog.PMTPID] = true
		if a, ok := d.asm[prog.PMTPID]; ok && !a.psi {
			delete(d.asm, prog.PMTPID)
		}
	}
}

// drain flushes every assembler at end of input, PAT first so the PMT PIDs
// it names are parsed as PSI.
func (d *Demuxer) drain() {
	pids := make([]int, 0, len(d.asm))
	for pid := range d.asm {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)
	for _, pid := range pids {
		a := d.asm[uint16(pid)]
		if a == nil {
			continue // replaced by learnPAT
		}
		if u, ok := a.flush(); ok {
			d.emit(uint16(pid), a.psi || d.isPSI(uint16(pid)), u)
		}
	}
}

// String implements fmt.Stringer for debugging output.
func (s Stats) String() string {
	return fmt.Sprintf("packets=%d resyncs=%d skipped=%d cc_gaps=%d bad_psi=%d bad_pes=%d",
		s.Packets, s.Resyncs, s.SkippedBytes, s.ContinuityGaps, s.CorruptSections, s.CorruptPES)
}
