package mpegts

// assembler collects the payloads of one PID into whole units (a PES packet
// or a run of PSI sections).
type assembler struct {
	psi bool

	buf          []byte
	open         bool // a unit start has been seen and buf belongs to it
	randomAccess bool

	lastCC uint8
	haveCC bool

	// ccErrors counts continuity gaps that cost a unit.
	ccErrors int
}

// unit is a completed payload.
type unit struct {
	data         []byte
	randomAccess bool
}

// push adds one packet and returns the unit it completes, if any.
func (a *assembler) push(p *Packet) (unit, bool) {
	h := p.Header
	if h.Error {
		a.abort()
		return unit{}, false
	}
	if !h.HasPayload {
		// The continuity counter only advances with payload.
		return unit{}, false
	}

	if a.haveCC && !h.Discontinuity {
		switch h.Continuity {
		case (a.lastCC + 1) & 0x0F:
		case a.lastCC:
			return unit{}, false // duplicate
		default:
			if a.open {
				a.ccErrors++
			}
			a.abort()
		}
	}
	a.lastCC, a.haveCC = h.Continuity, true

	var done unit
	var ok bool
	if h.Start {
		if a.open && len(a.buf) > 0 {
			done, ok = unit{data: a.buf, randomAccess: a.randomAccess}, true
		}
		a.buf = append([]byte(nil), p.Payload...)
		a.open = true
		a.randomAccess = h.RandomAccess
	} else if a.open {
		a.buf = append(a.buf, p.Payload...)
	}

	if !ok && a.open && a.psi && psiComplete(a.buf) {
		done, ok = unit{data: a.buf}, true
		a.buf, a.open = nil, false
	}
	return done, ok
}

// flush returns whatever is buffered at end of stream.
func (a *assembler) flush() (unit, bool) {
	if !a.open || len(a.buf) == 0 {
		return unit{}, false
	}
	u := unit{data: a.buf, randomAccess: a.randomAccess}
	a.abort()
	return u, true
}

func (a *assembler) abort() {
	a.buf = nil
	a.open = false
	a.randomAccess = false
}
