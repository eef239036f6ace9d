// Package media defines the access unit type that flows through the reframe
// processing pipeline, from demuxing through reordering to the output sinks.
package media

// UnitBufferSize is the channel buffer used between the demuxer (producer)
// and the pipeline (consumer). Sized for ~2 seconds of 30 fps video.
const UnitBufferSize = 60

// Flags is a bit set of per-unit properties.
type Flags uint32

// Access unit flags.
const (
	FlagKeyframe Flags = 1 << iota
	FlagCorrupt
	FlagDiscard
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// AccessUnit is one compressed frame's bytes plus timing metadata. A unit has
// a single owner at a time: handing it to another component is done with
// Move, which leaves the source empty so only the receiver reaches the bytes.
type AccessUnit struct {
	Data        []byte
	PTS         int64
	DTS         int64
	Flags       Flags
	StreamIndex int

	// ExtraData is an optional side channel, e.g. a codec header carried
	// alongside the first unit of a stream.
	ExtraData []byte

	// shared is set when Data aliases memory owned by someone else (a
	// demuxer read buffer); such data must be copied before mutation.
	shared bool
}

// NewAccessUnit wraps data, taking ownership of it.
func NewAccessUnit(data []byte, pts, dts int64) *AccessUnit {
	return &AccessUnit{Data: data, PTS: pts, DTS: dts}
}

// NewSharedAccessUnit wraps data that the caller keeps referencing. The unit
// may be read freely, but MakeWritable copies the payload before any write.
func NewSharedAccessUnit(data []byte, pts, dts int64) *AccessUnit {
	return &AccessUnit{Data: data, PTS: pts, DTS: dts, shared: true}
}

// Size returns the payload length in bytes.
func (u *AccessUnit) Size() int {
	if u == nil {
		return 0
	}
	return len(u.Data)
}

// IsKeyframe reports whether the unit carries FlagKeyframe.
func (u *AccessUnit) IsKeyframe() bool {
	return u.Flags.Has(FlagKeyframe)
}

// Move transfers the payload and metadata to a new unit and resets u. The
// payload is not copied.
func (u *AccessUnit) Move() *AccessUnit {
	out := *u
	*u = AccessUnit{}
	return &out
}

// Release drops the payload and metadata. It is safe to call on nil and on
// an already released unit.
func (u *AccessUnit) Release() {
	if u == nil {
		return
	}
	*u = AccessUnit{}
}

// CopyProps copies timestamps, flags, stream index and extra data from src,
// leaving the payload untouched.
func (u *AccessUnit) CopyProps(src *AccessUnit) {
	u.PTS = src.PTS
	u.DTS = src.DTS
	u.Flags = src.Flags
	u.StreamIndex = src.StreamIndex
	u.ExtraData = src.ExtraData
}

// MakeWritable ensures u exclusively owns a mutable payload, copying it if
// it is shared.
func (u *AccessUnit) MakeWritable() error {
	if !u.shared {
		return nil
	}
	data := make([]byte, len(u.Data))
	copy(data, u.Data)
	u.Data = data
	u.shared = false
	return nil
}

// Split divides the payload at n without copying: u keeps the first n bytes
// and the returned unit owns the rest, with u's metadata.
func (u *AccessUnit) Split(n int) *AccessUnit {
	if n < 0 {
		n = 0
	}
	if n > len(u.Data) {
		n = len(u.Data)
	}
	tail := *u
	tail.Data = u.Data[n:]
	u.Data = u.Data[:n:n]
	return &tail
}

// Trim truncates the payload to its first n bytes. The capacity is clipped
// too so that appends never spill into the dropped suffix.
func (u *AccessUnit) Trim(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(u.Data) {
		u.Data = u.Data[:n:n]
	}
}

// Advance drops the first n bytes of the payload.
func (u *AccessUnit) Advance(n int) {
	if n > len(u.Data) {
		n = len(u.Data)
	}
	if n > 0 {
		u.Data = u.Data[n:]
	}
}
