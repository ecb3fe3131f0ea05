// Package slot implements the per-term 2-word slot encoding spec.md §3
// describes: empty, inline-singleton, or buffered. It is shared by
// internal/updater (which writes slots) and internal/merge (which decides
// whether a freshly merged posting list degenerates back to inline).
package slot

import "invidx/internal/buffer"

// State is the logical state a[0] encodes.
type State int

const (
	StateEmpty State = iota
	StateInline
	StateBuffered
)

const (
	maxRIDNoSection = 1<<31 - 1
	maxRIDSection   = 1<<20 - 1
	maxSIDSection   = 1<<11 - 1
)

// Slot is the raw 2-word value read from or written to internal/varray.
type Slot struct {
	A0, A1 uint32
}

// State classifies a slot: a[0]==0 is empty, odd a[0] is an inline
// singleton, even nonzero a[0] is a buffer pointer pair.
func (s Slot) State() State {
	switch {
	case s.A0 == 0:
		return StateEmpty
	case s.A0&1 == 1:
		return StateInline
	default:
		return StateBuffered
	}
}

// FitsInline reports whether p can be represented as an inline singleton:
// exactly one occurrence, tf=1, weight=0, and (rid, sid) within the bit
// budget the chosen layout affords.
func FitsInline(p buffer.Posting, sectioned bool) bool {
	if p.TF != 1 || p.Weight != 0 || len(p.Positions) > 1 {
		return false
	}
	if sectioned {
		return p.RID <= maxRIDSection && p.SID <= maxSIDSection
	}
	return p.RID <= maxRIDNoSection
}

// EncodeInline packs a single-occurrence posting into a slot.
func EncodeInline(p buffer.Posting, sectioned bool) Slot {
	pos := uint32(0)
	if len(p.Positions) == 1 {
		pos = p.Positions[0]
	}
	if sectioned {
		return Slot{A0: (p.RID << 12) | (p.SID << 1) | 1, A1: pos}
	}
	return Slot{A0: (p.RID << 1) | 1, A1: pos}
}

// DecodeInline unpacks an inline-singleton slot back into a posting.
func DecodeInline(s Slot, sectioned bool) buffer.Posting {
	p := buffer.Posting{TF: 1, Weight: 0}
	if sectioned {
		p.RID = s.A0 >> 12
		p.SID = (s.A0 >> 1) & maxSIDSection
	} else {
		p.RID = s.A0 >> 1
		p.SID = 1 // no sid bits: a non-sectioned index has only section 1
	}
	if s.A1 != 0 {
		p.Positions = []uint32{s.A1}
	}
	return p
}

// BufferTarget unpacks a buffered slot's logical buffer segment. The buffer
// pointer layout mirrors the original's a[0]=lseg<<1; a[1] is the term's
// running posting size (spec.md §3: "informational" posting count), not a
// lookup key, so callers that need the term id already have it in hand
// (it's the array index the slot was read from).
func BufferTarget(s Slot) (lseg uint32) {
	return s.A0 >> 1
}

// BufferSize unpacks a buffered slot's running size: the term's combined
// SizeInBuffer+SizeInChunk byte count, used as spec.md §6's ii_estimate_size
// stand-in for posting count.
func BufferSize(s Slot) uint32 {
	return s.A1
}

// EncodeBuffered packs a buffer pointer slot: size is the term's current
// combined SizeInBuffer+SizeInChunk byte count (spec.md §3's a[1] "running
// posting count", here a byte-size proxy so estimate_size grows with it).
func EncodeBuffered(lseg, size uint32) Slot {
	return Slot{A0: lseg << 1, A1: size}
}
