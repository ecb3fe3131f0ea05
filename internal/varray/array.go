// Package varray implements the per-term 2-word slot array (component C):
// array_at/array_get/array_unref over a sparse-segmented table keyed by
// term id. Each logical array segment, once allocated, holds a fixed
// number of 2-word (8-byte) slots; a term's slot lives in segment
// id>>WArray at offset (id & (SlotsPerSegment-1))*SlotSize.
package varray

import (
	"encoding/binary"
	"fmt"

	"invidx/internal/store"
)

// SlotSize is the width of one term slot: two little-endian uint32 words,
// a[0] and a[1], per spec.md §3.
const SlotSize = 8

// SlotsPerSegment and WArray derive from store.SegmentSize; id>>WArray
// picks the logical array segment, id&(SlotsPerSegment-1) the slot index
// within it.
const (
	SlotsPerSegment = store.SegmentSize / SlotSize
	WArray          = 15 // 1<<15 == SlotsPerSegment when SegmentSize == 256 KiB
)

func init() {
	if 1<<WArray != SlotsPerSegment {
		panic(fmt.Sprintf("varray: WArray=%d does not match SlotsPerSegment=%d", WArray, SlotsPerSegment))
	}
}

// Array is a term-id-keyed table of 2-word slots backed by a store.Store's
// array segments.
type Array struct {
	st *store.Store
}

// New wraps st as a term slot array.
func New(st *store.Store) *Array {
	return &Array{st: st}
}

func bucket(id uint32) (lseg uint32, offset int) {
	return id >> WArray, int(id&(SlotsPerSegment-1)) * SlotSize
}

// At returns the raw slot words for id (array_at). A term with no
// allocated segment behind its bucket reads as the empty slot (0, 0),
// matching spec.md §3's "Empty: a[0]=0" state — no allocation happens on
// read.
func (a *Array) At(id uint32) (a0, a1 uint32, err error) {
	lseg, offset := bucket(id)
	pseg := a.st.LookupSegment(store.KindArray, lseg)
	if pseg == store.NotAssigned {
		return 0, 0, nil
	}
	seg, err := a.st.Segment(pseg)
	if err != nil {
		return 0, 0, fmt.Errorf("varray: At(%d): %w", id, err)
	}
	a0 = binary.LittleEndian.Uint32(seg[offset:])
	a1 = binary.LittleEndian.Uint32(seg[offset+4:])
	return a0, a1, nil
}

// Set writes id's slot, lazily allocating (and zeroing) the backing
// segment on first write to its bucket (array_get followed by the write
// array_at would perform in the original).
func (a *Array) Set(id, a0, a1 uint32) error {
	lseg, offset := bucket(id)
	pseg := a.st.LookupSegment(store.KindArray, lseg)
	var seg []byte
	var err error
	if pseg == store.NotAssigned {
		_, seg, err = a.st.NewSegment(store.KindArray, lseg)
	} else {
		seg, err = a.st.Segment(pseg)
	}
	if err != nil {
		return fmt.Errorf("varray: Set(%d): %w", id, err)
	}
	binary.LittleEndian.PutUint32(seg[offset:], a0)
	binary.LittleEndian.PutUint32(seg[offset+4:], a1)
	return nil
}

// Clear zeroes id's slot back to the empty state, per spec.md §3's
// lifecycle note ("cleared when the term's last posting is deleted").
func (a *Array) Clear(id uint32) error {
	lseg, _ := bucket(id)
	if a.st.LookupSegment(store.KindArray, lseg) == store.NotAssigned {
		return nil
	}
	return a.Set(id, 0, 0)
}
