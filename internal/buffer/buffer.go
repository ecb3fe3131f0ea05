// Package buffer implements the buffer segment layout described in
// spec.md §3 and §4.4: a header, a forward-growing term directory, and a
// backward-growing intrusive singly-linked record chain per term with
// skip-pointer acceleration and tombstone deletes.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"invidx/internal/codec"
)

// ErrCorrupt is returned when a chain traversal finds a cycle, an
// out-of-order successor, or a skip pointer that does not lead strictly
// forward — spec.md §4.4's "declared corrupt and reset" condition.
var ErrCorrupt = errors.New("buffer: chain corrupt")

// ErrNoSpace is returned by Put when the segment has no room left for a new
// record or term entry; the caller is expected to flush or split.
var ErrNoSpace = errors.New("buffer: segment full")

const (
	headerSize = 24
	termSize   = 24
)

// Header is the fixed-size preamble of a buffer segment.
type Header struct {
	Chunk      int64  // chunk arena offset of the last-merged chunk, -1 if none
	ChunkSize  uint32 // size in bytes of that chunk
	NTerms     uint32
	NTermsVoid uint32
	RecBottom  uint32 // lowest (most recently allocated) byte of the record area
}

func decodeHeader(seg []byte) Header {
	return Header{
		Chunk:      int64(binary.LittleEndian.Uint64(seg[0:])),
		ChunkSize:  binary.LittleEndian.Uint32(seg[8:]),
		NTerms:     binary.LittleEndian.Uint32(seg[12:]),
		NTermsVoid: binary.LittleEndian.Uint32(seg[16:]),
		RecBottom:  binary.LittleEndian.Uint32(seg[20:]),
	}
}

func (h Header) encode(seg []byte) {
	binary.LittleEndian.PutUint64(seg[0:], uint64(h.Chunk))
	binary.LittleEndian.PutUint32(seg[8:], h.ChunkSize)
	binary.LittleEndian.PutUint32(seg[12:], h.NTerms)
	binary.LittleEndian.PutUint32(seg[16:], h.NTermsVoid)
	binary.LittleEndian.PutUint32(seg[20:], h.RecBottom)
}

// TermEntry is one buffer_term directory entry: bookkeeping for a single
// term resident in this buffer segment.
type TermEntry struct {
	TID          uint32
	SizeInChunk  uint32
	PosInChunk   uint32
	SizeInBuffer uint32
	PosInBuffer  uint32 // offset of the chain head, 0 == empty chain
	Count        uint32 // running record count, drives skip-pointer density
}

func decodeTermEntry(seg []byte, off int) TermEntry {
	return TermEntry{
		TID:          binary.LittleEndian.Uint32(seg[off:]),
		SizeInChunk:  binary.LittleEndian.Uint32(seg[off+4:]),
		PosInChunk:   binary.LittleEndian.Uint32(seg[off+8:]),
		SizeInBuffer: binary.LittleEndian.Uint32(seg[off+12:]),
		PosInBuffer:  binary.LittleEndian.Uint32(seg[off+16:]),
		Count:        binary.LittleEndian.Uint32(seg[off+20:]),
	}
}

func (e TermEntry) encode(seg []byte, off int) {
	binary.LittleEndian.PutUint32(seg[off:], e.TID)
	binary.LittleEndian.PutUint32(seg[off+4:], e.SizeInChunk)
	binary.LittleEndian.PutUint32(seg[off+8:], e.PosInChunk)
	binary.LittleEndian.PutUint32(seg[off+12:], e.SizeInBuffer)
	binary.LittleEndian.PutUint32(seg[off+16:], e.PosInBuffer)
	binary.LittleEndian.PutUint32(seg[off+20:], e.Count)
}

// Rec is the 8-byte prefix of every buffer record: step is the offset of
// the next record in the sorted chain (0 == end), jump is either an
// accelerating skip pointer, 0 (none), or 1 (tombstone).
type Rec struct {
	Step uint32
	Jump uint32
}

const (
	jumpNone      = 0
	jumpTombstone = 1
)

func decodeRec(seg []byte, off int) Rec {
	return Rec{
		Step: binary.LittleEndian.Uint32(seg[off:]),
		Jump: binary.LittleEndian.Uint32(seg[off+4:]),
	}
}

func (r Rec) encode(seg []byte, off int) {
	binary.LittleEndian.PutUint32(seg[off:], r.Step)
	binary.LittleEndian.PutUint32(seg[off+4:], r.Jump)
}

// Posting is one update's payload: the tuple spec.md §3 calls
// (rid, sid, tf, weight, positions…).
type Posting struct {
	RID       uint32
	SID       uint32
	TF        uint32
	Weight    uint32
	Positions []uint32 // ascending; stored gap-encoded
}

// key returns the (rid, sid) ordering key used to sort the chain.
func (p Posting) key() (uint32, uint32) { return p.RID, p.SID }

func less(rid1, sid1, rid2, sid2 uint32) bool {
	if rid1 != rid2 {
		return rid1 < rid2
	}
	return sid1 < sid2
}

func encodePosting(dst []byte, p Posting) []byte {
	dst = codec.EncodeVB(dst, p.RID)
	dst = codec.EncodeVB(dst, p.SID)
	dst = codec.EncodeVB(dst, p.TF)
	dst = codec.EncodeVB(dst, p.Weight)
	dst = codec.EncodeVB(dst, uint32(len(p.Positions)))
	prev := uint32(0)
	for _, pos := range p.Positions {
		dst = codec.EncodeVB(dst, pos-prev)
		prev = pos
	}
	return dst
}

func decodePosting(src []byte) (Posting, int, error) {
	var p Posting
	off := 0
	read := func() (uint32, error) {
		v, n, err := codec.DecodeVB(src[off:])
		off += n
		return v, err
	}
	var err error
	if p.RID, err = read(); err != nil {
		return p, 0, err
	}
	if p.SID, err = read(); err != nil {
		return p, 0, err
	}
	if p.TF, err = read(); err != nil {
		return p, 0, err
	}
	if p.Weight, err = read(); err != nil {
		return p, 0, err
	}
	npos, err := read()
	if err != nil {
		return p, 0, err
	}
	p.Positions = make([]uint32, npos)
	prev := uint32(0)
	for i := range p.Positions {
		d, err := read()
		if err != nil {
			return p, 0, err
		}
		prev += d
		p.Positions[i] = prev
	}
	return p, off, nil
}

// Buffer wraps an already-initialized buffer segment.
type Buffer struct {
	seg []byte
}

// Init formats a fresh (zeroed) segment as an empty buffer.
func Init(seg []byte) *Buffer {
	h := Header{Chunk: -1, RecBottom: uint32(len(seg))}
	h.encode(seg)
	return &Buffer{seg: seg}
}

// Open wraps a segment previously formatted by Init.
func Open(seg []byte) *Buffer {
	return &Buffer{seg: seg}
}

// Header returns the segment's header.
func (b *Buffer) Header() Header { return decodeHeader(b.seg) }

// FreeBytes reports how much room remains between the term directory and
// the record area.
func (b *Buffer) FreeBytes() int {
	h := b.Header()
	termsEnd := headerSize + int(h.NTerms)*termSize
	return int(h.RecBottom) - termsEnd
}

// Term returns the directory entry for tid, if present.
func (b *Buffer) Term(tid uint32) (TermEntry, bool) {
	h := b.Header()
	for i := uint32(0); i < h.NTerms; i++ {
		e := decodeTermEntry(b.seg, headerSize+int(i)*termSize)
		if e.TID == tid {
			return e, true
		}
	}
	return TermEntry{}, false
}

// Terms returns every live (non-void) term entry in directory order.
func (b *Buffer) Terms() []TermEntry {
	h := b.Header()
	out := make([]TermEntry, 0, h.NTerms)
	for i := uint32(0); i < h.NTerms; i++ {
		e := decodeTermEntry(b.seg, headerSize+int(i)*termSize)
		if e.TID != 0 {
			out = append(out, e)
		}
	}
	return out
}

// ReadRecord decodes the record at offset: its chain-link prefix and its
// posting payload.
func (b *Buffer) ReadRecord(offset uint32) (Rec, Posting, error) {
	if int(offset)+8 > len(b.seg) {
		return Rec{}, Posting{}, fmt.Errorf("buffer: offset %d: %w", offset, ErrCorrupt)
	}
	r := decodeRec(b.seg, int(offset))
	p, _, err := decodePosting(b.seg[int(offset)+8:])
	if err != nil {
		return Rec{}, Posting{}, fmt.Errorf("buffer: decode record at %d: %w", offset, err)
	}
	return r, p, nil
}

func (b *Buffer) termEntryOffset(tid uint32) (int, bool) {
	h := b.Header()
	for i := uint32(0); i < h.NTerms; i++ {
		off := headerSize + int(i)*termSize
		if decodeTermEntry(b.seg, off).TID == tid {
			return off, true
		}
	}
	return 0, false
}
