// Package cursor implements the posting cursor (component G): a
// buffer-chain + decoded-chunk merge-by-minimum walk over one term's
// postings, with reuse detection for concurrently-flushed buffers and an
// LRU cache of decoded chunk postings.
package cursor

import (
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"invidx/internal/buffer"
	"invidx/internal/logging"
	"invidx/internal/merge"
	"invidx/internal/slot"
	"invidx/internal/store"
)

// ErrReused is returned by Next when the underlying buffer segment was
// reused by a concurrent flush/split while this cursor was alive — the
// cursor halts rather than returning data from the wrong generation
// (spec.md §4.6, §5, §9).
var ErrReused = errors.New("cursor: underlying segment reused")

// ChunkCacheKey identifies a decoded chunk byte range within the store's
// chunk arena.
type ChunkCacheKey struct {
	Offset int64
	Size   int
}

// ChunkCache is the decoded sub-chunk LRU shared across cursors opened
// against the same store (SPEC_FULL.md §B).
type ChunkCache = lru.Cache[ChunkCacheKey, []buffer.Posting]

// NewChunkCache returns a ChunkCache holding up to size decoded chunks.
func NewChunkCache(size int) (*ChunkCache, error) {
	return lru.New[ChunkCacheKey, []buffer.Posting](size)
}

// Cursor walks one term's live postings in ascending (rid, sid) order.
type Cursor interface {
	// Next advances to the next posting, returning false once exhausted.
	Next() (bool, error)
	// Posting returns the posting Next last produced.
	Posting() buffer.Posting
	// NextPos iterates positions within the current posting.
	NextPos() (uint32, bool)
	// SetMin skips ahead to the first posting with rid >= min.
	SetMin(min uint32) error
}

// OpenConfig parameterizes Open.
type OpenConfig struct {
	Store     *store.Store
	Slot      slot.Slot
	TID       uint32
	Sectioned bool
	Cache     *ChunkCache
	Logger    *slog.Logger
}

// Open returns the right Cursor implementation for a term's current slot
// state: a single-posting cursor for inline singletons, an empty cursor
// for an unset slot, or a buffer/chunk merge cursor for a buffered term.
func Open(cfg OpenConfig) (Cursor, error) {
	switch cfg.Slot.State() {
	case slot.StateEmpty:
		return &emptyCursor{}, nil
	case slot.StateInline:
		p := slot.DecodeInline(cfg.Slot, cfg.Sectioned)
		return &singleCursor{p: p}, nil
	default:
		return openBuffered(cfg)
	}
}

type emptyCursor struct{}

func (c *emptyCursor) Next() (bool, error)    { return false, nil }
func (c *emptyCursor) Posting() buffer.Posting { return buffer.Posting{} }
func (c *emptyCursor) NextPos() (uint32, bool) { return 0, false }
func (c *emptyCursor) SetMin(min uint32) error { return nil }

type singleCursor struct {
	p       buffer.Posting
	done    bool
	started bool
	posIdx  int
}

func (c *singleCursor) Next() (bool, error) {
	if c.started {
		c.done = true
	}
	c.started = true
	c.posIdx = 0
	return !c.done, nil
}

func (c *singleCursor) Posting() buffer.Posting { return c.p }

func (c *singleCursor) NextPos() (uint32, bool) {
	if c.posIdx >= len(c.p.Positions) {
		return 0, false
	}
	v := c.p.Positions[c.posIdx]
	c.posIdx++
	return v, true
}

func (c *singleCursor) SetMin(min uint32) error {
	if c.p.RID < min {
		c.done = true
		c.started = true
	}
	return nil
}

// bufferedCursor is the real merge cursor: buffer chain + decoded chunk.
type bufferedCursor struct {
	st     *store.Store
	tid    uint32
	lseg   uint32
	pseg   uint32
	buf    *buffer.Buffer
	chain  *buffer.Chain

	chunkPostings []buffer.Posting
	ci            int

	pb    *buffer.Posting
	pc    *buffer.Posting
	cur   buffer.Posting
	min   uint32
	posIdx int
	logger *slog.Logger
}

func openBuffered(cfg OpenConfig) (Cursor, error) {
	lseg := slot.BufferTarget(cfg.Slot)
	tid := cfg.TID
	pseg := cfg.Store.LookupSegment(store.KindBuffer, lseg)
	if pseg == store.NotAssigned {
		return &emptyCursor{}, nil
	}
	seg, err := cfg.Store.Segment(pseg)
	if err != nil {
		return nil, fmt.Errorf("cursor: open tid=%d: %w", cfg.TID, err)
	}
	buf := buffer.Open(seg)
	c := &bufferedCursor{
		st:     cfg.Store,
		tid:    tid,
		lseg:   lseg,
		pseg:   pseg,
		buf:    buf,
		logger: logging.Default(cfg.Logger).With("component", "cursor"),
	}
	term, ok := buf.Term(tid)
	if ok {
		c.chain = buf.NewChain(term)
		if term.SizeInChunk > 0 {
			h := buf.Header()
			postings, err := c.decodeChunk(cfg.Cache, h.Chunk+int64(term.PosInChunk), int(term.SizeInChunk))
			if err != nil {
				return nil, err
			}
			c.chunkPostings = postings
		}
	} else {
		c.chain = buf.NewChain(buffer.TermEntry{})
	}
	return c, nil
}

func (c *bufferedCursor) decodeChunk(cache *ChunkCache, offset int64, size int) ([]buffer.Posting, error) {
	key := ChunkCacheKey{Offset: offset, Size: size}
	if cache != nil {
		if v, ok := cache.Get(key); ok {
			return v, nil
		}
	}
	data, err := c.st.ChunkBytes(offset, size)
	if err != nil {
		return nil, err
	}
	postings, err := merge.DecodeChunk(data)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.Add(key, postings)
	}
	return postings, nil
}

// reused reports whether the physical buffer segment this cursor captured
// has since been recycled by a concurrent flush/split.
func (c *bufferedCursor) reused() bool {
	return c.st.InBackgroundQueue(c.pseg)
}

func (c *bufferedCursor) fillBuffer() error {
	if c.pb != nil {
		return nil
	}
	for {
		p, ok, err := c.chain.Next()
		if err != nil {
			if c.reused() {
				c.logger.Warn("cursor: buffer segment reused, halting", "lseg", c.lseg, "pseg", c.pseg)
				return ErrReused
			}
			return err
		}
		if !ok {
			return nil
		}
		if p.RID < c.min {
			continue
		}
		c.pb = &p
		return nil
	}
}

func (c *bufferedCursor) fillChunk() {
	if c.pc != nil {
		return
	}
	for c.ci < len(c.chunkPostings) {
		p := c.chunkPostings[c.ci]
		c.ci++
		if p.RID < c.min {
			continue
		}
		c.pc = &p
		return
	}
}

func (c *bufferedCursor) Next() (bool, error) {
	if c.reused() {
		c.logger.Warn("cursor: buffer segment reused, halting", "lseg", c.lseg, "pseg", c.pseg)
		return false, ErrReused
	}
	if err := c.fillBuffer(); err != nil {
		return false, err
	}
	c.fillChunk()

	switch {
	case c.pb == nil && c.pc == nil:
		return false, nil
	case c.pb == nil:
		c.cur = *c.pc
		c.pc = nil
	case c.pc == nil:
		c.cur = *c.pb
		c.pb = nil
	default:
		brid, bsid := c.pb.RID, c.pb.SID
		crid, csid := c.pc.RID, c.pc.SID
		switch {
		case brid < crid || (brid == crid && bsid < csid):
			c.cur = *c.pb
			c.pb = nil
		case crid < brid || (crid == brid && csid < bsid):
			c.cur = *c.pc
			c.pc = nil
		default: // equal (rid, sid): buffer wins, chunk value invalidated
			c.cur = *c.pb
			c.pb = nil
			c.pc = nil
		}
	}
	if c.cur.TF == 0 {
		// A tf==0 buffer record is a delete marker, not a posting.
		return c.Next()
	}
	c.posIdx = 0
	return true, nil
}

func (c *bufferedCursor) Posting() buffer.Posting { return c.cur }

func (c *bufferedCursor) NextPos() (uint32, bool) {
	if c.posIdx >= len(c.cur.Positions) {
		return 0, false
	}
	v := c.cur.Positions[c.posIdx]
	c.posIdx++
	return v, true
}

func (c *bufferedCursor) SetMin(min uint32) error {
	if min <= c.min {
		return nil
	}
	c.min = min
	if c.pb != nil && c.pb.RID < min {
		c.pb = nil
	}
	if c.pc != nil && c.pc.RID < min {
		c.pc = nil
	}
	return nil
}
