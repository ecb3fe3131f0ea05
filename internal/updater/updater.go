// Package updater implements update_one/delete_one (component F): routing
// a single (term, rid, sid, tf, weight, positions) update to the inline
// slot, a buffer append, or a flush/split of an over-full buffer.
package updater

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"invidx/internal/buffer"
	"invidx/internal/logging"
	"invidx/internal/merge"
	"invidx/internal/slot"
	"invidx/internal/lexicon"
	"invidx/internal/store"
	"invidx/internal/varray"
)

// MaxTF is the largest position count a single update records faithfully;
// documents with more occurrences than this are truncated and the excess
// reported via Stats.PostingsDiscarded (spec.md §4.5).
const MaxTF = 0x1ffff

// splitDominanceRatio is the "this buffer's chunk dominates the whole
// index" threshold (spec.md §4.5), compared against store.TotalChunkSize.
const splitDominanceRatio = 0.5

// maxRetries bounds update_one's re-read-and-retry loop when a concurrent
// flush moves a term's slot out from under it (spec.md §6's linearization
// note). It is generous because retries only happen under write contention
// this engine doesn't actually have (single-writer), but the loop still
// guards against an unexpectedly long sequence of observed slot changes.
const maxRetries = 64

// ErrTooManyRetries is returned if UpdateOne/DeleteOne can't settle on a
// stable slot state within maxRetries iterations.
var ErrTooManyRetries = errors.New("updater: too many slot retries")

// UpdateSpec is one caller-supplied update.
type UpdateSpec struct {
	RID       uint32
	SID       uint32
	Weight    uint32
	Positions []uint32 // tf is derived as len(Positions)
}

// Stats reports what UpdateOne/DeleteOne did, supplementing spec.md §6's
// posting_out with the original's ndeletes/nadds/discard bookkeeping
// (SPEC_FULL.md §C).
type Stats struct {
	TermsAdded        int
	TermsDeleted      int
	PostingsDiscarded int
	ChainResets       int
}

// Index wires the per-term slot array, the segment/chunk store, and a
// lexicon together into the update/delete state machine. Updates are
// single-writer: Index serializes them with an internal mutex, matching
// spec.md's Non-goals around concurrent writers.
type Index struct {
	mu        sync.Mutex
	st        *store.Store
	arr       *varray.Array
	lex       lexicon.Lexicon
	sectioned bool
	logger    *slog.Logger
	nextLseg  uint32
	stats     Stats
}

// Config configures a new Index.
type Config struct {
	Store     *store.Store
	Array     *varray.Array
	Lexicon   lexicon.Lexicon
	Sectioned bool
	Logger    *slog.Logger
}

// New wires an updater Index from cfg.
func New(cfg Config) *Index {
	return &Index{
		st:        cfg.Store,
		arr:       cfg.Array,
		lex:       cfg.Lexicon,
		sectioned: cfg.Sectioned,
		logger:    logging.Default(cfg.Logger).With("component", "updater"),
	}
}

// Stats returns a snapshot of the running update counters.
func (ix *Index) Stats() Stats {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.stats
}

// UpdateOne ingests one update for tid (spec.md §4.5). tf==0 or sid==0
// routes to the delete path; otherwise the posting is written inline,
// appended to tid's buffer, or triggers a buffer flush/split first.
func (ix *Index) UpdateOne(tid uint32, u UpdateSpec) (Stats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(u.Positions) == 0 || u.SID == 0 {
		return ix.deleteOneLocked(tid, u.RID, u.SID)
	}

	atf := len(u.Positions)
	positions := u.Positions
	if atf > MaxTF {
		discarded := atf - MaxTF
		positions = positions[:MaxTF]
		ix.stats.PostingsDiscarded += discarded
		ix.logger.Warn("update_one: truncated oversized posting list",
			"tid", tid, "rid", u.RID, "sid", u.SID, "discarded", discarded)
	}
	p := buffer.Posting{RID: u.RID, SID: u.SID, TF: uint32(len(positions)), Weight: u.Weight, Positions: positions}
	return ix.putLocked(tid, p)
}

// DeleteOne removes rid (or, if sid==0, every section of rid) from tid's
// postings.
func (ix *Index) DeleteOne(tid, rid, sid uint32) (Stats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.deleteOneLocked(tid, rid, sid)
}

func (ix *Index) deleteOneLocked(tid, rid, sid uint32) (Stats, error) {
	p := buffer.Posting{RID: rid, SID: sid, TF: 0}
	for retry := 0; retry < maxRetries; retry++ {
		a0, a1, err := ix.arr.At(tid)
		if err != nil {
			return ix.stats, err
		}
		s := slot.Slot{A0: a0, A1: a1}
		switch s.State() {
		case slot.StateEmpty:
			return ix.stats, nil
		case slot.StateInline:
			existing := slot.DecodeInline(s, ix.sectioned)
			if existing.RID == rid && (sid == 0 || existing.SID == sid) {
				if err := ix.arr.Clear(tid); err != nil {
					return ix.stats, err
				}
				ix.stats.TermsDeleted++
			}
			return ix.stats, nil
		case slot.StateBuffered:
			retryNeeded, err := ix.putToBufferLocked(tid, s, p)
			if err != nil {
				return ix.stats, err
			}
			if !retryNeeded {
				return ix.stats, nil
			}
		}
	}
	return ix.stats, fmt.Errorf("updater: delete_one(tid=%d): %w", tid, ErrTooManyRetries)
}

func (ix *Index) putLocked(tid uint32, p buffer.Posting) (Stats, error) {
	for retry := 0; retry < maxRetries; retry++ {
		a0, a1, err := ix.arr.At(tid)
		if err != nil {
			return ix.stats, err
		}
		s := slot.Slot{A0: a0, A1: a1}
		switch s.State() {
		case slot.StateEmpty:
			if slot.FitsInline(p, ix.sectioned) {
				inl := slot.EncodeInline(p, ix.sectioned)
				if err := ix.arr.Set(tid, inl.A0, inl.A1); err != nil {
					return ix.stats, err
				}
				ix.stats.TermsAdded++
				return ix.stats, nil
			}
			lseg, segBytes, err := ix.newBufferLocked(tid)
			if err != nil {
				return ix.stats, err
			}
			buf := buffer.Init(segBytes)
			if err := buf.Put(tid, p); err != nil {
				return ix.stats, err
			}
			target := slot.EncodeBuffered(lseg, termSize(buf, tid))
			if err := ix.arr.Set(tid, target.A0, target.A1); err != nil {
				return ix.stats, err
			}
			ix.stats.TermsAdded++
			return ix.stats, nil

		case slot.StateInline:
			existing := slot.DecodeInline(s, ix.sectioned)
			if existing.RID == p.RID && existing.SID == p.SID {
				if slot.FitsInline(p, ix.sectioned) {
					inl := slot.EncodeInline(p, ix.sectioned)
					if err := ix.arr.Set(tid, inl.A0, inl.A1); err != nil {
						return ix.stats, err
					}
					return ix.stats, nil
				}
				lseg, segBytes, err := ix.newBufferLocked(tid)
				if err != nil {
					return ix.stats, err
				}
				buf := buffer.Init(segBytes)
				if err := buf.Put(tid, p); err != nil {
					return ix.stats, err
				}
				target := slot.EncodeBuffered(lseg, termSize(buf, tid))
				return ix.stats, ix.arr.Set(tid, target.A0, target.A1)
			}
			// Distinct (rid, sid): preserve the existing posting in a new
			// buffer before appending the incoming one.
			lseg, segBytes, err := ix.newBufferLocked(tid)
			if err != nil {
				return ix.stats, err
			}
			buf := buffer.Init(segBytes)
			if err := buf.Put(tid, existing); err != nil {
				return ix.stats, err
			}
			if err := buf.Put(tid, p); err != nil {
				return ix.stats, err
			}
			target := slot.EncodeBuffered(lseg, termSize(buf, tid))
			if err := ix.arr.Set(tid, target.A0, target.A1); err != nil {
				return ix.stats, err
			}
			ix.stats.TermsAdded++
			return ix.stats, nil

		case slot.StateBuffered:
			retryNeeded, err := ix.putToBufferLocked(tid, s, p)
			if err != nil {
				return ix.stats, err
			}
			if !retryNeeded {
				ix.stats.TermsAdded++
				return ix.stats, nil
			}
		}
	}
	return ix.stats, fmt.Errorf("updater: update_one(tid=%d): %w", tid, ErrTooManyRetries)
}

// putToBufferLocked appends p to the buffer s points at, flushing or
// splitting first if there's no room, then retrying. It reports whether
// the caller must re-read the slot and retry from scratch (a[0] may have
// moved).
func (ix *Index) putToBufferLocked(tid uint32, s slot.Slot, p buffer.Posting) (retry bool, err error) {
	lseg := slot.BufferTarget(s)
	pseg := ix.st.LookupSegment(store.KindBuffer, lseg)
	segBytes, err := ix.st.Segment(pseg)
	if err != nil {
		return false, err
	}
	buf := buffer.Open(segBytes)
	err = buf.Put(tid, p)
	switch {
	case err == nil:
		target := slot.EncodeBuffered(lseg, termSize(buf, tid))
		if err := ix.arr.Set(tid, target.A0, target.A1); err != nil {
			return false, err
		}
		return false, nil
	case errors.Is(err, buffer.ErrNoSpace):
		if err := ix.flushOrSplitLocked(lseg, buf, segBytes); err != nil {
			return false, err
		}
		return true, nil
	case errors.Is(err, buffer.ErrCorrupt):
		ix.stats.ChainResets++
		ix.logger.Warn("update_one: chain corrupt, resetting buffer", "tid", tid, "lseg", lseg)
		clear(segBytes)
		buffer.Init(segBytes)
		return true, nil
	default:
		return false, err
	}
}

// termSize returns tid's current combined SizeInBuffer+SizeInChunk byte
// count from buf, the running size a buffered slot's a[1] word carries
// (spec.md §3, §6 ii_estimate_size).
func termSize(buf *buffer.Buffer, tid uint32) uint32 {
	e, _ := buf.Term(tid)
	return e.SizeInBuffer + e.SizeInChunk
}

func (ix *Index) flushOrSplitLocked(lseg uint32, buf *buffer.Buffer, segBytes []byte) error {
	h := buf.Header()
	if h.NTerms > merge.SplitTermCount || ix.bufferDominates(h) {
		ix.logger.Info("buffer split", "lseg", lseg, "nterms", h.NTerms)
		return ix.split(lseg, buf, segBytes)
	}
	ix.logger.Info("buffer flush", "lseg", lseg, "nterms", h.NTerms)
	return ix.flush(lseg, buf, segBytes)
}

func (ix *Index) bufferDominates(h buffer.Header) bool {
	total := ix.st.TotalChunkSize()
	if total == 0 {
		return false
	}
	return float64(h.ChunkSize) > float64(total)*splitDominanceRatio
}

// newBufferLocked assigns tid a buffer, preferring one in tid's lexicon
// neighborhood that already has room (locality keeps later merges cheap,
// spec.md §4.5) and falling back to a fresh logical buffer segment.
func (ix *Index) newBufferLocked(tid uint32) (lseg uint32, segBytes []byte, err error) {
	const neighborhoodScan = 8
	const wantBytes = 128 // rough headroom a single posting needs

	if key, ok, kerr := ix.lex.Key(tid); kerr == nil {
		var cur lexicon.Cursor
		if ok {
			cur, err = ix.lex.Cursor(key, nil)
		} else {
			cur, err = ix.lex.Cursor(nil, nil)
		}
		if err == nil {
			defer cur.Close()
			for i := 0; i < neighborhoodScan; i++ {
				_, ntid, more, nerr := cur.Next()
				if nerr != nil || !more {
					break
				}
				if ntid == tid {
					continue
				}
				a0, a1, aerr := ix.arr.At(ntid)
				if aerr != nil {
					continue
				}
				s := slot.Slot{A0: a0, A1: a1}
				if s.State() != slot.StateBuffered {
					continue
				}
				nlseg := slot.BufferTarget(s)
				pseg := ix.st.LookupSegment(store.KindBuffer, nlseg)
				if pseg == store.NotAssigned {
					continue
				}
				seg, serr := ix.st.Segment(pseg)
				if serr != nil {
					continue
				}
				if buffer.Open(seg).FreeBytes() >= wantBytes {
					return nlseg, seg, nil
				}
			}
		}
	}

	lseg = ix.nextLseg
	ix.nextLseg++
	_, segBytes, err = ix.st.NewSegment(store.KindBuffer, lseg)
	if err != nil {
		return 0, nil, fmt.Errorf("updater: allocate buffer for tid %d: %w", tid, err)
	}
	return lseg, segBytes, nil
}
