package query

import (
	"bytes"
	"container/heap"
	"fmt"

	"invidx/internal/buffer"
	"invidx/internal/cursor"
)

// expansionKind records how a tokenInfo's cursor set was built, matching
// spec.md §4.7's EX_NONE/EX_PREFIX/EX_SUFFIX/EX_BOTH taxonomy.
type expansionKind int

const (
	exNone expansionKind = iota
	exPrefix
	exSuffix
	exBoth
)

// member is one underlying term cursor contributing to a tokenInfo, tagged
// with the last posting it produced.
type member struct {
	tid     uint32
	cur     cursor.Cursor
	current buffer.Posting
	valid   bool
}

// memberHeap orders members by ascending (rid, sid) of their current
// posting; exhausted members never enter the heap.
type memberHeap []*member

func (h memberHeap) Len() int { return len(h) }
func (h memberHeap) Less(i, j int) bool {
	a, b := h[i].current, h[j].current
	if a.RID != b.RID {
		return a.RID < b.RID
	}
	return a.SID < b.SID
}
func (h memberHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *memberHeap) Push(x any)        { *h = append(*h, x.(*member)) }
func (h *memberHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// tokenInfo is the query-side view of one (possibly expanded) query token:
// a min-heap merge over every matching term's cursor (spec.md §4.7 step 1).
type tokenInfo struct {
	kind     expansionKind
	key      []byte // the original token key, for error messages
	heap     memberHeap
	estSize  uint32
	rid, sid uint32
	tf       uint32
	weight   uint32
	posSets  [][]uint32 // positions from every tied member at the current key, one slice per member
	primed   bool
	exhausted bool
}

func (e *Engine) openMember(tid uint32) (*member, error) {
	c, err := e.cur.OpenCursor(tid)
	if err != nil {
		return nil, fmt.Errorf("query: open cursor for tid %d: %w", tid, err)
	}
	m := &member{tid: tid, cur: c}
	ok, err := c.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	m.current = c.Posting()
	m.valid = true
	return m, nil
}

// newTokenInfo builds a tokenInfo from a set of term ids that all
// represent expansions of the same query token.
func (e *Engine) newTokenInfo(kind expansionKind, key []byte, tids []uint32) (*tokenInfo, error) {
	ti := &tokenInfo{kind: kind, key: key}
	seen := make(map[uint32]bool, len(tids))
	for _, tid := range tids {
		if seen[tid] {
			continue
		}
		seen[tid] = true
		m, err := e.openMember(tid)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		ti.heap = append(ti.heap, m)
		if e.sizes != nil {
			if sz, err := e.sizes.EstimateSize(tid); err == nil {
				ti.estSize += sz
			}
		}
	}
	heap.Init(&ti.heap)
	return ti, nil
}

// advance pops every member currently sitting at ti's top key out of the
// heap, recording their postings, and primes the next top key in each
// before re-pushing it.
func (e *Engine) advance(ti *tokenInfo) error {
	ti.posSets = ti.posSets[:0]
	ti.tf = 0
	ti.weight = 0
	if ti.heap.Len() == 0 {
		ti.exhausted = true
		ti.primed = false
		return nil
	}
	top := ti.heap[0]
	ti.rid, ti.sid = top.current.RID, top.current.SID
	var tied []*member
	for ti.heap.Len() > 0 && ti.heap[0].current.RID == ti.rid && ti.heap[0].current.SID == ti.sid {
		m := heap.Pop(&ti.heap).(*member)
		tied = append(tied, m)
	}
	for _, m := range tied {
		p := m.current
		ti.tf += p.TF
		if p.Weight > ti.weight {
			ti.weight = p.Weight
		}
		ti.posSets = append(ti.posSets, p.Positions)
		ok, err := m.cur.Next()
		if err != nil {
			return err
		}
		if ok {
			m.current = m.cur.Posting()
			heap.Push(&ti.heap, m)
		}
	}
	ti.primed = true
	return nil
}

// skip advances ti until its current key is >= (rid, sid), returning the
// key it landed on. Callers compare every tokenInfo's landing key back
// against the maximum seen to drive the AND loop (spec.md §4.7 step 3).
func (e *Engine) skip(ti *tokenInfo, rid, sid uint32) (uint32, uint32, bool, error) {
	if !ti.primed && !ti.exhausted {
		if err := e.advance(ti); err != nil {
			return 0, 0, false, err
		}
	}
	for !ti.exhausted && (ti.rid < rid || (ti.rid == rid && ti.sid < sid)) {
		// SetMin on every member lets the underlying cursor use the
		// CHUNK_SPLIT directory to skip whole sub-chunks (spec.md §4.6).
		for _, m := range ti.heap {
			_ = m.cur.SetMin(rid)
		}
		if err := e.advance(ti); err != nil {
			return 0, 0, false, err
		}
	}
	if ti.exhausted {
		return 0, 0, false, nil
	}
	return ti.rid, ti.sid, true, nil
}

// hasPosition reports whether any tied member at ti's current key carries
// pos, used by the EXACT phrase loop.
func (ti *tokenInfo) hasPosition(pos uint32) bool {
	for _, set := range ti.posSets {
		for _, p := range set {
			if p == pos {
				return true
			}
			if p > pos {
				break
			}
		}
	}
	return false
}

// allPositions flattens every tied member's positions, for NEAR.
func (ti *tokenInfo) allPositions() []uint32 {
	var out []uint32
	for _, set := range ti.posSets {
		out = append(out, set...)
	}
	return out
}

// substringMatch reports whether needle is a substring of haystack,
// case-sensitively. No Select mode calls it; PARTIAL expands like UNSPLIT.
func substringMatch(haystack, needle []byte) bool {
	return bytes.Contains(haystack, needle)
}
