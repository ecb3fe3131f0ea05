package ii

import (
	"fmt"

	"invidx/internal/cursor"
	"invidx/internal/query"
	"invidx/internal/slot"
)

// CursorOpen opens a posting cursor for tid (spec.md §6 ii_cursor_open).
func (idx *Index) CursorOpen(tid uint32) (cursor.Cursor, error) {
	return idx.OpenCursor(tid)
}

// OpenCursor implements internal/query.CursorSource so idx can be handed
// straight to query.New as both the cursor source and the size estimator.
func (idx *Index) OpenCursor(tid uint32) (cursor.Cursor, error) {
	a0, a1, err := idx.arr.At(tid)
	if err != nil {
		return nil, fmt.Errorf("ii: cursor_open(tid=%d): %w", tid, err)
	}
	return cursor.Open(cursor.OpenConfig{
		Store:     idx.st,
		Slot:      slot.Slot{A0: a0, A1: a1},
		TID:       tid,
		Sectioned: idx.flags.WithSection,
		Cache:     idx.cache,
		Logger:    idx.logger,
	})
}

// EstimateSize reports an upper bound on tid's posting count without fully
// decoding its chunk (spec.md §6 ii_estimate_size): 0 for an empty slot, 1
// for an inline singleton, and the buffered term's running
// SizeInBuffer+SizeInChunk byte count (a cheap, monotonic stand-in for
// posting count) otherwise.
func (idx *Index) EstimateSize(tid uint32) (uint32, error) {
	a0, a1, err := idx.arr.At(tid)
	if err != nil {
		return 0, fmt.Errorf("ii: estimate_size(tid=%d): %w", tid, err)
	}
	s := slot.Slot{A0: a0, A1: a1}
	switch s.State() {
	case slot.StateInline:
		return 1, nil
	case slot.StateBuffered:
		return slot.BufferSize(s), nil
	default:
		return 0, nil
	}
}

// EstimateSizeForQuery sums EstimateSize over every term q
// tokenizes to, ignoring terms the lexicon has never seen (spec.md §6
// ii_estimate_size_for_query).
func (idx *Index) EstimateSizeForQuery(q []byte) (uint32, error) {
	if idx.tok == nil {
		return 0, ErrNoTokenizer
	}
	tokens, err := idx.tok.Tokenize(q)
	if err != nil {
		return 0, err
	}
	var total uint32
	for _, tok := range tokens {
		tid, err := idx.lex.Lookup(tok)
		if err != nil {
			continue
		}
		size, err := idx.EstimateSize(tid)
		if err != nil {
			return 0, err
		}
		total += size
	}
	return total, nil
}

// Select runs args against the index, returning every matching (rid ->
// score) pair (spec.md §6 ii_sel/ii_select, §4.7).
func (idx *Index) Select(args query.Args) (query.Result, error) {
	result := query.Result{}
	if err := idx.qe.Select(args, result); err != nil {
		return nil, err
	}
	return result, nil
}
