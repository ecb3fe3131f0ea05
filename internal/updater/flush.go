package updater

import (
	"invidx/internal/buffer"
	"invidx/internal/merge"
	"invidx/internal/slot"
	"invidx/internal/store"
)

// decodeTermChunks decodes every term's previously merged chunk bytes out
// of buf's shared chunk arena, keyed by term id, ready for merge.Merge.
func (ix *Index) decodeTermChunks(buf *buffer.Buffer, h buffer.Header) (map[uint32][]buffer.Posting, error) {
	out := make(map[uint32][]buffer.Posting)
	if h.Chunk < 0 {
		return out, nil
	}
	for _, term := range buf.Terms() {
		if term.SizeInChunk == 0 {
			continue
		}
		data, err := ix.st.ChunkBytes(h.Chunk+int64(term.PosInChunk), int(term.SizeInChunk))
		if err != nil {
			return nil, err
		}
		postings, err := merge.DecodeChunk(data)
		if err != nil {
			return nil, err
		}
		out[term.TID] = postings
	}
	return out, nil
}

// applyTerminalResults updates term slots for results that leave the
// buffer entirely: degenerate collapses to inline, and terms whose
// postings were merged away to nothing.
func (ix *Index) applyTerminalResults(results []merge.TermResult) error {
	for _, res := range results {
		switch {
		case res.Degenerate:
			inl := slot.EncodeInline(res.Inline, ix.sectioned)
			if err := ix.arr.Set(res.TID, inl.A0, inl.A1); err != nil {
				return err
			}
			ix.stats.TermsDeleted++ // left the buffer's term directory
		case len(res.ChunkBytes) == 0:
			if err := ix.arr.Clear(res.TID); err != nil {
				return err
			}
			ix.stats.TermsDeleted++
		}
	}
	return nil
}

// commitBufferedResults concatenates every still-chunked result into one
// blob, allocates a fresh store chunk for it, records each term's
// placement in dest's directory, and repoints its slot at destLseg.
func (ix *Index) commitBufferedResults(dest *buffer.Buffer, destLseg uint32, results []merge.TermResult) error {
	var blob []byte
	for _, res := range results {
		if res.Degenerate || len(res.ChunkBytes) == 0 {
			continue
		}
		off := uint32(len(blob))
		blob = append(blob, res.ChunkBytes...)
		if err := dest.SetChunkInfo(res.TID, off, uint32(len(res.ChunkBytes))); err != nil {
			return err
		}
		target := slot.EncodeBuffered(destLseg, uint32(len(res.ChunkBytes)))
		if err := ix.arr.Set(res.TID, target.A0, target.A1); err != nil {
			return err
		}
	}
	if len(blob) == 0 {
		dest.SetChunk(-1, 0)
		return nil
	}
	offset, err := ix.st.ChunkNew(len(blob))
	if err != nil {
		return err
	}
	dst, err := ix.st.ChunkBytes(offset, len(blob))
	if err != nil {
		return err
	}
	copy(dst, blob)
	dest.SetChunk(offset, uint32(len(blob)))
	return nil
}

// flush rebuilds lseg's buffer in place: every term's postings are merged
// against its previous chunk, terminal outcomes (inline/deleted) leave the
// buffer, and the rest are rewritten into a fresh shared chunk within the
// same physical segment (buffer_flush, spec.md §4.5).
func (ix *Index) flush(lseg uint32, buf *buffer.Buffer, segBytes []byte) error {
	h := buf.Header()
	srcChunks, err := ix.decodeTermChunks(buf, h)
	if err != nil {
		return err
	}
	results, err := merge.Merge(buf, srcChunks, ix.sectioned)
	if err != nil {
		return err
	}
	if err := ix.applyTerminalResults(results); err != nil {
		return err
	}

	oldChunk, oldSize := h.Chunk, h.ChunkSize
	clear(segBytes)
	newBuf := buffer.Init(segBytes)
	if err := ix.commitBufferedResults(newBuf, lseg, results); err != nil {
		return err
	}
	if oldChunk >= 0 {
		ix.st.ChunkFree(oldChunk, int(oldSize))
	}
	return nil
}

// split partitions an over-full buffer's terms by lexicon key into two
// fresh logical buffers, merges each term once, commits each half's
// results to its own destination, and frees the source (buffer_split,
// spec.md §4.4).
func (ix *Index) split(lseg uint32, buf *buffer.Buffer, segBytes []byte) error {
	h := buf.Header()
	srcChunks, err := ix.decodeTermChunks(buf, h)
	if err != nil {
		return err
	}
	results, err := merge.Merge(buf, srcChunks, ix.sectioned)
	if err != nil {
		return err
	}
	if err := ix.applyTerminalResults(results); err != nil {
		return err
	}

	terms := buf.Terms()
	keys := make([]merge.LexKey, 0, len(terms))
	for _, term := range terms {
		k, _, kerr := ix.lex.Key(term.TID)
		if kerr != nil {
			return kerr
		}
		keys = append(keys, merge.LexKey{TID: term.TID, Key: k})
	}
	budget := h.ChunkSize / 2
	if budget == 0 {
		budget = 1
	}
	plan := merge.Split(buf, keys, budget)
	lowSet := make(map[uint32]bool, len(plan.Low))
	for _, tid := range plan.Low {
		lowSet[tid] = true
	}

	lowLseg := ix.nextLseg
	ix.nextLseg++
	_, lowSeg, err := ix.st.NewSegment(store.KindBuffer, lowLseg)
	if err != nil {
		return err
	}
	lowBuf := buffer.Init(lowSeg)

	highLseg := ix.nextLseg
	ix.nextLseg++
	_, highSeg, err := ix.st.NewSegment(store.KindBuffer, highLseg)
	if err != nil {
		return err
	}
	highBuf := buffer.Init(highSeg)

	var lowResults, highResults []merge.TermResult
	for _, res := range results {
		if res.Degenerate || len(res.ChunkBytes) == 0 {
			continue
		}
		if lowSet[res.TID] {
			lowResults = append(lowResults, res)
		} else {
			highResults = append(highResults, res)
		}
	}
	if err := ix.commitBufferedResults(lowBuf, lowLseg, lowResults); err != nil {
		return err
	}
	if err := ix.commitBufferedResults(highBuf, highLseg, highResults); err != nil {
		return err
	}

	if h.Chunk >= 0 {
		ix.st.ChunkFree(h.Chunk, int(h.ChunkSize))
	}
	ix.st.FreeSegment(store.KindBuffer, lseg)
	return nil
}
