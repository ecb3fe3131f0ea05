package merge

import (
	"fmt"
	"sort"

	"invidx/internal/buffer"
	"invidx/internal/slot"
)

// ChunkSplitThreshold is the encoded-size threshold above which Merge sets
// a term's TermResult.Split (CHUNK_SPLIT_THRESHOLD, spec.md §4.4). The
// flag is informational: every term's chunk bytes, split or not, go into
// the buffer's one shared chunk blob.
const ChunkSplitThreshold = 0x60000

// SplitTermCount is the nterms threshold that triggers buffer_split
// (spec.md §4.4's "buffer too full").
const SplitTermCount = 1024

// TermResult reports what Merge decided for a single term.
type TermResult struct {
	TID        uint32
	Degenerate bool
	Inline     buffer.Posting // valid when Degenerate
	ChunkBytes []byte         // valid when !Degenerate
	Split      bool           // ChunkBytes exceeds ChunkSplitThreshold
}

// Merge rebuilds every live term in src into either an inline-singleton
// decision or a freshly encoded chunk blob, consuming each term's previous
// chunk postings (already decoded by the caller via DecodeChunk) from
// srcChunks. It implements buffer_merge (spec.md §4.4); the caller is
// responsible for persisting ChunkBytes via the store and for clearing or
// recycling src afterwards.
func Merge(src *buffer.Buffer, srcChunks map[uint32][]buffer.Posting, sectioned bool) ([]TermResult, error) {
	terms := src.Terms()
	results := make([]TermResult, 0, len(terms))
	for _, term := range terms {
		merged, err := mergeTerm(src, term, srcChunks[term.TID])
		if err != nil {
			return nil, fmt.Errorf("merge: term %d: %w", term.TID, err)
		}
		res := TermResult{TID: term.TID}
		if len(merged) == 0 {
			results = append(results, res)
			continue
		}
		if len(merged) == 1 && slot.FitsInline(merged[0], sectioned) {
			res.Degenerate = true
			res.Inline = merged[0]
			results = append(results, res)
			continue
		}
		res.ChunkBytes = encodeChunk(merged)
		res.Split = len(res.ChunkBytes) > ChunkSplitThreshold
		results = append(results, res)
	}
	return results, nil
}

// mergeTerm merges one term's live buffer chain against its previously
// decoded chunk postings by ascending (rid, sid), per spec.md §4.4: equal
// keys take the buffer value; a buffer record with tf==0 is a delete
// marker and is dropped (along with any chunk record it matches).
func mergeTerm(src *buffer.Buffer, term buffer.TermEntry, chunkPostings []buffer.Posting) ([]buffer.Posting, error) {
	chain := src.NewChain(term)
	bp, bOK, err := chain.Next()
	if err != nil {
		return nil, err
	}
	ci := 0
	var out []buffer.Posting
	for bOK || ci < len(chunkPostings) {
		cOK := ci < len(chunkPostings)
		switch {
		case !bOK:
			out = append(out, chunkPostings[ci])
			ci++
		case !cOK:
			if bp.TF != 0 {
				out = append(out, bp)
			}
			bp, bOK, err = chain.Next()
			if err != nil {
				return nil, err
			}
		default:
			cp := chunkPostings[ci]
			switch {
			case less(cp, bp):
				out = append(out, cp)
				ci++
			case less(bp, cp):
				if bp.TF != 0 {
					out = append(out, bp)
				}
				bp, bOK, err = chain.Next()
				if err != nil {
					return nil, err
				}
			default: // equal (rid, sid): buffer wins, chunk record dropped either way
				if bp.TF != 0 {
					out = append(out, bp)
				}
				ci++
				bp, bOK, err = chain.Next()
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func less(a, b buffer.Posting) bool {
	if a.RID != b.RID {
		return a.RID < b.RID
	}
	return a.SID < b.SID
}

// LexKey identifies a term by its lexicon sort key, used by Split to order
// terms before partitioning (spec.md §4.4: "sort the source terms by
// lexicon key").
type LexKey struct {
	TID uint32
	Key []byte
}

// SplitPlan is the result of partitioning a buffer's terms into two halves
// for buffer_split.
type SplitPlan struct {
	Low, High []uint32 // term ids assigned to the low/high destination buffers
}

// Split sorts terms by lexicon key (via keys) and partitions them into two
// groups: the low half takes terms until their summed SizeInChunk+
// SizeInBuffer bytes reach budget, the rest goes to the high half. The
// caller (internal/updater) runs Merge once over the whole buffer before
// splitting and routes each term's result to its half.
func Split(src *buffer.Buffer, keys []LexKey, budget uint32) SplitPlan {
	sorted := make([]LexKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i].Key) < string(sorted[j].Key)
	})

	var plan SplitPlan
	var acc uint32
	lowDone := false
	for _, k := range sorted {
		term, ok := src.Term(k.TID)
		if !ok {
			continue
		}
		if !lowDone && acc < budget {
			plan.Low = append(plan.Low, k.TID)
			acc += term.SizeInChunk + term.SizeInBuffer
			if acc >= budget {
				lowDone = true
			}
			continue
		}
		plan.High = append(plan.High, k.TID)
	}
	return plan
}
