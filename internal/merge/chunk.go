// Package merge implements buffer_merge and buffer_split (component E):
// rebuilding a term's compressed chunk from its staged buffer records plus
// its previous chunk, and splitting an over-full buffer into two.
package merge

import (
	"fmt"

	"invidx/internal/buffer"
	"invidx/internal/codec"
)

// numChunkStreams is the field count PUTNEXT_ writes per posting: rid-gap,
// sid-gap, tf-1, weight, position count, and the concatenated
// gap-encoded position stream (spec.md §4.4).
const numChunkStreams = 6

// encodeChunk serializes postings (already merged, ascending by (rid, sid),
// with every tf==0 delete marker already dropped) into the multi-stream
// chunk byte format internal/cursor decodes.
func encodeChunk(postings []buffer.Posting) []byte {
	n := len(postings)
	ridGaps := make([]uint32, n)
	sidGaps := make([]uint32, n)
	tfMinus1 := make([]uint32, n)
	weights := make([]uint32, n)
	npos := make([]uint32, n)
	var posGaps []uint32

	var prevRID, prevSID uint32
	for i, p := range postings {
		if i == 0 || p.RID != prevRID {
			if i == 0 {
				ridGaps[i] = p.RID
			} else {
				ridGaps[i] = p.RID - prevRID
			}
			sidGaps[i] = p.SID
		} else {
			ridGaps[i] = 0
			sidGaps[i] = p.SID - prevSID
		}
		tfMinus1[i] = p.TF - 1
		weights[i] = p.Weight
		npos[i] = uint32(len(p.Positions))
		var prevPos uint32
		for _, pos := range p.Positions {
			posGaps = append(posGaps, pos-prevPos)
			prevPos = pos
		}
		prevRID, prevSID = p.RID, p.SID
	}

	streams := []codec.Stream{
		{Values: ridGaps},
		{Values: sidGaps},
		{Values: tfMinus1},
		{Values: weights},
		{Values: npos},
		{Values: posGaps},
	}
	return codec.EncodeVec(nil, streams)
}

// decodeChunk is the inverse of encodeChunk.
func decodeChunk(data []byte) ([]buffer.Posting, error) {
	streams, _, err := codec.DecodeVec(data)
	if err != nil {
		return nil, fmt.Errorf("merge: decode chunk: %w", err)
	}
	if len(streams) != numChunkStreams {
		return nil, fmt.Errorf("merge: decode chunk: expected %d streams, got %d", numChunkStreams, len(streams))
	}
	ridGaps := streams[0].Values
	sidGaps := streams[1].Values
	tfMinus1 := streams[2].Values
	weights := streams[3].Values
	npos := streams[4].Values
	posGaps := streams[5].Values

	out := make([]buffer.Posting, len(ridGaps))
	var rid, sid uint32
	posIdx := 0
	for i := range ridGaps {
		if i == 0 || ridGaps[i] != 0 {
			if i == 0 {
				rid = ridGaps[i]
			} else {
				rid += ridGaps[i]
			}
			sid = sidGaps[i]
		} else {
			sid += sidGaps[i]
		}
		cnt := npos[i]
		if posIdx+int(cnt) > len(posGaps) {
			return nil, fmt.Errorf("merge: decode chunk: position stream truncated: %w", buffer.ErrCorrupt)
		}
		var positions []uint32
		if cnt > 0 {
			positions = make([]uint32, cnt)
		}
		var prevPos uint32
		for j := uint32(0); j < cnt; j++ {
			prevPos += posGaps[posIdx]
			positions[j] = prevPos
			posIdx++
		}
		out[i] = buffer.Posting{
			RID:       rid,
			SID:       sid,
			TF:        tfMinus1[i] + 1,
			Weight:    weights[i],
			Positions: positions,
		}
	}
	return out, nil
}

// DecodeChunk exposes decodeChunk for internal/cursor, which must decode a
// term's persisted chunk bytes the same way Merge encoded them.
func DecodeChunk(data []byte) ([]buffer.Posting, error) { return decodeChunk(data) }

// EncodeChunk exposes encodeChunk for internal/bulk, whose phase 2 k-way
// merge must produce byte-identical chunk encodings to the incremental
// update path for the same merged posting list (spec.md §8 "bulk build
// equivalence"). postings must already be sorted ascending by (rid, sid).
func EncodeChunk(postings []buffer.Posting) []byte { return encodeChunk(postings) }
