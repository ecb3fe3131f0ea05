package merge

import (
	"reflect"
	"testing"

	"invidx/internal/buffer"
)

func newTestBuffer(t *testing.T, size int) *buffer.Buffer {
	t.Helper()
	return buffer.Init(make([]byte, size))
}

func TestEncodeDecodeChunkRoundTrip(t *testing.T) {
	postings := []buffer.Posting{
		{RID: 1, SID: 1, TF: 2, Weight: 3, Positions: []uint32{1, 5}},
		{RID: 1, SID: 2, TF: 1, Weight: 0, Positions: []uint32{9}},
		{RID: 4, SID: 1, TF: 3, Weight: 1, Positions: []uint32{2, 4, 40}},
		{RID: 4, SID: 2, TF: 1, Weight: 0},
	}
	encoded := encodeChunk(postings)
	got, err := decodeChunk(encoded)
	if err != nil {
		t.Fatalf("decodeChunk: %v", err)
	}
	if !reflect.DeepEqual(got, postings) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, postings)
	}
}

func TestMergeTermBufferWinsOnEqualKey(t *testing.T) {
	b := newTestBuffer(t, 4096)
	tid := uint32(1)
	if err := b.Put(tid, buffer.Posting{RID: 2, SID: 1, TF: 9, Weight: 5, Positions: []uint32{1}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	chunkPostings := []buffer.Posting{
		{RID: 1, SID: 1, TF: 1, Weight: 0, Positions: []uint32{1}},
		{RID: 2, SID: 1, TF: 1, Weight: 0, Positions: []uint32{1}}, // stale: buffer overrides
		{RID: 3, SID: 1, TF: 1, Weight: 0, Positions: []uint32{1}},
	}
	term, _ := b.Term(tid)
	merged, err := mergeTerm(b, term, chunkPostings)
	if err != nil {
		t.Fatalf("mergeTerm: %v", err)
	}
	if len(merged) != 3 {
		t.Fatalf("got %d postings, want 3", len(merged))
	}
	for _, p := range merged {
		if p.RID == 2 && p.TF != 9 {
			t.Fatalf("rid=2 should reflect buffer override, got TF=%d", p.TF)
		}
	}
}

func TestMergeTermDeleteMarkerDropsChunkRecord(t *testing.T) {
	b := newTestBuffer(t, 4096)
	tid := uint32(1)
	if err := b.Put(tid, buffer.Posting{RID: 2, SID: 1, TF: 0}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	chunkPostings := []buffer.Posting{
		{RID: 1, SID: 1, TF: 1, Weight: 0, Positions: []uint32{1}},
		{RID: 2, SID: 1, TF: 4, Weight: 0, Positions: []uint32{1, 2, 3, 4}},
		{RID: 3, SID: 1, TF: 1, Weight: 0, Positions: []uint32{1}},
	}
	term, _ := b.Term(tid)
	merged, err := mergeTerm(b, term, chunkPostings)
	if err != nil {
		t.Fatalf("mergeTerm: %v", err)
	}
	for _, p := range merged {
		if p.RID == 2 {
			t.Fatalf("rid=2 should have been deleted, found %+v", p)
		}
	}
	if len(merged) != 2 {
		t.Fatalf("got %d postings, want 2", len(merged))
	}
}

func TestMergeDegenerateCollapsesToInline(t *testing.T) {
	b := newTestBuffer(t, 4096)
	tid := uint32(1)
	if err := b.Put(tid, buffer.Posting{RID: 5, SID: 1, TF: 1, Weight: 0, Positions: []uint32{7}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	results, err := Merge(b, nil, false)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !results[0].Degenerate {
		t.Fatalf("expected degenerate collapse, got %+v", results[0])
	}
	if results[0].Inline.RID != 5 || results[0].Inline.SID != 1 {
		t.Fatalf("inline posting = %+v, want rid=5 sid=1", results[0].Inline)
	}
}

func TestMergeNonDegenerateProducesChunkBytes(t *testing.T) {
	b := newTestBuffer(t, 4096)
	tid := uint32(1)
	for _, rid := range []uint32{1, 2} {
		if err := b.Put(tid, buffer.Posting{RID: rid, SID: 1, TF: 1, Weight: 0, Positions: []uint32{1}}); err != nil {
			t.Fatalf("Put(%d): %v", rid, err)
		}
	}
	results, err := Merge(b, nil, false)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if results[0].Degenerate {
		t.Fatalf("2-posting term should not degenerate to inline")
	}
	if len(results[0].ChunkBytes) == 0 {
		t.Fatalf("expected non-empty chunk bytes")
	}
	decoded, err := decodeChunk(results[0].ChunkBytes)
	if err != nil {
		t.Fatalf("decodeChunk: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d postings, want 2", len(decoded))
	}
}

func TestSplitPartitionsByLexKeyAndBudget(t *testing.T) {
	b := newTestBuffer(t, 8192)
	for tid := uint32(1); tid <= 4; tid++ {
		if err := b.Put(tid, buffer.Posting{RID: 1, SID: 1, TF: 1, Positions: []uint32{1}}); err != nil {
			t.Fatalf("Put(tid=%d): %v", tid, err)
		}
	}
	keys := []LexKey{
		{TID: 1, Key: []byte("alpha")},
		{TID: 2, Key: []byte("bravo")},
		{TID: 3, Key: []byte("charlie")},
		{TID: 4, Key: []byte("delta")},
	}
	plan := Split(b, keys, 1) // tiny budget: low gets exactly the first term
	if len(plan.Low) == 0 || len(plan.High) == 0 {
		t.Fatalf("expected both partitions non-empty, got low=%v high=%v", plan.Low, plan.High)
	}
	if plan.Low[0] != 1 {
		t.Fatalf("low partition should start with lexicographically-first term (tid=1), got %v", plan.Low)
	}
	seen := map[uint32]bool{}
	for _, tid := range append(append([]uint32{}, plan.Low...), plan.High...) {
		seen[tid] = true
	}
	if len(seen) != 4 {
		t.Fatalf("split plan lost or duplicated terms: %+v", plan)
	}
}
