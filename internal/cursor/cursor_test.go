package cursor

import (
	"path/filepath"
	"testing"

	"invidx/internal/buffer"
	"invidx/internal/slot"
	"invidx/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Create(store.Config{Path: filepath.Join(t.TempDir(), "t.idx")}, 1)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEmptyCursor(t *testing.T) {
	c, err := Open(OpenConfig{Store: newTestStore(t), Slot: slot.Slot{}, TID: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ok, err := c.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatalf("expected empty cursor to yield nothing")
	}
}

func TestSingleCursorInline(t *testing.T) {
	p := buffer.Posting{RID: 9, SID: 1, TF: 1, Weight: 0, Positions: []uint32{4}}
	s := slot.EncodeInline(p, false)
	c, err := Open(OpenConfig{Store: newTestStore(t), Slot: s, TID: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ok, err := c.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = (%v, %v), want (true, nil)", ok, err)
	}
	got := c.Posting()
	if got.RID != 9 || got.SID != 1 {
		t.Fatalf("Posting() = %+v, want rid=9 sid=1", got)
	}
	pos, ok := c.NextPos()
	if !ok || pos != 4 {
		t.Fatalf("NextPos() = (%d, %v), want (4, true)", pos, ok)
	}
	if _, ok := c.NextPos(); ok {
		t.Fatalf("expected only one position")
	}
	ok, err = c.Next()
	if err != nil || ok {
		t.Fatalf("second Next() = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestSingleCursorInlineSectioned(t *testing.T) {
	p := buffer.Posting{RID: 10, SID: 3, TF: 1, Weight: 0, Positions: []uint32{7}}
	s := slot.EncodeInline(p, true)
	c, err := Open(OpenConfig{Store: newTestStore(t), Slot: s, TID: 1, Sectioned: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ok, err := c.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = (%v, %v), want (true, nil)", ok, err)
	}
	got := c.Posting()
	if got.RID != 10 || got.SID != 3 {
		t.Fatalf("Posting() = %+v, want rid=10 sid=3", got)
	}
	pos, ok := c.NextPos()
	if !ok || pos != 7 {
		t.Fatalf("NextPos() = (%d, %v), want (7, true)", pos, ok)
	}
}

func TestBufferedCursorMergesBufferAndChunk(t *testing.T) {
	st := newTestStore(t)
	lseg, segBytes, err := st.NewSegment(store.KindBuffer, 0)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	buf := buffer.Init(segBytes)
	tid := uint32(5)
	// Buffer holds rid=2 and rid=4 (live, staged updates).
	if err := buf.Put(tid, buffer.Posting{RID: 2, SID: 1, TF: 1, Positions: []uint32{1}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := buf.Put(tid, buffer.Posting{RID: 4, SID: 1, TF: 1, Positions: []uint32{1}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s := slot.EncodeBuffered(lseg, 0)
	c, err := Open(OpenConfig{Store: st, Slot: s, TID: tid})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var rids []uint32
	for {
		ok, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		rids = append(rids, c.Posting().RID)
	}
	want := []uint32{2, 4}
	if len(rids) != len(want) {
		t.Fatalf("got %v, want %v", rids, want)
	}
	for i := range want {
		if rids[i] != want[i] {
			t.Fatalf("got %v, want %v", rids, want)
		}
	}
}

func TestBufferedCursorSetMinSkipsEarlyPostings(t *testing.T) {
	st := newTestStore(t)
	lseg, segBytes, err := st.NewSegment(store.KindBuffer, 0)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	buf := buffer.Init(segBytes)
	tid := uint32(1)
	for _, rid := range []uint32{1, 2, 3, 4, 5} {
		if err := buf.Put(tid, buffer.Posting{RID: rid, SID: 1, TF: 1, Positions: []uint32{1}}); err != nil {
			t.Fatalf("Put(%d): %v", rid, err)
		}
	}
	s := slot.EncodeBuffered(lseg, 0)
	c, err := Open(OpenConfig{Store: st, Slot: s, TID: tid})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.SetMin(3); err != nil {
		t.Fatalf("SetMin: %v", err)
	}
	var rids []uint32
	for {
		ok, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		rids = append(rids, c.Posting().RID)
	}
	want := []uint32{3, 4, 5}
	if len(rids) != len(want) {
		t.Fatalf("got %v, want %v", rids, want)
	}
	for i := range want {
		if rids[i] != want[i] {
			t.Fatalf("got %v, want %v", rids, want)
		}
	}
}

func TestBufferedCursorReuseDetection(t *testing.T) {
	st := newTestStore(t)
	lseg, segBytes, err := st.NewSegment(store.KindBuffer, 0)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	buf := buffer.Init(segBytes)
	tid := uint32(1)
	if err := buf.Put(tid, buffer.Posting{RID: 1, SID: 1, TF: 1, Positions: []uint32{1}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s := slot.EncodeBuffered(lseg, 0)
	c, err := Open(OpenConfig{Store: st, Slot: s, TID: tid})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Simulate a concurrent flush: the physical segment is swapped out and
	// recycled into the background queue.
	_, _, err = st.NewSegment(store.KindBuffer, 1)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	st.UpdateSegment(store.KindBuffer, 0, 99)

	_, err = c.Next()
	if err == nil {
		t.Fatalf("expected ErrReused after concurrent segment swap")
	}
}
