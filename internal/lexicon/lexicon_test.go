package lexicon

import (
	"path/filepath"
	"testing"
)

func TestMemoryGetOrAddIsStable(t *testing.T) {
	m := NewMemory()
	tid1, created1, err := m.GetOrAdd([]byte("hello"))
	if err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}
	if !created1 {
		t.Fatalf("expected created=true on first insert")
	}
	tid2, created2, err := m.GetOrAdd([]byte("hello"))
	if err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on repeat insert")
	}
	if tid1 != tid2 {
		t.Fatalf("tid changed across repeat GetOrAdd: %d != %d", tid1, tid2)
	}
}

func TestMemoryLookupNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.Lookup([]byte("missing")); err != ErrNotFound {
		t.Fatalf("Lookup on empty lexicon: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryCursorPrefix(t *testing.T) {
	m := NewMemory()
	for _, k := range []string{"apple", "application", "banana", "apex"} {
		if _, _, err := m.GetOrAdd([]byte(k)); err != nil {
			t.Fatalf("GetOrAdd(%s): %v", k, err)
		}
	}
	c, err := m.Cursor(nil, []byte("app"))
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	var got []string
	for {
		k, _, ok, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(k))
	}
	want := []string{"apple", "application"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMemorySuffixCursor(t *testing.T) {
	m := NewMemory()
	for _, k := range []string{"running", "jumping", "walked", "sing"} {
		if _, _, err := m.GetOrAdd([]byte(k)); err != nil {
			t.Fatalf("GetOrAdd(%s): %v", k, err)
		}
	}
	c, err := m.SuffixCursor([]byte("ing"))
	if err != nil {
		t.Fatalf("SuffixCursor: %v", err)
	}
	count := 0
	for {
		_, _, ok, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 3 {
		t.Fatalf("got %d suffix matches, want 3", count)
	}
}

func TestMemorySnapshotRoundTrip(t *testing.T) {
	m := NewMemory()
	ids := map[string]uint32{}
	for _, k := range []string{"one", "two", "three"} {
		tid, _, err := m.GetOrAdd([]byte(k))
		if err != nil {
			t.Fatalf("GetOrAdd(%s): %v", k, err)
		}
		ids[k] = tid
	}
	path := filepath.Join(t.TempDir(), "lex.msgpack")
	if err := m.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	for k, wantTID := range ids {
		tid, err := loaded.Lookup([]byte(k))
		if err != nil {
			t.Fatalf("Lookup(%s) after reload: %v", k, err)
		}
		if tid != wantTID {
			t.Fatalf("Lookup(%s) after reload = %d, want %d", k, tid, wantTID)
		}
	}
	newTID, created, err := loaded.GetOrAdd([]byte("four"))
	if err != nil {
		t.Fatalf("GetOrAdd after reload: %v", err)
	}
	if !created {
		t.Fatalf("expected a fresh term id for a genuinely new key")
	}
	for _, tid := range ids {
		if newTID == tid {
			t.Fatalf("reloaded lexicon reused an existing tid %d for a new key", tid)
		}
	}
}
