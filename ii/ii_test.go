package ii

import (
	"bytes"
	"path/filepath"
	"testing"

	"invidx/internal/bulk"
	"invidx/internal/lexicon"
	"invidx/internal/query"
)

type wsTokenizer struct{}

func (wsTokenizer) Tokenize(text []byte) ([][]byte, error) {
	return bytes.Fields(bytes.ToLower(text)), nil
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.idx")
	idx, err := Create(path, Flags{WithSection: true}, Config{
		Lexicon:   lexicon.NewMemory(),
		Tokenizer: wsTokenizer{},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestColumnUpdateThenSelect(t *testing.T) {
	idx := newTestIndex(t)

	if _, _, err := idx.ColumnUpdate(1, 1, Value{}, Value{Text: []byte("quick brown fox")}); err != nil {
		t.Fatalf("ColumnUpdate: %v", err)
	}
	if _, _, err := idx.ColumnUpdate(2, 1, Value{}, Value{Text: []byte("lazy brown dog")}); err != nil {
		t.Fatalf("ColumnUpdate: %v", err)
	}

	result, err := idx.Select(query.Args{Query: []byte("brown"), Mode: query.ModeExact, Op: query.OpOR})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("result = %v, want 2 rids", result)
	}
}

func TestColumnUpdateReplacesOldValue(t *testing.T) {
	idx := newTestIndex(t)

	if _, _, err := idx.ColumnUpdate(1, 1, Value{}, Value{Text: []byte("alpha beta")}); err != nil {
		t.Fatalf("ColumnUpdate: %v", err)
	}
	if _, _, err := idx.ColumnUpdate(1, 1, Value{Text: []byte("alpha beta")}, Value{Text: []byte("gamma")}); err != nil {
		t.Fatalf("ColumnUpdate: %v", err)
	}

	result, err := idx.Select(query.Args{Query: []byte("alpha"), Mode: query.ModeExact, Op: query.OpOR})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, ok := result[1]; ok {
		t.Fatalf("result = %v, want rid=1 absent after alpha was replaced", result)
	}

	result, err = idx.Select(query.Args{Query: []byte("gamma"), Mode: query.ModeExact, Op: query.OpOR})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, ok := result[1]; !ok {
		t.Fatalf("result = %v, want rid=1 present for gamma", result)
	}
}

func TestBuildThenSelect(t *testing.T) {
	idx := newTestIndex(t)
	scanner := &staticRows{rows: []bulk.Row{
		{RID: 10, Sections: []bulk.Section{{SID: 1, Text: []byte("red green blue")}}},
		{RID: 11, Sections: []bulk.Section{{SID: 1, Text: []byte("green yellow")}}},
	}}
	stats, err := idx.Build(scanner)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stats.Rows != 2 {
		t.Fatalf("stats.Rows = %d, want 2", stats.Rows)
	}

	result, err := idx.Select(query.Args{Query: []byte("green"), Mode: query.ModeExact, Op: query.OpOR})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("result = %v, want 2 rids", result)
	}
}

func TestBufferSessionCommit(t *testing.T) {
	idx := newTestIndex(t)
	s := idx.BufferOpen()
	s.Append(1, bulk.Section{SID: 1, Text: []byte("hello world")})
	s.Append(2, bulk.Section{SID: 1, Text: []byte("hello there")})
	stats, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if stats.Terms != 3 {
		t.Fatalf("stats.Terms = %d, want 3 (hello, world, there)", stats.Terms)
	}
}

func TestEstimateSizeGrowsMonotonically(t *testing.T) {
	idx := newTestIndex(t)
	tid, _, err := idx.Lexicon().GetOrAdd([]byte("repeated"))
	if err != nil {
		t.Fatalf("GetOrAdd: %v", err)
	}

	var prev uint32
	for rid := uint32(1); rid <= 200; rid++ {
		if _, _, err := idx.ColumnUpdate(rid, 1, Value{}, Value{Text: []byte("repeated")}); err != nil {
			t.Fatalf("ColumnUpdate(rid=%d): %v", rid, err)
		}
		size, err := idx.EstimateSize(tid)
		if err != nil {
			t.Fatalf("EstimateSize(rid=%d): %v", rid, err)
		}
		if size < prev {
			t.Fatalf("EstimateSize shrank at rid=%d: %d -> %d", rid, prev, size)
		}
		prev = size
	}
	if prev == 0 {
		t.Fatalf("EstimateSize never grew past 0")
	}
}

func TestCreateOpenRoundTripFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.idx")
	idx, err := Create(path, Flags{WithSection: true, WithWeight: true}, Config{
		Lexicon:   lexicon.NewMemory(),
		Tokenizer: wsTokenizer{},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := idx.ColumnUpdate(1, 1, Value{}, Value{Text: []byte("persisted term")}); err != nil {
		t.Fatalf("ColumnUpdate: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, Config{Lexicon: lexicon.NewMemory(), Tokenizer: wsTokenizer{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if !reopened.flags.WithSection || !reopened.flags.WithWeight {
		t.Fatalf("reopened.flags = %+v, want WithSection and WithWeight set", reopened.flags)
	}
}

type staticRows struct {
	rows []bulk.Row
	i    int
}

func (s *staticRows) Next() (bulk.Row, bool, error) {
	if s.i >= len(s.rows) {
		return bulk.Row{}, false, nil
	}
	r := s.rows[s.i]
	s.i++
	return r, true, nil
}
