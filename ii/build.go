package ii

import (
	"fmt"

	"invidx/internal/bulk"
)

// buildKey is the callgroup key Build dedupes concurrent calls under:
// every caller triggering a rebuild of the same Index collapses into one
// actual run, since a bulk build touches the whole store and running two
// at once would race on segment allocation.
const buildKey = "build"

// Build runs the parallel bulk builder (component I) over scanner,
// tokenizing through the index's own Tokenizer/Lexicon and committing
// directly into this Index's store (spec.md §4.8, §6 ii_build). Concurrent
// Build calls against the same Index are deduplicated via
// internal/callgroup: only one actually runs, and every caller observes
// its result.
func (idx *Index) Build(scanner bulk.Scanner) (bulk.Stats, error) {
	if idx.tok == nil {
		return bulk.Stats{}, ErrNoTokenizer
	}
	ch := idx.buildGroup.DoChan(buildKey, func() error {
		b := bulk.New(bulk.Config{
			Scanner:   scanner,
			Tokenizer: idx.tok,
			Store:     idx.st,
			Array:     idx.arr,
			Lexicon:   idx.lex,
			Sectioned: idx.flags.WithSection,
			Logger:    idx.logger,
		})
		stats, err := b.Build()
		// Visible to every caller dedup'd onto this run: each of their
		// goroutines reads it only after observing the callgroup's done
		// channel close, which happens strictly after this assignment.
		idx.lastBuildStats = stats
		return err
	})
	if err := <-ch; err != nil {
		return bulk.Stats{}, fmt.Errorf("ii: build: %w", err)
	}
	return idx.lastBuildStats, nil
}

// BufferSession implements spec.md §6's ii_buffer_open/append/commit/close:
// a streaming way to stage rows before running them through the bulk
// builder, for callers that assemble a column scan incrementally rather
// than handing Build a ready-made bulk.Scanner.
type BufferSession struct {
	idx  *Index
	rows []bulk.Row
}

// BufferOpen starts a new staging session (ii_buffer_open).
func (idx *Index) BufferOpen() *BufferSession {
	return &BufferSession{idx: idx}
}

// Append stages one row's sections for the eventual Commit (ii_buffer_append).
func (s *BufferSession) Append(rid uint32, sections ...bulk.Section) {
	s.rows = append(s.rows, bulk.Row{RID: rid, Sections: sections})
}

// Commit runs every staged row through Build (ii_buffer_commit).
func (s *BufferSession) Commit() (bulk.Stats, error) {
	return s.idx.Build(&sliceScanner{rows: s.rows})
}

// Close discards any staged rows that were never committed (ii_buffer_close).
func (s *BufferSession) Close() {
	s.rows = nil
}

// sliceScanner adapts an in-memory row slice to bulk.Scanner.
type sliceScanner struct {
	rows []bulk.Row
	i    int
}

func (s *sliceScanner) Next() (bulk.Row, bool, error) {
	if s.i >= len(s.rows) {
		return bulk.Row{}, false, nil
	}
	r := s.rows[s.i]
	s.i++
	return r, true, nil
}
