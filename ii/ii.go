// Package ii is the public API (spec.md §6): it wires components A-I
// (internal/codec through internal/bulk) plus a caller-supplied
// internal/lexicon.Lexicon and Tokenizer into one inverted index handle,
// mirroring the original's ii_create/ii_open/ii_column_update/ii_select
// surface.
package ii

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"invidx/internal/bulk"
	"invidx/internal/callgroup"
	"invidx/internal/cursor"
	"invidx/internal/lexicon"
	"invidx/internal/logging"
	"invidx/internal/query"
	"invidx/internal/store"
	"invidx/internal/updater"
	"invidx/internal/varray"
)

// chunkCacheSize is the default number of decoded chunks internal/cursor's
// shared LRU holds per Index (SPEC_FULL.md §B).
const chunkCacheSize = 256

// Flags mirrors spec.md §6's header bitset (WITH_SECTION, WITH_WEIGHT,
// WITH_POSITION). WithSection governs the on-disk inline-slot layout
// (internal/slot.FitsInline/EncodeInline take a sectioned bool) and so,
// unlike WithWeight/WithPosition, must agree between Create and every
// subsequent Open against the same file.
type Flags struct {
	WithSection  bool
	WithWeight   bool
	WithPosition bool
}

func (f Flags) encode() byte {
	var b byte
	if f.WithSection {
		b |= 1
	}
	if f.WithWeight {
		b |= 2
	}
	if f.WithPosition {
		b |= 4
	}
	return b
}

func decodeFlags(b byte) Flags {
	return Flags{
		WithSection:  b&1 != 0,
		WithWeight:   b&2 != 0,
		WithPosition: b&4 != 0,
	}
}

// metaPath is where Flags are persisted: a sibling file next to the
// segment file, matching store's own convention of side-car files for
// secondary state (<path>.chunks for the chunk arena).
func metaPath(path string) string { return path + ".meta" }

// Tokenizer splits text into term keys, in positional order. Satisfied
// structurally by anything also implementing internal/query.Tokenizer and
// internal/bulk.Tokenizer — ii never imports those interfaces directly,
// it just hands a Tokenizer value to the components that declare their
// own.
type Tokenizer interface {
	Tokenize(text []byte) ([][]byte, error)
}

// Config wires an Index's collaborators.
type Config struct {
	Lexicon   lexicon.Lexicon
	Tokenizer Tokenizer
	Logger    *slog.Logger
}

// Index is one open inverted index column: the combination of a segment
// store, a term-slot array, an updater, a query engine, and the
// caller-supplied lexicon/tokenizer.
type Index struct {
	path   string
	flags  Flags
	st     *store.Store
	arr    *varray.Array
	lex    lexicon.Lexicon
	tok    Tokenizer
	upd    *updater.Index
	qe     *query.Engine
	cache  *cursor.ChunkCache
	logger *slog.Logger

	maxSection     atomic.Uint32
	buildGroup     callgroup.Group[string]
	lastBuildStats bulk.Stats
}

// Create initializes a fresh index at path (spec.md §6 ii_create).
func Create(path string, flags Flags, cfg Config) (*Index, error) {
	if cfg.Lexicon == nil {
		return nil, errors.New("ii: Create requires a Lexicon")
	}
	st, err := store.Create(store.Config{Path: path, Logger: cfg.Logger}, 1)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(metaPath(path), []byte{flags.encode()}, 0o644); err != nil {
		st.Close()
		return nil, fmt.Errorf("ii: write meta: %w", err)
	}
	return wire(path, flags, st, cfg)
}

// Open reopens an existing index at path (spec.md §6 ii_open), restoring
// the Flags persisted by Create.
func Open(path string, cfg Config) (*Index, error) {
	if cfg.Lexicon == nil {
		return nil, errors.New("ii: Open requires a Lexicon")
	}
	raw, err := os.ReadFile(metaPath(path))
	if err != nil {
		return nil, fmt.Errorf("ii: read meta: %w", err)
	}
	if len(raw) < 1 {
		return nil, fmt.Errorf("ii: %s: %w", metaPath(path), store.ErrFileCorrupt)
	}
	flags := decodeFlags(raw[0])
	st, err := store.Open(store.Config{Path: path, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	return wire(path, flags, st, cfg)
}

func wire(path string, flags Flags, st *store.Store, cfg Config) (*Index, error) {
	arr := varray.New(st)
	upd := updater.New(updater.Config{
		Store:     st,
		Array:     arr,
		Lexicon:   cfg.Lexicon,
		Sectioned: flags.WithSection,
		Logger:    cfg.Logger,
	})
	cache, err := cursor.NewChunkCache(chunkCacheSize)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("ii: new chunk cache: %w", err)
	}
	idx := &Index{
		path:   path,
		flags:  flags,
		st:     st,
		arr:    arr,
		lex:    cfg.Lexicon,
		tok:    cfg.Tokenizer,
		upd:    upd,
		cache:  cache,
		logger: logging.Default(cfg.Logger).With("component", "ii"),
	}
	idx.qe = query.New(query.Config{
		Lexicon:   cfg.Lexicon,
		Cursors:   idx,
		Sizes:     idx,
		Tokenizer: cfg.Tokenizer,
		Logger:    cfg.Logger,
	})
	return idx, nil
}

// Close releases the index's store resources (spec.md §6 ii_close).
func (idx *Index) Close() error {
	return idx.st.Close()
}

// Remove deletes every file backing an index at path, whether or not it
// is currently open (spec.md §6 ii_remove).
func Remove(path string) error {
	var errs []error
	for _, p := range []string{path, path + ".chunks", metaPath(path)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Truncate discards every posting and resets the index to empty, keeping
// the same Lexicon and Tokenizer (spec.md §6 ii_truncate). The lexicon
// itself is the caller's to clear or replace; ii_truncate only concerns
// the posting store.
func (idx *Index) Truncate() error {
	if err := idx.st.Close(); err != nil {
		return err
	}
	st, err := store.Create(store.Config{Path: idx.path, Logger: idx.logger}, 1)
	if err != nil {
		return err
	}
	if err := os.WriteFile(metaPath(idx.path), []byte{idx.flags.encode()}, 0o644); err != nil {
		st.Close()
		return fmt.Errorf("ii: write meta: %w", err)
	}
	arr := varray.New(st)
	idx.st = st
	idx.arr = arr
	idx.upd = updater.New(updater.Config{
		Store:     st,
		Array:     arr,
		Lexicon:   idx.lex,
		Sectioned: idx.flags.WithSection,
		Logger:    idx.logger,
	})
	idx.maxSection.Store(0)
	return nil
}

// Lexicon returns the lexicon this index was opened with (spec.md §6
// ii_lexicon).
func (idx *Index) Lexicon() lexicon.Lexicon { return idx.lex }

// GetChunksize reports the total bytes currently held in the chunk arena
// (spec.md §6 ii_get_chunksize).
func (idx *Index) GetChunksize() uint64 { return idx.st.TotalChunkSize() }

// MaxSection reports the highest section id any posting has carried so far
// (spec.md §6 ii_max_section).
func (idx *Index) MaxSection() uint32 { return idx.maxSection.Load() }

func (idx *Index) observeSection(sid uint32) {
	for {
		cur := idx.maxSection.Load()
		if sid <= cur {
			return
		}
		if idx.maxSection.CompareAndSwap(cur, sid) {
			return
		}
	}
}
