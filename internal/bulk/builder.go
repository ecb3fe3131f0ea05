// Package bulk implements the parallel bulk builder (component I): an
// external-sort-style index build that tokenizes a full column scan to
// temp file blocks, then k-way merges those blocks directly into the
// final segment/chunk store without going through the single-document
// update path (spec.md §4.8).
package bulk

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"invidx/internal/buffer"
	"invidx/internal/lexicon"
	"invidx/internal/logging"
	"invidx/internal/merge"
	"invidx/internal/slot"
	"invidx/internal/store"
	"invidx/internal/varray"
)

// DefaultBlockSize is the default number of postings (not rows) buffered
// in memory before a block is tokenized, encoded, and spilled to the temp
// file (spec.md §4.8 Phase 1's "block_buf... default 16 Mi elements").
// Kept far smaller here: this reference builder holds a block fully in
// memory per worker, and the spec's literal default assumes the original's
// tighter per-element footprit.
const DefaultBlockSize = 1 << 16

// TermsPerBuffer bounds how many terms' chunk bytes Phase 2 packs into one
// output buffer segment before rotating to a fresh one (II_BUFFER_NTERMS_PER_BUFFER,
// spec.md §4.8 Phase 2).
const TermsPerBuffer = 16380

var (
	// ErrNoScanner is returned by Build when cfg.Scanner is nil.
	ErrNoScanner = errors.New("bulk: no scanner configured")
)

// Section is one tokenizable field of a row, tagged with the section id
// and weight spec.md §3's posting tuple carries.
type Section struct {
	SID    uint32
	Weight uint32
	Text   []byte
}

// Row is one unit of the column scan being indexed.
type Row struct {
	RID      uint32
	Sections []Section
}

// Scanner yields the rows to index, in ascending rid order (spec.md §8's
// "bulk build equivalence" property compares against updates applied "in
// row-id order").
type Scanner interface {
	// Next returns the next row, or ok=false once the scan is exhausted.
	Next() (Row, bool, error)
}

// Tokenizer splits one section's text into term keys, in positional order.
type Tokenizer interface {
	Tokenize(text []byte) ([][]byte, error)
}

// Config wires a Builder to its collaborators.
type Config struct {
	Scanner     Scanner
	Tokenizer   Tokenizer
	Store       *store.Store
	Array       *varray.Array
	Lexicon     lexicon.Lexicon
	Sectioned   bool
	TmpDir      string
	BlockSize   int
	Parallelism int
	Logger      *slog.Logger
}

// Builder runs the two-phase bulk build.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Builder wired to cfg, filling in defaults for BlockSize,
// Parallelism, and TmpDir.
func New(cfg Config) *Builder {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	return &Builder{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "bulk"),
	}
}

// Stats reports what Build did.
type Stats struct {
	Rows    int
	Terms   int
	Blocks  int
}

// Build runs Phase 1 (tokenize to temp blocks) followed by Phase 2 (k-way
// merge into final segments), per spec.md §4.8.
func (b *Builder) Build() (Stats, error) {
	if b.cfg.Scanner == nil {
		return Stats{}, ErrNoScanner
	}
	blockPaths, stats, err := b.phase1()
	if err != nil {
		return stats, err
	}
	defer func() {
		for _, p := range blockPaths {
			os.Remove(p)
		}
	}()
	nterms, err := b.phase2(blockPaths)
	if err != nil {
		return stats, err
	}
	stats.Terms = nterms
	return stats, nil
}

// phase1 reads every row from the scanner, tokenizes it into per-term
// postings, and spills accumulated blocks to zstd-compressed temp files
// once BlockSize postings have accumulated. Spilling runs on a bounded
// pool of goroutines (spec.md §4.8 Phase 1, SPEC_FULL.md §B's errgroup
// wiring) while the next block keeps accumulating in the foreground.
func (b *Builder) phase1() ([]string, Stats, error) {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		paths    []string
		stats    Stats
		blockNum int
		current  = make(map[uint32][]buffer.Posting)
		curCount int
	)
	g.SetLimit(b.cfg.Parallelism)

	flush := func(block map[uint32][]buffer.Posting, idx int) {
		g.Go(func() error {
			path, err := b.spillBlock(block, idx)
			if err != nil {
				return err
			}
			mu.Lock()
			paths = append(paths, path)
			mu.Unlock()
			return nil
		})
	}

	for {
		row, ok, err := b.cfg.Scanner.Next()
		if err != nil {
			_ = g.Wait()
			return nil, stats, fmt.Errorf("bulk: scan: %w", err)
		}
		if !ok {
			break
		}
		stats.Rows++
		if err := b.tokenizeRow(row, current); err != nil {
			_ = g.Wait()
			return nil, stats, err
		}
		curCount = 0
		for _, postings := range current {
			curCount += len(postings)
		}
		if curCount >= b.cfg.BlockSize {
			flush(current, blockNum)
			blockNum++
			current = make(map[uint32][]buffer.Posting)
			curCount = 0
		}
	}
	if len(current) > 0 {
		flush(current, blockNum)
		blockNum++
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	stats.Blocks = blockNum
	sort.Strings(paths)
	return paths, stats, nil
}

// tokenizeRow tokenizes every section of row and accumulates the resulting
// per-term postings into block (one buffer.Posting per (tid, rid, sid);
// repeated occurrences of the same term within one section collapse into
// a single posting with tf == occurrence count, per spec.md §4.8's
// per-term ii_buffer_counter).
func (b *Builder) tokenizeRow(row Row, block map[uint32][]buffer.Posting) error {
	for _, sec := range row.Sections {
		tokens, err := b.cfg.Tokenizer.Tokenize(sec.Text)
		if err != nil {
			return fmt.Errorf("bulk: tokenize rid=%d sid=%d: %w", row.RID, sec.SID, err)
		}
		positions := make(map[uint32][]uint32)
		order := make([]uint32, 0, len(tokens))
		tids := make(map[string]uint32, len(tokens))
		for i, tok := range tokens {
			tid, ok := tids[string(tok)]
			if !ok {
				var err error
				tid, _, err = b.cfg.Lexicon.GetOrAdd(tok)
				if err != nil {
					return fmt.Errorf("bulk: lexicon GetOrAdd(%q): %w", tok, err)
				}
				tids[string(tok)] = tid
				order = append(order, tid)
			}
			positions[tid] = append(positions[tid], uint32(i+1))
		}
		for _, tid := range order {
			pos := positions[tid]
			block[tid] = append(block[tid], buffer.Posting{
				RID:       row.RID,
				SID:       sec.SID,
				TF:        uint32(len(pos)),
				Weight:    sec.Weight,
				Positions: pos,
			})
		}
	}
	return nil
}

// phase2 reopens every temp block and k-way merges them by term id,
// PForDelta-encoding each term's combined postings into the final store
// exactly as internal/updater's flush path does, so a bulk build produces
// the same cursor-observable posting stream a series of incremental
// updates would (spec.md §8 "bulk build equivalence").
func (b *Builder) phase2(blockPaths []string) (int, error) {
	merged := make(map[uint32][]buffer.Posting)
	for _, path := range blockPaths {
		block, err := readBlock(path)
		if err != nil {
			return 0, fmt.Errorf("bulk: read block %s: %w", path, err)
		}
		for tid, postings := range block {
			merged[tid] = append(merged[tid], postings...)
		}
	}

	tids := make([]uint32, 0, len(merged))
	for tid := range merged {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	var (
		lseg      uint32
		buf       *buffer.Buffer
		segBytes  []byte
		blob      []byte
		termCount int
	)
	rotate := func() error {
		if buf == nil {
			return nil
		}
		if len(blob) > 0 {
			offset, err := b.cfg.Store.ChunkNew(len(blob))
			if err != nil {
				return err
			}
			dst, err := b.cfg.Store.ChunkBytes(offset, len(blob))
			if err != nil {
				return err
			}
			copy(dst, blob)
			buf.SetChunk(offset, uint32(len(blob)))
		} else {
			buf.SetChunk(-1, 0)
		}
		buf = nil
		blob = nil
		termCount = 0
		return nil
	}
	ensureBuffer := func() error {
		if buf != nil {
			return nil
		}
		p, sb, err := b.cfg.Store.NewSegment(store.KindBuffer, lseg)
		if err != nil {
			return err
		}
		_ = p
		segBytes = sb
		buf = buffer.Init(segBytes)
		return nil
	}

	for _, tid := range tids {
		postings := merged[tid]
		sort.Slice(postings, func(i, j int) bool {
			if postings[i].RID != postings[j].RID {
				return postings[i].RID < postings[j].RID
			}
			return postings[i].SID < postings[j].SID
		})

		if len(postings) == 1 && slot.FitsInline(postings[0], b.cfg.Sectioned) {
			inl := slot.EncodeInline(postings[0], b.cfg.Sectioned)
			if err := b.cfg.Array.Set(tid, inl.A0, inl.A1); err != nil {
				return 0, err
			}
			continue
		}

		if err := ensureBuffer(); err != nil {
			return 0, err
		}
		encoded := merge.EncodeChunk(postings)
		off := uint32(len(blob))
		blob = append(blob, encoded...)
		if err := buf.SetChunkInfo(tid, off, uint32(len(encoded))); err != nil {
			return 0, err
		}
		target := slot.EncodeBuffered(lseg, uint32(len(encoded)))
		if err := b.cfg.Array.Set(tid, target.A0, target.A1); err != nil {
			return 0, err
		}
		termCount++

		if termCount >= TermsPerBuffer {
			if err := rotate(); err != nil {
				return 0, err
			}
			lseg++
		}
	}
	if err := rotate(); err != nil {
		return 0, err
	}
	return len(tids), nil
}
