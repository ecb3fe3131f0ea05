// Package query implements multi-term Select (component H): AND/OR/NEAR/
// SIMILAR/TERM-EXTRACT/PHRASE matching driven by a heap of per-token
// posting cursors, populating a caller-supplied result hash (spec.md §4.7).
package query

import (
	"bytes"
	"errors"
	"log/slog"

	"invidx/internal/cursor"
	"invidx/internal/lexicon"
	"invidx/internal/logging"
)

// Mode selects how query tokens are expanded against the lexicon and how a
// co-located group of postings is judged a match (spec.md §4.7).
type Mode int

const (
	ModeExact      Mode = iota // EXACT: phrase, adjacent positions
	ModeNear                   // NEAR: positions within MaxInterval of each other
	ModeNear2                  // NEAR2: evaluated exactly like NEAR, same MaxInterval window
	ModeSimilar                // SIMILAR: feature-hash document similarity
	ModeTermExtract            // TERM_EXTRACT: longest-match lexicon scan
	ModeUnsplit                // UNSPLIT: prefix + suffix-of-suffix expansion
	ModePartial                // PARTIAL: same expansion as UNSPLIT; no substring scan of the lexicon
	ModePrefix                 // PREFIX: EX_PREFIX
	ModeSuffix                 // SUFFIX: EX_SUFFIX
)

// Op combines a query term's hits into the running result set.
type Op int

const (
	OpOR     Op = iota // accumulate into result
	OpAND              // result only contains co-located hits (handled by the AND loop)
	OpANDNot           // remove matches from result
	OpAdjust           // boost scores of rids already present, skip the rest
)

// Result maps record id to an accumulated score, populated by Select.
type Result map[uint32]float64

// Add applies one hit's score to r according to op.
func (r Result) Add(rid uint32, score float64, op Op) {
	switch op {
	case OpANDNot:
		delete(r, rid)
	case OpAdjust:
		if _, ok := r[rid]; ok {
			r[rid] += score
		}
	default: // OpOR, OpAND
		r[rid] += score
	}
}

var (
	// ErrNoTokenizer is returned by Select when Mode requires tokenization
	// (spec.md's "surrounding collaborator... consumed via interfaces
	// only") but no Tokenizer was configured.
	ErrNoTokenizer = errors.New("query: no tokenizer configured")
)

// CursorSource opens a posting cursor for a term id, the same surface
// internal/ii's public API exposes over internal/cursor.
type CursorSource interface {
	OpenCursor(tid uint32) (cursor.Cursor, error)
}

// SizeEstimator reports a term's approximate posting-list size, used to
// order tokens so the smallest drives the outer AND walk (spec.md §4.7
// step 2) and to weight SIMILAR candidates.
type SizeEstimator interface {
	EstimateSize(tid uint32) (uint32, error)
}

// Tokenizer splits query text into term keys. It is the same tokenizer
// surface internal/bulk and internal/ii consume — out of scope per
// spec.md §1, provided by the caller.
type Tokenizer interface {
	Tokenize(text []byte) ([][]byte, error)
}

// Weighter computes a single posting's contribution to its record's score.
// The default multiplies term frequency by (1 + weight) and, if section
// weights were supplied, by that section's multiplier.
type Weighter func(tf, weight, sid uint32) float64

// Config wires an Engine to its collaborators.
type Config struct {
	Lexicon   lexicon.Lexicon
	Cursors   CursorSource
	Sizes     SizeEstimator
	Tokenizer Tokenizer
	Logger    *slog.Logger
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithRegexFallback stores fn on the Engine as a sequential-regex matcher
// over the normalized text of a candidate row (this engine has no text
// store of its own, so fn is supplied by the caller). Select never calls
// fn: every query, with or without this option, is evaluated through the
// index cursors.
func WithRegexFallback(fn RegexFallbackFunc) Option {
	return func(e *Engine) { e.regexFallback = fn }
}

// RegexFallbackFunc evaluates a normalized-text regular expression against
// one candidate row, returning whether it matches.
type RegexFallbackFunc func(rid, sid uint32, pattern []byte) (bool, error)

// Engine runs Select over an index's cursors and lexicon.
type Engine struct {
	lex           lexicon.Lexicon
	cur           CursorSource
	sizes         SizeEstimator
	tok           Tokenizer
	logger        *slog.Logger
	regexFallback RegexFallbackFunc
}

// New returns an Engine wired to cfg.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		lex:    cfg.Lexicon,
		cur:    cfg.Cursors,
		sizes:  cfg.Sizes,
		tok:    cfg.Tokenizer,
		logger: logging.Default(cfg.Logger).With("component", "query"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Args parameterizes one Select call.
type Args struct {
	Query          []byte
	Mode           Mode
	Op             Op
	MaxInterval    uint32    // NEAR/NEAR2 proximity window
	SectionWeights []float64 // optional per-section score multiplier, 1-indexed
	Weighter       Weighter  // optional score override
	Limit          int       // SIMILAR: top-N tokens to union; 0 picks a default
	RegexPattern   []byte    // sequential fallback pattern; Select does not read it
}

func (e *Engine) weigh(args Args, tf, weight, sid uint32) float64 {
	if args.Weighter != nil {
		return args.Weighter(tf, weight, sid)
	}
	score := float64(tf) * (1 + float64(weight))
	if int(sid) < len(args.SectionWeights)+1 && sid >= 1 && len(args.SectionWeights) >= int(sid) {
		score *= args.SectionWeights[sid-1]
	}
	return score
}

func normalize(s []byte) []byte {
	return bytes.ToLower(bytes.TrimSpace(s))
}

// matchEscalationThreshold is the hit-count ceiling at or below which an OR
// query escalates EXACT to UNSPLIT then PARTIAL (spec.md §4.7 step 7).
const matchEscalationThreshold = 3
