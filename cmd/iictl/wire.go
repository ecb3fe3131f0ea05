package main

import (
	"log/slog"
	"strings"

	"invidx/internal/lexicon"
	"invidx/internal/logging"
)

// applyVerbosity parses "component=level,component=level" pairs from the
// --verbose flag and applies them to the root handler as per-component
// levels.
func applyVerbosity(h *logging.ComponentFilterHandler, spec string) {
	if spec == "" {
		return
	}
	for _, pair := range strings.Split(spec, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(v)); err != nil {
			continue
		}
		h.SetLevel(strings.TrimSpace(k), level)
	}
}

// lexiconPath is where a column's lexicon snapshot lives: a sibling file
// next to the index, the same convention ii.metaPath uses for flags.
func lexiconPath(indexPath string) string {
	return indexPath + ".lexicon"
}

// openLexicon loads an existing snapshot, or returns a fresh empty lexicon
// if none has been saved yet (e.g. right after create).
func openLexicon(indexPath string) (*lexicon.Memory, error) {
	lex, err := lexicon.LoadSnapshot(lexiconPath(indexPath))
	if err != nil {
		return lexicon.NewMemory(), nil
	}
	return lex, nil
}

func saveLexicon(indexPath string, lex *lexicon.Memory) error {
	return lex.SaveSnapshot(lexiconPath(indexPath))
}

// wordTokenizer is the reference Tokenizer this CLI wires in: lowercase,
// split on anything that isn't a letter or digit. Tokenization itself is
// out of scope for the engine (it's consumed via the Tokenizer interface
// everywhere); this is just enough to make iictl usable from a shell.
type wordTokenizer struct{}

func (wordTokenizer) Tokenize(text []byte) ([][]byte, error) {
	var out [][]byte
	start := -1
	lower := make([]byte, len(text))
	for i, c := range text {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
		isWord := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if isWord {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			out = append(out, lower[start:i])
			start = -1
		}
	}
	if start != -1 {
		out = append(out, lower[start:])
	}
	return out, nil
}
