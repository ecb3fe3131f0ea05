package ii

import "errors"

// ErrNoTokenizer is returned by operations that need to tokenize text
// (ColumnUpdate, EstimateSizeForQuery, Build) when the Index was wired
// without one. Select passes through internal/query's own ErrNoTokenizer
// instead.
var ErrNoTokenizer = errors.New("ii: no tokenizer configured")
