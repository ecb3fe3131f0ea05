package query

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// defaultSimilarLimit mirrors spec.md §4.7's "hash_size/8 + 1" default when
// the caller doesn't set Args.Limit. There is no literal hash_size here (no
// fixed feature-hash table), so this stands in as a modest, deterministic
// default scaled to the query's own token count.
func defaultSimilarLimit(ntokens int) int {
	n := ntokens/8 + 1
	if n < 1 {
		n = 1
	}
	return n
}

// selectSimilar implements spec.md §4.7's SIMILAR mode: tokenize the query
// into a feature hash, weight each term by max_size/estimated_size (so
// rarer terms count for more), keep the top Limit, and union their
// posting lists into result.
func (e *Engine) selectSimilar(args Args, result Result) error {
	tokens, err := e.tokenize(args.Query)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	type feature struct {
		tid    uint32
		hash   uint64
		weight float64
	}
	seen := make(map[uint64]bool, len(tokens))
	var features []feature
	var maxSize uint32
	for _, tok := range tokens {
		h := xxhash.Sum64(tok)
		if seen[h] {
			continue
		}
		seen[h] = true
		tid, err := e.lex.Lookup(tok)
		if err != nil {
			continue
		}
		var size uint32 = 1
		if e.sizes != nil {
			if sz, err := e.sizes.EstimateSize(tid); err == nil && sz > 0 {
				size = sz
			}
		}
		if size > maxSize {
			maxSize = size
		}
		features = append(features, feature{tid: tid, hash: h, weight: float64(size)})
	}
	if len(features) == 0 {
		return nil
	}
	if maxSize == 0 {
		maxSize = 1
	}
	for i := range features {
		features[i].weight = float64(maxSize) / features[i].weight
	}
	sort.Slice(features, func(i, j int) bool { return features[i].weight > features[j].weight })

	limit := args.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit(len(tokens))
	}
	if limit > len(features) {
		limit = len(features)
	}

	for _, f := range features[:limit] {
		c, err := e.cur.OpenCursor(f.tid)
		if err != nil {
			return err
		}
		for {
			ok, err := c.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			p := c.Posting()
			score := e.weigh(args, p.TF, p.Weight, p.SID) * f.weight
			result.Add(p.RID, score, args.Op)
		}
	}
	return nil
}
