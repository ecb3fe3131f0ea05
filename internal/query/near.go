package query

import "github.com/google/btree"

// posEntry is one token occurrence fed into the NEAR proximity window
// (spec.md §4.7 step 4: "feed all token positions into a small binary tree
// keyed by current pos").
type posEntry struct {
	pos   uint32
	token int
}

func lessPosEntry(a, b posEntry) bool {
	if a.pos != b.pos {
		return a.pos < b.pos
	}
	return a.token < b.token
}

// nearMatches finds every proximity window, across all of infos' positions
// at the already-co-located (rid, sid), whose span is <= args.MaxInterval
// and which contains at least one occurrence of every token, returning one
// score per window (spec.md §4.7 step 4, NEAR branch).
func (e *Engine) nearMatches(infos []*tokenInfo, args Args) []float64 {
	bt := btree.NewG(32, lessPosEntry)
	for ti, info := range infos {
		for _, p := range info.allPositions() {
			bt.ReplaceOrInsert(posEntry{pos: p, token: ti})
		}
	}

	var scores []float64
	for bt.Len() > 0 {
		min, _ := bt.Min()
		// Every item returned by AscendRange already falls within
		// [min.pos, min.pos+MaxInterval] by construction; the window
		// matches iff it contains an occurrence of every token.
		windowSeen := make([]bool, len(infos))
		distinct := 0
		bt.AscendRange(posEntry{pos: min.pos}, posEntry{pos: min.pos + args.MaxInterval + 1},
			func(pe posEntry) bool {
				if !windowSeen[pe.token] {
					windowSeen[pe.token] = true
					distinct++
				}
				return true
			})
		if distinct == len(infos) {
			var score float64
			for _, info := range infos {
				score += e.weigh(args, info.tf, info.weight, info.sid)
			}
			scores = append(scores, score)
		}
		bt.Delete(min)
	}
	return scores
}
