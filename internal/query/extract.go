package query

// maxExtractTermLen bounds how far selectTermExtract looks ahead from each
// scan position before giving up on finding a longer lexicon match; terms
// longer than this are assumed not to occur (reference-implementation
// limit, not a hard correctness requirement).
const maxExtractTermLen = 64

// selectTermExtract implements spec.md §4.7's TERM_EXTRACT mode: an LCP
// scan of the normalized query string against the lexicon, adding the
// postings of every longest-match term found.
func (e *Engine) selectTermExtract(args Args, result Result) error {
	text := normalize(args.Query)
	n := len(text)
	for i := 0; i < n; {
		matchLen := 0
		limit := maxExtractTermLen
		if n-i < limit {
			limit = n - i
		}
		// Try the longest candidate substring first so the match is the
		// longest term present in the lexicon at this position.
		for l := limit; l >= 1; l-- {
			if tid, err := e.lex.Lookup(text[i : i+l]); err == nil {
				if err := e.addTermPostings(tid, args, result); err != nil {
					return err
				}
				matchLen = l
				break
			}
		}
		if matchLen == 0 {
			i++
			continue
		}
		i += matchLen
	}
	return nil
}

func (e *Engine) addTermPostings(tid uint32, args Args, result Result) error {
	c, err := e.cur.OpenCursor(tid)
	if err != nil {
		return err
	}
	for {
		ok, err := c.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		p := c.Posting()
		score := e.weigh(args, p.TF, p.Weight, p.SID)
		result.Add(p.RID, score, args.Op)
	}
}
