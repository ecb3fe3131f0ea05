package query

import (
	"fmt"
	"sort"
)

// Select runs one query against the index, adding every match into result
// according to args.Op (spec.md §4.7).
func (e *Engine) Select(args Args, result Result) error {
	switch args.Mode {
	case ModeSimilar:
		return e.selectSimilar(args, result)
	case ModeTermExtract:
		return e.selectTermExtract(args, result)
	}

	tokens, err := e.tokenize(args.Query)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	infos, err := e.buildTokenInfos(tokens, args.Mode)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return nil
	}

	if args.Op != OpAND && args.Mode != ModeExact && args.Mode != ModeNear && args.Mode != ModeNear2 {
		// Pure OR/AND_NOT/ADJUST over single-term accumulation (spec.md §4.7
		// step 6): walk each token's cursor independently.
		return e.accumulateEach(infos, args, result)
	}

	hits, err := e.andLoop(infos, args)
	if err != nil {
		return err
	}
	for _, h := range hits {
		result.Add(h.rid, h.score, args.Op)
	}

	if args.Op == OpOR && args.Mode == ModeExact && len(hits) <= matchEscalationThreshold {
		if err := e.escalate(tokens, args, result); err != nil {
			e.logger.Warn("select: escalation failed", "error", err)
		}
	}
	return nil
}

// tokenize splits q via the configured Tokenizer, the same way for every
// mode; PREFIX/SUFFIX/PARTIAL/UNSPLIT then expand each resulting token
// separately (buildOneExpanded).
func (e *Engine) tokenize(q []byte) ([][]byte, error) {
	if e.tok == nil {
		return nil, ErrNoTokenizer
	}
	return e.tok.Tokenize(normalize(q))
}

func (e *Engine) buildTokenInfos(tokens [][]byte, mode Mode) ([]*tokenInfo, error) {
	switch mode {
	case ModePrefix:
		return e.buildOneExpanded(tokens, exPrefix)
	case ModeSuffix:
		return e.buildOneExpanded(tokens, exSuffix)
	case ModeUnsplit:
		return e.buildOneExpanded(tokens, exBoth)
	case ModePartial:
		return e.buildOneExpanded(tokens, exBoth) // substitute: partial escalates from unsplit
	default:
		infos := make([]*tokenInfo, 0, len(tokens))
		for _, tok := range tokens {
			tid, err := e.lex.Lookup(tok)
			if err != nil {
				// Unknown term: an AND query can never match; record an
				// exhausted tokenInfo so the caller sees zero hits rather
				// than erroring.
				infos = append(infos, &tokenInfo{kind: exNone, key: tok, exhausted: true})
				continue
			}
			ti, err := e.newTokenInfo(exNone, tok, []uint32{tid})
			if err != nil {
				return nil, err
			}
			infos = append(infos, ti)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].estSize < infos[j].estSize })
		return infos, nil
	}
}

// buildOneExpanded expands every query token against the lexicon per kind
// (prefix/suffix/both), merging each token's matching terms into its own
// tokenInfo so multi-word queries still combine per the caller's Op.
func (e *Engine) buildOneExpanded(tokens [][]byte, kind expansionKind) ([]*tokenInfo, error) {
	infos := make([]*tokenInfo, 0, len(tokens))
	for _, key := range tokens {
		tids, err := e.expand(key, kind)
		if err != nil {
			return nil, err
		}
		ti, err := e.newTokenInfo(kind, key, tids)
		if err != nil {
			return nil, err
		}
		infos = append(infos, ti)
	}
	return infos, nil
}

// expand returns the term ids matching key under kind's lexicon search
// (spec.md §4.7 step 1).
func (e *Engine) expand(key []byte, kind expansionKind) ([]uint32, error) {
	var tids []uint32
	switch kind {
	case exPrefix:
		cur, err := e.lex.Cursor(key, key)
		if err != nil {
			return nil, err
		}
		defer cur.Close()
		for {
			_, tid, ok, err := cur.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			tids = append(tids, tid)
		}
	case exSuffix:
		cur, err := e.lex.SuffixCursor(key)
		if err != nil {
			return nil, err
		}
		defer cur.Close()
		for {
			_, tid, ok, err := cur.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			tids = append(tids, tid)
		}
	case exBoth:
		prefixHits, err := e.expand(key, exPrefix)
		if err != nil {
			return nil, err
		}
		tids = append(tids, prefixHits...)
		pcur, err := e.lex.Cursor(key, key)
		if err != nil {
			return nil, err
		}
		defer pcur.Close()
		for {
			hitKey, _, ok, err := pcur.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if len(hitKey) < 3 {
				continue
			}
			more, err := e.expand(hitKey[len(hitKey)-3:], exSuffix)
			if err != nil {
				return nil, err
			}
			tids = append(tids, more...)
		}
	default:
		tid, err := e.lex.Lookup(key)
		if err == nil {
			tids = append(tids, tid)
		}
	}
	return tids, nil
}

type hit struct {
	rid, sid uint32
	score    float64
}

// andLoop drives spec.md §4.7 steps 3-4: walk the smallest token forward,
// skip every other token to the same key, and when all tokens land on the
// same (rid, sid), run the mode-specific co-location test.
func (e *Engine) andLoop(infos []*tokenInfo, args Args) ([]hit, error) {
	for _, ti := range infos {
		if !ti.primed && !ti.exhausted {
			if err := e.advance(ti); err != nil {
				return nil, err
			}
		}
	}
	var hits []hit
	for {
		allExhausted := true
		var rid, sid uint32
		first := true
		for _, ti := range infos {
			if ti.exhausted {
				continue
			}
			allExhausted = false
			if first || ti.rid > rid || (ti.rid == rid && ti.sid > sid) {
				rid, sid = ti.rid, ti.sid
				first = false
			}
		}
		if allExhausted || first {
			return hits, nil
		}

		allMatch := true
		for _, ti := range infos {
			r, s, ok, err := e.skip(ti, rid, sid)
			if err != nil {
				return nil, err
			}
			if !ok {
				return hits, nil
			}
			if r != rid || s != sid {
				rid, sid = r, s
				allMatch = false
			}
		}
		if !allMatch {
			continue
		}

		switch args.Mode {
		case ModeExact:
			if ok, score := e.phraseMatch(infos, args); ok {
				hits = append(hits, hit{rid: rid, sid: sid, score: score})
			}
		case ModeNear, ModeNear2:
			for _, score := range e.nearMatches(infos, args) {
				hits = append(hits, hit{rid: rid, sid: sid, score: score})
			}
		default:
			var score float64
			for _, ti := range infos {
				score += e.weigh(args, ti.tf, ti.weight, ti.sid)
			}
			hits = append(hits, hit{rid: rid, sid: sid, score: score})
		}

		for _, ti := range infos {
			if err := e.advance(ti); err != nil {
				return nil, err
			}
		}
	}
}

// phraseMatch implements the EXACT co-location test: try every position of
// the first token as the phrase start, requiring each later token at
// exactly offset positions later (spec.md §4.7 step 4).
func (e *Engine) phraseMatch(infos []*tokenInfo, args Args) (bool, float64) {
	base := infos[0].allPositions()
	sort.Slice(base, func(i, j int) bool { return base[i] < base[j] })
outer:
	for _, p0 := range base {
		for i := 1; i < len(infos); i++ {
			if !infos[i].hasPosition(p0 + uint32(i)) {
				continue outer
			}
		}
		var score float64
		for _, ti := range infos {
			score += e.weigh(args, ti.tf, ti.weight, ti.sid)
		}
		return true, score
	}
	return false, 0
}

// accumulateEach implements the single-term accumulation path for OR,
// AND_NOT, and ADJUST (spec.md §4.7 step 6): each token's matches are
// added to result independently, with no co-location requirement.
func (e *Engine) accumulateEach(infos []*tokenInfo, args Args, result Result) error {
	for _, ti := range infos {
		if !ti.primed && !ti.exhausted {
			if err := e.advance(ti); err != nil {
				return err
			}
		}
		for !ti.exhausted {
			score := e.weigh(args, ti.tf, ti.weight, ti.sid)
			result.Add(ti.rid, score, args.Op)
			if err := e.advance(ti); err != nil {
				return err
			}
		}
	}
	return nil
}

// escalate implements spec.md §4.7 step 7: when an OR+EXACT query starved
// for hits, widen the search to UNSPLIT then PARTIAL and union in the
// extra results.
func (e *Engine) escalate(tokens [][]byte, args Args, result Result) error {
	for _, mode := range []Mode{ModeUnsplit, ModePartial} {
		wider := args
		wider.Mode = mode
		infos, err := e.buildTokenInfos(tokens, mode)
		if err != nil {
			return fmt.Errorf("query: escalate to mode %d: %w", mode, err)
		}
		if err := e.accumulateEach(infos, wider, result); err != nil {
			return err
		}
	}
	return nil
}
