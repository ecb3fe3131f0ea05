package ii

import (
	"fmt"

	"invidx/internal/updater"
)

// Value is one section's content going into ColumnUpdate: spec.md §6's
// BULK/VECTOR/UVECTOR value, reduced to what this engine actually indexes
// — tokenizable text plus a weight.
type Value struct {
	Weight uint32
	Text   []byte
}

// UpdateStats reports what ColumnUpdate did for this call specifically
// (SPEC_FULL.md §C's ii_update_flags supplement), as opposed to
// internal/updater.Stats' running index-wide totals.
type UpdateStats = updater.Stats

func subStats(after, before updater.Stats) UpdateStats {
	return UpdateStats{
		TermsAdded:        after.TermsAdded - before.TermsAdded,
		TermsDeleted:      after.TermsDeleted - before.TermsDeleted,
		PostingsDiscarded: after.PostingsDiscarded - before.PostingsDiscarded,
		ChainResets:       after.ChainResets - before.ChainResets,
	}
}

// ColumnUpdate replaces rid's posting for every term old and new values
// touch, tokenizing each through the index's Lexicon/Tokenizer, computing
// the delete-set/add-set diff, and applying each half via
// DeleteOne/UpdateOne (spec.md §6 ii_column_update). It returns the set of
// term ids the new value added, along with stats for this call alone.
func (idx *Index) ColumnUpdate(rid, sid uint32, oldValue, newValue Value) ([]uint32, UpdateStats, error) {
	if idx.tok == nil {
		return nil, UpdateStats{}, fmt.Errorf("ii: ColumnUpdate: %w", ErrNoTokenizer)
	}
	idx.observeSection(sid)

	oldPositions, err := idx.tokenizePositions(oldValue.Text, false)
	if err != nil {
		return nil, UpdateStats{}, fmt.Errorf("ii: tokenize old value: %w", err)
	}
	newPositions, err := idx.tokenizePositions(newValue.Text, true)
	if err != nil {
		return nil, UpdateStats{}, fmt.Errorf("ii: tokenize new value: %w", err)
	}

	before := idx.upd.Stats()

	for tid := range oldPositions {
		if _, stillPresent := newPositions[tid]; stillPresent {
			continue
		}
		if _, err := idx.upd.DeleteOne(tid, rid, sid); err != nil {
			return nil, UpdateStats{}, fmt.Errorf("ii: delete_one(tid=%d): %w", tid, err)
		}
	}

	added := make([]uint32, 0, len(newPositions))
	for tid, positions := range newPositions {
		added = append(added, tid)
		if _, err := idx.upd.UpdateOne(tid, updater.UpdateSpec{
			RID:       rid,
			SID:       sid,
			Weight:    newValue.Weight,
			Positions: positions,
		}); err != nil {
			return nil, UpdateStats{}, fmt.Errorf("ii: update_one(tid=%d): %w", tid, err)
		}
	}

	after := idx.upd.Stats()
	return added, subStats(after, before), nil
}

// tokenizePositions splits text and groups each distinct term's 1-based
// occurrence positions. create controls whether unseen terms are assigned
// a fresh id (the new value, which may introduce terms) or left unresolved
// (the old value, whose terms must already exist if any posting referenced
// them).
func (idx *Index) tokenizePositions(text []byte, create bool) (map[uint32][]uint32, error) {
	if len(text) == 0 {
		return nil, nil
	}
	tokens, err := idx.tok.Tokenize(text)
	if err != nil {
		return nil, err
	}
	out := make(map[uint32][]uint32, len(tokens))
	for i, tok := range tokens {
		var tid uint32
		if create {
			var cerr error
			tid, _, cerr = idx.lex.GetOrAdd(tok)
			if cerr != nil {
				return nil, cerr
			}
		} else {
			var lerr error
			tid, lerr = idx.lex.Lookup(tok)
			if lerr != nil {
				continue // unknown term never had a posting to delete
			}
		}
		out[tid] = append(out[tid], uint32(i+1))
	}
	return out, nil
}
