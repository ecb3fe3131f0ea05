package buffer

import "fmt"

// Put inserts or updates a posting in tid's sorted record chain
// (buffer_put, spec.md §4.4). Equal (rid,sid) is replaced; sid==0
// tombstones every record for that rid before splicing the new one in.
func (b *Buffer) Put(tid uint32, u Posting) error {
	payload := encodePosting(nil, u)
	recSize := 8 + len(payload)

	termOff, ok := b.termEntryOffset(tid)
	h := b.Header()
	needNewTerm := !ok

	termsEnd := headerSize + int(h.NTerms)*termSize
	extra := 0
	if needNewTerm {
		extra = termSize
	}
	if int(h.RecBottom)-recSize < termsEnd+extra {
		return ErrNoSpace
	}

	var term TermEntry
	if ok {
		term = decodeTermEntry(b.seg, termOff)
	} else {
		term = TermEntry{TID: tid}
		termOff = termsEnd
		h.NTerms++
	}

	newOff := h.RecBottom - uint32(recSize)
	h.RecBottom = newOff
	Rec{}.encode(b.seg, int(newOff))
	copy(b.seg[int(newOff)+8:], payload)
	term.SizeInBuffer += uint32(recSize)

	head := term.PosInBuffer
	if head == 0 {
		// Empty chain: the new record becomes the sole entry.
		Rec{Step: 0, Jump: jumpNone}.encode(b.seg, int(newOff))
		term.PosInBuffer = newOff
		term.Count = 1
		b.writeTerm(termOff, term, h)
		return nil
	}

	urid, usid := u.key()
	var prevOff uint32 // 0 means "insert before head"
	cur := head
	budget := 2*int(term.Count) + 32
	for steps := 0; ; steps++ {
		if steps > budget {
			return fmt.Errorf("buffer: term %d: %w", tid, ErrCorrupt)
		}
		rec, p, err := b.ReadRecord(cur)
		if err != nil {
			return err
		}
		crid, csid := p.key()

		if rec.Jump != jumpNone && rec.Jump != jumpTombstone {
			jrec, jp, err := b.ReadRecord(rec.Jump)
			if err != nil {
				return err
			}
			_ = jrec
			jrid, jsid := jp.key()
			if !less(crid, csid, jrid, jsid) {
				return fmt.Errorf("buffer: term %d: jump target not strictly greater: %w", tid, ErrCorrupt)
			}
			if less(jrid, jsid, urid, usid) {
				prevOff = cur
				cur = rec.Jump
				continue
			}
		}

		switch {
		case usid == 0 && crid == urid:
			// Tombstone every record sharing this rid, then keep walking
			// to find the true splice point beyond the run.
			rec.Jump = jumpTombstone
			rec.encode(b.seg, int(cur))
			if rec.Step == 0 {
				return b.spliceAfter(tid, termOff, term, h, cur, newOff, 0)
			}
			prevOff = cur
			cur = rec.Step
			continue
		case crid == urid && csid == usid:
			// Exact (rid, sid) match: replace in place.
			return b.replaceAt(tid, termOff, term, h, prevOff, cur, rec, newOff, urid, usid)
		case less(urid, usid, crid, csid):
			// Found the first record strictly greater than u: splice before it.
			return b.spliceBefore(tid, termOff, term, h, prevOff, head, cur, newOff)
		default:
			if rec.Step == 0 {
				return b.spliceAfter(tid, termOff, term, h, cur, newOff, 0)
			}
			prevOff = cur
			cur = rec.Step
		}
	}
}

// replaceAt splices newOff in place of the node at cur, which holds the
// same (rid, sid) as the incoming update.
func (b *Buffer) replaceAt(tid uint32, termOff int, term TermEntry, h Header, prevOff, cur uint32, curRec Rec, newOff, urid, usid uint32) error {
	next := curRec.Step
	newRec := Rec{Step: next, Jump: jumpNone}
	newRec.encode(b.seg, int(newOff))
	b.link(term.PosInBuffer == cur, prevOff, newOff, &term)
	term.Count++ // the stale node stays allocated as a tombstone, still counted for budget purposes
	tomb := Rec{Step: curRec.Step, Jump: jumpTombstone}
	tomb.encode(b.seg, int(cur))
	b.writeTerm(termOff, term, h)
	b.maybeInstallSkip(termOff, &term, h, newOff)
	return nil
}

// spliceBefore inserts newOff immediately before cur in the chain.
func (b *Buffer) spliceBefore(tid uint32, termOff int, term TermEntry, h Header, prevOff, head, cur, newOff uint32) error {
	Rec{Step: cur, Jump: jumpNone}.encode(b.seg, int(newOff))
	b.link(head == cur, prevOff, newOff, &term)
	term.Count++
	b.writeTerm(termOff, term, h)
	b.maybeInstallSkip(termOff, &term, h, newOff)
	return nil
}

// spliceAfter appends newOff after cur (cur.Step == 0, end of chain).
func (b *Buffer) spliceAfter(tid uint32, termOff int, term TermEntry, h Header, cur, newOff uint32, _ int) error {
	Rec{Step: 0, Jump: jumpNone}.encode(b.seg, int(newOff))
	rec, _, err := b.ReadRecord(cur)
	if err != nil {
		return err
	}
	rec.Step = newOff
	rec.encode(b.seg, int(cur))
	term.Count++
	b.writeTerm(termOff, term, h)
	b.maybeInstallSkip(termOff, &term, h, newOff)
	return nil
}

// link points prevOff's Step (or the term's head pointer, if isHead) at
// newOff.
func (b *Buffer) link(isHead bool, prevOff, newOff uint32, term *TermEntry) {
	if isHead || prevOff == 0 {
		term.PosInBuffer = newOff
		return
	}
	rec := decodeRec(b.seg, int(prevOff))
	rec.Step = newOff
	rec.encode(b.seg, int(prevOff))
}

// maybeInstallSkip installs a single accelerating skip pointer from the
// chain head to the record just inserted once the chain length
// crosses a power-of-two boundary. This keeps the documented invariants —
// sorted skip targets, validated on every traversal — without replicating
// the original engine's exact multi-pointer popcount bookkeeping, whose
// only observable effect is traversal speed.
func (b *Buffer) maybeInstallSkip(termOff int, term *TermEntry, h Header, tail uint32) {
	n := term.Count
	if n < 2 || n&(n-1) != 0 {
		b.writeTerm(termOff, *term, h)
		return
	}
	head := term.PosInBuffer
	if head != tail {
		rec := decodeRec(b.seg, int(head))
		rec.Jump = tail
		rec.encode(b.seg, int(head))
	}
	b.writeTerm(termOff, *term, h)
}

func (b *Buffer) writeTerm(off int, term TermEntry, h Header) {
	term.encode(b.seg, off)
	h.encode(b.seg)
}
