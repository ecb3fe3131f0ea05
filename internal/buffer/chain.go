package buffer

// Chain walks a term's record chain from head to tail, skipping
// tombstones, with optional acceleration via validated skip pointers.
// It is the read-side counterpart to Put, used by internal/cursor and
// internal/merge to stream a term's staged postings in (rid, sid) order.
type Chain struct {
	b    *Buffer
	cur  uint32
	min  uint32 // rid floor for SkipTo/SetMin-style pruning; 0 == no floor
	done bool
}

// NewChain starts a chain walk at term's head.
func (b *Buffer) NewChain(term TermEntry) *Chain {
	return &Chain{b: b, cur: term.PosInBuffer}
}

// Next returns the next non-tombstoned record in ascending (rid, sid)
// order, tf==0 delete markers included, or ok==false once the chain is
// exhausted.
func (c *Chain) Next() (Posting, bool, error) {
	for {
		if c.done || c.cur == 0 {
			c.done = true
			return Posting{}, false, nil
		}
		rec, p, err := c.b.ReadRecord(c.cur)
		if err != nil {
			return Posting{}, false, err
		}
		next := rec.Step
		isTombstone := rec.Jump == jumpTombstone
		c.cur = next
		if isTombstone {
			continue
		}
		return p, true, nil
	}
}

// SkipTo advances the chain to the first live posting whose rid is >= min,
// taking validated skip-pointer shortcuts where available (cursor_set_min,
// spec.md §4.6).
func (c *Chain) SkipTo(minRID uint32) error {
	for {
		if c.done || c.cur == 0 {
			return nil
		}
		rec, p, err := c.b.ReadRecord(c.cur)
		if err != nil {
			return err
		}
		if p.RID >= minRID {
			return nil
		}
		if rec.Jump != jumpNone && rec.Jump != jumpTombstone {
			jrec, jp, err := c.b.ReadRecord(rec.Jump)
			if err != nil {
				return err
			}
			_ = jrec
			crid, csid := p.key()
			jrid, jsid := jp.key()
			if !less(crid, csid, jrid, jsid) {
				return ErrCorrupt
			}
			if jp.RID < minRID {
				c.cur = rec.Jump
				continue
			}
		}
		c.cur = rec.Step
	}
}
