package buffer

// SetChunk records the shared chunk arena this buffer's terms place their
// merged postings in: offset is a store chunk offset (-1 if none yet) and
// size its byte length. Used by internal/merge's caller after
// buffer_merge/buffer_split rewrite a buffer's backing chunk.
func (b *Buffer) SetChunk(offset int64, size uint32) {
	h := b.Header()
	h.Chunk = offset
	h.ChunkSize = size
	h.encode(b.seg)
}

// SetChunkInfo records (or creates) a term's placement within this
// buffer's shared chunk arena, without touching its record chain.
func (b *Buffer) SetChunkInfo(tid, posInChunk, sizeInChunk uint32) error {
	h := b.Header()
	off, ok := b.termEntryOffset(tid)
	if !ok {
		termsEnd := headerSize + int(h.NTerms)*termSize
		if termsEnd+termSize > int(h.RecBottom) {
			return ErrNoSpace
		}
		off = termsEnd
		TermEntry{TID: tid}.encode(b.seg, off)
		h.NTerms++
		h.encode(b.seg)
	}
	term := decodeTermEntry(b.seg, off)
	term.PosInChunk = posInChunk
	term.SizeInChunk = sizeInChunk
	term.encode(b.seg, off)
	return nil
}
