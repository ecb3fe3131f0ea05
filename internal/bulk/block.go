package bulk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"invidx/internal/buffer"
	"invidx/internal/codec"
)

// spillBlock encodes block's accumulated postings (one run per term id, in
// ascending tid order) and writes them zstd-compressed to a fresh temp
// file under b.cfg.TmpDir, mirroring the teacher's compress-to-temp-file
// idiom (internal/chunk/file's compressFile in the teacher repo).
func (b *Builder) spillBlock(block map[uint32][]buffer.Posting, idx int) (string, error) {
	path := filepath.Join(b.cfg.TmpDir, fmt.Sprintf("invidx-bulk-%d-%d.tmp", os.Getpid(), idx))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("bulk: create temp block: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return "", fmt.Errorf("bulk: new zstd writer: %w", err)
	}

	tids := make([]uint32, 0, len(block))
	for tid := range block {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	var scratch []byte
	for _, tid := range tids {
		postings := block[tid]
		scratch = scratch[:0]
		scratch = codec.EncodeVB(scratch, tid)
		scratch = codec.EncodeVB(scratch, uint32(len(postings)))
		for _, p := range postings {
			scratch = encodeBlockPosting(scratch, p)
		}
		if _, err := enc.Write(scratch); err != nil {
			enc.Close()
			return "", fmt.Errorf("bulk: write temp block: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("bulk: close zstd writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("bulk: sync temp block: %w", err)
	}
	return path, nil
}

// readBlock decompresses and decodes one temp block back into its
// per-term postings.
func readBlock(path string) (map[uint32][]buffer.Posting, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("bulk: new zstd reader: %w", err)
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("bulk: decompress temp block: %w", err)
	}

	out := make(map[uint32][]buffer.Posting)
	off := 0
	for off < len(raw) {
		tid, n, err := codec.DecodeVB(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("bulk: decode block tid: %w", err)
		}
		off += n
		count, n, err := codec.DecodeVB(raw[off:])
		if err != nil {
			return nil, fmt.Errorf("bulk: decode block count: %w", err)
		}
		off += n
		postings := make([]buffer.Posting, count)
		for i := range postings {
			p, n, err := decodeBlockPosting(raw[off:])
			if err != nil {
				return nil, fmt.Errorf("bulk: decode block posting: %w", err)
			}
			off += n
			postings[i] = p
		}
		out[tid] = append(out[tid], postings...)
	}
	return out, nil
}

func encodeBlockPosting(dst []byte, p buffer.Posting) []byte {
	dst = codec.EncodeVB(dst, p.RID)
	dst = codec.EncodeVB(dst, p.SID)
	dst = codec.EncodeVB(dst, p.TF)
	dst = codec.EncodeVB(dst, p.Weight)
	dst = codec.EncodeVB(dst, uint32(len(p.Positions)))
	prev := uint32(0)
	for _, pos := range p.Positions {
		dst = codec.EncodeVB(dst, pos-prev)
		prev = pos
	}
	return dst
}

func decodeBlockPosting(src []byte) (buffer.Posting, int, error) {
	var p buffer.Posting
	off := 0
	read := func() (uint32, error) {
		v, n, err := codec.DecodeVB(src[off:])
		off += n
		return v, err
	}
	var err error
	if p.RID, err = read(); err != nil {
		return p, 0, err
	}
	if p.SID, err = read(); err != nil {
		return p, 0, err
	}
	if p.TF, err = read(); err != nil {
		return p, 0, err
	}
	if p.Weight, err = read(); err != nil {
		return p, 0, err
	}
	npos, err := read()
	if err != nil {
		return p, 0, err
	}
	p.Positions = make([]uint32, npos)
	prev := uint32(0)
	for i := range p.Positions {
		d, err := read()
		if err != nil {
			return p, 0, err
		}
		prev += d
		p.Positions[i] = prev
	}
	return p, off, nil
}
