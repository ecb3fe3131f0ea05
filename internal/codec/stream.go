package codec

// Stream encodes a single homogeneous run of values belonging to one
// posting-list component: rid gaps, sid gaps, tf-1, weight, or a flattened
// position run. EncodeVec/DecodeVec carry several of these side by side in
// one blob, one per posting-list component, the shape spec.md §4.1 calls
// the "encv/decv multi-stream form".
type Stream struct {
	Values []uint32
}

// flagUsePFor marks a stream as PForDelta-block-encoded rather than plain
// variable-byte. Decided once per stream by ShouldPack.
const flagUsePFor = 0x01

// ShouldPack reproduces the writer's choice heuristic: PForDelta pays off
// once there are enough values that the per-block overhead (width byte,
// exception list) is amortized, and the values are dense enough relative to
// their magnitude that a fixed bit width beats a byte-oriented encoding.
// This must stay a pure function of the input, since the decoder has no
// side channel — it always derives the same choice implicitly from the
// wire flag the encoder recorded.
func ShouldPack(values []uint32) bool {
	if len(values) < 3 {
		return false
	}
	var max uint32
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return uint32(len(values)) > max>>8
}

// EncodeVec appends nstreams streams to dst: a one-byte stream count, then
// per stream a VB-coded length, a one-byte flag, and either a run of
// PackUnit blocks (the last one possibly partial, its length implied by the
// stream's total length modulo UnitSize — the "ODD" block) or a flat VB
// run.
func EncodeVec(dst []byte, streams []Stream) []byte {
	dst = append(dst, byte(len(streams)))
	for _, s := range streams {
		dst = EncodeVB(dst, uint32(len(s.Values)))
		usePFor := ShouldPack(s.Values)
		flag := byte(0)
		if usePFor {
			flag |= flagUsePFor
		}
		dst = append(dst, flag)
		if !usePFor {
			dst = EncodeVBSlice(dst, s.Values)
			continue
		}
		for off := 0; off < len(s.Values); off += UnitSize {
			end := off + UnitSize
			if end > len(s.Values) {
				end = len(s.Values)
			}
			dst = append(dst, PackUnit(s.Values[off:end])...)
		}
	}
	return dst
}

// DecodeVec is the inverse of EncodeVec: it reads the stream count and each
// stream's length, flag, and payload from the front of src, returning the
// decoded streams and the number of bytes consumed.
func DecodeVec(src []byte) ([]Stream, int, error) {
	if len(src) == 0 {
		return nil, 0, ErrTruncated
	}
	nstreams := int(src[0])
	pos := 1
	streams := make([]Stream, nstreams)
	for i := 0; i < nstreams; i++ {
		n, ln, err := DecodeVB(src[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += ln
		if pos >= len(src) {
			return nil, 0, ErrTruncated
		}
		flag := src[pos]
		pos++
		values := make([]uint32, n)
		if flag&flagUsePFor == 0 {
			consumed, err := DecodeVBSlice(src[pos:], values)
			if err != nil {
				return nil, 0, err
			}
			pos += consumed
		} else {
			for off := 0; off < int(n); off += UnitSize {
				end := off + UnitSize
				if end > int(n) {
					end = int(n)
				}
				block, consumed, err := UnpackUnit(src[pos:], end-off)
				if err != nil {
					return nil, 0, err
				}
				copy(values[off:end], block)
				pos += consumed
			}
		}
		streams[i] = Stream{Values: values}
	}
	return streams, pos, nil
}
