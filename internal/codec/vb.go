// Package codec implements the integer compression layer shared by every
// on-disk posting stream: a self-delimiting variable-byte encoding for
// scalars and a PForDelta-like bit-packed block encoding for runs of 128
// values. Nothing in this package touches segments, chunks, or buffers —
// it only turns uint32 streams into bytes and back.
package codec

import "errors"

// ErrTruncated is returned by a decoder when the input ends before a
// complete value could be read.
var ErrTruncated = errors.New("codec: truncated input")

// Byte-VB bias constants. A value v falls into exactly one range based on
// magnitude; the encoder always picks the smallest form that fits.
const (
	vbBias1 = 0x8f     // values 0x00..0x8e fit in one byte
	vbBias2 = 0x408f   // values vbBias1..vbBias2-1 fit in two bytes
	vbBias3 = 0x20408f // values vbBias2..vbBias3-1 fit in three bytes
	// values vbBias3..0xffffffff fit in four bytes (0x90..0x9f header)
	// or fall back to the five-byte literal form (0x8f header).
)

// EncodeVB appends the variable-byte encoding of v to dst and returns the
// extended slice.
func EncodeVB(dst []byte, v uint32) []byte {
	switch {
	case v < vbBias1:
		return append(dst, byte(v))
	case v-vbBias1 < 1<<14:
		t := v - vbBias1
		return append(dst, 0xc0+byte(t>>8), byte(t))
	case v-vbBias2 < 1<<21:
		t := v - vbBias2
		return append(dst, 0xa0+byte(t>>16), byte(t>>8), byte(t))
	case v-vbBias3 < 1<<28:
		t := v - vbBias3
		return append(dst, 0x90+byte(t>>24), byte(t>>16), byte(t>>8), byte(t))
	default:
		return append(dst, 0x8f,
			byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
}

// SizeVB returns the number of bytes EncodeVB would write for v, without
// allocating.
func SizeVB(v uint32) int {
	switch {
	case v < vbBias1:
		return 1
	case v-vbBias1 < 1<<14:
		return 2
	case v-vbBias2 < 1<<21:
		return 3
	case v-vbBias3 < 1<<28:
		return 4
	default:
		return 5
	}
}

// DecodeVB reads one variable-byte value from src, returning the value and
// the number of bytes consumed. Returns ErrTruncated if src does not hold a
// complete encoding.
func DecodeVB(src []byte) (uint32, int, error) {
	if len(src) == 0 {
		return 0, 0, ErrTruncated
	}
	h := src[0]
	switch {
	case h <= 0x8e:
		return uint32(h), 1, nil
	case h == 0x8f:
		if len(src) < 5 {
			return 0, 0, ErrTruncated
		}
		v := uint32(src[1]) | uint32(src[2])<<8 | uint32(src[3])<<16 | uint32(src[4])<<24
		return v, 5, nil
	case h < 0xa0:
		if len(src) < 4 {
			return 0, 0, ErrTruncated
		}
		t := (uint32(h-0x90) << 24) | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
		return t + vbBias3, 4, nil
	case h < 0xc0:
		if len(src) < 3 {
			return 0, 0, ErrTruncated
		}
		t := (uint32(h-0xa0) << 16) | uint32(src[1])<<8 | uint32(src[2])
		return t + vbBias2, 3, nil
	default:
		if len(src) < 2 {
			return 0, 0, ErrTruncated
		}
		t := (uint32(h-0xc0) << 8) | uint32(src[1])
		return t + vbBias1, 2, nil
	}
}

// EncodeVBSlice appends the VB encoding of every value in vs to dst.
func EncodeVBSlice(dst []byte, vs []uint32) []byte {
	for _, v := range vs {
		dst = EncodeVB(dst, v)
	}
	return dst
}

// DecodeVBSlice reads n VB-encoded values from src into dst (which must
// have length >= n), returning the number of bytes consumed.
func DecodeVBSlice(src []byte, dst []uint32) (int, error) {
	off := 0
	for i := range dst {
		v, n, err := DecodeVB(src[off:])
		if err != nil {
			return off, err
		}
		dst[i] = v
		off += n
	}
	return off, nil
}
