package codec

import (
	"fmt"
	"math/bits"
)

// UnitSize is the number of values covered by one PForDelta-like block.
// A trailing partial unit (< UnitSize values) is packed with the same
// algorithm run over the shorter length.
const UnitSize = 128

// unitMask is UnitSize-1; a width w whose (1<<w)-1 is >= unitMask can hold
// any in-unit index directly, which is what lets the exception chain live
// inside the packed values themselves instead of needing index bytes.
const unitMask = UnitSize - 1

// histogram buckets len(values) items by the number of bits needed to
// represent each one (0 for the value 0 itself).
func histogram(values []uint32) (freq [33]int) {
	for _, v := range values {
		freq[bits.Len32(v)]++
	}
	return freq
}

// chooseWidth returns the smallest bit width w (0..32) whose cumulative
// histogram covers at least th = i - i/8 of the i values, and how many
// values that width actually covers.
func chooseWidth(freq [33]int, i int) (w, covered int) {
	th := i - (i >> 3)
	s := 0
	for w = 0; w <= 32; w++ {
		s += freq[w]
		if s >= th {
			return w, s
		}
	}
	return 32, s
}

// PackUnit encodes up to UnitSize values using the width-selection and
// exception-list scheme described in the package's design notes: pick the
// narrowest width covering at least 7/8 of the values, bit-pack everything
// at that width, and record the outliers ("exceptions") separately.
func PackUnit(values []uint32) []byte {
	i := len(values)
	freq := histogram(values)
	w, s := chooseWidth(freq, i)

	if i == s {
		out := make([]byte, 0, 1+i*w/8+1)
		out = append(out, byte(w))
		return packBits(out, values, w)
	}

	r := uint32(1) << uint(w)
	out := make([]byte, 0, i*w/8+i+4)
	out = append(out, byte(w)|0x80, byte(i-s))

	work := append([]uint32(nil), values...)
	var ebuf []byte
	if r >= UnitSize {
		first := 0
		last := -1
		for k, v := range work {
			if v >= r {
				ebuf = EncodeVB(ebuf, v-r)
				if last < 0 {
					first = k
				} else {
					work[last] = uint32(k)
				}
				last = k
			}
		}
		work[last] = 0
		out = append(out, byte(first))
	} else {
		for k, v := range work {
			if v >= r {
				ebuf = append(ebuf, byte(k))
				ebuf = EncodeVB(ebuf, v-r)
				work[k] = 0
			}
		}
	}
	out = packBits(out, work, w)
	out = append(out, ebuf...)
	return out
}

// UnpackUnit decodes n values previously written by PackUnit from the front
// of src, returning the values and the number of bytes consumed.
func UnpackUnit(src []byte, n int) ([]uint32, int, error) {
	if len(src) == 0 {
		return nil, 0, ErrTruncated
	}
	pos := 0
	wb := src[pos]
	pos++

	var ne int
	w := int(wb)
	hasExceptions := wb&0x80 != 0
	if hasExceptions {
		if pos >= len(src) {
			return nil, 0, ErrTruncated
		}
		ne = int(src[pos])
		pos++
		w -= 0x80
	}
	m := uint32(1)<<uint(w) - 1
	largeForm := hasExceptions && m >= unitMask

	first := 0
	if largeForm {
		if pos >= len(src) {
			return nil, 0, ErrTruncated
		}
		first = int(src[pos])
		pos++
	}

	values := make([]uint32, n)
	consumed, err := unpackBits(src[pos:], values, w)
	if err != nil {
		return nil, 0, err
	}
	pos += consumed

	if hasExceptions {
		if m >= unitMask {
			k := first
			for ; ne > 0; ne-- {
				if k < 0 || k >= n {
					return nil, 0, fmt.Errorf("codec: exception chain index %d out of range: %w", k, ErrTruncated)
				}
				next := values[k]
				delta, dn, err := DecodeVB(src[pos:])
				if err != nil {
					return nil, 0, err
				}
				pos += dn
				values[k] = delta + m + 1
				k = int(next)
			}
		} else {
			for ; ne > 0; ne-- {
				if pos >= len(src) {
					return nil, 0, ErrTruncated
				}
				k := int(src[pos])
				pos++
				if k >= n {
					return nil, 0, fmt.Errorf("codec: exception index %d out of range: %w", k, ErrTruncated)
				}
				delta, dn, err := DecodeVB(src[pos:])
				if err != nil {
					return nil, 0, err
				}
				pos += dn
				values[k] = delta + m + 1
			}
		}
	}
	return values, pos, nil
}

// packBits MSB-first-packs values at width w bits each, appending the
// result to dst. w == 0 means every value is zero and nothing is written.
func packBits(dst []byte, values []uint32, w int) []byte {
	if w == 0 {
		return dst
	}
	b := 8 - w
	var v uint32
	for i := 0; i < len(values); {
		switch {
		case b > 0:
			v += values[i] << uint(b)
			b -= w
			i++
		case b < 0:
			dst = append(dst, byte(v)+byte(values[i]>>uint(-b)))
			b += 8
			v = 0
		default:
			dst = append(dst, byte(v)+byte(values[i]))
			b = 8 - w
			v = 0
			i++
		}
	}
	if b+w != 8 {
		dst = append(dst, byte(v))
	}
	return dst
}

// unpackBits is the inverse of packBits: it reads len(out) values packed at
// width w bits each from src, filling out in place, and returns the number
// of bytes consumed.
func unpackBits(src []byte, out []uint32, w int) (int, error) {
	if w == 0 {
		for i := range out {
			out[i] = 0
		}
		return 0, nil
	}
	m := uint32(1)<<uint(w) - 1
	b := 8 - w
	var v uint32
	pos := 0
	i := 0
	for i < len(out) {
		if pos >= len(src) {
			return 0, ErrTruncated
		}
		switch {
		case b > 0:
			out[i] = v + ((uint32(src[pos]) >> uint(b)) & m)
			b -= w
			v = 0
			i++
		case b < 0:
			v += (uint32(src[pos]) << uint(-b)) & m
			pos++
			b += 8
		default:
			out[i] = v + (uint32(src[pos]) & m)
			pos++
			b = 8 - w
			v = 0
			i++
		}
	}
	if b+w != 8 {
		pos++
	}
	return pos, nil
}
