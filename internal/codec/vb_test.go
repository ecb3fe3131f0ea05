package codec

import "testing"

func TestVBRoundTripBoundaries(t *testing.T) {
	values := []uint32{
		0, 1, 0x8e, 0x8f, 0x90,
		0x8f + 0xff,
		0x408f - 1, 0x408f,
		0x20408f - 1, 0x20408f,
		0xffffffff,
	}
	for _, v := range values {
		buf := EncodeVB(nil, v)
		if len(buf) != SizeVB(v) {
			t.Fatalf("SizeVB(%#x) = %d, EncodeVB wrote %d bytes", v, SizeVB(v), len(buf))
		}
		got, n, err := DecodeVB(buf)
		if err != nil {
			t.Fatalf("DecodeVB(%#x): %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("DecodeVB(%#x) consumed %d bytes, want %d", v, n, len(buf))
		}
		if got != v {
			t.Fatalf("round trip %#x -> %#x", v, got)
		}
	}
}

func TestVBFormWidths(t *testing.T) {
	cases := []struct {
		v    uint32
		want int
	}{
		{0, 1},
		{0x8e, 1},
		{0x8f, 2},
		{0x8f + (1 << 14) - 1, 2},
		{0x408f, 3},
		{0x408f + (1 << 21) - 1, 3},
		{0x20408f, 4},
		{0x20408f + (1 << 28) - 1, 4},
		{0x20408f + (1 << 28), 5},
		{0xffffffff, 5},
	}
	for _, c := range cases {
		if got := SizeVB(c.v); got != c.want {
			t.Errorf("SizeVB(%#x) = %d, want %d", c.v, got, c.want)
		}
	}
}

func TestDecodeVBTruncated(t *testing.T) {
	full := EncodeVB(nil, 0xffffffff)
	for i := 0; i < len(full); i++ {
		if _, _, err := DecodeVB(full[:i]); err != ErrTruncated {
			t.Errorf("DecodeVB(len=%d) = %v, want ErrTruncated", i, err)
		}
	}
	if _, _, err := DecodeVB(nil); err != ErrTruncated {
		t.Errorf("DecodeVB(nil) = %v, want ErrTruncated", err)
	}
}

func TestVBSliceRoundTrip(t *testing.T) {
	vs := []uint32{0, 5, 0x8f, 0x500000, 0xffffffff, 12345}
	buf := EncodeVBSlice(nil, vs)
	out := make([]uint32, len(vs))
	n, err := DecodeVBSlice(buf, out)
	if err != nil {
		t.Fatalf("DecodeVBSlice: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	for i := range vs {
		if out[i] != vs[i] {
			t.Errorf("out[%d] = %#x, want %#x", i, out[i], vs[i])
		}
	}
}

func TestVBMonotonicSize(t *testing.T) {
	// Encoded length must never decrease as the value grows: this is what
	// lets a writer estimate stream size before encoding.
	prev := 0
	for _, v := range []uint32{0, 0x8e, 0x8f, 0x408e, 0x408f, 0x20408e, 0x20408f, 0xffffffff} {
		n := SizeVB(v)
		if n < prev {
			t.Errorf("SizeVB(%#x) = %d shrank from previous %d", v, n, prev)
		}
		prev = n
	}
}
