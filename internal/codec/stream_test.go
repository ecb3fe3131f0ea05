package codec

import "testing"

func TestShouldPack(t *testing.T) {
	cases := []struct {
		name   string
		values []uint32
		want   bool
	}{
		{"too short", []uint32{1, 2}, false},
		{"dense small values", repeat(1, 300), true},
		{"sparse large value", []uint32{1, 2, 1 << 20}, false},
	}
	for _, c := range cases {
		if got := ShouldPack(c.values); got != c.want {
			t.Errorf("%s: ShouldPack = %v, want %v", c.name, got, c.want)
		}
	}
}

func repeat(v uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEncodeDecodeVecRoundTrip(t *testing.T) {
	streams := []Stream{
		{Values: []uint32{1, 1, 1, 1, 1, 2, 1, 3}},                 // short but small values, partial-unit PForDelta path
		{Values: repeatSeq(300)},                                   // multi-block PForDelta path
		{Values: nil},                                       // empty stream
		{Values: []uint32{0, 0, 0, 5_000_000, 0, 0, 0, 0, 0}}, // short stream, falls back to VB
	}
	enc := EncodeVec(nil, streams)
	dec, n, err := DecodeVec(enc)
	if err != nil {
		t.Fatalf("DecodeVec: %v", err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	if len(dec) != len(streams) {
		t.Fatalf("got %d streams, want %d", len(dec), len(streams))
	}
	for i, s := range streams {
		if len(dec[i].Values) != len(s.Values) {
			t.Fatalf("stream %d: length %d, want %d", i, len(dec[i].Values), len(s.Values))
		}
		for j := range s.Values {
			if dec[i].Values[j] != s.Values[j] {
				t.Fatalf("stream %d value %d: got %d, want %d", i, j, dec[i].Values[j], s.Values[j])
			}
		}
	}
}

func repeatSeq(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i % 7)
	}
	return out
}

func TestEncodeVecPartialTrailingBlock(t *testing.T) {
	// 129 values: exactly one full 128-unit block plus a single trailing
	// ("ODD") value in a second, partial block.
	streams := []Stream{{Values: repeatSeq(129)}}
	enc := EncodeVec(nil, streams)
	dec, _, err := DecodeVec(enc)
	if err != nil {
		t.Fatalf("DecodeVec: %v", err)
	}
	if len(dec[0].Values) != 129 {
		t.Fatalf("got %d values, want 129", len(dec[0].Values))
	}
	for i, v := range dec[0].Values {
		if v != uint32(i%7) {
			t.Fatalf("value %d: got %d, want %d", i, v, i%7)
		}
	}
}
