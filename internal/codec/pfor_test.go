package codec

import (
	"math/rand"
	"testing"
)

func TestPackUnitRoundTripWidths(t *testing.T) {
	for w := 0; w <= 20; w++ {
		values := make([]uint32, UnitSize)
		max := uint32(1) << uint(w)
		if w == 0 {
			max = 1
		}
		for i := range values {
			values[i] = uint32(i) % max
		}
		enc := PackUnit(values)
		dec, n, err := UnpackUnit(enc, len(values))
		if err != nil {
			t.Fatalf("w=%d: UnpackUnit: %v", w, err)
		}
		if n != len(enc) {
			t.Fatalf("w=%d: consumed %d, want %d", w, n, len(enc))
		}
		for i := range values {
			if dec[i] != values[i] {
				t.Fatalf("w=%d: dec[%d] = %d, want %d", w, i, dec[i], values[i])
			}
		}
	}
}

func TestPackUnitWithExceptionsSmallWidth(t *testing.T) {
	values := make([]uint32, UnitSize)
	for i := range values {
		values[i] = uint32(i % 4) // fits in 2 bits
	}
	// A handful of outliers force an exception list at a small width.
	values[3] = 1000
	values[50] = 2000
	values[100] = 70000

	enc := PackUnit(values)
	dec, n, err := UnpackUnit(enc, len(values))
	if err != nil {
		t.Fatalf("UnpackUnit: %v", err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	for i := range values {
		if dec[i] != values[i] {
			t.Fatalf("dec[%d] = %d, want %d", i, dec[i], values[i])
		}
	}
}

func TestPackUnitWithExceptionsLargeWidth(t *testing.T) {
	// Width >= 7 makes 1<<w >= UnitSize, exercising the in-place exception
	// chain rather than the index-byte form.
	values := make([]uint32, UnitSize)
	for i := range values {
		values[i] = uint32(i) // needs 7 bits, all < 128
	}
	values[0] = 5_000_000
	values[64] = 6_000_000
	values[127] = 7_000_000

	enc := PackUnit(values)
	dec, _, err := UnpackUnit(enc, len(values))
	if err != nil {
		t.Fatalf("UnpackUnit: %v", err)
	}
	for i := range values {
		if dec[i] != values[i] {
			t.Fatalf("dec[%d] = %d, want %d", i, dec[i], values[i])
		}
	}
}

func TestPackUnitAllZero(t *testing.T) {
	values := make([]uint32, UnitSize)
	enc := PackUnit(values)
	if len(enc) != 1 {
		t.Fatalf("all-zero unit should encode to 1 byte, got %d", len(enc))
	}
	dec, n, err := UnpackUnit(enc, len(values))
	if err != nil {
		t.Fatalf("UnpackUnit: %v", err)
	}
	if n != 1 {
		t.Fatalf("consumed %d, want 1", n)
	}
	for i, v := range dec {
		if v != 0 {
			t.Fatalf("dec[%d] = %d, want 0", i, v)
		}
	}
}

func TestPackUnitPartialUnit(t *testing.T) {
	for _, n := range []int{1, 7, 63, 127, 128} {
		values := make([]uint32, n)
		r := rand.New(rand.NewSource(int64(n)))
		for i := range values {
			values[i] = uint32(r.Intn(1000))
		}
		enc := PackUnit(values)
		dec, consumed, err := UnpackUnit(enc, n)
		if err != nil {
			t.Fatalf("n=%d: UnpackUnit: %v", n, err)
		}
		if consumed != len(enc) {
			t.Fatalf("n=%d: consumed %d, want %d", n, consumed, len(enc))
		}
		for i := range values {
			if dec[i] != values[i] {
				t.Fatalf("n=%d: dec[%d] = %d, want %d", n, i, dec[i], values[i])
			}
		}
	}
}

func TestPackUnitMixedMagnitudeRandom(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		n := 1 + r.Intn(UnitSize)
		values := make([]uint32, n)
		for i := range values {
			switch r.Intn(10) {
			case 0:
				values[i] = uint32(r.Int63n(1 << 30))
			default:
				values[i] = uint32(r.Intn(16))
			}
		}
		enc := PackUnit(values)
		dec, consumed, err := UnpackUnit(enc, n)
		if err != nil {
			t.Fatalf("trial %d: UnpackUnit: %v", trial, err)
		}
		if consumed != len(enc) {
			t.Fatalf("trial %d: consumed %d, want %d", trial, consumed, len(enc))
		}
		for i := range values {
			if dec[i] != values[i] {
				t.Fatalf("trial %d: dec[%d] = %d, want %d", trial, i, dec[i], values[i])
			}
		}
	}
}
