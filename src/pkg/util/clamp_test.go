package util

import (
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	cases := []struct {
		val, min, max, want int
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{11, 0, 10, 10},
	}
	for _, tc := range cases {
		if got := Clamp(tc.val, tc.min, tc.max); got != tc.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tc.val, tc.min, tc.max, got, tc.want)
		}
	}
}

func TestClampFraction(t *testing.T) {
	cases := map[float64]float64{
		-0.5: 0,
		0.25: 0.25,
		1.7:  1,
	}
	for in, want := range cases {
		if got := ClampFraction(in); got != want {
			t.Errorf("ClampFraction(%v) = %v, want %v", in, got, want)
		}
	}
	if got := ClampFraction(math.NaN()); got != 0 {
		t.Errorf("ClampFraction(NaN) = %v, want 0", got)
	}
}

func TestPtrDeref(t *testing.T) {
	p := Ptr("lima")
	if Deref(p) != "lima" {
		t.Fatalf("Deref(Ptr) = %q, want %q", Deref(p), "lima")
	}
	var nilPtr *string
	if Deref(nilPtr) != "" {
		t.Fatalf("Deref(nil) = %q, want empty", Deref(nilPtr))
	}
}
