package tensor

import (
	"math"
	"testing"
)

func TestRepeatBroadcastsBatchOne(t *testing.T) {
	src := FromSlice([]float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	out, err := Repeat(src, 3)
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if out.Batch() != 3 || out.Len() != 18 {
		t.Fatalf("unexpected shape %v", out.Shape)
	}
	for b := 0; b < 3; b++ {
		for i := 0; i < 6; i++ {
			if out.Data[b*6+i] != src.Data[i] {
				t.Fatalf("item %d differs at %d", b, i)
			}
		}
	}
	if _, err := Repeat(out, 2); err == nil {
		t.Fatalf("expected error repeating batch 3")
	}
}

func TestSplitPartitionsRemainder(t *testing.T) {
	x := New(10, 2)
	parts := x.Split(4)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts got %d", len(parts))
	}
	want := []int{4, 4, 2}
	for i, p := range parts {
		if p.Batch() != want[i] {
			t.Fatalf("part %d batch=%d want %d", i, p.Batch(), want[i])
		}
	}
}

func TestConcatRejectsMismatch(t *testing.T) {
	if _, err := Concat(New(1, 2), New(1, 3)); err == nil {
		t.Fatalf("expected shape mismatch")
	}
	out, err := Concat(New(1, 2), New(2, 2))
	if err != nil || out.Batch() != 3 {
		t.Fatalf("concat: %v %v", out, err)
	}
}

func TestAllFinite(t *testing.T) {
	x := FromSlice([]float32{0, 1, -2}, 1, 3)
	if !x.AllFinite() {
		t.Fatalf("expected finite")
	}
	x.Data[1] = float32(math.NaN())
	if x.AllFinite() {
		t.Fatalf("NaN not detected")
	}
	x.Data[1] = float32(math.Inf(1))
	if x.AllFinite() {
		t.Fatalf("Inf not detected")
	}
}

func TestPrecisionRounding(t *testing.T) {
	v := 0.1234567891
	if got := Float32.Round(v); got != float32(v) {
		t.Fatalf("float32 round: %v", got)
	}
	h := Float16.Round(v)
	if h == float32(v) {
		t.Fatalf("float16 should lose precision")
	}
	if math.Abs(float64(h)-v) > 1e-3 {
		t.Fatalf("float16 too far: %v", h)
	}
	if p, err := ParsePrecision("fp16"); err != nil || p != Float16 {
		t.Fatalf("parse fp16: %v %v", p, err)
	}
	if _, err := ParsePrecision("int8"); err == nil {
		t.Fatalf("expected error for int8")
	}
}
