// Package tensor holds the dense arrays exchanged between the orchestrator
// and model components. Storage is float32 in row-major order with the batch
// as the leading dimension; arithmetic that must not drift (the sampler loop)
// happens in float64 and crosses into a Tensor through a Precision policy.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense row-major array. Shape[0] is always the batch dimension.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zeroed tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, Numel(shape))}
}

// FromSlice wraps data without copying. It panics if len(data) does not match the shape.
func FromSlice(data []float32, shape ...int) *Tensor {
	if len(data) != Numel(shape) {
		panic(fmt.Sprintf("tensor: %d values do not fit shape %v", len(data), shape))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

// Numel returns the number of elements described by shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Batch returns the leading dimension.
func (t *Tensor) Batch() int {
	if t == nil || len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// itemLen is the number of elements of one batch item.
func (t *Tensor) itemLen() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return Numel(t.Shape[1:])
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	out := &Tensor{Shape: append([]int(nil), t.Shape...), Data: make([]float32, len(t.Data))}
	copy(out.Data, t.Data)
	return out
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if a == nil || b == nil || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Repeat tiles a batch-1 tensor n times along the batch dimension.
func Repeat(t *Tensor, n int) (*Tensor, error) {
	if t == nil {
		return nil, nil
	}
	if t.Batch() != 1 {
		return nil, fmt.Errorf("tensor: repeat expects batch 1, got %d", t.Batch())
	}
	shape := append([]int{n}, t.Shape[1:]...)
	out := New(shape...)
	item := t.itemLen()
	for i := 0; i < n; i++ {
		copy(out.Data[i*item:(i+1)*item], t.Data)
	}
	return out, nil
}

// Slice returns a copy of batch items [from, to).
func (t *Tensor) Slice(from, to int) *Tensor {
	item := t.itemLen()
	shape := append([]int{to - from}, t.Shape[1:]...)
	out := New(shape...)
	copy(out.Data, t.Data[from*item:to*item])
	return out
}

// Concat joins tensors along the batch dimension. All trailing dimensions must match.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: concat of nothing")
	}
	batch := 0
	for i, x := range ts {
		if x == nil {
			return nil, fmt.Errorf("tensor: concat operand %d is nil", i)
		}
		if len(x.Shape) != len(ts[0].Shape) {
			return nil, fmt.Errorf("tensor: concat rank mismatch %v vs %v", x.Shape, ts[0].Shape)
		}
		for d := 1; d < len(x.Shape); d++ {
			if x.Shape[d] != ts[0].Shape[d] {
				return nil, fmt.Errorf("tensor: concat shape mismatch %v vs %v", x.Shape, ts[0].Shape)
			}
		}
		batch += x.Batch()
	}
	shape := append([]int{batch}, ts[0].Shape[1:]...)
	out := &Tensor{Shape: shape, Data: make([]float32, 0, Numel(shape))}
	for _, x := range ts {
		out.Data = append(out.Data, x.Data...)
	}
	return out, nil
}

// Split partitions t along the batch dimension into pieces of at most size items.
func (t *Tensor) Split(size int) []*Tensor {
	if size <= 0 {
		size = 1
	}
	var out []*Tensor
	for from := 0; from < t.Batch(); from += size {
		to := from + size
		if to > t.Batch() {
			to = t.Batch()
		}
		out = append(out, t.Slice(from, to))
	}
	return out
}

// AllFinite reports whether every element is a finite number.
func (t *Tensor) AllFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
