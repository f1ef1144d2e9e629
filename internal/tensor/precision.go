package tensor

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// Precision is the storage format used when float64 working values are
// handed to a model component. Arithmetic is never performed at this precision.
type Precision int

const (
	Float32 Precision = iota
	Float16
)

// ParsePrecision maps a config string to a Precision. Empty means Float32.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fp32", "float32":
		return Float32, nil
	case "fp16", "float16", "half":
		return Float16, nil
	default:
		return Float32, fmt.Errorf("unknown precision %q", s)
	}
}

func (p Precision) String() string {
	if p == Float16 {
		return "float16"
	}
	return "float32"
}

// Round returns v as it would read back after a store at this precision.
func (p Precision) Round(v float64) float32 {
	f := float32(v)
	if p == Float16 {
		return float16.Fromfloat32(f).Float32()
	}
	return f
}

// Store writes the working values src into a new tensor of the given shape,
// rounding each value to the storage precision.
func (p Precision) Store(src []float64, shape ...int) *Tensor {
	out := New(shape...)
	for i, v := range src {
		out.Data[i] = p.Round(v)
	}
	return out
}

// Widen reads a stored tensor back into float64 working values.
func Widen(t *Tensor) []float64 {
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v)
	}
	return out
}
