// Package tensor implements the rank-4 NCHW arrays and the operators the
// segmentation network is composed from.
package tensor

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrShapeMismatch reports operands whose shapes cannot be combined.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// Tensor is a dense float64 array laid out as (batch, channel, height, width).
type Tensor struct {
	shape Shape
	data  []float64
}

// New allocates a zero-filled tensor.
func New(n, c, h, w int) *Tensor {
	s := Shape{N: n, C: c, H: h, W: w}
	if !s.Valid() {
		panic(fmt.Sprintf("tensor: invalid shape %v", s))
	}
	return &Tensor{shape: s, data: make([]float64, s.Numel())}
}

// FromSlice wraps data without copying.
func FromSlice(s Shape, data []float64) (*Tensor, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: invalid shape %v", ErrShapeMismatch, s)
	}
	if len(data) != s.Numel() {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), s)
	}
	return &Tensor{shape: s, data: data}, nil
}

// Rand fills a new tensor with uniform values in [0, 1).
func Rand(rng *rand.Rand, n, c, h, w int) *Tensor {
	t := New(n, c, h, w)
	for i := range t.data {
		t.data[i] = rng.Float64()
	}
	return t
}

// Randn fills a new tensor with normal values scaled by std.
func Randn(rng *rand.Rand, std float64, n, c, h, w int) *Tensor {
	t := New(n, c, h, w)
	for i := range t.data {
		t.data[i] = rng.NormFloat64() * std
	}
	return t
}

// Shape returns the tensor extent.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// Data returns the backing slice.
func (t *Tensor) Data() []float64 {
	return t.data
}

func (t *Tensor) offset(n, c, h, w int) int {
	s := t.shape
	return ((n*s.C+c)*s.H+h)*s.W + w
}

// At returns the element at (n, c, h, w).
func (t *Tensor) At(n, c, h, w int) float64 {
	return t.data[t.offset(n, c, h, w)]
}

// Set stores v at (n, c, h, w).
func (t *Tensor) Set(v float64, n, c, h, w int) {
	t.data[t.offset(n, c, h, w)] = v
}

// Plane returns the H*W slice of channel c in sample n.
func (t *Tensor) Plane(n, c int) []float64 {
	hw := t.shape.Spatial()
	start := (n*t.shape.C + c) * hw
	return t.data[start : start+hw]
}

// Sample returns the C*H*W slice of sample n.
func (t *Tensor) Sample(n int) []float64 {
	chw := t.shape.C * t.shape.Spatial()
	return t.data[n*chw : (n+1)*chw]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return &Tensor{shape: t.shape, data: data}
}

// Labels is a per-pixel class map of shape (batch, height, width).
type Labels struct {
	N, H, W int
	Data    []int
}

// NewLabels allocates a label map filled with fill.
func NewLabels(n, h, w, fill int) *Labels {
	data := make([]int, n*h*w)
	if fill != 0 {
		for i := range data {
			data[i] = fill
		}
	}
	return &Labels{N: n, H: h, W: w, Data: data}
}

// At returns the label at (n, h, w).
func (l *Labels) At(n, h, w int) int {
	return l.Data[(n*l.H+h)*l.W+w]
}

// Set stores label v at (n, h, w).
func (l *Labels) Set(v, n, h, w int) {
	l.Data[(n*l.H+h)*l.W+w] = v
}
