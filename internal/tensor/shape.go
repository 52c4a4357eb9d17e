package tensor

import "fmt"

// Shape is the (batch, channel, height, width) extent of a rank-4 tensor.
type Shape struct {
	N, C, H, W int
}

// Numel returns the total number of elements.
func (s Shape) Numel() int {
	return s.N * s.C * s.H * s.W
}

// Spatial returns H*W.
func (s Shape) Spatial() int {
	return s.H * s.W
}

// Valid reports whether every dimension is positive.
func (s Shape) Valid() bool {
	return s.N > 0 && s.C > 0 && s.H > 0 && s.W > 0
}

// String returns a representation like [1, 3, 720, 960].
func (s Shape) String() string {
	return fmt.Sprintf("[%d, %d, %d, %d]", s.N, s.C, s.H, s.W)
}
