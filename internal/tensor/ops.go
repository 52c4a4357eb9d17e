package tensor

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// ReLU returns max(x, 0) element-wise.
func ReLU(x *Tensor) *Tensor {
	out := x.Clone()
	for i, v := range out.data {
		if v < 0 {
			out.data[i] = 0
		}
	}
	return out
}

// Add returns a + b for tensors of identical shape.
func Add(a, b *Tensor) (*Tensor, error) {
	if a.shape != b.shape {
		return nil, fmt.Errorf("%w: add %v and %v", ErrShapeMismatch, a.shape, b.shape)
	}
	out := a.Clone()
	floats.Add(out.data, b.data)
	return out, nil
}

// Concat joins tensors along the channel axis.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: concat of nothing", ErrShapeMismatch)
	}
	first := ts[0].shape
	channels := 0
	for _, t := range ts {
		s := t.shape
		if s.N != first.N || s.H != first.H || s.W != first.W {
			return nil, fmt.Errorf("%w: concat %v with %v", ErrShapeMismatch, first, s)
		}
		channels += s.C
	}
	out := New(first.N, channels, first.H, first.W)
	for n := 0; n < first.N; n++ {
		dst := out.Sample(n)
		off := 0
		for _, t := range ts {
			off += copy(dst[off:], t.Sample(n))
		}
	}
	return out, nil
}

// MaxPool2D takes the maximum over k x k windows; padded cells never win.
func MaxPool2D(x *Tensor, k, stride, padding int) (*Tensor, error) {
	xs := x.shape
	outH := ConvOutputSize(xs.H, k, stride, padding, 1)
	outW := ConvOutputSize(xs.W, k, stride, padding, 1)
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("%w: max pool input %v too small for window %d", ErrShapeMismatch, xs, k)
	}
	out := New(xs.N, xs.C, outH, outW)
	for n := 0; n < xs.N; n++ {
		for c := 0; c < xs.C; c++ {
			src, dst := x.Plane(n, c), out.Plane(n, c)
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					best := math.Inf(-1)
					for i := 0; i < k; i++ {
						ih := oh*stride - padding + i
						if ih < 0 || ih >= xs.H {
							continue
						}
						for j := 0; j < k; j++ {
							iw := ow*stride - padding + j
							if iw < 0 || iw >= xs.W {
								continue
							}
							if v := src[ih*xs.W+iw]; v > best {
								best = v
							}
						}
					}
					dst[oh*outW+ow] = best
				}
			}
		}
	}
	return out, nil
}

// AdaptiveAvgPool2D averages x into exactly outH x outW cells. Cell i spans
// [floor(i*H/outH), ceil((i+1)*H/outH)), so neighbouring cells may overlap
// when H is not a multiple of outH.
func AdaptiveAvgPool2D(x *Tensor, outH, outW int) (*Tensor, error) {
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("%w: adaptive pool to %dx%d", ErrShapeMismatch, outH, outW)
	}
	xs := x.shape
	out := New(xs.N, xs.C, outH, outW)
	for n := 0; n < xs.N; n++ {
		for c := 0; c < xs.C; c++ {
			src, dst := x.Plane(n, c), out.Plane(n, c)
			for oh := 0; oh < outH; oh++ {
				h0, h1 := poolRange(oh, xs.H, outH)
				for ow := 0; ow < outW; ow++ {
					w0, w1 := poolRange(ow, xs.W, outW)
					sum := 0.0
					for ih := h0; ih < h1; ih++ {
						sum += floats.Sum(src[ih*xs.W+w0 : ih*xs.W+w1])
					}
					dst[oh*outW+ow] = sum / float64((h1-h0)*(w1-w0))
				}
			}
		}
	}
	return out, nil
}

func poolRange(i, in, out int) (int, int) {
	start := i * in / out
	end := ((i+1)*in + out - 1) / out
	return start, end
}

// Resize bilinearly resamples x to h x w with aligned corners: the first and
// last pixel centres of source and target coincide.
func Resize(x *Tensor, h, w int) (*Tensor, error) {
	if h < 1 || w < 1 {
		return nil, fmt.Errorf("%w: resize to %dx%d", ErrShapeMismatch, h, w)
	}
	xs := x.shape
	if xs.H == h && xs.W == w {
		return x.Clone(), nil
	}
	ys := alignedCoords(xs.H, h)
	xsx := alignedCoords(xs.W, w)
	out := New(xs.N, xs.C, h, w)
	for n := 0; n < xs.N; n++ {
		for c := 0; c < xs.C; c++ {
			src, dst := x.Plane(n, c), out.Plane(n, c)
			for oh, cy := range ys {
				top := src[cy.lo*xs.W : (cy.lo+1)*xs.W]
				bottom := src[cy.hi*xs.W : (cy.hi+1)*xs.W]
				for ow, cx := range xsx {
					t := top[cx.lo] + (top[cx.hi]-top[cx.lo])*cx.frac
					b := bottom[cx.lo] + (bottom[cx.hi]-bottom[cx.lo])*cx.frac
					dst[oh*w+ow] = t + (b-t)*cy.frac
				}
			}
		}
	}
	return out, nil
}

type coord struct {
	lo, hi int
	frac   float64
}

func alignedCoords(in, out int) []coord {
	scale := 0.0
	if out > 1 {
		scale = float64(in-1) / float64(out-1)
	}
	cs := make([]coord, out)
	for i := range cs {
		src := float64(i) * scale
		lo := int(src)
		if lo > in-1 {
			lo = in - 1
		}
		hi := lo + 1
		if hi > in-1 {
			hi = in - 1
		}
		cs[i] = coord{lo: lo, hi: hi, frac: src - float64(lo)}
	}
	return cs
}

// Dropout2D zeroes whole channel maps with probability p and rescales the
// survivors by 1/(1-p).
func Dropout2D(x *Tensor, p float64, rng *rand.Rand) *Tensor {
	out := x.Clone()
	if p <= 0 {
		return out
	}
	if p >= 1 {
		for i := range out.data {
			out.data[i] = 0
		}
		return out
	}
	keep := 1 / (1 - p)
	for n := 0; n < out.shape.N; n++ {
		for c := 0; c < out.shape.C; c++ {
			plane := out.Plane(n, c)
			if rng.Float64() < p {
				for i := range plane {
					plane[i] = 0
				}
				continue
			}
			floats.Scale(keep, plane)
		}
	}
	return out
}
