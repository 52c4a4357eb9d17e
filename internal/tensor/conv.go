package tensor

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ConvParams holds the (row, column) geometry of a 2-D convolution.
type ConvParams struct {
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
}

// ConvOutputSize returns the spatial output extent of a convolution or pooling window.
func ConvOutputSize(in, kernel, stride, padding, dilation int) int {
	return (in+2*padding-dilation*(kernel-1)-1)/stride + 1
}

// Conv2D convolves x with weight of shape (Cout, Cin, kH, kW) and adds bias
// when it is non-nil. Each sample is lowered to a column matrix and multiplied
// by the flattened filter bank.
func Conv2D(x, weight *Tensor, bias []float64, p ConvParams) (*Tensor, error) {
	xs, ws := x.shape, weight.shape
	if xs.C != ws.C {
		return nil, fmt.Errorf("%w: conv input has %d channels, filter expects %d", ErrShapeMismatch, xs.C, ws.C)
	}
	if bias != nil && len(bias) != ws.N {
		return nil, fmt.Errorf("%w: conv bias has %d values for %d filters", ErrShapeMismatch, len(bias), ws.N)
	}
	for i := 0; i < 2; i++ {
		if p.Stride[i] < 1 || p.Dilation[i] < 1 || p.Padding[i] < 0 {
			return nil, fmt.Errorf("tensor: invalid conv geometry %+v", p)
		}
	}
	outH := ConvOutputSize(xs.H, ws.H, p.Stride[0], p.Padding[0], p.Dilation[0])
	outW := ConvOutputSize(xs.W, ws.W, p.Stride[1], p.Padding[1], p.Dilation[1])
	if outH < 1 || outW < 1 {
		return nil, fmt.Errorf("%w: conv input %v too small for %dx%d kernel", ErrShapeMismatch, xs, ws.H, ws.W)
	}

	out := New(xs.N, ws.N, outH, outW)
	rows := ws.C * ws.H * ws.W
	filters := mat.NewDense(ws.N, rows, weight.data)

	var wg sync.WaitGroup
	for n := 0; n < xs.N; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cols := mat.NewDense(rows, outH*outW, im2col(x, n, ws.H, ws.W, outH, outW, p))
			dst := mat.NewDense(ws.N, outH*outW, out.Sample(n))
			dst.Mul(filters, cols)
		}(n)
	}
	wg.Wait()

	if bias != nil {
		for n := 0; n < xs.N; n++ {
			for c, b := range bias {
				plane := out.Plane(n, c)
				for i := range plane {
					plane[i] += b
				}
			}
		}
	}
	return out, nil
}

// im2col lays out every receptive field of sample n as a column; zero padding
// falls out of the bounds checks.
func im2col(x *Tensor, n, kh, kw, outH, outW int, p ConvParams) []float64 {
	xs := x.shape
	cols := make([]float64, xs.C*kh*kw*outH*outW)
	idx := 0
	for c := 0; c < xs.C; c++ {
		plane := x.Plane(n, c)
		for ki := 0; ki < kh; ki++ {
			for kj := 0; kj < kw; kj++ {
				for oh := 0; oh < outH; oh++ {
					ih := oh*p.Stride[0] - p.Padding[0] + ki*p.Dilation[0]
					if ih < 0 || ih >= xs.H {
						idx += outW
						continue
					}
					row := plane[ih*xs.W : (ih+1)*xs.W]
					for ow := 0; ow < outW; ow++ {
						iw := ow*p.Stride[1] - p.Padding[1] + kj*p.Dilation[1]
						if iw >= 0 && iw < xs.W {
							cols[idx] = row[iw]
						}
						idx++
					}
				}
			}
		}
	}
	return cols
}
