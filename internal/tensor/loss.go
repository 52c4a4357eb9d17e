package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// CrossEntropy returns the mean negative log-likelihood of labels under the
// per-pixel softmax of logits. Pixels labelled ignore are skipped; if every
// pixel is ignored the loss is 0.
func CrossEntropy(logits *Tensor, labels *Labels, ignore int) (float64, error) {
	s := logits.shape
	if labels == nil {
		return 0, fmt.Errorf("%w: nil labels", ErrShapeMismatch)
	}
	if labels.N != s.N || labels.H != s.H || labels.W != s.W {
		return 0, fmt.Errorf("%w: labels [%d, %d, %d] for logits %v", ErrShapeMismatch, labels.N, labels.H, labels.W, s)
	}
	hw := s.Spatial()
	scores := make([]float64, s.C)
	total := 0.0
	valid := 0
	for n := 0; n < s.N; n++ {
		sample := logits.Sample(n)
		for i := 0; i < hw; i++ {
			y := labels.Data[n*hw+i]
			if y == ignore {
				continue
			}
			if y < 0 || y >= s.C {
				return 0, fmt.Errorf("tensor: label %d outside [0, %d)", y, s.C)
			}
			for c := range scores {
				scores[c] = sample[c*hw+i]
			}
			total += floats.LogSumExp(scores) - scores[y]
			valid++
		}
	}
	if valid == 0 {
		return 0, nil
	}
	return total / float64(valid), nil
}

// ArgMax returns the index of the largest channel at every pixel.
func ArgMax(x *Tensor) *Labels {
	s := x.shape
	hw := s.Spatial()
	out := NewLabels(s.N, s.H, s.W, 0)
	scores := make([]float64, s.C)
	for n := 0; n < s.N; n++ {
		sample := x.Sample(n)
		for i := 0; i < hw; i++ {
			for c := range scores {
				scores[c] = sample[c*hw+i]
			}
			out.Data[n*hw+i] = floats.MaxIdx(scores)
		}
	}
	return out
}
