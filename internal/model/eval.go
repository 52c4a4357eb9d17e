package model

import (
	"fmt"

	"pspnet/internal/tensor"
)

// Evaluation scores logits against a ground-truth mask.
type Evaluation struct {
	Loss     float64
	Accuracy float64
	Pixels   int
	Pred     *tensor.Labels
}

// Evaluate resizes logits to the mask resolution when they differ and
// reports the cross entropy and pixel accuracy over labelled pixels.
func Evaluate(logits *tensor.Tensor, y *tensor.Labels, ignore int) (*Evaluation, error) {
	if y == nil {
		return nil, ErrMissingLabels
	}
	s := logits.Shape()
	if y.N != s.N {
		return nil, fmt.Errorf("%w: mask batch %d for logits %v", tensor.ErrShapeMismatch, y.N, s)
	}
	if s.H != y.H || s.W != y.W {
		var err error
		if logits, err = tensor.Resize(logits, y.H, y.W); err != nil {
			return nil, err
		}
	}
	loss, err := tensor.CrossEntropy(logits, y, ignore)
	if err != nil {
		return nil, err
	}
	ev := &Evaluation{Loss: loss, Pred: tensor.ArgMax(logits)}
	correct := 0
	for i, v := range y.Data {
		if v == ignore {
			continue
		}
		ev.Pixels++
		if ev.Pred.Data[i] == v {
			correct++
		}
	}
	if ev.Pixels > 0 {
		ev.Accuracy = float64(correct) / float64(ev.Pixels)
	}
	return ev, nil
}
