package model

import (
	"errors"
	"math"
	"testing"

	"pspnet/internal/tensor"
)

func TestEvaluateScoresMask(t *testing.T) {
	// two classes on a 2x2 map; class 1 wins everywhere
	logits := tensor.New(1, 2, 2, 2)
	for i := range logits.Plane(0, 1) {
		logits.Plane(0, 1)[i] = 2
	}
	y := tensor.NewLabels(1, 2, 2, 1)
	y.Set(0, 0, 0, 0)
	y.Set(DefaultIgnoreIndex, 0, 1, 1)

	ev, err := Evaluate(logits, y, DefaultIgnoreIndex)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Pixels != 3 || math.Abs(ev.Accuracy-2.0/3) > 1e-12 {
		t.Fatalf("pixels=%d accuracy=%f", ev.Pixels, ev.Accuracy)
	}
	want, err := tensor.CrossEntropy(logits, y, DefaultIgnoreIndex)
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	if ev.Loss != want {
		t.Fatalf("loss %f want %f", ev.Loss, want)
	}
}

func TestEvaluateResizesToMask(t *testing.T) {
	logits := tensor.New(1, 3, 2, 3)
	y := tensor.NewLabels(1, 9, 17, 2)
	ev, err := Evaluate(logits, y, DefaultIgnoreIndex)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Pred.H != 9 || ev.Pred.W != 17 {
		t.Fatalf("prediction %dx%d", ev.Pred.H, ev.Pred.W)
	}
	if math.Abs(ev.Loss-math.Log(3)) > 1e-12 {
		t.Fatalf("uniform logits loss %f", ev.Loss)
	}
	if _, err := Evaluate(logits, tensor.NewLabels(2, 9, 17, 0), DefaultIgnoreIndex); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := Evaluate(logits, nil, DefaultIgnoreIndex); !errors.Is(err, ErrMissingLabels) {
		t.Fatalf("expected ErrMissingLabels, got %v", err)
	}
}
