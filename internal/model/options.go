package model

import (
	"errors"
	"fmt"

	"pspnet/internal/backbone"
	"pspnet/internal/nn"
	"pspnet/internal/tensor"
)

var (
	ErrInvalidDepth    = errors.New("model: layers must be one of 18, 50, 101, 152")
	ErrBinsNotDivisor  = errors.New("model: 512 must be divisible by the number of bins")
	ErrTooFewClasses   = errors.New("model: classes must be > 1")
	ErrInvalidZoom     = errors.New("model: zoom factor must be one of 1, 2, 4, 8")
	ErrInvalidDropout  = errors.New("model: dropout must be in [0, 1)")
	ErrAuxHeadRequired = errors.New("model: variant requires the auxiliary head")
	ErrMissingLabels   = errors.New("model: ground truth required for training forward")
)

// DefaultIgnoreIndex marks unlabeled pixels.
const DefaultIgnoreIndex = 255

// LossFunc scores logits against per-pixel labels.
type LossFunc func(logits *tensor.Tensor, labels *tensor.Labels) (float64, error)

// CrossEntropyLoss returns a LossFunc skipping pixels labelled ignore.
func CrossEntropyLoss(ignore int) LossFunc {
	return func(logits *tensor.Tensor, labels *tensor.Labels) (float64, error) {
		return tensor.CrossEntropy(logits, labels, ignore)
	}
}

// Options configures PSPNet construction. It is not consulted after New returns.
type Options struct {
	Layers     int
	Bins       []int
	Dropout    float64
	Classes    int
	ZoomFactor int
	UsePPM     bool
	Variant    Variant
	// WithAuxHead builds the auxiliary head on stage three features.
	WithAuxHead bool
	// Training is the initial mode; see PSPNet.SetTraining.
	Training bool
	// Norm builds every normalization layer. Defaults to nn.BatchNorm.
	Norm nn.NormFactory
	// Loss defaults to cross entropy ignoring DefaultIgnoreIndex.
	Loss LossFunc
	// Pretrained initialises the backbone.
	Pretrained nn.StateSource
	Seed       int64
}

// DefaultOptions mirrors the reference configuration: ResNet-18, bins
// {1,2,3,6}, dropout 0.1, two classes, zoom 8, PPM on, training with the
// auxiliary head.
func DefaultOptions() Options {
	return Options{
		Layers:      18,
		Bins:        []int{1, 2, 3, 6},
		Dropout:     0.1,
		Classes:     2,
		ZoomFactor:  8,
		UsePPM:      true,
		Variant:     Standard,
		WithAuxHead: true,
		Training:    true,
	}
}

// Validate checks every construction precondition.
func (o Options) Validate() error {
	if !backbone.Supported(o.Layers) {
		return fmt.Errorf("%w (got %d)", ErrInvalidDepth, o.Layers)
	}
	if len(o.Bins) == 0 || 512%len(o.Bins) != 0 {
		return fmt.Errorf("%w (got %d bins)", ErrBinsNotDivisor, len(o.Bins))
	}
	for _, b := range o.Bins {
		if b < 1 {
			return fmt.Errorf("model: bin size must be positive (got %d)", b)
		}
	}
	if o.Classes <= 1 {
		return fmt.Errorf("%w (got %d)", ErrTooFewClasses, o.Classes)
	}
	switch o.ZoomFactor {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w (got %d)", ErrInvalidZoom, o.ZoomFactor)
	}
	if o.Dropout < 0 || o.Dropout >= 1 {
		return fmt.Errorf("%w (got %g)", ErrInvalidDropout, o.Dropout)
	}
	switch o.Variant {
	case Standard:
	case Flow, SelfDistill:
		if !o.WithAuxHead {
			return fmt.Errorf("%w: %s", ErrAuxHeadRequired, o.Variant)
		}
	default:
		return fmt.Errorf("model: unknown variant %s", o.Variant)
	}
	return nil
}
