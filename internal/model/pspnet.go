// Package model assembles the pyramid scene parsing network from a dilated
// residual backbone, a pyramid pooling module and convolutional heads.
package model

import (
	"fmt"
	"math/rand"

	"pspnet/internal/backbone"
	"pspnet/internal/nn"
	"pspnet/internal/tensor"
)

// OutputStride is the backbone downsampling factor after dilation.
const OutputStride = 8

// PSPNet maps (B,3,H,W) images to per-class logits.
type PSPNet struct {
	Backbone *backbone.ResNet
	// PPM is nil when pyramid pooling is disabled.
	PPM *PPM
	Cls *nn.Sequential
	// Aux is nil unless built with WithAuxHead.
	Aux *nn.Sequential

	variant  Variant
	zoom     int
	loss     LossFunc
	training bool
}

// New validates opts and builds the network.
func New(opts Options) (*PSPNet, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Norm == nil {
		opts.Norm = nn.BatchNorm()
	}
	if opts.Loss == nil {
		opts.Loss = CrossEntropyLoss(DefaultIgnoreIndex)
	}

	res, err := backbone.New(opts.Layers, backbone.Options{
		Norm:       opts.Norm,
		DeepBase:   opts.Layers != 18,
		Seed:       opts.Seed,
		Pretrained: opts.Pretrained,
	})
	if err != nil {
		return nil, err
	}
	res.DilateForDensePrediction()

	rng := rand.New(rand.NewSource(opts.Seed + 1))
	m := &PSPNet{
		Backbone: res,
		variant:  opts.Variant,
		zoom:     opts.ZoomFactor,
		loss:     opts.Loss,
		training: opts.Training,
	}
	feaDim := res.OutChannels()
	if opts.UsePPM {
		m.PPM = NewPPM(rng, opts.Norm, feaDim, feaDim/len(opts.Bins), opts.Bins)
		feaDim *= 2
	}
	m.Cls = NewHead(rng, opts.Norm, feaDim, opts.Classes, opts.Dropout)
	if opts.WithAuxHead {
		m.Aux = NewHead(rng, opts.Norm, res.MidChannels(), opts.Classes, opts.Dropout)
	}
	return m, nil
}

// SetTraining switches between training and inference behaviour. It must not
// be called concurrently with Forward.
func (m *PSPNet) SetTraining(on bool) { m.training = on }

// Training reports the current mode.
func (m *PSPNet) Training() bool { return m.training }

// Variant returns the output variant fixed at construction.
func (m *PSPNet) Variant() Variant { return m.variant }

// Forward runs the network. y is required only for Standard training, where
// it must have shape (B,H,W) matching the upsampled logits.
func (m *PSPNet) Forward(x *tensor.Tensor, y *tensor.Labels) (*Output, error) {
	train := m.training
	if m.variant == Standard && train {
		if y == nil {
			return nil, ErrMissingLabels
		}
		if m.Aux == nil {
			return nil, fmt.Errorf("%w: standard training", ErrAuxHeadRequired)
		}
	}

	mid, fea, err := m.Backbone.Features(x, train)
	if err != nil {
		return nil, err
	}
	if m.PPM != nil {
		if fea, err = m.PPM.Forward(fea, train); err != nil {
			return nil, err
		}
	}
	logits, err := m.Cls.Forward(fea, train)
	if err != nil {
		return nil, fmt.Errorf("cls: %w", err)
	}

	switch m.variant {
	case Flow, SelfDistill:
		aux, err := m.Aux.Forward(mid, train)
		if err != nil {
			return nil, fmt.Errorf("aux: %w", err)
		}
		out := &Output{Logits: logits, Aux: aux}
		if m.variant == SelfDistill {
			out.Feature = fea
		}
		return out, nil
	}

	s := x.Shape()
	if m.zoom != 1 {
		if logits, err = tensor.Resize(logits, s.H, s.W); err != nil {
			return nil, err
		}
	}
	if !train {
		return &Output{Logits: logits}, nil
	}

	aux, err := m.Aux.Forward(mid, train)
	if err != nil {
		return nil, fmt.Errorf("aux: %w", err)
	}
	if m.zoom != 1 {
		if aux, err = tensor.Resize(aux, s.H, s.W); err != nil {
			return nil, err
		}
	}
	mainLoss, err := m.loss(logits, y)
	if err != nil {
		return nil, fmt.Errorf("main loss: %w", err)
	}
	auxLoss, err := m.loss(aux, y)
	if err != nil {
		return nil, fmt.Errorf("aux loss: %w", err)
	}
	return &Output{
		Logits:   logits,
		Aux:      aux,
		Pred:     tensor.ArgMax(logits),
		MainLoss: mainLoss,
		AuxLoss:  auxLoss,
	}, nil
}

// Parameters implements nn.Owner.
func (m *PSPNet) Parameters() []nn.Parameter {
	ps := nn.Prefixed("backbone", m.Backbone.Parameters())
	if m.PPM != nil {
		ps = append(ps, nn.Prefixed("ppm", m.PPM.Parameters())...)
	}
	ps = append(ps, nn.Prefixed("cls", m.Cls.Parameters())...)
	if m.Aux != nil {
		ps = append(ps, nn.Prefixed("aux", m.Aux.Parameters())...)
	}
	return ps
}

// NumParameters counts trainable scalars.
func (m *PSPNet) NumParameters() int {
	return nn.CountParameters(m)
}

// CheckInputGeometry reports whether h x w divides cleanly by the output
// stride. Other sizes still run; the upsampled logits are merely less aligned.
func CheckInputGeometry(h, w int) error {
	aligned := func(v int) bool { return v%OutputStride == 0 || (v-1)%OutputStride == 0 }
	if !aligned(h) || !aligned(w) {
		return fmt.Errorf("input %dx%d is not aligned to output stride %d", h, w, OutputStride)
	}
	return nil
}
