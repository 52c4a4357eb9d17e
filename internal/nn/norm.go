package nn

import (
	"fmt"

	"pspnet/internal/tensor"
)

const defaultEps = 1e-5

// NormFactory builds a normalization layer for the given channel count.
// Every module that normalizes takes one explicitly.
type NormFactory func(channels int) Module

// BatchNorm returns a factory for BatchNorm2d layers.
func BatchNorm() NormFactory {
	return func(channels int) Module { return NewBatchNorm2d(channels) }
}

// InstanceNorm returns a factory for affine InstanceNorm2d layers.
func InstanceNorm() NormFactory {
	return func(channels int) Module { return NewInstanceNorm2d(channels) }
}

// BatchNorm2d normalizes each channel. Training uses the statistics of the
// current batch, inference the stored running statistics. Forward never
// updates the running statistics. Training needs more than one value per
// channel.
type BatchNorm2d struct {
	Weight      []float64
	Bias        []float64
	RunningMean []float64
	RunningVar  []float64
	Eps         float64
}

// NewBatchNorm2d returns an identity-initialised layer.
func NewBatchNorm2d(channels int) *BatchNorm2d {
	bn := &BatchNorm2d{
		Weight:      make([]float64, channels),
		Bias:        make([]float64, channels),
		RunningMean: make([]float64, channels),
		RunningVar:  make([]float64, channels),
		Eps:         defaultEps,
	}
	for i := range bn.Weight {
		bn.Weight[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

// Forward implements Module.
func (bn *BatchNorm2d) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	mean, variance := bn.RunningMean, bn.RunningVar
	if train {
		if s := x.Shape(); s.N*s.Spatial() <= 1 {
			return nil, fmt.Errorf("%w: batch norm needs more than one value per channel in training, got input %v", tensor.ErrShapeMismatch, s)
		}
		mean, variance = tensor.ChannelStats(x)
	}
	return tensor.Normalize(x, mean, variance, bn.Weight, bn.Bias, bn.Eps)
}

// Parameters implements Module.
func (bn *BatchNorm2d) Parameters() []Parameter {
	return []Parameter{
		{Name: "weight", Data: bn.Weight, Trainable: true},
		{Name: "bias", Data: bn.Bias, Trainable: true},
		{Name: "running_mean", Data: bn.RunningMean},
		{Name: "running_var", Data: bn.RunningVar},
	}
}

// InstanceNorm2d normalizes every (sample, channel) plane independently.
type InstanceNorm2d struct {
	Weight []float64
	Bias   []float64
	Eps    float64
}

// NewInstanceNorm2d returns an identity-initialised layer.
func NewInstanceNorm2d(channels int) *InstanceNorm2d {
	in := &InstanceNorm2d{
		Weight: make([]float64, channels),
		Bias:   make([]float64, channels),
		Eps:    defaultEps,
	}
	for i := range in.Weight {
		in.Weight[i] = 1
	}
	return in
}

// Forward implements Module.
func (in *InstanceNorm2d) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	return tensor.InstanceNormalize(x, in.Weight, in.Bias, in.Eps)
}

// Parameters implements Module.
func (in *InstanceNorm2d) Parameters() []Parameter {
	return []Parameter{
		{Name: "weight", Data: in.Weight, Trainable: true},
		{Name: "bias", Data: in.Bias, Trainable: true},
	}
}
