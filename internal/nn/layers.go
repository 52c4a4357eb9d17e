package nn

import (
	"math"
	"math/rand"
	"sync"

	"pspnet/internal/tensor"
)

// Conv2dConfig describes a square-kernel convolution.
type Conv2dConfig struct {
	In, Out  int
	Kernel   int
	Stride   int
	Padding  int
	Dilation int
	Bias     bool
}

// Conv2d is a 2-D convolution. Stride, Padding and Dilation are exported so
// backbone surgery can rewrite them after construction.
type Conv2d struct {
	Weight   *tensor.Tensor
	Bias     []float64
	Stride   [2]int
	Padding  [2]int
	Dilation [2]int
}

// NewConv2d allocates a convolution with He-normal (fan-out) weights and zero bias.
func NewConv2d(rng *rand.Rand, cfg Conv2dConfig) *Conv2d {
	if cfg.Stride == 0 {
		cfg.Stride = 1
	}
	if cfg.Dilation == 0 {
		cfg.Dilation = 1
	}
	std := math.Sqrt(2 / float64(cfg.Out*cfg.Kernel*cfg.Kernel))
	c := &Conv2d{
		Weight:   tensor.Randn(rng, std, cfg.Out, cfg.In, cfg.Kernel, cfg.Kernel),
		Stride:   [2]int{cfg.Stride, cfg.Stride},
		Padding:  [2]int{cfg.Padding, cfg.Padding},
		Dilation: [2]int{cfg.Dilation, cfg.Dilation},
	}
	if cfg.Bias {
		c.Bias = make([]float64, cfg.Out)
	}
	return c
}

// OutChannels returns the number of filters.
func (c *Conv2d) OutChannels() int {
	return c.Weight.Shape().N
}

// Forward implements Module.
func (c *Conv2d) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	return tensor.Conv2D(x, c.Weight, c.Bias, tensor.ConvParams{
		Stride:   c.Stride,
		Padding:  c.Padding,
		Dilation: c.Dilation,
	})
}

// Parameters implements Module.
func (c *Conv2d) Parameters() []Parameter {
	ps := []Parameter{{Name: "weight", Data: c.Weight.Data(), Trainable: true}}
	if c.Bias != nil {
		ps = append(ps, Parameter{Name: "bias", Data: c.Bias, Trainable: true})
	}
	return ps
}

// ReLU rectifies negative values to zero.
type ReLU struct{}

// Forward implements Module.
func (ReLU) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	return tensor.ReLU(x), nil
}

// Parameters implements Module.
func (ReLU) Parameters() []Parameter { return nil }

// MaxPool2d is a square max-pooling window.
type MaxPool2d struct {
	Kernel, Stride, Padding int
}

// Forward implements Module.
func (p MaxPool2d) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	return tensor.MaxPool2D(x, p.Kernel, p.Stride, p.Padding)
}

// Parameters implements Module.
func (MaxPool2d) Parameters() []Parameter { return nil }

// AdaptiveAvgPool2d averages to a fixed Size x Size grid.
type AdaptiveAvgPool2d struct {
	Size int
}

// Forward implements Module.
func (p AdaptiveAvgPool2d) Forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	return tensor.AdaptiveAvgPool2D(x, p.Size, p.Size)
}

// Parameters implements Module.
func (AdaptiveAvgPool2d) Parameters() []Parameter { return nil }

// Dropout2d zeroes whole channel maps with probability P while training.
type Dropout2d struct {
	P float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDropout2d seeds a spatial dropout layer.
func NewDropout2d(p float64, seed int64) *Dropout2d {
	return &Dropout2d{P: p, rng: rand.New(rand.NewSource(seed))}
}

// Forward implements Module.
func (d *Dropout2d) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	if !train || d.P <= 0 {
		return x, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return tensor.Dropout2D(x, d.P, d.rng), nil
}

// Parameters implements Module.
func (*Dropout2d) Parameters() []Parameter { return nil }
