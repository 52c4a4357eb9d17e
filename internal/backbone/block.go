package backbone

import (
	"math/rand"

	"pspnet/internal/nn"
	"pspnet/internal/tensor"
)

// Block is a residual unit inside a Stage.
type Block interface {
	nn.Module
	// convs exposes the convolutions Dilate rewrites.
	convs() blockConvs
}

type blockConvs struct {
	first      *nn.Conv2d
	spatial    *nn.Conv2d
	projection *nn.Conv2d
}

// Downsample projects the identity path when a block changes stride or width.
type Downsample struct {
	Conv *nn.Conv2d
	Norm nn.Module
}

func newDownsample(rng *rand.Rand, norm nn.NormFactory, in, out, stride int) *Downsample {
	return &Downsample{
		Conv: nn.NewConv2d(rng, nn.Conv2dConfig{In: in, Out: out, Kernel: 1, Stride: stride}),
		Norm: norm(out),
	}
}

// Forward implements nn.Module.
func (d *Downsample) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	out, err := d.Conv.Forward(x, train)
	if err != nil {
		return nil, err
	}
	return d.Norm.Forward(out, train)
}

// Parameters implements nn.Module.
func (d *Downsample) Parameters() []nn.Parameter {
	return append(nn.Prefixed("0", d.Conv.Parameters()), nn.Prefixed("1", d.Norm.Parameters())...)
}

// BasicBlock is two 3x3 convolutions with an identity shortcut.
type BasicBlock struct {
	Conv1, Conv2 *nn.Conv2d
	BN1, BN2     nn.Module
	Downsample   *Downsample
}

func newBasicBlock(rng *rand.Rand, norm nn.NormFactory, in, planes, stride int) *BasicBlock {
	b := &BasicBlock{
		Conv1: nn.NewConv2d(rng, nn.Conv2dConfig{In: in, Out: planes, Kernel: 3, Stride: stride, Padding: 1}),
		BN1:   norm(planes),
		Conv2: nn.NewConv2d(rng, nn.Conv2dConfig{In: planes, Out: planes, Kernel: 3, Padding: 1}),
		BN2:   norm(planes),
	}
	if stride != 1 || in != planes {
		b.Downsample = newDownsample(rng, norm, in, planes, stride)
	}
	return b
}

// Forward implements nn.Module.
func (b *BasicBlock) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	out, err := chain(x, train, b.Conv1, b.BN1, nn.ReLU{}, b.Conv2, b.BN2)
	if err != nil {
		return nil, err
	}
	return residual(out, x, b.Downsample, train)
}

// Parameters implements nn.Module.
func (b *BasicBlock) Parameters() []nn.Parameter {
	ps := nn.Prefixed("conv1", b.Conv1.Parameters())
	ps = append(ps, nn.Prefixed("bn1", b.BN1.Parameters())...)
	ps = append(ps, nn.Prefixed("conv2", b.Conv2.Parameters())...)
	ps = append(ps, nn.Prefixed("bn2", b.BN2.Parameters())...)
	if b.Downsample != nil {
		ps = append(ps, nn.Prefixed("downsample", b.Downsample.Parameters())...)
	}
	return ps
}

func (b *BasicBlock) convs() blockConvs {
	c := blockConvs{first: b.Conv1, spatial: b.Conv2}
	if b.Downsample != nil {
		c.projection = b.Downsample.Conv
	}
	return c
}

// Bottleneck is 1x1 reduce, strided 3x3, 1x1 expand by four.
type Bottleneck struct {
	Conv1, Conv2, Conv3 *nn.Conv2d
	BN1, BN2, BN3       nn.Module
	Downsample          *Downsample
}

const bottleneckExpansion = 4

func newBottleneck(rng *rand.Rand, norm nn.NormFactory, in, planes, stride int) *Bottleneck {
	out := planes * bottleneckExpansion
	b := &Bottleneck{
		Conv1: nn.NewConv2d(rng, nn.Conv2dConfig{In: in, Out: planes, Kernel: 1}),
		BN1:   norm(planes),
		Conv2: nn.NewConv2d(rng, nn.Conv2dConfig{In: planes, Out: planes, Kernel: 3, Stride: stride, Padding: 1}),
		BN2:   norm(planes),
		Conv3: nn.NewConv2d(rng, nn.Conv2dConfig{In: planes, Out: out, Kernel: 1}),
		BN3:   norm(out),
	}
	if stride != 1 || in != out {
		b.Downsample = newDownsample(rng, norm, in, out, stride)
	}
	return b
}

// Forward implements nn.Module.
func (b *Bottleneck) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	out, err := chain(x, train, b.Conv1, b.BN1, nn.ReLU{}, b.Conv2, b.BN2, nn.ReLU{}, b.Conv3, b.BN3)
	if err != nil {
		return nil, err
	}
	return residual(out, x, b.Downsample, train)
}

// Parameters implements nn.Module.
func (b *Bottleneck) Parameters() []nn.Parameter {
	ps := nn.Prefixed("conv1", b.Conv1.Parameters())
	ps = append(ps, nn.Prefixed("bn1", b.BN1.Parameters())...)
	ps = append(ps, nn.Prefixed("conv2", b.Conv2.Parameters())...)
	ps = append(ps, nn.Prefixed("bn2", b.BN2.Parameters())...)
	ps = append(ps, nn.Prefixed("conv3", b.Conv3.Parameters())...)
	ps = append(ps, nn.Prefixed("bn3", b.BN3.Parameters())...)
	if b.Downsample != nil {
		ps = append(ps, nn.Prefixed("downsample", b.Downsample.Parameters())...)
	}
	return ps
}

func (b *Bottleneck) convs() blockConvs {
	c := blockConvs{first: b.Conv1, spatial: b.Conv2}
	if b.Downsample != nil {
		c.projection = b.Downsample.Conv
	}
	return c
}

func chain(x *tensor.Tensor, train bool, modules ...nn.Module) (*tensor.Tensor, error) {
	var err error
	for _, m := range modules {
		if x, err = m.Forward(x, train); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func residual(out, x *tensor.Tensor, down *Downsample, train bool) (*tensor.Tensor, error) {
	identity := x
	if down != nil {
		var err error
		if identity, err = down.Forward(x, train); err != nil {
			return nil, err
		}
	}
	sum, err := tensor.Add(out, identity)
	if err != nil {
		return nil, err
	}
	return tensor.ReLU(sum), nil
}
