// Package backbone builds the residual feature extractor and rewrites its
// deeper stages for dense prediction.
package backbone

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"pspnet/internal/nn"
	"pspnet/internal/tensor"
)

// ErrUnsupportedDepth is returned for a depth with no residual layout.
var ErrUnsupportedDepth = errors.New("backbone: unsupported depth")

type layout struct {
	blocks     [4]int
	bottleneck bool
}

var layouts = map[int]layout{
	18:  {blocks: [4]int{2, 2, 2, 2}},
	50:  {blocks: [4]int{3, 4, 6, 3}, bottleneck: true},
	101: {blocks: [4]int{3, 4, 23, 3}, bottleneck: true},
	152: {blocks: [4]int{3, 8, 36, 3}, bottleneck: true},
}

// Depths lists the supported depths in ascending order.
func Depths() []int {
	return []int{18, 50, 101, 152}
}

// Supported reports whether depth has a residual layout.
func Supported(depth int) bool {
	_, ok := layouts[depth]
	return ok
}

// Options configures backbone construction.
type Options struct {
	// Norm builds every normalization layer. Defaults to nn.BatchNorm.
	Norm nn.NormFactory
	// DeepBase replaces the 7x7 stem convolution with three 3x3 convolutions.
	DeepBase bool
	Seed     int64
	// Pretrained, when set, is loaded after construction.
	Pretrained nn.StateSource
}

// Stage is a sequence of residual blocks sharing one output width.
type Stage struct {
	Blocks []Block
}

// Forward implements nn.Module.
func (s *Stage) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	var err error
	for i, b := range s.Blocks {
		if x, err = b.Forward(x, train); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
	}
	return x, nil
}

// Parameters implements nn.Module.
func (s *Stage) Parameters() []nn.Parameter {
	var ps []nn.Parameter
	for i, b := range s.Blocks {
		ps = append(ps, nn.Prefixed(strconv.Itoa(i), b.Parameters())...)
	}
	return ps
}

// Dilate removes every stride from the stage and gives each block's spatial
// convolution the requested dilation, padded so resolution is preserved.
func (s *Stage) Dilate(dilation int) {
	unit := [2]int{1, 1}
	for _, b := range s.Blocks {
		c := b.convs()
		c.first.Stride = unit
		c.spatial.Stride = unit
		c.spatial.Dilation = [2]int{dilation, dilation}
		c.spatial.Padding = [2]int{dilation, dilation}
		if c.projection != nil {
			c.projection.Stride = unit
		}
	}
}

// Stem is the input convolution block followed by max pooling.
type Stem struct {
	Conv1, Conv2, Conv3 *nn.Conv2d
	BN1, BN2, BN3       nn.Module
	Pool                nn.MaxPool2d
}

// Forward implements nn.Module.
func (s *Stem) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	mods := []nn.Module{s.Conv1, s.BN1, nn.ReLU{}}
	if s.Conv2 != nil {
		mods = append(mods, s.Conv2, s.BN2, nn.ReLU{}, s.Conv3, s.BN3, nn.ReLU{})
	}
	mods = append(mods, s.Pool)
	return chain(x, train, mods...)
}

// Parameters implements nn.Module.
func (s *Stem) Parameters() []nn.Parameter {
	ps := nn.Prefixed("conv1", s.Conv1.Parameters())
	ps = append(ps, nn.Prefixed("bn1", s.BN1.Parameters())...)
	if s.Conv2 != nil {
		ps = append(ps, nn.Prefixed("conv2", s.Conv2.Parameters())...)
		ps = append(ps, nn.Prefixed("bn2", s.BN2.Parameters())...)
		ps = append(ps, nn.Prefixed("conv3", s.Conv3.Parameters())...)
		ps = append(ps, nn.Prefixed("bn3", s.BN3.Parameters())...)
	}
	return ps
}

func (s *Stem) outChannels() int {
	if s.Conv3 != nil {
		return s.Conv3.OutChannels()
	}
	return s.Conv1.OutChannels()
}

// ResNet is a stem plus four residual stages.
type ResNet struct {
	Stem                           *Stem
	Layer1, Layer2, Layer3, Layer4 *Stage

	depth       int
	midChannels int
	outChannels int
}

// New builds the residual network for depth.
func New(depth int, opts Options) (*ResNet, error) {
	lay, ok := layouts[depth]
	if !ok {
		return nil, fmt.Errorf("%w: %d (supported %v)", ErrUnsupportedDepth, depth, Depths())
	}
	if opts.Norm == nil {
		opts.Norm = nn.BatchNorm()
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	norm := opts.Norm

	stem := &Stem{Pool: nn.MaxPool2d{Kernel: 3, Stride: 2, Padding: 1}}
	if opts.DeepBase {
		stem.Conv1 = nn.NewConv2d(rng, nn.Conv2dConfig{In: 3, Out: 64, Kernel: 3, Stride: 2, Padding: 1})
		stem.BN1 = norm(64)
		stem.Conv2 = nn.NewConv2d(rng, nn.Conv2dConfig{In: 64, Out: 64, Kernel: 3, Padding: 1})
		stem.BN2 = norm(64)
		stem.Conv3 = nn.NewConv2d(rng, nn.Conv2dConfig{In: 64, Out: 128, Kernel: 3, Padding: 1})
		stem.BN3 = norm(128)
	} else {
		stem.Conv1 = nn.NewConv2d(rng, nn.Conv2dConfig{In: 3, Out: 64, Kernel: 7, Stride: 2, Padding: 3})
		stem.BN1 = norm(64)
	}

	r := &ResNet{Stem: stem, depth: depth}
	in := stem.outChannels()
	stages := make([]*Stage, 4)
	for i, planes := range []int{64, 128, 256, 512} {
		stride := 2
		if i == 0 {
			stride = 1
		}
		stage := &Stage{}
		for j := 0; j < lay.blocks[i]; j++ {
			s := 1
			if j == 0 {
				s = stride
			}
			if lay.bottleneck {
				stage.Blocks = append(stage.Blocks, newBottleneck(rng, norm, in, planes, s))
				in = planes * bottleneckExpansion
			} else {
				stage.Blocks = append(stage.Blocks, newBasicBlock(rng, norm, in, planes, s))
				in = planes
			}
		}
		stages[i] = stage
		if i == 2 {
			r.midChannels = in
		}
	}
	r.Layer1, r.Layer2, r.Layer3, r.Layer4 = stages[0], stages[1], stages[2], stages[3]
	r.outChannels = in

	if opts.Pretrained != nil {
		if _, err := nn.Load(r, opts.Pretrained); err != nil {
			return nil, fmt.Errorf("load pretrained resnet%d: %w", depth, err)
		}
	}
	return r, nil
}

// ResNet18 builds the 18-layer network.
func ResNet18(opts Options) (*ResNet, error) { return New(18, opts) }

// ResNet50 builds the 50-layer network.
func ResNet50(opts Options) (*ResNet, error) { return New(50, opts) }

// ResNet101 builds the 101-layer network.
func ResNet101(opts Options) (*ResNet, error) { return New(101, opts) }

// ResNet152 builds the 152-layer network.
func ResNet152(opts Options) (*ResNet, error) { return New(152, opts) }

// Depth returns the configured depth.
func (r *ResNet) Depth() int { return r.depth }

// MidChannels is the width of the third stage output.
func (r *ResNet) MidChannels() int { return r.midChannels }

// OutChannels is the width of the fourth stage output.
func (r *ResNet) OutChannels() int { return r.outChannels }

// DilateForDensePrediction keeps the last two stages at the resolution of the
// second, with dilation 2 in stage three and 4 in stage four.
func (r *ResNet) DilateForDensePrediction() {
	r.Layer3.Dilate(2)
	r.Layer4.Dilate(4)
}

// Features runs the network and returns the stage three and stage four maps.
func (r *ResNet) Features(x *tensor.Tensor, train bool) (mid, out *tensor.Tensor, err error) {
	if x, err = r.Stem.Forward(x, train); err != nil {
		return nil, nil, fmt.Errorf("stem: %w", err)
	}
	if x, err = r.Layer1.Forward(x, train); err != nil {
		return nil, nil, fmt.Errorf("layer1: %w", err)
	}
	if x, err = r.Layer2.Forward(x, train); err != nil {
		return nil, nil, fmt.Errorf("layer2: %w", err)
	}
	if mid, err = r.Layer3.Forward(x, train); err != nil {
		return nil, nil, fmt.Errorf("layer3: %w", err)
	}
	if out, err = r.Layer4.Forward(mid, train); err != nil {
		return nil, nil, fmt.Errorf("layer4: %w", err)
	}
	return mid, out, nil
}

// Forward implements nn.Module and returns the stage four map.
func (r *ResNet) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	_, out, err := r.Features(x, train)
	return out, err
}

// Parameters implements nn.Module.
func (r *ResNet) Parameters() []nn.Parameter {
	ps := r.Stem.Parameters()
	for i, s := range []*Stage{r.Layer1, r.Layer2, r.Layer3, r.Layer4} {
		ps = append(ps, nn.Prefixed("layer"+strconv.Itoa(i+1), s.Parameters())...)
	}
	return ps
}
