package model

import (
	"fmt"
	"math/rand"

	"pspnet/internal/nn"
	"pspnet/internal/tensor"
)

// PPM is the pyramid pooling module: one pooled, projected branch per bin,
// concatenated with its input.
type PPM struct {
	Bins     []int
	Branches []*nn.Sequential
}

// NewPPM builds branches reducing in channels to reduction each.
func NewPPM(rng *rand.Rand, norm nn.NormFactory, in, reduction int, bins []int) *PPM {
	p := &PPM{Bins: append([]int(nil), bins...)}
	for _, bin := range bins {
		p.Branches = append(p.Branches, nn.NewSequential(
			nn.AdaptiveAvgPool2d{Size: bin},
			nn.NewConv2d(rng, nn.Conv2dConfig{In: in, Out: reduction, Kernel: 1}),
			norm(reduction),
			nn.ReLU{},
		))
	}
	return p
}

// Forward implements nn.Module. The result has in + len(Bins)*reduction channels.
func (p *PPM) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	s := x.Shape()
	out := make([]*tensor.Tensor, 0, len(p.Branches)+1)
	out = append(out, x)
	for i, branch := range p.Branches {
		pooled, err := branch.Forward(x, train)
		if err != nil {
			return nil, fmt.Errorf("ppm bin %d: %w", p.Bins[i], err)
		}
		up, err := tensor.Resize(pooled, s.H, s.W)
		if err != nil {
			return nil, fmt.Errorf("ppm bin %d: %w", p.Bins[i], err)
		}
		out = append(out, up)
	}
	return tensor.Concat(out...)
}

// Parameters implements nn.Module.
func (p *PPM) Parameters() []nn.Parameter {
	var ps []nn.Parameter
	for i, b := range p.Branches {
		ps = append(ps, nn.Prefixed(fmt.Sprintf("features.%d", i), b.Parameters())...)
	}
	return ps
}
