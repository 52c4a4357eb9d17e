package model

import (
	"math/rand"

	"pspnet/internal/nn"
)

const headWidth = 256

// NewHead builds conv3x3 -> norm -> relu -> dropout2d -> conv1x1 mapping in
// channels to classes.
func NewHead(rng *rand.Rand, norm nn.NormFactory, in, classes int, dropout float64) *nn.Sequential {
	return nn.NewSequential(
		nn.NewConv2d(rng, nn.Conv2dConfig{In: in, Out: headWidth, Kernel: 3, Padding: 1}),
		norm(headWidth),
		nn.ReLU{},
		nn.NewDropout2d(dropout, rng.Int63()),
		nn.NewConv2d(rng, nn.Conv2dConfig{In: headWidth, Out: classes, Kernel: 1, Bias: true}),
	)
}
