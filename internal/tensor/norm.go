package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ChannelStats returns the per-channel mean and biased variance over the
// batch and spatial axes.
func ChannelStats(x *Tensor) (mean, variance []float64) {
	s := x.shape
	mean = make([]float64, s.C)
	variance = make([]float64, s.C)
	count := float64(s.N * s.Spatial())
	for c := 0; c < s.C; c++ {
		sum := 0.0
		for n := 0; n < s.N; n++ {
			sum += floats.Sum(x.Plane(n, c))
		}
		mu := sum / count
		sq := 0.0
		for n := 0; n < s.N; n++ {
			for _, v := range x.Plane(n, c) {
				d := v - mu
				sq += d * d
			}
		}
		mean[c] = mu
		variance[c] = sq / count
	}
	return mean, variance
}

// Normalize applies gamma*(x-mean)/sqrt(var+eps)+beta per channel. gamma and
// beta may be nil for an unscaled result.
func Normalize(x *Tensor, mean, variance, gamma, beta []float64, eps float64) (*Tensor, error) {
	s := x.shape
	if len(mean) != s.C || len(variance) != s.C {
		return nil, fmt.Errorf("%w: normalization statistics for %d channels, input %v", ErrShapeMismatch, len(mean), s)
	}
	if (gamma != nil && len(gamma) != s.C) || (beta != nil && len(beta) != s.C) {
		return nil, fmt.Errorf("%w: affine parameters do not match input %v", ErrShapeMismatch, s)
	}
	out := x.Clone()
	for c := 0; c < s.C; c++ {
		scale := 1 / math.Sqrt(variance[c]+eps)
		shift := 0.0
		if gamma != nil {
			scale *= gamma[c]
		}
		if beta != nil {
			shift = beta[c]
		}
		for n := 0; n < s.N; n++ {
			plane := out.Plane(n, c)
			for i, v := range plane {
				plane[i] = (v-mean[c])*scale + shift
			}
		}
	}
	return out, nil
}

// InstanceNormalize normalizes every (sample, channel) plane by its own
// statistics.
func InstanceNormalize(x *Tensor, gamma, beta []float64, eps float64) (*Tensor, error) {
	s := x.shape
	if (gamma != nil && len(gamma) != s.C) || (beta != nil && len(beta) != s.C) {
		return nil, fmt.Errorf("%w: affine parameters do not match input %v", ErrShapeMismatch, s)
	}
	out := x.Clone()
	hw := float64(s.Spatial())
	for n := 0; n < s.N; n++ {
		for c := 0; c < s.C; c++ {
			plane := out.Plane(n, c)
			mu := floats.Sum(plane) / hw
			sq := 0.0
			for _, v := range plane {
				sq += (v - mu) * (v - mu)
			}
			scale := 1 / math.Sqrt(sq/hw+eps)
			shift := 0.0
			if gamma != nil {
				scale *= gamma[c]
			}
			if beta != nil {
				shift = beta[c]
			}
			for i, v := range plane {
				plane[i] = (v-mu)*scale + shift
			}
		}
	}
	return out, nil
}
