package model

import (
	"fmt"
	"strings"

	"pspnet/internal/tensor"
)

// Variant selects what Forward returns.
type Variant int

const (
	// Standard upsamples the logits and, while training, returns losses.
	Standard Variant = iota
	// Flow returns logits and auxiliary logits at feature resolution.
	Flow
	// SelfDistill additionally exposes the aggregated feature map.
	SelfDistill
)

func (v Variant) String() string {
	switch v {
	case Standard:
		return "standard"
	case Flow:
		return "flow"
	case SelfDistill:
		return "sd"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant accepts standard, flow or sd.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard":
		return Standard, nil
	case "flow":
		return Flow, nil
	case "sd", "self-distill", "self_distill":
		return SelfDistill, nil
	}
	return 0, fmt.Errorf("unknown output variant %q", s)
}

// Output carries whichever results the active variant produces.
type Output struct {
	// Logits is always set; upsampled under Standard when the zoom factor is not 1.
	Logits *tensor.Tensor
	// Aux holds auxiliary-head logits for Flow, SelfDistill and Standard training.
	Aux *tensor.Tensor
	// Feature is the pre-classifier map, SelfDistill only.
	Feature *tensor.Tensor
	// Pred, MainLoss and AuxLoss are set for Standard training.
	Pred     *tensor.Labels
	MainLoss float64
	AuxLoss  float64
}

// Segmenter is the forward surface used by the benchmark and CLI.
type Segmenter interface {
	Forward(x *tensor.Tensor, y *tensor.Labels) (*Output, error)
}
