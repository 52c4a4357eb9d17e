package backbone

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"pspnet/internal/nn"
	"pspnet/internal/tensor"
)

func TestNewRejectsUnknownDepth(t *testing.T) {
	for _, depth := range []int{0, 34, 200} {
		if _, err := New(depth, Options{}); !errors.Is(err, ErrUnsupportedDepth) {
			t.Fatalf("depth %d: expected ErrUnsupportedDepth, got %v", depth, err)
		}
	}
	for _, depth := range Depths() {
		if !Supported(depth) {
			t.Fatalf("listed depth %d unsupported", depth)
		}
	}
	if _, err := New(34, Options{}); err == nil || !strings.Contains(err.Error(), "[18 50 101 152]") {
		t.Fatalf("error should list supported depths: %v", err)
	}
}

func TestResNet18ParameterCount(t *testing.T) {
	r, err := ResNet18(Options{})
	if err != nil {
		t.Fatalf("ResNet18: %v", err)
	}
	// torchvision resnet18 without the classifier
	if got := nn.CountParameters(r); got != 11176512 {
		t.Fatalf("parameter count %d want 11176512", got)
	}
	if r.MidChannels() != 256 || r.OutChannels() != 512 {
		t.Fatalf("channels mid=%d out=%d", r.MidChannels(), r.OutChannels())
	}
}

func TestDilateRewritesStrides(t *testing.T) {
	r, err := ResNet18(Options{Seed: 1})
	if err != nil {
		t.Fatalf("ResNet18: %v", err)
	}
	r.DilateForDensePrediction()
	for stageIdx, tc := range []struct {
		stage    *Stage
		dilation int
	}{{r.Layer3, 2}, {r.Layer4, 4}} {
		for i, b := range tc.stage.Blocks {
			c := b.convs()
			if c.first.Stride != [2]int{1, 1} {
				t.Fatalf("stage %d block %d conv1 stride %v", stageIdx+3, i, c.first.Stride)
			}
			if c.first.Dilation != [2]int{1, 1} {
				t.Fatalf("stage %d block %d conv1 dilation changed to %v", stageIdx+3, i, c.first.Dilation)
			}
			want := [2]int{tc.dilation, tc.dilation}
			if c.spatial.Dilation != want || c.spatial.Padding != want || c.spatial.Stride != [2]int{1, 1} {
				t.Fatalf("stage %d block %d conv2 stride=%v dilation=%v padding=%v", stageIdx+3, i, c.spatial.Stride, c.spatial.Dilation, c.spatial.Padding)
			}
			if c.projection != nil && c.projection.Stride != [2]int{1, 1} {
				t.Fatalf("stage %d block %d downsample stride %v", stageIdx+3, i, c.projection.Stride)
			}
		}
	}
	if r.Layer2.Blocks[0].convs().first.Stride != [2]int{2, 2} {
		t.Fatalf("stage 2 must keep its stride")
	}
}

func TestDilatedFeaturesKeepEighthResolution(t *testing.T) {
	r, err := ResNet18(Options{Seed: 2})
	if err != nil {
		t.Fatalf("ResNet18: %v", err)
	}
	r.DilateForDensePrediction()
	x := tensor.Rand(rand.New(rand.NewSource(3)), 2, 3, 32, 48)
	mid, out, err := r.Features(x, false)
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if want := (tensor.Shape{N: 2, C: 256, H: 4, W: 6}); mid.Shape() != want {
		t.Fatalf("mid shape %v want %v", mid.Shape(), want)
	}
	if want := (tensor.Shape{N: 2, C: 512, H: 4, W: 6}); out.Shape() != want {
		t.Fatalf("out shape %v want %v", out.Shape(), want)
	}
}

func TestParameterNamesFollowLayerPaths(t *testing.T) {
	r, err := ResNet18(Options{})
	if err != nil {
		t.Fatalf("ResNet18: %v", err)
	}
	names := map[string]bool{}
	for _, p := range r.Parameters() {
		names[p.Name] = true
	}
	for _, name := range []string{
		"conv1.weight",
		"bn1.running_var",
		"layer1.1.conv2.weight",
		"layer3.0.downsample.0.weight",
		"layer4.0.downsample.1.bias",
	} {
		if !names[name] {
			t.Fatalf("missing parameter %s", name)
		}
	}
	if names["layer1.0.downsample.0.weight"] {
		t.Fatalf("layer1 of resnet18 has no projection")
	}
}

func TestPretrainedLoad(t *testing.T) {
	src, err := ResNet18(Options{Seed: 7})
	if err != nil {
		t.Fatalf("ResNet18: %v", err)
	}
	state := nn.Snapshot(src)
	dst, err := ResNet18(Options{Seed: 8, Pretrained: state})
	if err != nil {
		t.Fatalf("ResNet18 pretrained: %v", err)
	}
	a := src.Layer4.Blocks[1].(*BasicBlock).Conv2.Weight.Data()
	b := dst.Layer4.Blocks[1].(*BasicBlock).Conv2.Weight.Data()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("weight %d not loaded", i)
		}
	}
}

func TestBottleneckChannels(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates a 50-layer network")
	}
	r, err := ResNet50(Options{DeepBase: true})
	if err != nil {
		t.Fatalf("ResNet50: %v", err)
	}
	if r.MidChannels() != 1024 || r.OutChannels() != 2048 {
		t.Fatalf("channels mid=%d out=%d", r.MidChannels(), r.OutChannels())
	}
	if _, ok := r.Layer1.Blocks[0].(*Bottleneck); !ok {
		t.Fatalf("expected bottleneck blocks")
	}
	if r.Stem.Conv3 == nil {
		t.Fatalf("deep base stem missing third convolution")
	}
}
