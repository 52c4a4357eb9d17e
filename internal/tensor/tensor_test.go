package tensor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func filled(n, c, h, w int, v float64) *Tensor {
	t := New(n, c, h, w)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

func TestConv2DPaddingAndBias(t *testing.T) {
	x := filled(1, 1, 3, 3, 1)
	k := filled(1, 1, 3, 3, 1)
	out, err := Conv2D(x, k, []float64{0.5}, ConvParams{Stride: [2]int{1, 1}, Padding: [2]int{1, 1}, Dilation: [2]int{1, 1}})
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	if out.Shape() != (Shape{N: 1, C: 1, H: 3, W: 3}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	if got := out.At(0, 0, 1, 1); got != 9.5 {
		t.Fatalf("centre=%f want 9.5", got)
	}
	if got := out.At(0, 0, 0, 0); got != 4.5 {
		t.Fatalf("corner=%f want 4.5", got)
	}
}

func TestConv2DDilationKeepsResolution(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := Rand(rng, 2, 3, 9, 11)
	k := Rand(rng, 4, 3, 3, 3)
	for _, d := range []int{1, 2, 4} {
		out, err := Conv2D(x, k, nil, ConvParams{Stride: [2]int{1, 1}, Padding: [2]int{d, d}, Dilation: [2]int{d, d}})
		if err != nil {
			t.Fatalf("dilation %d: %v", d, err)
		}
		if want := (Shape{N: 2, C: 4, H: 9, W: 11}); out.Shape() != want {
			t.Fatalf("dilation %d: shape %v want %v", d, out.Shape(), want)
		}
	}
}

func TestConv2DMatchesDirectLoop(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := Rand(rng, 1, 2, 6, 7)
	k := Randn(rng, 1, 3, 2, 3, 3)
	p := ConvParams{Stride: [2]int{2, 2}, Padding: [2]int{2, 2}, Dilation: [2]int{2, 2}}
	out, err := Conv2D(x, k, nil, p)
	if err != nil {
		t.Fatalf("Conv2D: %v", err)
	}
	s := out.Shape()
	for o := 0; o < s.C; o++ {
		for oh := 0; oh < s.H; oh++ {
			for ow := 0; ow < s.W; ow++ {
				want := 0.0
				for c := 0; c < 2; c++ {
					for i := 0; i < 3; i++ {
						for j := 0; j < 3; j++ {
							ih, iw := oh*2-2+i*2, ow*2-2+j*2
							if ih < 0 || ih >= 6 || iw < 0 || iw >= 7 {
								continue
							}
							want += x.At(0, c, ih, iw) * k.At(o, c, i, j)
						}
					}
				}
				if got := out.At(0, o, oh, ow); math.Abs(got-want) > 1e-9 {
					t.Fatalf("out[%d,%d,%d]=%f want %f", o, oh, ow, got, want)
				}
			}
		}
	}
}

func TestConv2DChannelMismatch(t *testing.T) {
	_, err := Conv2D(New(1, 3, 4, 4), New(8, 2, 1, 1), nil, ConvParams{Stride: [2]int{1, 1}, Dilation: [2]int{1, 1}})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestAdaptiveAvgPool2D(t *testing.T) {
	x := New(1, 1, 4, 4)
	for i := range x.data {
		x.data[i] = float64(i)
	}
	global, err := AdaptiveAvgPool2D(x, 1, 1)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if got := global.At(0, 0, 0, 0); got != 7.5 {
		t.Fatalf("global mean=%f want 7.5", got)
	}
	three, err := AdaptiveAvgPool2D(x, 3, 3)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	// cell (0,0) covers rows 0-1, cols 0-1
	if got := three.At(0, 0, 0, 0); got != 2.5 {
		t.Fatalf("cell(0,0)=%f want 2.5", got)
	}
	// cell (1,1) covers rows 1-2, cols 1-2
	if got := three.At(0, 0, 1, 1); got != 7.5 {
		t.Fatalf("cell(1,1)=%f want 7.5", got)
	}
	six, err := AdaptiveAvgPool2D(x, 6, 6)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if six.Shape().H != 6 || six.Shape().W != 6 {
		t.Fatalf("unexpected shape %v", six.Shape())
	}
}

func TestResizeAlignedCorners(t *testing.T) {
	x, _ := FromSlice(Shape{N: 1, C: 1, H: 2, W: 2}, []float64{0, 1, 2, 3})
	out, err := Resize(x, 3, 3)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	want := []float64{0, 0.5, 1, 1, 1.5, 2, 2, 2.5, 3}
	for i, v := range want {
		if math.Abs(out.data[i]-v) > 1e-12 {
			t.Fatalf("out[%d]=%f want %f", i, out.data[i], v)
		}
	}
}

func TestResizeSameSizeIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := Rand(rng, 2, 3, 5, 7)
	out, err := Resize(x, 5, 7)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	for i := range x.data {
		if math.Abs(out.data[i]-x.data[i]) > 1e-12 {
			t.Fatalf("element %d changed: %f vs %f", i, out.data[i], x.data[i])
		}
	}
	one, _ := Resize(Rand(rng, 1, 1, 1, 1), 4, 4)
	if one.Shape().H != 4 {
		t.Fatalf("upsample from 1x1 gave %v", one.Shape())
	}
}

func TestConcatChannels(t *testing.T) {
	a := filled(2, 1, 2, 2, 1)
	b := filled(2, 3, 2, 2, 2)
	out, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if out.Shape().C != 4 {
		t.Fatalf("channels=%d want 4", out.Shape().C)
	}
	if out.At(1, 0, 1, 1) != 1 || out.At(1, 3, 0, 0) != 2 {
		t.Fatalf("concat placed values incorrectly")
	}
	if _, err := Concat(a, filled(2, 1, 3, 2, 0)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestMaxPool2D(t *testing.T) {
	x := New(1, 1, 4, 4)
	for i := range x.data {
		x.data[i] = float64(i) - 20
	}
	out, err := MaxPool2D(x, 3, 2, 1)
	if err != nil {
		t.Fatalf("MaxPool2D: %v", err)
	}
	if out.Shape().H != 2 || out.Shape().W != 2 {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	if got := out.At(0, 0, 0, 0); got != 5-20 {
		t.Fatalf("out(0,0)=%f want %d", got, 5-20)
	}
}

func TestDropout2DZeroesWholeChannels(t *testing.T) {
	x := filled(1, 64, 3, 3, 1)
	out := Dropout2D(x, 0.5, rand.New(rand.NewSource(4)))
	dropped := 0
	for c := 0; c < 64; c++ {
		plane := out.Plane(0, c)
		for _, v := range plane[1:] {
			if v != plane[0] {
				t.Fatalf("channel %d partially dropped", c)
			}
		}
		switch plane[0] {
		case 0:
			dropped++
		case 2:
		default:
			t.Fatalf("channel %d scaled to %f", c, plane[0])
		}
	}
	if dropped == 0 || dropped == 64 {
		t.Fatalf("dropped %d of 64 channels", dropped)
	}
}

func TestCrossEntropyIgnoreIndex(t *testing.T) {
	logits := New(1, 4, 1, 2)
	labels := &Labels{N: 1, H: 1, W: 2, Data: []int{2, 255}}
	loss, err := CrossEntropy(logits, labels, 255)
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-12 {
		t.Fatalf("loss=%f want log(4)", loss)
	}
	labels.Data[0] = 255
	if loss, _ := CrossEntropy(logits, labels, 255); loss != 0 {
		t.Fatalf("all-ignored loss=%f want 0", loss)
	}
	labels.Data[0] = 7
	if _, err := CrossEntropy(logits, labels, 255); err == nil {
		t.Fatalf("expected error for out-of-range label")
	}
	if _, err := CrossEntropy(logits, NewLabels(1, 2, 2, 0), 255); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestArgMax(t *testing.T) {
	x := New(1, 3, 1, 2)
	x.Set(1, 0, 2, 0, 0)
	x.Set(5, 0, 1, 0, 1)
	pred := ArgMax(x)
	if pred.At(0, 0, 0) != 2 || pred.At(0, 0, 1) != 1 {
		t.Fatalf("unexpected predictions %v", pred.Data)
	}
}

func TestNormalizeAndStats(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := Randn(rng, 3, 4, 2, 5, 5)
	mean, variance := ChannelStats(x)
	out, err := Normalize(x, mean, variance, nil, nil, 0)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	m, v := ChannelStats(out)
	for c := range m {
		if math.Abs(m[c]) > 1e-9 || math.Abs(v[c]-1) > 1e-9 {
			t.Fatalf("channel %d mean=%f var=%f", c, m[c], v[c])
		}
	}
	inst, err := InstanceNormalize(x, nil, nil, 0)
	if err != nil {
		t.Fatalf("InstanceNormalize: %v", err)
	}
	sum := 0.0
	for _, val := range inst.Plane(1, 2) {
		sum += val
	}
	if math.Abs(sum) > 1e-9 {
		t.Fatalf("instance plane mean not zero: %f", sum)
	}
}
