package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"pspnet/internal/tensor"
)

func TestDecodeImageNormalizes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: uint8(x * 60), B: 0, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	x, err := DecodeImage(buf, ImageNet)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if want := (tensor.Shape{N: 1, C: 3, H: 3, W: 4}); x.Shape() != want {
		t.Fatalf("shape %v want %v", x.Shape(), want)
	}
	wantR := (255 - ImageNet.Mean[0]) / ImageNet.Std[0]
	if math.Abs(x.At(0, 0, 2, 3)-wantR) > 1e-9 {
		t.Fatalf("red=%f want %f", x.At(0, 0, 2, 3), wantR)
	}
	wantG := (180 - ImageNet.Mean[1]) / ImageNet.Std[1]
	if math.Abs(x.At(0, 1, 1, 3)-wantG) > 1e-9 {
		t.Fatalf("green=%f want %f", x.At(0, 1, 1, 3), wantG)
	}
}

func TestLabelsRoundTrip(t *testing.T) {
	labels := tensor.NewLabels(2, 3, 5, 0)
	labels.Set(7, 1, 2, 4)
	labels.Set(300, 1, 0, 0)
	buf := &bytes.Buffer{}
	if err := EncodeLabels(buf, labels, 1); err != nil {
		t.Fatalf("EncodeLabels: %v", err)
	}
	got, err := DecodeLabels(buf)
	if err != nil {
		t.Fatalf("DecodeLabels: %v", err)
	}
	if got.H != 3 || got.W != 5 {
		t.Fatalf("decoded %dx%d", got.H, got.W)
	}
	if got.At(0, 2, 4) != 7 || got.At(0, 0, 0) != 255 {
		t.Fatalf("unexpected labels %v", got.Data)
	}
	if err := EncodeLabels(buf, labels, 2); err == nil {
		t.Fatalf("expected out-of-range sample error")
	}
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	if _, err := DecodeImage(bytes.NewReader([]byte("not an image")), ImageNet); err == nil {
		t.Fatalf("expected decode error")
	}
}
