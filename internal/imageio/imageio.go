// Package imageio converts between encoded images and network tensors.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"

	"pspnet/internal/tensor"
)

// Normalization is the per-channel (value-mean)/std applied to 0..255 RGB.
type Normalization struct {
	Mean [3]float64
	Std  [3]float64
}

// ImageNet is the normalization the backbone was pretrained with.
var ImageNet = Normalization{
	Mean: [3]float64{0.485 * 255, 0.456 * 255, 0.406 * 255},
	Std:  [3]float64{0.229 * 255, 0.224 * 255, 0.225 * 255},
}

// DecodeImage reads a PNG or JPEG into a normalized (1,3,H,W) tensor.
func DecodeImage(r io.Reader, norm Normalization) (*tensor.Tensor, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}
	out := tensor.New(1, 3, height, width)
	planes := [3][]float64{out.Plane(0, 0), out.Plane(0, 1), out.Plane(0, 2)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			red, green, blue, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			for c, v := range [3]uint32{red, green, blue} {
				planes[c][y*width+x] = (float64(v>>8) - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return out, nil
}

// DecodeLabels reads a single-channel mask whose gray levels are class indices.
func DecodeLabels(r io.Reader) (*tensor.Labels, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}
	bounds := img.Bounds()
	labels := tensor.NewLabels(1, bounds.Dy(), bounds.Dx(), 0)
	for y := 0; y < labels.H; y++ {
		for x := 0; x < labels.W; x++ {
			gray := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			labels.Set(int(gray.Y), 0, y, x)
		}
	}
	return labels, nil
}

// EncodeLabels writes sample n of labels as a grayscale PNG. Classes above
// 255 are clamped.
func EncodeLabels(w io.Writer, labels *tensor.Labels, n int) error {
	if n < 0 || n >= labels.N {
		return fmt.Errorf("sample %d outside batch of %d", n, labels.N)
	}
	img := image.NewGray(image.Rect(0, 0, labels.W, labels.H))
	for y := 0; y < labels.H; y++ {
		for x := 0; x < labels.W; x++ {
			v := labels.At(n, y, x)
			if v > 255 {
				v = 255
			} else if v < 0 {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return png.Encode(w, img)
}
