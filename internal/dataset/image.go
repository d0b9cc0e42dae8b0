package dataset

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Normalization is a per-channel affine transform: (x - Mean) / Std.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNet is the normalization the pretrained backbones were trained with.
var ImageNet = &Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// Apply normalizes CHW pixels in place. A nil Normalization is a no-op.
func (n *Normalization) Apply(pixels []float32, channels, height, width int) {
	if n == nil {
		return
	}
	plane := height * width
	for c := 0; c < channels; c++ {
		mean, std := n.Mean[c%3], n.Std[c%3]
		p := pixels[c*plane : (c+1)*plane]
		for i := range p {
			p[i] = (p[i] - mean) / std
		}
	}
}

// Invert undoes Apply in place.
func (n *Normalization) Invert(pixels []float32, channels, height, width int) {
	if n == nil {
		return
	}
	plane := height * width
	for c := 0; c < channels; c++ {
		mean, std := n.Mean[c%3], n.Std[c%3]
		p := pixels[c*plane : (c+1)*plane]
		for i := range p {
			p[i] = p[i]*std + mean
		}
	}
}

// FromImage scales and center-crops img to size×size and returns its RGB
// pixels as CHW float32 in [0, 1].
func FromImage(img image.Image, size int) []float32 {
	nrgba := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)
	plane := size * size
	pixels := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := nrgba.PixOffset(x, y)
			pos := y*size + x
			pixels[pos] = float32(nrgba.Pix[off]) / 255
			pixels[plane+pos] = float32(nrgba.Pix[off+1]) / 255
			pixels[2*plane+pos] = float32(nrgba.Pix[off+2]) / 255
		}
	}
	return pixels
}

// ToImage converts CHW pixels in [0, 1] to an image. Single channel inputs
// become grayscale. Values outside [0, 1] are clamped.
func ToImage(pixels []float32, channels, height, width int) *image.NRGBA {
	img := imaging.New(width, height, color.Black)
	plane := height * width
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pos := y*width + x
			off := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				src := c
				if channels < 3 {
					src = 0
				}
				img.Pix[off+c] = toByte(pixels[src*plane+pos])
			}
			img.Pix[off+3] = 255
		}
	}
	return img
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
