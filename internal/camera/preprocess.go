package camera

import (
	"image"
	"image/draw"
	"math"

	"github.com/nfnt/resize"

	"github.com/banshee-data/camdrive/internal/classify"
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Fit crops img to the aspect ratio of width x height around its centre and
// resizes the crop to exactly width x height with a Lanczos3 filter.
func Fit(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	target := float64(width) / float64(height)

	crop := b
	if float64(srcW)/float64(srcH) > target {
		cw := int(math.Round(float64(srcH) * target))
		x0 := b.Min.X + (srcW-cw)/2
		crop = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	} else {
		ch := int(math.Round(float64(srcW) / target))
		y0 := b.Min.Y + (srcH-ch)/2
		crop = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
	}

	var cropped image.Image
	if si, ok := img.(subImager); ok {
		cropped = si.SubImage(crop)
	} else {
		rgba := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, crop.Min, draw.Src)
		cropped = rgba
	}

	return resize.Resize(uint(width), uint(height), cropped, resize.Lanczos3)
}

// ToTensor converts an RGB image into a 1xHxWx3 tensor with each channel
// scaled as v/127.5 - 1.
func ToTensor(img image.Image) classify.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	t := classify.NewTensor(h, w)

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			t.Data[i] = normalize(r >> 8)
			t.Data[i+1] = normalize(g >> 8)
			t.Data[i+2] = normalize(bl >> 8)
			i += 3
		}
	}
	return t
}

func normalize(v uint32) float32 {
	return float32(v)/127.5 - 1
}
