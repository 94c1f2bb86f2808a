// Package imageio converts image files to and from model input tensors.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/neucomp/internal/device"
	"github.com/Brownie44l1/neucomp/internal/tensor"
)

// ErrDecode is returned when an input file cannot be decoded as an image.
var ErrDecode = errors.New("failed to load image")

// Bounds limits the spatial size of images fed to the model. A zero field
// disables that side of the check.
type Bounds struct {
	Min int
	Max int
}

// DefaultBounds keeps inputs between 64 and 1024 pixels per side.
var DefaultBounds = Bounds{Min: 64, Max: 1024}

// Fit returns the size an image of w x h is resized to. Oversized images are
// shrunk first so the larger side equals Max, then undersized images are
// grown so the smaller side equals Min. Aspect ratio is kept and the scaled
// side is truncated.
func (b Bounds) Fit(w, h int) (int, int) {
	if b.Max > 0 && (w > b.Max || h > b.Max) {
		if w > h {
			w, h = b.Max, scaleSide(h, b.Max, w)
		} else {
			w, h = scaleSide(w, b.Max, h), b.Max
		}
	}
	if b.Min > 0 && (w < b.Min || h < b.Min) {
		if w < h {
			w, h = b.Min, scaleSide(h, b.Min, w)
		} else {
			w, h = scaleSide(w, b.Min, h), b.Min
		}
	}
	return w, h
}

func scaleSide(side, bound, ref int) int {
	n := side * bound / ref
	if n < 1 {
		return 1
	}
	return n
}

// Loader reads images into tensors placed on a device.
type Loader struct {
	Bounds Bounds
	Device device.Device
}

// Load decodes path into an RGB tensor resized to fit l.Bounds and returns
// the size of the image before resizing.
func (l *Loader) Load(path string) (*tensor.Tensor, image.Point, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("%w %s: %w", ErrDecode, path, err)
	}
	b := img.Bounds()
	orig := image.Point{X: b.Dx(), Y: b.Dy()}
	if orig.X == 0 || orig.Y == 0 {
		return nil, orig, fmt.Errorf("%w %s: empty image", ErrDecode, path)
	}

	w, h := l.Bounds.Fit(orig.X, orig.Y)
	if w != orig.X || h != orig.Y {
		img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	}

	dev := l.Device
	if dev == "" {
		dev = device.CPU
	}
	return FromImage(img, dev), orig, nil
}

// FromImage converts img to a [1,3,H,W] tensor with values in [0,1].
func FromImage(img image.Image, dev device.Device) *tensor.Tensor {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	t := tensor.New(3, h, w, dev)
	plane := w * h
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			t.Data[i] = float32(row[x*4]) / 255
			t.Data[plane+i] = float32(row[x*4+1]) / 255
			t.Data[2*plane+i] = float32(row[x*4+2]) / 255
		}
	}
	return t
}

// ToImage converts a tensor to an opaque image, clamping values to [0,1].
func ToImage(t *tensor.Tensor) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, t.Width, t.Height))
	plane := t.Width * t.Height
	for y := 0; y < t.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < t.Width; x++ {
			i := y*t.Width + x
			row[x*4] = toByte(t.Data[i])
			if t.Channels >= 3 {
				row[x*4+1] = toByte(t.Data[plane+i])
				row[x*4+2] = toByte(t.Data[2*plane+i])
			} else {
				row[x*4+1] = row[x*4]
				row[x*4+2] = row[x*4]
			}
			row[x*4+3] = 0xff
		}
	}
	return img
}

func toByte(v float32) uint8 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Save writes t to path in the format implied by its extension. When orig is
// non-zero the image is resized back to that size first.
func Save(t *tensor.Tensor, path string, orig image.Point) error {
	var img image.Image = ToImage(t.To(device.CPU))
	if orig.X > 0 && orig.Y > 0 && (orig.X != t.Width || orig.Y != t.Height) {
		img = resize.Resize(uint(orig.X), uint(orig.Y), img, resize.Lanczos3)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save image %s: %w", path, err)
	}
	return nil
}

// Reencode writes src to dst with the codec implied by dst's extension,
// using the given JPEG quality. PNG output ignores quality.
func Reencode(src, dst string, quality int) error {
	img, err := imaging.Open(src)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrDecode, src, err)
	}
	if err := imaging.Save(img, dst, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode %s: %w", dst, err)
	}
	return nil
}
