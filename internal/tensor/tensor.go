// Package tensor holds the image tensor passed between the image adapter,
// the model runtime and the metric calculator.
package tensor

import (
	"fmt"

	"github.com/Brownie44l1/neucomp/internal/device"
)

// Tensor is a [1, C, H, W] float32 image stored channel-major (CHW).
type Tensor struct {
	Data     []float32
	Channels int
	Height   int
	Width    int
	Device   device.Device
}

// New allocates a zeroed tensor on dev.
func New(channels, height, width int, dev device.Device) *Tensor {
	return &Tensor{
		Data:     make([]float32, channels*height*width),
		Channels: channels,
		Height:   height,
		Width:    width,
		Device:   dev,
	}
}

// Shape returns the NCHW shape.
func (t *Tensor) Shape() []int64 {
	return []int64{1, int64(t.Channels), int64(t.Height), int64(t.Width)}
}

// At returns the value at channel c, row y, column x.
func (t *Tensor) At(c, y, x int) float32 {
	return t.Data[(c*t.Height+y)*t.Width+x]
}

// Set stores v at channel c, row y, column x.
func (t *Tensor) Set(c, y, x int, v float32) {
	t.Data[(c*t.Height+y)*t.Width+x] = v
}

// Plane returns the slice backing channel c.
func (t *Tensor) Plane(c int) []float32 {
	n := t.Height * t.Width
	return t.Data[c*n : (c+1)*n]
}

// To places the tensor on dev. Host memory is shared by both devices, the
// model runtime copies inputs to the device at run time, so only the tag moves.
func (t *Tensor) To(dev device.Device) *Tensor {
	if t.Device == dev {
		return t
	}
	return &Tensor{
		Data:     t.Data,
		Channels: t.Channels,
		Height:   t.Height,
		Width:    t.Width,
		Device:   dev,
	}
}

// Clamp limits every value to [0,1] in place.
func (t *Tensor) Clamp() *Tensor {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		} else if v > 1 {
			t.Data[i] = 1
		}
	}
	return t
}

// SameShape reports an error when a and b differ in shape.
func SameShape(a, b *Tensor) error {
	if a.Channels != b.Channels || a.Height != b.Height || a.Width != b.Width {
		return fmt.Errorf("tensor shape mismatch: %v vs %v", a.Shape(), b.Shape())
	}
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor%v on %s", t.Shape(), t.Device)
}

// PadTo returns a copy of t grown to height x width by repeating the last
// row and column. t is returned unchanged when it already has that size.
func (t *Tensor) PadTo(height, width int) *Tensor {
	if height == t.Height && width == t.Width {
		return t
	}
	out := New(t.Channels, height, width, t.Device)
	for c := 0; c < t.Channels; c++ {
		for y := 0; y < height; y++ {
			sy := min(y, t.Height-1)
			for x := 0; x < width; x++ {
				out.Set(c, y, x, t.At(c, sy, min(x, t.Width-1)))
			}
		}
	}
	return out
}

// Crop returns the top-left height x width region of t.
func (t *Tensor) Crop(height, width int) (*Tensor, error) {
	if height > t.Height || width > t.Width {
		return nil, fmt.Errorf("crop %dx%d exceeds tensor %dx%d", width, height, t.Width, t.Height)
	}
	if height == t.Height && width == t.Width {
		return t, nil
	}
	out := New(t.Channels, height, width, t.Device)
	for c := 0; c < t.Channels; c++ {
		for y := 0; y < height; y++ {
			src := t.Data[(c*t.Height+y)*t.Width:]
			copy(out.Data[(c*height+y)*width:(c*height+y+1)*width], src[:width])
		}
	}
	return out, nil
}

// RoundUp rounds n up to a multiple of stride.
func RoundUp(n, stride int) int {
	if stride <= 1 {
		return n
	}
	return (n + stride - 1) / stride * stride
}
