// Package metrics measures rate and distortion of a reconstructed image.
//
// SSIM and MS-SSIM follow the usual Gaussian-window formulation: an 11x11
// window with sigma 1.5, "valid" filtering, data range 1 and five MS-SSIM
// scales with 2x average pooling between them.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/Brownie44l1/neucomp/internal/tensor"
)

// ErrTooSmall is returned when an image is smaller than a metric's window.
var ErrTooSmall = errors.New("image is too small for the metric window")

const (
	windowSize = 11
	sigma      = 1.5
	dataRange  = 1.0

	c1 = (0.01 * dataRange) * (0.01 * dataRange)
	c2 = (0.03 * dataRange) * (0.03 * dataRange)

	// maxPSNR is reported for identical images.
	maxPSNR = 100
)

// msssimWeights are the per-scale exponents, finest scale first.
var msssimWeights = []float64{0.0448, 0.2856, 0.3001, 0.2363, 0.1333}

var window = gaussianWindow(windowSize, sigma)

// MinMSSSIMSide is the smallest image side MSSSIM accepts, exclusive.
var MinMSSSIMSide = (windowSize - 1) * (1 << (len(msssimWeights) - 1))

func gaussianWindow(size int, sigma float64) []float64 {
	g := make([]float64, size)
	center := float64(size / 2)
	for i := range g {
		d := float64(i) - center
		g[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(g), g)
	return g
}

// BitsPerPixel is the bit rate of a compressed payload: the first string of
// every group counts toward the total.
func BitsPerPixel(strings [][][]byte, height, width int) float64 {
	pixels := height * width
	if pixels <= 0 {
		return 0
	}
	total := 0
	for _, group := range strings {
		if len(group) > 0 {
			total += len(group[0])
		}
	}
	return float64(total) * 8 / float64(pixels)
}

// PSNR is the peak signal-to-noise ratio in dB for values in [0,1].
func PSNR(x, y *tensor.Tensor) (float64, error) {
	if err := tensor.SameShape(x, y); err != nil {
		return 0, fmt.Errorf("psnr: %w", err)
	}
	if len(x.Data) == 0 {
		return 0, fmt.Errorf("psnr: %w", ErrTooSmall)
	}
	d := floats.Distance(widen(x.Data), widen(y.Data), 2)
	mse := d * d / float64(len(x.Data))
	if mse == 0 {
		return maxPSNR, nil
	}
	return 20 * math.Log10(1/math.Sqrt(mse)), nil
}

// SSIM is the structural similarity of x and y averaged over channels.
func SSIM(x, y *tensor.Tensor) (float64, error) {
	if err := tensor.SameShape(x, y); err != nil {
		return 0, fmt.Errorf("ssim: %w", err)
	}
	if min(x.Height, x.Width) < windowSize {
		return 0, fmt.Errorf("ssim: %w: %dx%d", ErrTooSmall, x.Width, x.Height)
	}
	xs, ys := planes(x), planes(y)
	values := make([]float64, len(xs))
	for c := range xs {
		values[c], _ = compare(xs[c], ys[c])
	}
	return stat.Mean(values, nil), nil
}

// MSSSIM is the multi-scale structural similarity of x and y averaged over
// channels. The smaller side must exceed MinMSSSIMSide.
func MSSSIM(x, y *tensor.Tensor) (float64, error) {
	if err := tensor.SameShape(x, y); err != nil {
		return 0, fmt.Errorf("ms-ssim: %w", err)
	}
	if min(x.Height, x.Width) <= MinMSSSIMSide {
		return 0, fmt.Errorf("ms-ssim: %w: smaller side must exceed %d, got %dx%d",
			ErrTooSmall, MinMSSSIMSide, x.Width, x.Height)
	}

	xs, ys := planes(x), planes(y)
	values := make([]float64, len(xs))
	last := len(msssimWeights) - 1
	for c := range xs {
		xp, yp := xs[c], ys[c]
		scales := make([]float64, len(msssimWeights))
		for i := range msssimWeights {
			s, cs := compare(xp, yp)
			if i < last {
				scales[i] = max(cs, 0)
				xp, yp = xp.pool(), yp.pool()
				continue
			}
			scales[i] = max(s, 0)
		}
		v := 1.0
		for i, w := range msssimWeights {
			v *= math.Pow(scales[i], w)
		}
		values[c] = v
	}
	return stat.Mean(values, nil), nil
}

// compare returns the mean SSIM and mean contrast-structure term of a pair
// of planes.
func compare(x, y plane) (ssim, cs float64) {
	mu1, mu2 := x.filter(), y.filter()
	xx := x.mul(x).filter()
	yy := y.mul(y).filter()
	xy := x.mul(y).filter()

	n := len(mu1.data)
	ssimMap := make([]float64, n)
	csMap := make([]float64, n)
	for i := 0; i < n; i++ {
		m1, m2 := mu1.data[i], mu2.data[i]
		s1 := xx.data[i] - m1*m1
		s2 := yy.data[i] - m2*m2
		s12 := xy.data[i] - m1*m2
		csMap[i] = (2*s12 + c2) / (s1 + s2 + c2)
		ssimMap[i] = (2*m1*m2 + c1) / (m1*m1 + m2*m2 + c1) * csMap[i]
	}
	return stat.Mean(ssimMap, nil), stat.Mean(csMap, nil)
}

// plane is one channel of an image in row-major order.
type plane struct {
	data []float64
	h, w int
}

func planes(t *tensor.Tensor) []plane {
	out := make([]plane, t.Channels)
	for c := range out {
		out[c] = plane{data: widen(t.Plane(c)), h: t.Height, w: t.Width}
	}
	return out
}

func widen(src []float32) []float64 {
	dst := make([]float64, len(src))
	for i, v := range src {
		dst[i] = float64(v)
	}
	return dst
}

func (p plane) mul(q plane) plane {
	d := make([]float64, len(p.data))
	floats.MulTo(d, p.data, q.data)
	return plane{data: d, h: p.h, w: p.w}
}

// filter applies the separable Gaussian window without padding.
func (p plane) filter() plane {
	ow := p.w - windowSize + 1
	oh := p.h - windowSize + 1

	rows := make([]float64, p.h*ow)
	for y := 0; y < p.h; y++ {
		src := p.data[y*p.w : (y+1)*p.w]
		for x := 0; x < ow; x++ {
			rows[y*ow+x] = floats.Dot(window, src[x:x+windowSize])
		}
	}

	out := make([]float64, oh*ow)
	for y := 0; y < oh; y++ {
		dst := out[y*ow : (y+1)*ow]
		for k, g := range window {
			floats.AddScaled(dst, g, rows[(y+k)*ow:(y+k+1)*ow])
		}
	}
	return plane{data: out, h: oh, w: ow}
}

// pool halves the plane with a 2x2 average. Odd sides are zero padded by one
// on each end and padded zeros count toward the average.
func (p plane) pool() plane {
	ph, pw := p.h%2, p.w%2
	oh := (p.h+2*ph-2)/2 + 1
	ow := (p.w+2*pw-2)/2 + 1
	out := make([]float64, oh*ow)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			var s float64
			for dy := 0; dy < 2; dy++ {
				sy := 2*y - ph + dy
				if sy < 0 || sy >= p.h {
					continue
				}
				for dx := 0; dx < 2; dx++ {
					sx := 2*x - pw + dx
					if sx < 0 || sx >= p.w {
						continue
					}
					s += p.data[sy*p.w+sx]
				}
			}
			out[y*ow+x] = s / 4
		}
	}
	return plane{data: out, h: oh, w: ow}
}
