package metrics

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/neucomp/internal/device"
	"github.com/Brownie44l1/neucomp/internal/tensor"
)

func gradient(h, w int) *tensor.Tensor {
	t := tensor.New(3, h, w, device.CPU)
	for c := 0; c < 3; c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				t.Set(c, y, x, float32((x+y+c*7)%64)/63)
			}
		}
	}
	return t
}

func noisy(src *tensor.Tensor, amount float32, seed int64) *tensor.Tensor {
	r := rand.New(rand.NewSource(seed))
	out := tensor.New(src.Channels, src.Height, src.Width, src.Device)
	for i, v := range src.Data {
		out.Data[i] = v + (r.Float32()*2-1)*amount
	}
	return out.Clamp()
}

func TestBitsPerPixel(t *testing.T) {
	strings := [][][]byte{
		{make([]byte, 600), make([]byte, 5000)},
		{make([]byte, 400)},
	}
	assert.InDelta(t, 1.0, BitsPerPixel(strings, 80, 100), 1e-12)
	assert.Zero(t, BitsPerPixel(strings, 0, 100))
	assert.Zero(t, BitsPerPixel(nil, 10, 10))
}

func TestPSNR(t *testing.T) {
	x := gradient(32, 32)

	v, err := PSNR(x, x)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	zero := tensor.New(1, 4, 4, device.CPU)
	tenth := tensor.New(1, 4, 4, device.CPU)
	for i := range tenth.Data {
		tenth.Data[i] = 0.1
	}
	v, err = PSNR(zero, tenth)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, v, 1e-4)

	_, err = PSNR(x, gradient(32, 16))
	assert.Error(t, err)
}

func TestSSIM(t *testing.T) {
	x := gradient(48, 40)

	v, err := SSIM(x, x)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	v, err = SSIM(x, noisy(x, 0.2, 1))
	require.NoError(t, err)
	assert.Less(t, v, 1.0)
	assert.Greater(t, v, 0.0)

	_, err = SSIM(gradient(8, 8), gradient(8, 8))
	assert.ErrorIs(t, err, ErrTooSmall)
}

func TestSSIMDecreasesWithNoise(t *testing.T) {
	x := gradient(64, 64)
	light, err := SSIM(x, noisy(x, 0.05, 2))
	require.NoError(t, err)
	heavy, err := SSIM(x, noisy(x, 0.4, 2))
	require.NoError(t, err)
	assert.Greater(t, light, heavy)
}

func TestMSSSIM(t *testing.T) {
	x := gradient(200, 170)

	v, err := MSSSIM(x, x)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	v, err = MSSSIM(x, noisy(x, 0.3, 3))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.Less(t, v, 1.0)
}

func TestMSSSIMTooSmall(t *testing.T) {
	assert.Equal(t, 160, MinMSSSIMSide)

	x := gradient(160, 400)
	_, err := MSSSIM(x, x)
	assert.ErrorIs(t, err, ErrTooSmall)

	x = gradient(161, 161)
	_, err = MSSSIM(x, x)
	assert.NoError(t, err)
}

func TestPool(t *testing.T) {
	p := plane{data: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, h: 3, w: 3}
	out := p.pool()
	require.Equal(t, 2, out.h)
	require.Equal(t, 2, out.w)
	assert.Equal(t, []float64{0.25, 1.25, 2.75, 7}, out.data)

	even := plane{data: []float64{1, 1, 2, 2, 1, 1, 2, 2}, h: 2, w: 4}.pool()
	assert.Equal(t, []float64{1, 2}, even.data)
}

func TestGaussianWindow(t *testing.T) {
	assert.Len(t, window, windowSize)
	sum := 0.0
	for _, g := range window {
		sum += g
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Greater(t, window[5], window[4])
	assert.InDelta(t, window[0], window[10], 1e-15)
}
