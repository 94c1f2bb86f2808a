package imageio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/neucomp/internal/device"
)

func writeImage(t *testing.T, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestBoundsFit(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{"within bounds", 640, 480, 640, 480},
		{"wide oversized", 2000, 1500, 1024, 768},
		{"tall oversized", 500, 2000, 256, 1024},
		{"panorama", 2000, 500, 1024, 256},
		{"tiny square", 32, 32, 64, 64},
		{"narrow", 32, 100, 64, 200},
		{"short", 200, 40, 320, 64},
		{"exact bounds", 1024, 64, 1024, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := DefaultBounds.Fit(tt.w, tt.h)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestBoundsFitDisabled(t *testing.T) {
	w, h := Bounds{}.Fit(5000, 3)
	assert.Equal(t, 5000, w)
	assert.Equal(t, 3, h)
}

func TestLoadResizesLargeImage(t *testing.T) {
	path := writeImage(t, "large.png", 2000, 1500)
	l := &Loader{Bounds: DefaultBounds, Device: device.CPU}

	x, orig, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 2000, Y: 1500}, orig)
	assert.Equal(t, 1024, x.Width)
	assert.Equal(t, 768, x.Height)
	assert.Equal(t, 3, x.Channels)
	assert.Equal(t, []int64{1, 3, 768, 1024}, x.Shape())
}

func TestLoadUpscalesSmallImage(t *testing.T) {
	path := writeImage(t, "small.png", 32, 48)
	l := &Loader{Bounds: DefaultBounds, Device: device.CUDA}

	x, orig, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Point{X: 32, Y: 48}, orig)
	assert.Equal(t, 64, x.Width)
	assert.Equal(t, 96, x.Height)
	assert.Equal(t, device.CUDA, x.Device)
}

func TestLoadValuesInUnitRange(t *testing.T) {
	path := writeImage(t, "values.png", 80, 80)
	x, _, err := (&Loader{Bounds: DefaultBounds}).Load(path)
	require.NoError(t, err)
	for _, v := range x.Data {
		require.GreaterOrEqual(t, v, float32(0))
		require.LessOrEqual(t, v, float32(1))
	}
	// pixel (10, 20) was written as R=10 G=20 B=30
	assert.InDelta(t, 10.0/255, x.At(0, 20, 10), 1e-6)
	assert.InDelta(t, 20.0/255, x.At(1, 20, 10), 1e-6)
	assert.InDelta(t, 30.0/255, x.At(2, 20, 10), 1e-6)
}

func TestLoadDecodeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, _, err := (&Loader{Bounds: DefaultBounds}).Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestRoundTripKeepsDimensions(t *testing.T) {
	path := writeImage(t, "roundtrip.png", 300, 200)
	l := &Loader{Bounds: DefaultBounds}
	x, orig, err := l.Load(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Save(x, out, orig))

	y, orig2, err := l.Load(out)
	require.NoError(t, err)
	assert.Equal(t, orig, orig2)
	assert.Equal(t, x.Shape(), y.Shape())
	assert.InDelta(t, x.At(0, 50, 50), y.At(0, 50, 50), 1.0/255)
}

func TestSaveRestoresOriginalSize(t *testing.T) {
	path := writeImage(t, "panorama.jpg", 2000, 500)
	l := &Loader{Bounds: DefaultBounds}
	x, orig, err := l.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1024, x.Width)

	out := filepath.Join(t.TempDir(), "compressed_panorama.jpg")
	require.NoError(t, Save(x, out, orig))

	img, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 2000, img.Bounds().Dx())
	assert.Equal(t, 500, img.Bounds().Dy())
}

func TestToImageClamps(t *testing.T) {
	x := FromImage(image.NewNRGBA(image.Rect(0, 0, 2, 1)), device.CPU)
	x.Data[0] = -0.5
	x.Data[1] = 1.7
	img := ToImage(x)
	assert.Equal(t, uint8(0), img.Pix[0])
	assert.Equal(t, uint8(255), img.Pix[4])
	assert.Equal(t, uint8(255), img.Pix[3])
}

func TestReencode(t *testing.T) {
	src := writeImage(t, "src.png", 120, 90)
	dst := filepath.Join(t.TempDir(), "dst.jpg")
	require.NoError(t, Reencode(src, dst, 85))

	img, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())

	err = Reencode(filepath.Join(t.TempDir(), "missing.png"), dst, 85)
	assert.ErrorIs(t, err, ErrDecode)

	err = Reencode(src, filepath.Join(t.TempDir(), "dst.unknown"), 85)
	assert.Error(t, err)
}
