package model

import (
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Latents are rounded to int8 symbols and entropy coded with zstd. The
// learned entropy models do not survive ONNX export, so the coder is generic.
var (
	symbolEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	symbolDecoder, _ = zstd.NewReader(nil)
)

func quantize(v float32) byte {
	r := math.Round(float64(v))
	if r < math.MinInt8 {
		r = math.MinInt8
	} else if r > math.MaxInt8 {
		r = math.MaxInt8
	}
	return byte(int8(r))
}

func encodeSymbols(latent []float32) []byte {
	symbols := make([]byte, len(latent))
	for i, v := range latent {
		symbols[i] = quantize(v)
	}
	return symbolEncoder.EncodeAll(symbols, make([]byte, 0, len(symbols)/4))
}

func decodeSymbols(data []byte, n int) ([]float32, error) {
	symbols, err := symbolDecoder.DecodeAll(data, make([]byte, 0, n))
	if err != nil {
		return nil, fmt.Errorf("failed to decode latent: %w", err)
	}
	if len(symbols) != n {
		return nil, fmt.Errorf("latent has %d symbols, shape needs %d", len(symbols), n)
	}
	out := make([]float32, n)
	for i, s := range symbols {
		out[i] = float32(int8(s))
	}
	return out, nil
}
