package model

import (
	"errors"
	"fmt"

	"github.com/Brownie44l1/neucomp/internal/device"
	"github.com/Brownie44l1/neucomp/internal/tensor"
)

// Model families with pretrained weights.
const (
	FactorizedPrior = "bmshj2018-factorized"
	Anchor          = "cheng2020-anchor"
)

// Families lists the supported model families.
var Families = []string{FactorizedPrior, Anchor}

// Quality levels accepted by every family.
const (
	MinQuality = 1
	MaxQuality = 8
)

var (
	// ErrInputTooSmall is returned when the input is smaller than the
	// receptive field of the analysis transform.
	ErrInputTooSmall = errors.New("kernel size can't be greater than actual input size")

	// ErrOutOfMemory is returned when the device cannot hold the model or
	// its activations.
	ErrOutOfMemory = errors.New("device out of memory")

	// ErrUnknownFamily is returned for model families without weights.
	ErrUnknownFamily = errors.New("unknown model family")
)

// Metadata describes an exported model, read from metadata.json next to the
// encoder and decoder graphs.
type Metadata struct {
	Family         string   `json:"family"`
	Quality        int      `json:"quality"`
	EncoderInput   string   `json:"encoder_input"`
	EncoderOutputs []string `json:"encoder_outputs"`
	DecoderInputs  []string `json:"decoder_inputs"`
	DecoderOutput  string   `json:"decoder_output"`
	Stride         int      `json:"stride"`
	MinInputSize   int      `json:"min_input_size"`
}

func (m *Metadata) setDefaults() {
	if m.EncoderInput == "" {
		m.EncoderInput = "x"
	}
	if len(m.EncoderOutputs) == 0 {
		m.EncoderOutputs = []string{"y"}
	}
	if len(m.DecoderInputs) == 0 {
		m.DecoderInputs = []string{"y_hat"}
	}
	if m.DecoderOutput == "" {
		m.DecoderOutput = "x_hat"
	}
	if m.Stride <= 0 {
		m.Stride = 16
	}
	if m.MinInputSize <= 0 {
		m.MinInputSize = m.Stride
	}
}

// Payload is the compressed form of one image: one group of entropy coded
// strings per latent plus what is needed to reconstruct it.
type Payload struct {
	Strings [][][]byte
	Shapes  [][]int64
	Height  int
	Width   int
}

// Bytes is the total size of the first string of every group.
func (p *Payload) Bytes() int {
	n := 0
	for _, group := range p.Strings {
		if len(group) > 0 {
			n += len(group[0])
		}
	}
	return n
}

// Model is a pretrained learned image codec placed on a compute device.
type Model interface {
	Family() string
	Quality() int
	Device() device.Device
	// To moves the model to dev, releasing memory held on the old device.
	To(dev device.Device) error
	Compress(x *tensor.Tensor) (*Payload, error)
	Decompress(p *Payload) (*tensor.Tensor, error)
	Close() error
}

// Loader instantiates a model for a family and quality on a device.
type Loader interface {
	Load(family string, quality int, dev device.Device) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(family string, quality int, dev device.Device) (Model, error)

func (f LoaderFunc) Load(family string, quality int, dev device.Device) (Model, error) {
	return f(family, quality, dev)
}

// ClampQuality limits q to [MinQuality, MaxQuality].
func ClampQuality(q int) int {
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}

// Key is the registry key for a family and quality.
func Key(family string, quality int) string {
	return fmt.Sprintf("%s-%d", family, quality)
}

// KnownFamily reports whether family is one of Families.
func KnownFamily(family string) bool {
	for _, f := range Families {
		if f == family {
			return true
		}
	}
	return false
}
