package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/neucomp/internal/device"
	"github.com/Brownie44l1/neucomp/internal/tensor"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime initializes the ONNX Runtime environment once per process.
// An empty libraryPath uses the platform default library name.
func InitRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return runtimeErr
}

// ShutdownRuntime tears down the ONNX Runtime environment.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXLoader loads exported models laid out as
// <root>/<family>/<quality>/{encoder.onnx,decoder.onnx,metadata.json}.
type ONNXLoader struct {
	root string
}

func NewONNXLoader(root, libraryPath string) (*ONNXLoader, error) {
	if err := InitRuntime(libraryPath); err != nil {
		return nil, err
	}
	return &ONNXLoader{root: root}, nil
}

func (l *ONNXLoader) Load(family string, quality int, dev device.Device) (Model, error) {
	if !KnownFamily(family) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	dir := filepath.Join(l.root, family, strconv.Itoa(quality))
	meta, err := ReadMetadata(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, err
	}

	m := &onnxModel{
		family:  family,
		quality: quality,
		dir:     dir,
		meta:    meta,
	}
	if err := m.open(dev); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadMetadata parses a model metadata file and fills in defaults.
func ReadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.setDefaults()
	return meta, nil
}

type onnxModel struct {
	family  string
	quality int
	dir     string
	meta    Metadata

	// mu guards the sessions: inference holds it shared, To holds it exclusively.
	mu      sync.RWMutex
	dev     device.Device
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
}

func (m *onnxModel) Family() string { return m.family }
func (m *onnxModel) Quality() int   { return m.quality }

func (m *onnxModel) Device() device.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dev
}

func (m *onnxModel) open(dev device.Device) error {
	opts, err := sessionOptions(dev)
	if err != nil {
		return runtimeError("session options", err)
	}
	defer opts.Destroy()

	encoder, err := ort.NewDynamicAdvancedSession(filepath.Join(m.dir, "encoder.onnx"),
		[]string{m.meta.EncoderInput}, m.meta.EncoderOutputs, opts)
	if err != nil {
		return runtimeError("failed to create encoder session", err)
	}
	decoder, err := ort.NewDynamicAdvancedSession(filepath.Join(m.dir, "decoder.onnx"),
		m.meta.DecoderInputs, []string{m.meta.DecoderOutput}, opts)
	if err != nil {
		encoder.Destroy()
		return runtimeError("failed to create decoder session", err)
	}

	m.encoder = encoder
	m.decoder = decoder
	m.dev = dev
	return nil
}

func sessionOptions(dev device.Device) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if dev != device.CUDA {
		return opts, nil
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to configure CUDA provider: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to enable CUDA provider: %w", err)
	}
	return opts, nil
}

func (m *onnxModel) To(dev device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dev == dev && m.encoder != nil {
		return nil
	}
	m.destroy()
	return m.open(dev)
}

func (m *onnxModel) Compress(x *tensor.Tensor) (*Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.encoder == nil {
		return nil, errClosed
	}
	padded, err := m.meta.pad(x)
	if err != nil {
		return nil, err
	}
	input, err := ort.NewTensor(ort.NewShape(padded.Shape()...), padded.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.ArbitraryTensor, len(m.meta.EncoderOutputs))
	if err := m.encoder.Run([]ort.ArbitraryTensor{input}, outputs); err != nil {
		return nil, runtimeError("compress", err)
	}
	defer destroyAll(outputs)
	return m.meta.payload(x, outputs)
}

func (m *onnxModel) Decompress(p *Payload) (*tensor.Tensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.decoder == nil {
		return nil, errClosed
	}
	if len(p.Strings) < len(m.meta.DecoderInputs) || len(p.Shapes) < len(m.meta.DecoderInputs) {
		return nil, fmt.Errorf("payload has %d latents, decoder needs %d", len(p.Strings), len(m.meta.DecoderInputs))
	}

	inputs := make([]ort.ArbitraryTensor, len(m.meta.DecoderInputs))
	defer destroyAll(inputs)
	for i := range m.meta.DecoderInputs {
		shape := ort.NewShape(p.Shapes[i]...)
		symbols, err := decodeSymbols(p.Strings[i][0], int(shape.FlattenedSize()))
		if err != nil {
			return nil, err
		}
		latent, err := ort.NewTensor(shape, symbols)
		if err != nil {
			return nil, fmt.Errorf("failed to create latent tensor: %w", err)
		}
		inputs[i] = latent
	}

	outputs := []ort.ArbitraryTensor{nil}
	if err := m.decoder.Run(inputs, outputs); err != nil {
		return nil, runtimeError("decompress", err)
	}
	defer destroyAll(outputs)
	return m.meta.reconstruction(outputs[0], m.dev, p.Height, p.Width)
}

// pad checks x against the receptive field and grows it to a multiple of
// the stride.
func (meta Metadata) pad(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Height < meta.MinInputSize || x.Width < meta.MinInputSize {
		return nil, fmt.Errorf("%w: input %dx%d, receptive field %d",
			ErrInputTooSmall, x.Width, x.Height, meta.MinInputSize)
	}
	return x.PadTo(tensor.RoundUp(x.Height, meta.Stride), tensor.RoundUp(x.Width, meta.Stride)), nil
}

// payload entropy codes the encoder outputs of x.
func (meta Metadata) payload(x *tensor.Tensor, outputs []ort.ArbitraryTensor) (*Payload, error) {
	p := &Payload{Height: x.Height, Width: x.Width}
	for i, out := range outputs {
		latent, ok := out.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("encoder output %s is not a float32 tensor", meta.EncoderOutputs[i])
		}
		p.Strings = append(p.Strings, [][]byte{encodeSymbols(latent.GetData())})
		p.Shapes = append(p.Shapes, append([]int64(nil), latent.GetShape()...))
	}
	return p, nil
}

// reconstruction copies the decoder output off the runtime and crops the
// stride padding.
func (meta Metadata) reconstruction(out ort.ArbitraryTensor, dev device.Device, height, width int) (*tensor.Tensor, error) {
	xHat, ok := out.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("decoder output %s is not a float32 tensor", meta.DecoderOutput)
	}
	shape := xHat.GetShape()
	if len(shape) != 4 || shape[1] != 3 {
		return nil, fmt.Errorf("unexpected decoder output shape %v", shape)
	}
	t := &tensor.Tensor{
		Data:     append([]float32(nil), xHat.GetData()...),
		Channels: 3,
		Height:   int(shape[2]),
		Width:    int(shape[3]),
		Device:   dev,
	}
	return t.Crop(height, width)
}

func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroy()
	return nil
}

func (m *onnxModel) destroy() {
	if m.encoder != nil {
		m.encoder.Destroy()
		m.encoder = nil
	}
	if m.decoder != nil {
		m.decoder.Destroy()
		m.decoder = nil
	}
}

var errClosed = errors.New("model is closed")

func destroyAll(values []ort.ArbitraryTensor) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// runtimeError wraps a runtime failure, tagging allocation failures with
// ErrOutOfMemory.
func runtimeError(op string, err error) error {
	if IsOutOfMemory(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrOutOfMemory, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
