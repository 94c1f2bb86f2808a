// Package compress runs an image through a learned codec and reports rate
// and distortion, falling back to CPU inference or plain JPEG re-encoding
// when the codec cannot run.
package compress

import (
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/neucomp/internal/device"
	"github.com/Brownie44l1/neucomp/internal/imageio"
	"github.com/Brownie44l1/neucomp/internal/metrics"
	"github.com/Brownie44l1/neucomp/internal/model"
	"github.com/Brownie44l1/neucomp/internal/tensor"
)

// ErrAllMethodsFailed is returned when neither the codec nor the JPEG
// fallback produced an output.
var ErrAllMethodsFailed = errors.New("all compression methods failed")

const (
	// DefaultFallbackQuality is the JPEG quality used by the fallback states.
	DefaultFallbackQuality = 85

	NoteSmallImage = "Used fallback JPEG compression due to small image size"
	NoteError      = "Used fallback JPEG compression due to error"

	// similarityPlaceholder replaces SSIM and MS-SSIM when either cannot be
	// computed for a reconstruction.
	similarityPlaceholder = 0.9
)

// FallbackMetrics are reported when the learned codec was skipped.
var FallbackMetrics = Metrics{BPP: 0.5, PSNR: 35.0, SSIM: 0.95, MSSSIM: 0.98}

// Metrics are the rate and distortion figures of one compression.
type Metrics struct {
	BPP    float64 `json:"bpp"`
	PSNR   float64 `json:"psnr"`
	SSIM   float64 `json:"ssim"`
	MSSSIM float64 `json:"ms_ssim"`
}

// Result describes a finished compression. Measured is false when Metrics
// hold the fallback placeholders.
type Result struct {
	Metrics
	Error    string        `json:"error,omitempty"`
	Note     string        `json:"note,omitempty"`
	Degraded bool          `json:"degraded,omitempty"`
	Measured bool          `json:"measured"`
	Device   device.Device `json:"device,omitempty"`
	Model    string        `json:"model"`
	Quality  int           `json:"quality"`
	State    State         `json:"state"`
}

// Recorder observes finished compressions.
type Recorder interface {
	ObserveCompression(state string, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCompression(string, float64) {}

// Options configure a Service.
type Options struct {
	// Family is the model family used by Compress.
	Family string
	// FallbackQuality is the JPEG quality of the fallback states.
	FallbackQuality int
	// Bounds limit the size of images fed to the model.
	Bounds imageio.Bounds
}

// Service compresses image files with models from a registry.
type Service struct {
	models          *model.Registry
	images          *imageio.Loader
	family          string
	fallbackQuality int
	log             *zap.Logger
	recorder        Recorder
}

// NewService returns a Service that loads inputs onto the registry's device.
func NewService(models *model.Registry, opts Options, log *zap.Logger, rec Recorder) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if opts.Family == "" {
		opts.Family = model.FactorizedPrior
	}
	if opts.FallbackQuality <= 0 {
		opts.FallbackQuality = DefaultFallbackQuality
	}
	if opts.Bounds == (imageio.Bounds{}) {
		opts.Bounds = imageio.DefaultBounds
	}
	return &Service{
		models:          models,
		images:          &imageio.Loader{Bounds: opts.Bounds, Device: models.Device()},
		family:          opts.Family,
		fallbackQuality: opts.FallbackQuality,
		log:             log.With(zap.String("component", "compress")),
		recorder:        rec,
	}
}

// Family is the default model family.
func (s *Service) Family() string {
	return s.family
}

// Device is the device inputs are placed on.
func (s *Service) Device() device.Device {
	return s.models.Device()
}

// Compress compresses input with the default family and writes the
// reconstruction (or the JPEG fallback) to output.
func (s *Service) Compress(input, output string, quality int) (*Result, error) {
	return s.CompressModel(s.family, input, output, quality)
}

// CompressModel compresses input with the given model family. Quality is
// clamped to the supported range. The returned error is non-nil only when
// every method failed, and then wraps ErrAllMethodsFailed.
func (s *Service) CompressModel(family, input, output string, quality int) (*Result, error) {
	start := time.Now()
	r := &run{
		svc:     s,
		family:  family,
		quality: model.ClampQuality(quality),
		input:   input,
		output:  output,
	}
	r.log = s.log.With(zap.String("input", input), zap.String("model", model.Key(r.family, r.quality)))

	res, err := r.execute()
	state := Terminal
	if res != nil {
		state = res.State
	}
	elapsed := time.Since(start)
	s.recorder.ObserveCompression(state.String(), elapsed.Seconds())
	if err != nil {
		r.log.Error("compression failed", zap.Error(err), zap.Duration("cost", elapsed))
		return nil, err
	}
	r.log.Info("compression finished",
		zap.Stringer("state", state),
		zap.Float64("bpp", res.BPP),
		zap.Float64("psnr", res.PSNR),
		zap.Bool("measured", res.Measured),
		zap.Duration("cost", elapsed),
	)
	return res, nil
}

// run carries one compression through the state machine.
type run struct {
	svc     *Service
	log     *zap.Logger
	family  string
	quality int
	input   string
	output  string

	x     *tensor.Tensor
	orig  image.Point
	model model.Model

	cause       error
	fallbackErr error
}

func (r *run) execute() (*Result, error) {
	state := Primary
	for state != Terminal {
		var next State
		var res *Result
		switch state {
		case Primary:
			next, res = r.primary()
		case DeviceFallback:
			next, res = r.deviceFallback()
		case SizeFallback:
			next, res = r.sizeFallback()
		default:
			next, res = r.catchAll()
		}
		if res != nil {
			res.State = state
			res.Model = r.family
			res.Quality = r.quality
			return res, nil
		}
		r.log.Warn("compression state change",
			zap.Stringer("from", state), zap.Stringer("to", next), zap.Error(r.cause))
		state = next
	}
	return nil, fmt.Errorf("%w: %w (fallback: %v)", ErrAllMethodsFailed, r.cause, r.fallbackErr)
}

func (r *run) fail(next State, err error) (State, *Result) {
	r.cause = err
	return next, nil
}

func (r *run) primary() (State, *Result) {
	x, orig, err := r.svc.images.Load(r.input)
	if err != nil {
		return r.fail(CatchAll, err)
	}
	r.x, r.orig = x, orig

	m, err := r.svc.models.GetOrLoad(r.family, r.quality)
	if err != nil {
		return r.fail(CatchAll, err)
	}
	r.model = m

	if m.Device() != x.Device {
		r.log.Info("moving model to input device", zap.Stringer("from", m.Device()), zap.Stringer("to", x.Device))
		if err := m.To(x.Device); err != nil {
			return r.fail(classify(err), err)
		}
	}

	p, xHat, err := r.inference(x)
	if err != nil {
		return r.fail(classify(err), err)
	}
	return r.finish(x, p, xHat)
}

func (r *run) deviceFallback() (State, *Result) {
	if err := r.model.To(device.CPU); err != nil {
		return r.fail(reclassify(err), err)
	}
	x := r.x.To(device.CPU)
	p, xHat, err := r.inference(x)
	if err != nil {
		return r.fail(reclassify(err), err)
	}
	next, res := r.finish(x, p, xHat)
	if res != nil {
		res.Degraded = true
	}
	return next, res
}

func (r *run) sizeFallback() (State, *Result) {
	if err := imageio.Reencode(r.input, r.output, r.svc.fallbackQuality); err != nil {
		return r.fail(CatchAll, err)
	}
	return SizeFallback, &Result{Metrics: FallbackMetrics, Note: NoteSmallImage}
}

func (r *run) catchAll() (State, *Result) {
	if err := imageio.Reencode(r.input, r.output, r.svc.fallbackQuality); err != nil {
		r.fallbackErr = err
		return Terminal, nil
	}
	return CatchAll, &Result{Metrics: FallbackMetrics, Note: NoteError, Error: r.cause.Error()}
}

func (r *run) inference(x *tensor.Tensor) (*model.Payload, *tensor.Tensor, error) {
	p, err := r.model.Compress(x)
	if err != nil {
		return nil, nil, err
	}
	xHat, err := r.model.Decompress(p)
	if err != nil {
		return nil, nil, err
	}
	return p, xHat.Clamp(), nil
}

// finish writes the reconstruction and measures it against the input. The
// reported device is the one the decoder ran on, which differs from the
// input device when another request moved the shared model mid-run.
func (r *run) finish(x *tensor.Tensor, p *model.Payload, xHat *tensor.Tensor) (State, *Result) {
	if err := imageio.Save(xHat, r.output, r.orig); err != nil {
		return r.fail(CatchAll, err)
	}
	psnr, err := metrics.PSNR(x, xHat)
	if err != nil {
		return r.fail(CatchAll, err)
	}

	ssim, ssimErr := metrics.SSIM(x, xHat)
	msssim, msssimErr := metrics.MSSSIM(x, xHat)
	if err := errors.Join(ssimErr, msssimErr); err != nil {
		r.log.Warn("could not compute similarity metrics, using placeholders", zap.Error(err))
		ssim, msssim = similarityPlaceholder, similarityPlaceholder
	}

	return Primary, &Result{
		Metrics: Metrics{
			BPP:    metrics.BitsPerPixel(p.Strings, x.Height, x.Width),
			PSNR:   psnr,
			SSIM:   ssim,
			MSSSIM: msssim,
		},
		Measured: true,
		Degraded: xHat.Device != r.svc.Device(),
		Device:   xHat.Device,
	}
}

// classify picks the state that handles a failure of the primary path.
func classify(err error) State {
	switch {
	case model.IsOutOfMemory(err):
		return DeviceFallback
	case model.IsInputTooSmall(err):
		return SizeFallback
	default:
		return CatchAll
	}
}

// reclassify picks the state that handles a failure of the CPU retry.
func reclassify(err error) State {
	if model.IsInputTooSmall(err) {
		return SizeFallback
	}
	return CatchAll
}
