package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/neucomp/internal/compress"
	"github.com/Brownie44l1/neucomp/internal/device"
	"github.com/Brownie44l1/neucomp/internal/model"
	"github.com/Brownie44l1/neucomp/internal/storage"
	"github.com/Brownie44l1/neucomp/internal/telemetry"
)

const (
	compressedPrefix = "compressed_"
	uploadsURL       = "uploads/"
	cacheTimeout     = 2 * time.Second

	warningDegraded = "GPU ran out of memory, the image was compressed on the CPU"
	warningFallback = "Neural compression was not possible, the image was re-encoded as JPEG"
)

// Compressor runs the compression pipeline on a file.
type Compressor interface {
	CompressModel(family, input, output string, quality int) (*compress.Result, error)
	Family() string
	Device() device.Device
}

// RecordStore persists compression records.
type RecordStore interface {
	Insert(rec *storage.Record) (string, error)
	Records(limit int) ([]storage.Record, error)
}

// ResultCache caches responses by upload content.
type ResultCache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// Options configure a Handler.
type Options struct {
	UploadDir         string
	AllowedExtensions []string
	MaxUploadSize     int64
	DefaultQuality    int
	Build             BuildInfo
}

type Handler struct {
	compressor Compressor
	records    RecordStore
	cache      ResultCache
	metrics    *telemetry.Metrics
	opts       Options
	log        *zap.Logger
}

func NewHandler(compressor Compressor, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DefaultQuality == 0 {
		opts.DefaultQuality = 4
	}
	return &Handler{
		compressor: compressor,
		opts:       opts,
		log:        log.With(zap.String("component", "http")),
	}
}

// WithRecords enables persistence of compression records.
func (h *Handler) WithRecords(records RecordStore) *Handler {
	h.records = records
	return h
}

// WithCache enables the result cache.
func (h *Handler) WithCache(cache ResultCache) *Handler {
	h.cache = cache
	return h
}

// WithMetrics enables Prometheus metrics.
func (h *Handler) WithMetrics(m *telemetry.Metrics) *Handler {
	h.metrics = m
	return h
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "neucomp API is running."})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.opts.Build.Version,
		"host":    device.Describe(h.compressor.Device()),
		"model":   h.compressor.Family(),
	})
}

func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.opts.Build)
}

// Compress stores the uploaded image, compresses it and answers with the
// metrics and the location of both files.
func (h *Handler) Compress(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.uploadTooLarge(c)
			return
		}
		badRequest(c, "no file provided. Use 'file' as the form field name")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !h.allowedExtension(ext) {
		badRequest(c, fmt.Sprintf("unsupported file type. allowed types: %s", strings.Join(h.opts.AllowedExtensions, ", ")))
		return
	}
	if h.opts.MaxUploadSize > 0 && file.Size > h.opts.MaxUploadSize {
		h.uploadTooLarge(c)
		return
	}

	quality, err := h.quality(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	family := formValue(c, "model")
	if family == "" {
		family = h.compressor.Family()
	}
	if !model.KnownFamily(family) {
		badRequest(c, fmt.Sprintf("unknown model %q. available models: %s", family, strings.Join(model.Families, ", ")))
		return
	}

	name := uuid.NewString() + ext
	input := filepath.Join(h.opts.UploadDir, name)
	if err := c.SaveUploadedFile(file, input); err != nil {
		h.log.Error("failed to save upload", zap.String("file", input), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to save uploaded file"})
		return
	}
	h.log.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("stored_as", name),
		zap.Int64("size", file.Size),
		zap.Int("quality", quality),
		zap.String("model", family),
	)

	cacheKey := h.cacheKey(input, family, quality)
	if resp, ok := h.cached(c.Request.Context(), cacheKey); ok {
		if err := os.Remove(input); err != nil {
			h.log.Warn("failed to remove duplicate upload", zap.String("file", input), zap.Error(err))
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	outName := compressedPrefix + name
	output := filepath.Join(h.opts.UploadDir, outName)
	res, err := h.compressor.CompressModel(family, input, output, quality)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "compression failed: " + err.Error()})
		return
	}

	resp := &CompressResponse{
		Message:         "compression successful",
		OriginalImage:   uploadsURL + name,
		CompressedImage: uploadsURL + outName,
		Metrics:         res,
		SizeComparison:  compareSizes(input, output),
		Warning:         warningFor(res),
		Error:           res.Error,
	}

	if h.records != nil {
		id, err := h.records.Insert(&storage.Record{
			Filename:           name,
			OriginalName:       file.Filename,
			CompressedFilename: outName,
			Model:              res.Model,
			Quality:            res.Quality,
			BPP:                res.BPP,
			PSNR:               res.PSNR,
			SSIM:               res.SSIM,
			MSSSIM:             res.MSSSIM,
			Measured:           res.Measured,
			State:              res.State.String(),
			OriginalSize:       resp.SizeComparison.OriginalSize,
			CompressedSize:     resp.SizeComparison.CompressedSize,
		})
		if err != nil {
			h.log.Warn("failed to store compression record", zap.String("file", name), zap.Error(err))
		} else {
			resp.DatabaseID = id
		}
	}

	if res.Measured {
		h.store(c.Request.Context(), cacheKey, resp)
	}
	c.JSON(http.StatusOK, resp)
}

// Images lists stored compression records, newest first.
func (h *Handler) Images(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "database is not configured"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := h.records.Records(limit)
	if err != nil {
		h.log.Error("failed to list records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list images"})
		return
	}
	c.JSON(http.StatusOK, ImagesResponse{Images: records, Count: len(records)})
}

func (h *Handler) allowedExtension(ext string) bool {
	for _, allowed := range h.opts.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// quality reads the quality from the form or the query string.
func (h *Handler) quality(c *gin.Context) (int, error) {
	v := formValue(c, "quality")
	if v == "" {
		return model.ClampQuality(h.opts.DefaultQuality), nil
	}
	q, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("quality must be an integer between %d and %d", model.MinQuality, model.MaxQuality)
	}
	return model.ClampQuality(q), nil
}

func (h *Handler) cacheKey(path, family string, quality int) string {
	if h.cache == nil {
		return ""
	}
	sum, err := storage.FileMD5(path)
	if err != nil {
		h.log.Warn("failed to hash upload", zap.String("file", path), zap.Error(err))
		return ""
	}
	return storage.CacheKey(sum, family, quality)
}

func (h *Handler) cached(ctx context.Context, key string) (*CompressResponse, bool) {
	if key == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	var resp CompressResponse
	hit, err := h.cache.GetJSON(ctx, key, &resp)
	if err != nil {
		h.log.Warn("failed to read result cache", zap.Error(err))
		return nil, false
	}
	if !hit {
		return nil, false
	}
	compressed := filepath.Join(h.opts.UploadDir, strings.TrimPrefix(resp.CompressedImage, uploadsURL))
	if _, err := os.Stat(compressed); err != nil {
		return nil, false
	}
	h.log.Info("cache hit", zap.String("cache_key", key))
	if h.metrics != nil {
		h.metrics.CacheHit()
	}
	resp.Cached = true
	return &resp, true
}

func (h *Handler) store(ctx context.Context, key string, resp *CompressResponse) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := h.cache.SetJSON(ctx, key, resp); err != nil {
		h.log.Warn("failed to write result cache", zap.Error(err))
	}
}

func (h *Handler) uploadTooLarge(c *gin.Context) {
	badRequest(c, fmt.Sprintf("file exceeds the upload limit of %d MB", h.opts.MaxUploadSize/(1024*1024)))
}

func formValue(c *gin.Context, key string) string {
	if v := c.PostForm(key); v != "" {
		return v
	}
	return c.Query(key)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func warningFor(res *compress.Result) string {
	switch {
	case res.Degraded:
		return warningDegraded
	case !res.Measured:
		return warningFallback
	default:
		return ""
	}
}

func compareSizes(original, compressed string) SizeComparison {
	var sc SizeComparison
	if fi, err := os.Stat(original); err == nil {
		sc.OriginalSize = fi.Size()
	}
	if fi, err := os.Stat(compressed); err == nil {
		sc.CompressedSize = fi.Size()
	}
	if sc.OriginalSize > 0 {
		reduction := (1 - float64(sc.CompressedSize)/float64(sc.OriginalSize)) * 100
		sc.ReductionPercent = math.Round(reduction*100) / 100
	}
	return sc
}
