package handlers

import (
	"github.com/Brownie44l1/neucomp/internal/compress"
	"github.com/Brownie44l1/neucomp/internal/storage"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SizeComparison compares the uploaded and compressed file sizes in bytes.
type SizeComparison struct {
	OriginalSize     int64   `json:"original_size"`
	CompressedSize   int64   `json:"compressed_size"`
	ReductionPercent float64 `json:"reduction_percent"`
}

// CompressResponse is returned by POST /api/compress.
type CompressResponse struct {
	Message         string           `json:"message"`
	OriginalImage   string           `json:"original_image"`
	CompressedImage string           `json:"compressed_image"`
	Metrics         *compress.Result `json:"metrics"`
	SizeComparison  SizeComparison   `json:"size_comparison"`
	Warning         string           `json:"warning,omitempty"`
	Error           string           `json:"error,omitempty"`
	DatabaseID      string           `json:"database_id,omitempty"`
	Cached          bool             `json:"cached,omitempty"`
}

// ImagesResponse is returned by GET /api/images.
type ImagesResponse struct {
	Images []storage.Record `json:"images"`
	Count  int              `json:"count"`
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}
