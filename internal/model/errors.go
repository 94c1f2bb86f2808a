package model

import (
	"errors"
	"strings"
)

var (
	outOfMemoryPatterns = []string{
		"out of memory",
		"failed to allocate memory",
		"cudnn_status_alloc_failed",
		"cudaerrormemoryallocation",
		"bad_alloc",
	}
	inputTooSmallPatterns = []string{
		"kernel size can't be greater than actual input size",
		"input size is smaller than the kernel",
	}
)

// IsOutOfMemory reports whether err is a device memory exhaustion failure.
func IsOutOfMemory(err error) bool {
	return err != nil && (errors.Is(err, ErrOutOfMemory) || matchAny(err.Error(), outOfMemoryPatterns))
}

// IsInputTooSmall reports whether err says the input is smaller than the
// model's receptive field.
func IsInputTooSmall(err error) bool {
	return err != nil && (errors.Is(err, ErrInputTooSmall) || matchAny(err.Error(), inputTooSmallPatterns))
}

func matchAny(msg string, patterns []string) bool {
	msg = strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
