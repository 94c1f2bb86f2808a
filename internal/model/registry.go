package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/neucomp/internal/device"
)

// Registry caches loaded models by family and quality for the life of the
// process. Entries are never evicted; there are at most MaxQuality entries
// per family.
type Registry struct {
	loader Loader
	device device.Device
	log    *zap.Logger

	mu     sync.RWMutex
	models map[string]Model
	group  singleflight.Group
}

// NewRegistry returns an empty registry that places new models on dev.
func NewRegistry(loader Loader, dev device.Device, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		loader: loader,
		device: dev,
		log:    log,
		models: make(map[string]Model),
	}
}

// Device is the device new models are placed on.
func (r *Registry) Device() device.Device {
	return r.device
}

// GetOrLoad returns the cached model for family and quality, loading it on
// first use. Concurrent first requests for the same key share one load.
// The device of a cached model is left as is.
func (r *Registry) GetOrLoad(family string, quality int) (Model, error) {
	quality = ClampQuality(quality)
	key := Key(family, quality)

	if m, ok := r.lookup(key); ok {
		r.log.Debug("using cached model", zap.String("model", key), zap.Stringer("device", m.Device()))
		return m, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if m, ok := r.lookup(key); ok {
			return m, nil
		}
		r.log.Info("loading model", zap.String("model", key), zap.Stringer("device", r.device))
		m, err := r.loader.Load(family, quality, r.device)
		if err != nil {
			return nil, fmt.Errorf("failed to load model %s: %w", key, err)
		}
		r.mu.Lock()
		r.models[key] = m
		r.mu.Unlock()
		r.log.Info("model loaded", zap.String("model", key), zap.Stringer("device", m.Device()))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Model), nil
}

func (r *Registry) lookup(key string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[key]
	return m, ok
}

// Keys lists the cached model keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.models))
	for k := range r.models {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len is the number of cached models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Close releases every cached model.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, m := range r.models {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
		delete(r.models, key)
	}
	return errors.Join(errs...)
}
