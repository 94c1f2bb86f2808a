package main

import (
	"go.uber.org/zap"

	"github.com/Brownie44l1/neucomp/internal/compress"
	"github.com/Brownie44l1/neucomp/internal/config"
	"github.com/Brownie44l1/neucomp/internal/device"
	"github.com/Brownie44l1/neucomp/internal/imageio"
	"github.com/Brownie44l1/neucomp/internal/model"
	"github.com/Brownie44l1/neucomp/internal/telemetry"
)

// app is the compression pipeline built from the configuration.
type app struct {
	device   device.Device
	registry *model.Registry
	service  *compress.Service
}

func newApp(cfg *config.Config, log *zap.Logger, metrics *telemetry.Metrics) (*app, error) {
	dev, err := device.Resolve(cfg.Model.Device, log)
	if err != nil {
		return nil, err
	}
	info := device.Describe(dev)
	log.Info("compute device selected",
		zap.Stringer("device", dev),
		zap.Strings("gpus", info.GPUs),
		zap.String("total_ram", info.TotalRAM),
		zap.String("free_ram", info.FreeRAM),
	)

	loader, err := model.NewONNXLoader(cfg.Model.Root, cfg.Model.RuntimeLibrary)
	if err != nil {
		return nil, err
	}
	registry := model.NewRegistry(loader, dev, log.With(zap.String("component", "registry")))

	var recorder compress.Recorder
	if metrics != nil {
		recorder = metrics
	}
	service := compress.NewService(registry, compress.Options{
		Family:          cfg.Model.Family,
		FallbackQuality: cfg.Fallback.JPEGQuality,
		Bounds:          imageio.Bounds{Min: cfg.Image.MinSize, Max: cfg.Image.MaxSize},
	}, log, recorder)

	return &app{device: dev, registry: registry, service: service}, nil
}

func (a *app) Close(log *zap.Logger) {
	if err := a.registry.Close(); err != nil {
		log.Warn("failed to release models", zap.Error(err))
	}
	if err := model.ShutdownRuntime(); err != nil {
		log.Warn("failed to shut down ONNX runtime", zap.Error(err))
	}
}
