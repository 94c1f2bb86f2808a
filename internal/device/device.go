package device

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"
	"go.uber.org/zap"
)

// Device names the compute device a tensor or model is placed on.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

func (d Device) String() string {
	return string(d)
}

// Info describes the host the server runs on.
type Info struct {
	Device   Device   `json:"device"`
	GPUs     []string `json:"gpus,omitempty"`
	TotalRAM string   `json:"total_ram,omitempty"`
	FreeRAM  string   `json:"free_ram,omitempty"`
}

// gpuProbe is replaced in tests.
var gpuProbe = nvidiaCards

// Resolve maps a configured device name to a Device. "auto" (or empty)
// selects CUDA when an NVIDIA card is visible and CPU otherwise.
func Resolve(name string, log *zap.Logger) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu":
		return CPU, nil
	case "cuda", "gpu":
		return CUDA, nil
	case "", "auto":
		cards := gpuProbe()
		if len(cards) == 0 {
			log.Warn("CUDA is not available, using CPU for compression")
			return CPU, nil
		}
		for i, c := range cards {
			log.Info("detected GPU", zap.Int("index", i), zap.String("name", c))
		}
		return CUDA, nil
	default:
		return "", fmt.Errorf("unknown device %q, expected one of auto, cpu, cuda", name)
	}
}

// Describe reports the active device together with host GPU and memory details.
func Describe(active Device) Info {
	info := Info{Device: active, GPUs: gpuProbe()}
	host, err := sysinfo.Host()
	if err != nil {
		return info
	}
	mem, err := host.Memory()
	if err != nil {
		return info
	}
	info.TotalRAM = units.BytesSize(float64(mem.Total))
	info.FreeRAM = units.BytesSize(float64(mem.Available))
	return info
}

func nvidiaCards() []string {
	gpu, err := ghw.GPU()
	if err != nil {
		return nil
	}
	var cards []string
	for _, card := range gpu.GraphicsCards {
		if card.DeviceInfo == nil || card.DeviceInfo.Vendor == nil {
			continue
		}
		vendor := card.DeviceInfo.Vendor.Name
		if !strings.Contains(strings.ToUpper(vendor), "NVIDIA") {
			continue
		}
		name := vendor
		if card.DeviceInfo.Product != nil {
			name = card.DeviceInfo.Product.Name
		}
		cards = append(cards, name)
	}
	return cards
}
