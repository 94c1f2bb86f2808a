package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8000", cfg.Server.Port)
	assert.Equal(t, []string{".jpg", ".jpeg", ".png"}, cfg.Upload.AllowedExtensions)
	assert.Equal(t, "bmshj2018-factorized", cfg.Model.Family)
	assert.Equal(t, 4, cfg.Model.DefaultQuality)
	assert.Equal(t, 64, cfg.Image.MinSize)
	assert.Equal(t, 1024, cfg.Image.MaxSize)
	assert.Equal(t, 85, cfg.Fallback.JPEGQuality)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: ":9000"
  mode: release
model:
  family: cheng2020-anchor
  device: cpu
fallback:
  jpeg_quality: 70
redis:
  addr: localhost:6379
  ttl: 10m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "cheng2020-anchor", cfg.Model.Family)
	assert.Equal(t, "cpu", cfg.Model.Device)
	assert.Equal(t, 70, cfg.Fallback.JPEGQuality)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	// untouched keys keep their defaults
	assert.Equal(t, "uploads", cfg.Upload.Dir)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NEUCOMP_MODEL_DEVICE", "cuda")
	t.Setenv("PORT", "7000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cuda", cfg.Model.Device)
	assert.Equal(t, ":7000", cfg.Server.Port)

	t.Setenv("NEUCOMP_SERVER_PORT", ":7100")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.Server.Port)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fallback:\n  jpeg_quality: 0\nimage:\n  min_size: 2048\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback.jpeg_quality")
	assert.Contains(t, err.Error(), "image.min_size")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to read config file")
}
