package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NEUCOMP_SERVER_PORT.
const EnvPrefix = "NEUCOMP"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Model    ModelConfig    `mapstructure:"model"`
	Image    ImageConfig    `mapstructure:"image"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Log      LogConfig      `mapstructure:"log"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// LimiterRate is a ulule/limiter formatted rate such as "60-M".
	// Empty disables rate limiting.
	LimiterRate    string   `mapstructure:"limiter_rate"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// FrontendDir holds a built frontend served at /.
	FrontendDir string `mapstructure:"frontend_dir"`
	// Domains enables LetsEncrypt TLS for the listed hosts.
	Domains []string `mapstructure:"domains"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`
	Dir               string   `mapstructure:"dir"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

type ModelConfig struct {
	Root           string `mapstructure:"root"`
	Family         string `mapstructure:"family"`
	Device         string `mapstructure:"device"`
	DefaultQuality int    `mapstructure:"default_quality"`
	// RuntimeLibrary is the path of the onnxruntime shared library.
	RuntimeLibrary string `mapstructure:"runtime_library"`
}

type ImageConfig struct {
	MinSize int `mapstructure:"min_size"`
	MaxSize int `mapstructure:"max_size"`
}

type FallbackConfig struct {
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

type LogConfig struct {
	// File is a rotatelogs pattern; empty logs to stderr only.
	File string `mapstructure:"file"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Load reads configPath on top of the defaults. A missing file leaves the
// defaults in place; environment variables override both.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil && !notFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_SERVER_PORT") == "" {
		cfg.Server.Port = ":" + strings.TrimPrefix(port, ":")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is empty"))
	}
	if c.Upload.Dir == "" {
		errs = append(errs, errors.New("upload.dir is empty"))
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("upload.allowed_extensions is empty"))
	}
	if c.Image.MinSize > 0 && c.Image.MaxSize > 0 && c.Image.MinSize > c.Image.MaxSize {
		errs = append(errs, fmt.Errorf("image.min_size %d exceeds image.max_size %d", c.Image.MinSize, c.Image.MaxSize))
	}
	if c.Fallback.JPEGQuality < 1 || c.Fallback.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("fallback.jpeg_quality %d is outside 1-100", c.Fallback.JPEGQuality))
	}
	return errors.Join(errs...)
}

func notFound(err error) bool {
	var vErr viper.ConfigFileNotFoundError
	return errors.As(err, &vErr) || errors.Is(err, os.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.limiter_rate", "120-M")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.frontend_dir", "")
	v.SetDefault("server.domains", []string{})

	v.SetDefault("upload.max_size", 20*1024*1024)
	v.SetDefault("upload.dir", "uploads")
	v.SetDefault("upload.allowed_extensions", []string{".jpg", ".jpeg", ".png"})

	v.SetDefault("model.root", "./models")
	v.SetDefault("model.family", "bmshj2018-factorized")
	v.SetDefault("model.device", "auto")
	v.SetDefault("model.default_quality", 4)
	v.SetDefault("model.runtime_library", "")

	v.SetDefault("image.min_size", 64)
	v.SetDefault("image.max_size", 1024)

	v.SetDefault("fallback.jpeg_quality", 85)

	v.SetDefault("log.file", "")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "neucomp")
	v.SetDefault("mongo.collection", "compressed_images")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
}
