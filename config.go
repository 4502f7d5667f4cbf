package gpucmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a Service and the display it drives.
// The zero value is not usable; start from DefaultConfig.
type Config struct {
	// Driver names a registered driver. Empty selects the
	// highest-priority one.
	Driver string `toml:"driver" yaml:"driver"`

	// PageSize is the growth granularity of the frame command buffers.
	PageSize int `toml:"page_size" yaml:"page_size"`

	Width   int  `toml:"width" yaml:"width"`
	Height  int  `toml:"height" yaml:"height"`
	Samples int  `toml:"samples" yaml:"samples"`
	VSync   bool `toml:"vsync" yaml:"vsync"`

	// LogLevel is parsed with slog.Level.UnmarshalText.
	LogLevel string `toml:"log_level" yaml:"log_level"`

	Capacities Capacities `toml:"capacities" yaml:"capacities"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:   64 << 10,
		Width:      1280,
		Height:     720,
		Samples:    1,
		VSync:      true,
		LogLevel:   "info",
		Capacities: DefaultCapacities(),
	}
}

// Validate checks c for values no driver can honor.
func (c *Config) Validate() error {
	if c.PageSize < 0 {
		return fmt.Errorf("%w: page_size %d", ErrInvalidConfig, c.PageSize)
	}
	if c.Width < 0 || c.Width > MaxTextureSize || c.Height < 0 || c.Height > MaxTextureSize {
		return fmt.Errorf("%w: display size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	switch c.Samples {
	case 0, 1, 2, 4, 8, 16:
	default:
		return fmt.Errorf("%w: samples %d", ErrInvalidConfig, c.Samples)
	}
	caps := c.Capacities
	if caps.Buffers <= 0 || caps.Textures <= 0 || caps.Pipelines <= 0 || caps.Passes <= 0 || caps.Samplers <= 0 {
		return fmt.Errorf("%w: capacities must be positive: %+v", ErrInvalidConfig, caps)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Level returns LogLevel as a slog.Level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, err
	}
	return l, nil
}

// LoadConfig reads a TOML (.toml) or YAML (.yaml, .yml) file on top of
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gpucmd: read config: %w", err)
	}
	return ParseConfig(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// ParseConfig decodes data in the given format ("toml", "yaml" or "yml")
// on top of DefaultConfig and validates the result. Unknown keys are
// rejected.
func ParseConfig(data []byte, format string) (Config, error) {
	c := DefaultConfig()
	switch strings.ToLower(format) {
	case "toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return Config{}, fmt.Errorf("gpucmd: decode toml config: %w", err)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("gpucmd: decode yaml config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, format)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
