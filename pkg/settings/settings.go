package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when loaded settings fail validation.
var ErrInvalid = errors.New("invalid settings")

// Settings holds the server's startup configuration
type Settings struct {
	Listen      string        `yaml:"listen"`       // host:port for HTTP and websocket
	PoolSize    int           `yaml:"pool_size"`    // number of viewport slots
	Rotate      bool          `yaml:"rotate"`       // round-robin slot allocation
	ImagePath   string        `yaml:"image_path"`   // file feeding the shared image, optional
	PongTimeout time.Duration `yaml:"pong_timeout"` // silence allowed before a peer is dropped
	ReadLimit   int64         `yaml:"read_limit"`   // max incoming frame size in bytes
	LogLevel    string        `yaml:"log_level"`    // debug, info, warn, error
}

// DefaultSettings returns the default settings
func DefaultSettings() Settings {
	return Settings{
		Listen:      ":8080",
		PoolSize:    4,
		Rotate:      true,
		PongTimeout: 15 * time.Second,
		ReadLimit:   64 * 1024,
		LogLevel:    "info",
	}
}

// DefaultPath returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the platform user config dir.
func DefaultPath() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "viewshare")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "viewshare")
	}

	return filepath.Join(configDir, "config.yaml"), nil
}

// Load reads settings from path, or from DefaultPath when path is empty.
// A missing file yields the defaults; fields absent from the file keep
// their default values.
func Load(path string) (Settings, error) {
	settings := DefaultSettings()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return settings, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("parse %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return DefaultSettings(), fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}

// Validate checks that settings are usable
func (s Settings) Validate() error {
	if s.PoolSize < 1 {
		return fmt.Errorf("%w: pool_size must be at least 1, got %d", ErrInvalid, s.PoolSize)
	}
	if s.Listen == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalid)
	}
	if s.PongTimeout < 0 {
		return fmt.Errorf("%w: pong_timeout is negative", ErrInvalid)
	}
	if s.ReadLimit < 0 {
		return fmt.Errorf("%w: read_limit is negative", ErrInvalid)
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalid, s.LogLevel)
	}
	return nil
}

// Save writes settings to path
func Save(path string, settings Settings) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
