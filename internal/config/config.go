// Package config loads peer-drop settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	appName = "peer-drop"

	// EnvPath overrides the config file location.
	EnvPath = "PEER_DROP_CONFIG"
)

type Config struct {
	Port           int           `yaml:"port"`
	DownloadDir    string        `yaml:"download_dir"`
	SenderName     string        `yaml:"sender_name"`
	ConsentTimeout time.Duration `yaml:"consent_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxConns       int           `yaml:"max_conns"`
	MaxTextSize    int64         `yaml:"max_text_size"`
	DialRetries    int           `yaml:"dial_retries"`
	SocketPath     string        `yaml:"socket_path"`
	DBPath         string        `yaml:"db_path"`
	LogLevel       string        `yaml:"log_level"`
}

// Dir is the directory holding the config file and the address book.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, appName)
}

func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	host, err := os.Hostname()
	if err != nil {
		host = appName
	}

	return Config{
		Port:           8080,
		DownloadDir:    filepath.Join(home, "Downloads"),
		SenderName:     host,
		ConsentTimeout: 2 * time.Minute,
		IdleTimeout:    30 * time.Second,
		MaxConns:       64,
		MaxTextSize:    16 << 20,
		DialRetries:    0,
		SocketPath:     filepath.Join(os.TempDir(), appName+".sock"),
		DBPath:         filepath.Join(Dir(), "peers.sqlite3"),
		LogLevel:       "info",
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.DownloadDir = expandHome(cfg.DownloadDir)
	cfg.SocketPath = expandHome(cfg.SocketPath)
	cfg.DBPath = expandHome(cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DownloadDir == "" {
		errs = append(errs, errors.New("download_dir is empty"))
	}
	if len(c.SenderName) > 255 || strings.IndexByte(c.SenderName, 0) >= 0 {
		errs = append(errs, errors.New("sender_name must be at most 255 bytes without NUL"))
	}
	if c.ConsentTimeout < 0 {
		errs = append(errs, errors.New("consent_timeout is negative"))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, errors.New("idle_timeout is negative"))
	}
	if c.MaxConns < 0 {
		errs = append(errs, errors.New("max_conns is negative"))
	}
	if c.MaxTextSize <= 0 {
		errs = append(errs, errors.New("max_text_size must be positive"))
	}
	if c.DialRetries < 0 {
		errs = append(errs, errors.New("dial_retries is negative"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
