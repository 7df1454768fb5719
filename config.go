package fragments

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	yaml "gopkg.in/yaml.v3"
)

//go:embed fragments.yaml
var defaultConfig []byte

// ErrNoFragmentSource is returned by Config.Fetcher when there's neither a
// base URL nor a directory to read fragments from.
var ErrNoFragmentSource = errors.New("need a base URL or a directory to load fragments from")

// CacheConfig configures the cache shared between page views by long-lived
// processes.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Config is the YAML configuration of a Loader and the tools built on it.
type Config struct {
	BaseURL          string        `yaml:"base_url"`
	AllowCrossOrigin bool          `yaml:"allow_cross_origin"`
	Timeout          time.Duration `yaml:"timeout"`
	Targets          []Target      `yaml:"targets"`
	ActiveLinks      ActiveLinks   `yaml:"active_links"`
	Fallback         Fallback      `yaml:"fallback"`
	Cache            CacheConfig   `yaml:"cache"`
	LogLevel         string        `yaml:"log_level"`
}

// DefaultConfig returns the embedded default configuration as YAML.
func DefaultConfig() []byte {
	return bytes.Clone(defaultConfig)
}

func unmarshalConfig(data []byte, cfg *Config) error {
	// only fields we know about are accepted, so typos in a configuration
	// file don't get silently ignored
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode configuration data: %w", err)
	}
	return nil
}

// LoadConfig returns the default configuration with the values of the file
// at path laid on top of it, validated. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := unmarshalConfig(defaultConfig, cfg); err != nil {
		return nil, fmt.Errorf("failed to process default configuration: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := unmarshalConfig(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to process configuration file %q: %w", path, err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var err error
	if c.BaseURL != "" {
		base, perr := url.Parse(c.BaseURL)
		switch {
		case perr != nil:
			err = multierr.Append(err, fmt.Errorf("base_url: %w", perr))
		case !base.IsAbs():
			err = multierr.Append(err, fmt.Errorf("base_url: %q must be absolute", c.BaseURL))
		}
	}
	if c.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("timeout: must not be negative, got %s", c.Timeout))
	}
	if c.Cache.TTL < 0 {
		err = multierr.Append(err, fmt.Errorf("cache.ttl: must not be negative, got %s", c.Cache.TTL))
	}
	if len(c.Targets) == 0 {
		err = multierr.Append(err, errors.New("targets: need at least one target"))
	}
	containers := map[string]struct{}{}
	for i, target := range c.Targets {
		if target.Container == "" {
			err = multierr.Append(err, fmt.Errorf("targets[%d]: container is required", i))
		}
		if target.Source == "" {
			err = multierr.Append(err, fmt.Errorf("targets[%d]: source is required", i))
		}
		if _, ok := containers[target.Container]; ok && target.Container != "" {
			err = multierr.Append(err, fmt.Errorf("targets[%d]: container %q is already used", i, target.Container))
		}
		containers[target.Container] = struct{}{}
	}
	if _, lerr := parseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("log_level: %w", lerr))
	}
	return err
}

// Dump returns the configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// Level returns the slog level named by LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// Fetcher returns an HTTPFetcher for BaseURL, or, when BaseURL is empty, an
// FSFetcher reading from fsys.
func (c *Config) Fetcher(fsys fs.FS) (Fetcher, error) {
	if c.BaseURL == "" {
		if fsys == nil {
			return nil, ErrNoFragmentSource
		}
		return NewFSFetcher(fsys), nil
	}
	fetcher, err := NewHTTPFetcher(c.BaseURL, &http.Client{Timeout: c.Timeout})
	if err != nil {
		return nil, err
	}
	fetcher.AllowCrossOrigin = c.AllowCrossOrigin
	return fetcher, nil
}

// LoaderOptions returns the Options that apply the configuration to a
// Loader.
func (c *Config) LoaderOptions() []Option {
	return []Option{
		WithTargets(c.Targets...),
		WithActiveLinks(c.ActiveLinks),
		WithFallback(c.Fallback),
	}
}
