package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	logpkg "github.com/rzbill/tubed/pkg/log"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Listen         string        `json:"listen" yaml:"listen"`
	Port           int           `json:"port" yaml:"port"`
	User           string        `json:"user" yaml:"user"`
	MaxJobSize     int64         `json:"maxJobSize" yaml:"maxJobSize"`
	MaxJobsPerTube int           `json:"maxJobsPerTube" yaml:"maxJobsPerTube"`
	MaxJobs        int           `json:"maxJobs" yaml:"maxJobs"`
	Tick           Duration      `json:"tick" yaml:"tick"`
	AcceptRate     float64       `json:"acceptRate" yaml:"acceptRate"`
	AcceptBurst    int           `json:"acceptBurst" yaml:"acceptBurst"`
	Admin          AdminConfig   `json:"admin" yaml:"admin"`
	Log            logpkg.Config `json:"log" yaml:"log"`
}

// AdminConfig holds the optional admin listeners. Empty addresses disable them.
type AdminConfig struct {
	HTTP string `json:"http" yaml:"http"`
	GRPC string `json:"grpc" yaml:"grpc"`
}

// Duration is a time.Duration written as a Go duration string ("10ms").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Listen:     "0.0.0.0",
		Port:       11300,
		MaxJobSize: 65535,
		Tick:       Duration{10 * time.Millisecond},
		Log:        logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Addr is the job protocol listen address.
func (c Config) Addr() string { return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port)) }

// Validate checks ranges.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	case c.MaxJobSize <= 0:
		return fmt.Errorf("%w: maxJobSize must be positive", ErrInvalid)
	case c.MaxJobSize > 1<<30:
		return fmt.Errorf("%w: maxJobSize %d too large", ErrInvalid, c.MaxJobSize)
	case c.MaxJobsPerTube < 0:
		return fmt.Errorf("%w: maxJobsPerTube must not be negative", ErrInvalid)
	case c.MaxJobs < 0:
		return fmt.Errorf("%w: maxJobs must not be negative", ErrInvalid)
	case c.Tick.Duration <= 0:
		return fmt.Errorf("%w: tick must be positive", ErrInvalid)
	case c.AcceptRate < 0:
		return fmt.Errorf("%w: acceptRate must not be negative", ErrInvalid)
	case c.AcceptBurst < 0:
		return fmt.Errorf("%w: acceptBurst must not be negative", ErrInvalid)
	}
	if c.Log.Level != "" {
		if _, err := logpkg.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}
