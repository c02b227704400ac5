// Package config loads calltally settings from an optional YAML file and
// converts them into the detection, capture and storage settings the other
// packages take.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/victortrac/calltally/internal/capture"
	"github.com/victortrac/calltally/internal/videocall"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the on-disk configuration. Durations use Go syntax ("1.5s").
type Config struct {
	// Capture
	Device      string        `yaml:"device"`
	Snaplen     int           `yaml:"snaplen"`
	Promiscuous bool          `yaml:"promiscuous"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Detection
	SignallingPort         uint16        `yaml:"signalling_port"`
	ProviderAddressPattern []string      `yaml:"provider_address_pattern"`
	KeepaliveMaxBytes      int           `yaml:"keepalive_max_bytes"`
	AudioMinBytes          int           `yaml:"audio_min_bytes"`
	VideoMinBytes          int           `yaml:"video_min_bytes"`
	DiscoveryPolicy        string        `yaml:"discovery_policy"`
	DiscoveryWindow        time.Duration `yaml:"discovery_window"`
	DiscoveryPackets       int           `yaml:"discovery_packets"`
	MinSamplesPerCandidate int           `yaml:"min_samples_per_candidate"`
	DiscoveryBackoff       time.Duration `yaml:"discovery_backoff"`
	SilenceGrace           time.Duration `yaml:"silence_grace"`
	CallEndGrace           time.Duration `yaml:"call_end_grace"`
	TickInterval           time.Duration `yaml:"tick_interval"`
	NarrowFilter           bool          `yaml:"narrow_filter"`

	// Application
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	Headless   bool   `yaml:"headless"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	d := videocall.DefaultConfig()
	return Config{
		Snaplen:                96,
		ReadTimeout:            100 * time.Millisecond,
		SignallingPort:         d.SignallingPort,
		KeepaliveMaxBytes:      d.KeepaliveMaxBytes,
		AudioMinBytes:          d.AudioMinBytes,
		VideoMinBytes:          d.VideoMinBytes,
		DiscoveryPolicy:        string(d.DiscoveryPolicy),
		DiscoveryWindow:        d.DiscoveryWindow,
		DiscoveryPackets:       d.DiscoveryPackets,
		MinSamplesPerCandidate: d.MinSamplesPerCandidate,
		DiscoveryBackoff:       d.DiscoveryBackoff,
		SilenceGrace:           d.SilenceGrace,
		CallEndGrace:           d.CallEndGrace,
		TickInterval:           d.TickInterval,
		NarrowFilter:           d.NarrowFilter,
		ListenAddr:             ":2112",
		DataDir:                defaultDataDir(),
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "calltally-data"
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "calltally")
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if _, err := c.Detection(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat)
	}
	if c.Snaplen < 0 {
		return fmt.Errorf("%w: snaplen must not be negative", ErrInvalid)
	}
	return nil
}

// Networks parses ProviderAddressPattern. Bare addresses become host prefixes.
func (c Config) Networks() ([]netip.Prefix, error) {
	nets := make([]netip.Prefix, 0, len(c.ProviderAddressPattern))
	for _, s := range c.ProviderAddressPattern {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			addr, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("%w: provider address %q: %v", ErrInvalid, s, err)
			}
			nets = append(nets, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("%w: provider network %q: %v", ErrInvalid, s, err)
		}
		nets = append(nets, p.Masked())
	}
	return nets, nil
}

// Detection returns the validated detector settings.
func (c Config) Detection() (videocall.Config, error) {
	nets, err := c.Networks()
	if err != nil {
		return videocall.Config{}, err
	}
	d := videocall.Config{
		SignallingPort:         c.SignallingPort,
		ProviderNetworks:       nets,
		KeepaliveMaxBytes:      c.KeepaliveMaxBytes,
		AudioMinBytes:          c.AudioMinBytes,
		VideoMinBytes:          c.VideoMinBytes,
		DiscoveryPolicy:        videocall.DiscoveryPolicy(strings.ToLower(c.DiscoveryPolicy)),
		DiscoveryWindow:        c.DiscoveryWindow,
		DiscoveryPackets:       c.DiscoveryPackets,
		MinSamplesPerCandidate: c.MinSamplesPerCandidate,
		DiscoveryBackoff:       c.DiscoveryBackoff,
		SilenceGrace:           c.SilenceGrace,
		CallEndGrace:           c.CallEndGrace,
		TickInterval:           c.TickInterval,
		NarrowFilter:           c.NarrowFilter,
	}
	if err := d.Validate(); err != nil {
		return videocall.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return d, nil
}

// Capture returns the live capture settings.
func (c Config) Capture() (capture.LiveConfig, error) {
	nets, err := c.Networks()
	if err != nil {
		return capture.LiveConfig{}, err
	}
	return capture.LiveConfig{
		Device:         c.Device,
		Snaplen:        c.Snaplen,
		Promiscuous:    c.Promiscuous,
		ReadTimeout:    c.ReadTimeout,
		SignallingPort: c.SignallingPort,
		Networks:       nets,
	}, nil
}
