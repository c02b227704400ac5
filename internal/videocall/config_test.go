package videocall

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, uint16(8801), cfg.SignallingPort)
	assert.Greater(t, cfg.CallEndGrace, cfg.SilenceGrace)
	assert.Less(t, cfg.AudioMinBytes, cfg.VideoMinBytes)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no signalling port", func(c *Config) { c.SignallingPort = 0 }},
		{"negative keepalive", func(c *Config) { c.KeepaliveMaxBytes = -1 }},
		{"audio above video", func(c *Config) { c.AudioMinBytes = 300 }},
		{"audio equals video", func(c *Config) { c.AudioMinBytes = c.VideoMinBytes }},
		{"zero min samples", func(c *Config) { c.MinSamplesPerCandidate = 0 }},
		{"zero window", func(c *Config) { c.DiscoveryWindow = 0 }},
		{"negative backoff", func(c *Config) { c.DiscoveryBackoff = -time.Second }},
		{"zero silence grace", func(c *Config) { c.SilenceGrace = 0 }},
		{"end grace not above silence grace", func(c *Config) { c.CallEndGrace = c.SilenceGrace }},
		{"zero tick", func(c *Config) { c.TickInterval = 0 }},
		{"unknown policy", func(c *Config) { c.DiscoveryPolicy = "vibes" }},
		{"count below min samples", func(c *Config) {
			c.DiscoveryPolicy = DiscoverByCount
			c.MinSamplesPerCandidate = 20
			c.DiscoveryPackets = 10
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigToProvider(t *testing.T) {
	cfg := DefaultConfig()
	obs := packet(audioPort, 100, 0)
	assert.True(t, cfg.toProvider(obs), "no networks matches every destination")

	cfg.ProviderNetworks = []netip.Prefix{
		netip.MustParsePrefix("198.51.100.0/24"),
		netip.MustParsePrefix("2001:db8::/32"),
	}
	assert.False(t, cfg.toProvider(obs))

	obs.DestAddr = netip.MustParseAddr("2001:db8::10")
	assert.True(t, cfg.toProvider(obs))

	obs.DestPort = 8802
	assert.False(t, cfg.toProvider(obs))
}
