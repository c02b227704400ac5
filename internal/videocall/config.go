package videocall

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// DiscoveryPolicy decides when a discovery cycle is classified.
type DiscoveryPolicy string

const (
	// DiscoverByWindow classifies once DiscoveryWindow has elapsed since the
	// first packet of the cycle.
	DiscoverByWindow DiscoveryPolicy = "window"
	// DiscoverByCount classifies as soon as three streams hold
	// DiscoveryPackets qualifying samples each, or when DiscoveryWindow
	// elapses, whichever comes first.
	DiscoverByCount DiscoveryPolicy = "count"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid detection config")

// Config holds the detection thresholds and timings.
type Config struct {
	SignallingPort   uint16
	ProviderNetworks []netip.Prefix // empty matches every destination

	KeepaliveMaxBytes int
	AudioMinBytes     int
	VideoMinBytes     int

	DiscoveryPolicy        DiscoveryPolicy
	DiscoveryWindow        time.Duration
	DiscoveryPackets       int
	MinSamplesPerCandidate int
	DiscoveryBackoff       time.Duration

	SilenceGrace time.Duration
	CallEndGrace time.Duration

	TickInterval time.Duration
	NarrowFilter bool
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SignallingPort:         8801,
		KeepaliveMaxBytes:      40,
		AudioMinBytes:          50,
		VideoMinBytes:          200,
		DiscoveryPolicy:        DiscoverByWindow,
		DiscoveryWindow:        3 * time.Second,
		DiscoveryPackets:       50,
		MinSamplesPerCandidate: 1,
		DiscoveryBackoff:       time.Second,
		SilenceGrace:           1500 * time.Millisecond,
		CallEndGrace:           5 * time.Second,
		TickInterval:           250 * time.Millisecond,
		NarrowFilter:           true,
	}
}

// Validate checks the relations between thresholds.
func (c Config) Validate() error {
	switch {
	case c.SignallingPort == 0:
		return fmt.Errorf("%w: signalling port must be set", ErrInvalidConfig)
	case c.KeepaliveMaxBytes < 0:
		return fmt.Errorf("%w: keepalive threshold must not be negative", ErrInvalidConfig)
	case c.AudioMinBytes >= c.VideoMinBytes:
		return fmt.Errorf("%w: audio threshold %d must be below video threshold %d",
			ErrInvalidConfig, c.AudioMinBytes, c.VideoMinBytes)
	case c.MinSamplesPerCandidate < 1:
		return fmt.Errorf("%w: min samples per candidate must be at least 1", ErrInvalidConfig)
	case c.DiscoveryWindow <= 0:
		return fmt.Errorf("%w: discovery window must be positive", ErrInvalidConfig)
	case c.DiscoveryBackoff < 0:
		return fmt.Errorf("%w: discovery backoff must not be negative", ErrInvalidConfig)
	case c.SilenceGrace <= 0:
		return fmt.Errorf("%w: silence grace must be positive", ErrInvalidConfig)
	case c.CallEndGrace <= c.SilenceGrace:
		return fmt.Errorf("%w: call end grace %s must exceed silence grace %s",
			ErrInvalidConfig, c.CallEndGrace, c.SilenceGrace)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidConfig)
	}

	switch c.DiscoveryPolicy {
	case DiscoverByWindow:
	case DiscoverByCount:
		if c.DiscoveryPackets < c.MinSamplesPerCandidate {
			return fmt.Errorf("%w: discovery packets %d below min samples %d",
				ErrInvalidConfig, c.DiscoveryPackets, c.MinSamplesPerCandidate)
		}
	default:
		return fmt.Errorf("%w: unknown discovery policy %q", ErrInvalidConfig, c.DiscoveryPolicy)
	}
	return nil
}

// toProvider reports whether obs is headed for the provider's signalling port.
func (c Config) toProvider(obs Observation) bool {
	if obs.DestPort != c.SignallingPort {
		return false
	}
	if len(c.ProviderNetworks) == 0 {
		return true
	}
	addr := obs.DestAddr.Unmap()
	for _, p := range c.ProviderNetworks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
