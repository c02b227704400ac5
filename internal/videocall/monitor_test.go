package videocall

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAssignment(last time.Duration) Assignment {
	return Assignment{
		Audio:   Candidate{Port: audioPort, LastQualifying: at(last)},
		Video:   Candidate{Port: videoPort, LastQualifying: at(last)},
		Control: Candidate{Port: controlPort, LastQualifying: at(last)},
	}
}

func TestMonitorSilenceIsMonotonic(t *testing.T) {
	cfg := testConfig()
	m := NewMonitor(testAssignment(0), cfg, at(0))

	const last = 2 * time.Second
	role, ok := m.Observe(packet(audioPort, 90, last))
	require.Equal(t, RoleAudio, role)
	require.True(t, ok)

	// Keepalives on the same port never extend activity.
	for d := last + 100*time.Millisecond; d < last+3*time.Second; d += 100 * time.Millisecond {
		role, ok := m.Observe(packet(audioPort, cfg.KeepaliveMaxBytes, d))
		assert.Equal(t, RoleAudio, role)
		assert.False(t, ok)
	}

	for d := last; d < last+cfg.SilenceGrace; d += 50 * time.Millisecond {
		assert.True(t, m.Activity(at(d)).Audio, "active at +%s", d-last)
	}
	assert.True(t, m.Activity(at(last+cfg.SilenceGrace-time.Nanosecond)).Audio)
	for d := last + cfg.SilenceGrace; d < last+10*time.Second; d += 250 * time.Millisecond {
		assert.False(t, m.Activity(at(d)).Audio, "inactive at +%s", d-last)
	}
}

func TestMonitorLatePacketsNeverMoveBackwards(t *testing.T) {
	cfg := testConfig()
	m := NewMonitor(testAssignment(0), cfg, at(0))

	m.Observe(packet(videoPort, 300, 5*time.Second))
	m.Observe(packet(videoPort, 300, 4*time.Second))

	assert.True(t, m.Activity(at(6*time.Second)).Video)
	for _, b := range m.Bindings() {
		if b.Role == RoleVideo {
			assert.Equal(t, at(5*time.Second), b.LastQualifying)
		}
	}
}

func TestMonitorFreshBindingActiveUntilGrace(t *testing.T) {
	cfg := testConfig()
	assigned := at(3 * time.Second)
	m := NewMonitor(Assignment{
		Audio:   Candidate{Port: audioPort},
		Video:   Candidate{Port: videoPort},
		Control: Candidate{Port: controlPort},
	}, cfg, assigned)

	act := m.Activity(assigned)
	assert.True(t, act.Audio)
	assert.True(t, act.Video)
	assert.True(t, act.Control)

	act = m.Activity(assigned.Add(cfg.SilenceGrace))
	assert.False(t, act.Audio)
	assert.False(t, act.Video)
}

func TestMonitorIgnoresUnboundPorts(t *testing.T) {
	m := NewMonitor(testAssignment(0), testConfig(), at(0))

	role, ok := m.Observe(packet(40000, 500, time.Second))
	assert.Equal(t, RoleUnknown, role)
	assert.False(t, ok)
	assert.False(t, m.Activity(at(2*time.Second)).Video)
}

func TestMonitorIgnoresTrafficNotForProvider(t *testing.T) {
	cfg := testConfig()
	cfg.ProviderNetworks = []netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")}
	m := NewMonitor(testAssignment(0), cfg, at(0))

	otherPort := packet(videoPort, 300, 5*time.Second)
	otherPort.DestPort = 53
	role, ok := m.Observe(otherPort)
	assert.Equal(t, RoleUnknown, role)
	assert.False(t, ok)

	otherHost := packet(videoPort, 300, 5*time.Second)
	otherHost.DestAddr = netip.MustParseAddr("198.51.100.7")
	_, ok = m.Observe(otherHost)
	assert.False(t, ok)
	assert.False(t, m.Activity(at(5*time.Second)).Video)

	role, ok = m.Observe(packet(videoPort, 300, 5*time.Second))
	assert.Equal(t, RoleVideo, role)
	assert.True(t, ok)
	assert.True(t, m.Activity(at(5*time.Second)).Video)
}

func TestMonitorControlFeedsLivenessOnly(t *testing.T) {
	cfg := testConfig()
	m := NewMonitor(testAssignment(0), cfg, at(0))

	m.Observe(packet(controlPort, 45, 10*time.Second))

	act := m.Activity(at(10 * time.Second))
	assert.False(t, act.Audio)
	assert.False(t, act.Video)
	assert.True(t, act.Control)
	assert.Equal(t, time.Second, m.SilentFor(at(11*time.Second)))
}

func TestMonitorPorts(t *testing.T) {
	m := NewMonitor(testAssignment(0), testConfig(), at(0))

	assert.Equal(t, []uint16{audioPort, videoPort, controlPort}, m.Ports())
	assert.Equal(t, videoPort, m.Port(RoleVideo))
	assert.Equal(t, uint16(0), m.Port(RoleUnknown))
}
