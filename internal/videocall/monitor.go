package videocall

import "time"

// RoleBinding ties a role to the port that carries it during a call.
type RoleBinding struct {
	Role           Role      `json:"role"`
	Port           uint16    `json:"port"`
	LastQualifying time.Time `json:"last_qualifying"`
}

// Activity is the debounced on/off level of each role.
type Activity struct {
	Audio   bool
	Video   bool
	Control bool
}

// Monitor tracks silence on the ports of a classified call. Activity is a
// level recomputed from elapsed time, so evaluating it repeatedly is
// idempotent and a single lost packet never toggles it.
type Monitor struct {
	cfg      Config
	bindings [3]RoleBinding // audio, video, control
}

// NewMonitor binds the roles of a. A binding starts from the last qualifying
// packet its stream sent during discovery, or from assignedAt when it sent
// none, so a fresh binding stays active for one silence grace.
func NewMonitor(a Assignment, cfg Config, assignedAt time.Time) *Monitor {
	seed := func(c Candidate) time.Time {
		if c.LastQualifying.IsZero() {
			return assignedAt
		}
		return c.LastQualifying
	}
	return &Monitor{
		cfg: cfg,
		bindings: [3]RoleBinding{
			{Role: RoleAudio, Port: a.Audio.Port, LastQualifying: seed(a.Audio)},
			{Role: RoleVideo, Port: a.Video.Port, LastQualifying: seed(a.Video)},
			{Role: RoleControl, Port: a.Control.Port, LastQualifying: seed(a.Control)},
		},
	}
}

// Observe updates the binding matching obs.SourcePort. It returns the bound
// role and whether the packet counted as qualifying activity. Packets not
// headed for the provider are ignored.
func (m *Monitor) Observe(obs Observation) (Role, bool) {
	if !m.cfg.toProvider(obs) {
		return RoleUnknown, false
	}
	for i := range m.bindings {
		b := &m.bindings[i]
		if b.Port != obs.SourcePort {
			continue
		}
		if obs.Size <= m.cfg.KeepaliveMaxBytes {
			return b.Role, false
		}
		// Monotonic maximum: late packets never move activity backwards.
		if obs.Timestamp.After(b.LastQualifying) {
			b.LastQualifying = obs.Timestamp
		}
		return b.Role, true
	}
	return RoleUnknown, false
}

// Activity reports which roles had qualifying traffic within the silence
// grace before now.
func (m *Monitor) Activity(now time.Time) Activity {
	active := func(b RoleBinding) bool {
		return now.Sub(b.LastQualifying) < m.cfg.SilenceGrace
	}
	return Activity{
		Audio:   active(m.bindings[0]),
		Video:   active(m.bindings[1]),
		Control: active(m.bindings[2]),
	}
}

// SilentFor returns how long the most recently active binding has been
// silent at now.
func (m *Monitor) SilentFor(now time.Time) time.Duration {
	latest := m.bindings[0].LastQualifying
	for _, b := range m.bindings[1:] {
		if b.LastQualifying.After(latest) {
			latest = b.LastQualifying
		}
	}
	return now.Sub(latest)
}

// Bindings returns a copy of the role bindings.
func (m *Monitor) Bindings() []RoleBinding {
	out := make([]RoleBinding, len(m.bindings))
	copy(out, m.bindings[:])
	return out
}

// Ports returns the bound audio, video and control ports.
func (m *Monitor) Ports() []uint16 {
	return []uint16{m.bindings[0].Port, m.bindings[1].Port, m.bindings[2].Port}
}

// Port returns the port bound to role, or 0.
func (m *Monitor) Port(role Role) uint16 {
	for _, b := range m.bindings {
		if b.Role == role {
			return b.Port
		}
	}
	return 0
}
