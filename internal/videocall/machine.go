package videocall

import (
	"context"
	"time"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// FSM event names.
const (
	fsmDiscover = "discover"
	fsmAssign   = "assign"
	fsmEnd      = "end"
	fsmAbandon  = "abandon"
)

// Machine composes the candidate tracker, classifier and monitor into the
// call lifecycle:
//
//	no_call -> discovering -> in_call -> no_call
//
// The caller supplies time through Observe and Tick; the machine clock only
// ever moves forward. Machine is not safe for concurrent use.
type Machine struct {
	cfg     Config
	phase   *fsm.FSM
	tracker *CandidateTracker
	monitor *Monitor

	now          time.Time
	windowStart  time.Time // first packet of the running discovery cycle
	lastTracked  time.Time // last signalling packet seen while discovering
	backoffUntil time.Time
	startedAt    time.Time

	audio bool
	video bool

	events []Event
}

func NewMachine(cfg Config) *Machine {
	m := &Machine{
		cfg:     cfg,
		tracker: NewCandidateTracker(cfg),
	}
	m.phase = fsm.NewFSM(
		string(PhaseNoCall),
		fsm.Events{
			{Name: fsmDiscover, Src: []string{string(PhaseNoCall)}, Dst: string(PhaseDiscovering)},
			{Name: fsmAssign, Src: []string{string(PhaseDiscovering)}, Dst: string(PhaseInCall)},
			{Name: fsmEnd, Src: []string{string(PhaseInCall)}, Dst: string(PhaseNoCall)},
			{Name: fsmAbandon, Src: []string{string(PhaseDiscovering)}, Dst: string(PhaseNoCall)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logrus.WithFields(logrus.Fields{
					"function": "Machine",
					"event":    e.Event,
					"from":     e.Src,
					"to":       e.Dst,
				}).Debug("Call phase changed")
			},
		},
	)
	return m
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	return Phase(m.phase.Current())
}

// Observe feeds one captured packet through the pipeline and returns the
// events it caused, in order.
func (m *Machine) Observe(obs Observation) []Event {
	m.events = nil
	m.advance(obs.Timestamp)

	switch m.Phase() {
	case PhaseNoCall:
		if !m.tracker.Accepts(obs) {
			break
		}
		m.transition(fsmDiscover)
		m.tracker.Reset()
		m.backoffUntil = time.Time{}
		m.windowStart = obs.Timestamp
		m.lastTracked = obs.Timestamp
		m.tracker.Observe(obs)
		m.maybeClassify()

	case PhaseDiscovering:
		if !m.tracker.Accepts(obs) {
			break
		}
		if obs.Timestamp.After(m.lastTracked) {
			m.lastTracked = obs.Timestamp
		}
		if m.now.Before(m.backoffUntil) {
			break
		}
		if m.windowStart.IsZero() {
			m.windowStart = obs.Timestamp
		}
		m.tracker.Observe(obs)
		m.maybeClassify()

	case PhaseInCall:
		if _, ok := m.monitor.Observe(obs); ok {
			m.refreshActivity()
		}
	}
	return m.events
}

// Tick re-evaluates silence at now without a packet and returns the events
// it caused.
func (m *Machine) Tick(now time.Time) []Event {
	m.events = nil
	m.advance(now)
	return m.events
}

// Stop ends a running call or discovery cycle at now, for when packets can no
// longer be observed.
func (m *Machine) Stop(now time.Time) []Event {
	m.events = nil
	if now.After(m.now) {
		m.now = now
	}
	switch m.Phase() {
	case PhaseInCall:
		m.endCall()
	case PhaseDiscovering:
		m.transition(fsmAbandon)
		m.resetDiscovery()
	}
	return m.events
}

// State returns a snapshot of the call state.
func (m *Machine) State() CallState {
	st := CallState{
		Phase:       m.Phase(),
		LastChecked: m.now,
	}
	if m.monitor != nil && st.Phase == PhaseInCall {
		st.InCall = true
		st.AudioActive = m.audio
		st.VideoActive = m.video
		st.AudioPort = m.monitor.Port(RoleAudio)
		st.VideoPort = m.monitor.Port(RoleVideo)
		st.ControlPort = m.monitor.Port(RoleControl)
		st.StartedAt = m.startedAt
	}
	return st
}

// Ports returns the bound ports during a call, nil otherwise.
func (m *Machine) Ports() []uint16 {
	if m.Phase() != PhaseInCall {
		return nil
	}
	return m.monitor.Ports()
}

// Candidates returns the streams of the running discovery cycle.
func (m *Machine) Candidates() []Candidate {
	return m.tracker.Snapshot()
}

func (m *Machine) advance(t time.Time) {
	if t.After(m.now) {
		m.now = t
	}

	switch m.Phase() {
	case PhaseDiscovering:
		if m.now.Sub(m.lastTracked) > m.cfg.CallEndGrace {
			logrus.WithFields(logrus.Fields{
				"function": "advance",
				"streams":  m.tracker.Len(),
			}).Info("Signalling traffic stopped before discovery finished")
			m.transition(fsmAbandon)
			m.resetDiscovery()
			return
		}
		m.maybeClassify()

	case PhaseInCall:
		m.refreshActivity()
		if m.monitor.SilentFor(m.now) > m.cfg.CallEndGrace {
			m.endCall()
		}
	}
}

func (m *Machine) maybeClassify() {
	if m.windowStart.IsZero() {
		return
	}
	elapsed := m.now.Sub(m.windowStart)
	switch m.cfg.DiscoveryPolicy {
	case DiscoverByCount:
		if elapsed < m.cfg.DiscoveryWindow && !m.enoughSamples() {
			return
		}
	default:
		if elapsed < m.cfg.DiscoveryWindow {
			return
		}
	}

	result := Classify(m.tracker.Snapshot(), m.cfg)
	if !result.Assigned {
		m.failDiscovery(result.Reason)
		return
	}
	m.startCall(result.Assignment)
}

func (m *Machine) enoughSamples() bool {
	ready := 0
	for _, c := range m.tracker.Snapshot() {
		if c.QualifyingCount >= m.cfg.DiscoveryPackets {
			ready++
		}
	}
	return ready >= 3
}

func (m *Machine) failDiscovery(reason string) {
	logrus.WithFields(logrus.Fields{
		"function": "failDiscovery",
		"reason":   reason,
		"backoff":  m.cfg.DiscoveryBackoff,
	}).Info("Discovery inconclusive, restarting")

	m.emit(Event{Kind: EventDiscoveryFailed, Time: m.now, Reason: reason})
	m.tracker.Reset()
	m.windowStart = time.Time{}
	m.backoffUntil = m.now.Add(m.cfg.DiscoveryBackoff)
	m.lastTracked = m.now
}

func (m *Machine) startCall(a Assignment) {
	m.monitor = NewMonitor(a, m.cfg, m.now)
	m.transition(fsmAssign)
	m.resetDiscovery()
	m.startedAt = m.now

	logrus.WithFields(logrus.Fields{
		"function":     "startCall",
		"audio_port":   a.Audio.Port,
		"video_port":   a.Video.Port,
		"control_port": a.Control.Port,
	}).Info("Call ports classified")

	m.emit(Event{
		Kind:        EventCallStarted,
		Time:        m.now,
		AudioPort:   a.Audio.Port,
		VideoPort:   a.Video.Port,
		ControlPort: a.Control.Port,
	})
	// CallStarted implies both on; report at once if either is already idle.
	m.audio, m.video = true, true
	m.refreshActivity()
}

func (m *Machine) endCall() {
	ports := m.monitor.Ports()
	m.transition(fsmEnd)
	m.emit(Event{
		Kind:        EventCallEnded,
		Time:        m.now,
		AudioPort:   ports[0],
		VideoPort:   ports[1],
		ControlPort: ports[2],
	})
	m.monitor = nil
	m.audio, m.video = false, false
	m.startedAt = time.Time{}
	m.resetDiscovery()
}

func (m *Machine) refreshActivity() {
	act := m.monitor.Activity(m.now)
	if act.Audio != m.audio {
		m.audio = act.Audio
		m.emit(toggleEvent(RoleAudio, act.Audio, m.now))
	}
	if act.Video != m.video {
		m.video = act.Video
		m.emit(toggleEvent(RoleVideo, act.Video, m.now))
	}
}

func (m *Machine) resetDiscovery() {
	m.tracker.Reset()
	m.windowStart = time.Time{}
	m.backoffUntil = time.Time{}
}

func (m *Machine) transition(name string) {
	if err := m.phase.Event(context.Background(), name); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "transition",
			"event":    name,
			"phase":    m.phase.Current(),
			"error":    err.Error(),
		}).Warn("Invalid call phase transition")
	}
}

func (m *Machine) emit(e Event) {
	m.events = append(m.events, e)
}
