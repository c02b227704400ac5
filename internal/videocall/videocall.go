// Package videocall infers the audio and video state of a Zoom call from the
// sizes and timing of outbound UDP packets sent to the provider's signalling
// port. Nothing is decrypted: flows are classified by their average packet
// size during a discovery window and then monitored for silence.
package videocall

import (
	"context"
	"fmt"
	"net/netip"
	"time"
)

// Observation is a single outbound UDP packet as seen by the capture layer.
type Observation struct {
	SourcePort uint16
	DestPort   uint16
	DestAddr   netip.Addr
	Size       int // UDP length in bytes
	Timestamp  time.Time
}

// Role identifies what a source port carries.
type Role int

const (
	RoleUnknown Role = iota
	RoleAudio
	RoleVideo
	RoleControl
)

func (r Role) String() string {
	switch r {
	case RoleAudio:
		return "audio"
	case RoleVideo:
		return "video"
	case RoleControl:
		return "control"
	case RoleUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Phase is the lifecycle phase of the call.
type Phase string

const (
	PhaseNoCall      Phase = "no_call"
	PhaseDiscovering Phase = "discovering"
	PhaseInCall      Phase = "in_call"
)

// CallState represents the current video call status
type CallState struct {
	Phase       Phase     `json:"phase"`
	InCall      bool      `json:"in_call"`
	AudioActive bool      `json:"audio_active"`
	VideoActive bool      `json:"video_active"`
	AudioPort   uint16    `json:"audio_port,omitempty"`
	VideoPort   uint16    `json:"video_port,omitempty"`
	ControlPort uint16    `json:"control_port,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// StateCallback is called with the current state after every evaluation.
type StateCallback func(inCall, cameraActive, micActive bool, app string)

// Source delivers observations in capture order. Next blocks until a packet
// arrives, the context is done or the source is closed.
type Source interface {
	Next(ctx context.Context) (Observation, error)
	Close() error
}

// PortFilter is implemented by sources that can narrow their capture to the
// ports of an ongoing call.
type PortFilter interface {
	NarrowTo(ports []uint16) error
	Widen() error
}

// Replayer is implemented by sources that replay recorded traffic. Replayed
// sources are evaluated on packet time only; the wall-clock tick is disabled.
type Replayer interface {
	Replay() bool
}

// Detector provides video call detection capabilities
type Detector interface {
	// GetState returns the current call state
	GetState() CallState
	// IsInCall returns true while a call is in progress
	IsInCall() bool
	// SetCallback sets the callback for state updates
	SetCallback(cb StateCallback)
	// SetReporter sets the sink for call events
	SetReporter(r Reporter)
	// Run drains src until it is closed or ctx is done
	Run(ctx context.Context, src Source) error
}

// AppName is the application reported to state callbacks during a call.
const AppName = "Zoom"
