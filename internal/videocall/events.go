package videocall

import "time"

// EventKind names a discrete state transition.
type EventKind string

const (
	EventCallStarted     EventKind = "CallStarted"
	EventCallEnded       EventKind = "CallEnded"
	EventAudioOn         EventKind = "AudioOn"
	EventAudioOff        EventKind = "AudioOff"
	EventVideoOn         EventKind = "VideoOn"
	EventVideoOff        EventKind = "VideoOff"
	EventDiscoveryFailed EventKind = "DiscoveryFailed"
)

// Event is one timestamped transition. Ports are set on CallStarted and
// CallEnded, Reason on DiscoveryFailed.
type Event struct {
	Kind        EventKind `json:"kind"`
	Time        time.Time `json:"time"`
	Reason      string    `json:"reason,omitempty"`
	AudioPort   uint16    `json:"audio_port,omitempty"`
	VideoPort   uint16    `json:"video_port,omitempty"`
	ControlPort uint16    `json:"control_port,omitempty"`
}

func toggleEvent(role Role, on bool, at time.Time) Event {
	kind := EventAudioOff
	switch {
	case role == RoleAudio && on:
		kind = EventAudioOn
	case role == RoleVideo && on:
		kind = EventVideoOn
	case role == RoleVideo:
		kind = EventVideoOff
	}
	return Event{Kind: kind, Time: at}
}
