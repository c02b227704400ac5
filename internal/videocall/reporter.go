package videocall

import (
	"github.com/sirupsen/logrus"
)

// Reporter receives call events in the order they happened.
type Reporter interface {
	Report(e Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(e Event)

func (f ReporterFunc) Report(e Event) { f(e) }

// Reporters fans every event out to each member in order.
type Reporters []Reporter

func (rs Reporters) Report(e Event) {
	for _, r := range rs {
		if r != nil {
			r.Report(e)
		}
	}
}

// LogReporter writes each event as one structured log entry. With a JSON
// formatter this is the machine-readable event stream.
type LogReporter struct {
	Logger *logrus.Logger
}

func NewLogReporter(logger *logrus.Logger) *LogReporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogReporter{Logger: logger}
}

func (r *LogReporter) Report(e Event) {
	fields := logrus.Fields{
		"event": string(e.Kind),
		"at":    e.Time,
	}
	switch e.Kind {
	case EventCallStarted, EventCallEnded:
		fields["audio_port"] = e.AudioPort
		fields["video_port"] = e.VideoPort
		fields["control_port"] = e.ControlPort
	case EventDiscoveryFailed:
		fields["reason"] = e.Reason
	}

	entry := r.Logger.WithFields(fields)
	if e.Kind == EventDiscoveryFailed {
		entry.Info("Discovery failed")
		return
	}
	entry.Info(string(e.Kind))
}
