package videocall

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportersFanOut(t *testing.T) {
	var a, b []EventKind
	rs := Reporters{
		ReporterFunc(func(e Event) { a = append(a, e.Kind) }),
		nil,
		ReporterFunc(func(e Event) { b = append(b, e.Kind) }),
	}

	rs.Report(Event{Kind: EventCallStarted})
	rs.Report(Event{Kind: EventVideoOff})

	assert.Equal(t, []EventKind{EventCallStarted, EventVideoOff}, a)
	assert.Equal(t, a, b)
}

func TestLogReporter(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewLogReporter(logger)

	r.Report(Event{
		Kind:        EventCallStarted,
		Time:        at(3 * time.Second),
		AudioPort:   audioPort,
		VideoPort:   videoPort,
		ControlPort: controlPort,
	})
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "CallStarted", entry.Message)
	assert.Equal(t, "CallStarted", entry.Data["event"])
	assert.Equal(t, audioPort, entry.Data["audio_port"])
	assert.Equal(t, at(3*time.Second), entry.Data["at"])

	r.Report(Event{Kind: EventDiscoveryFailed, Time: at(6 * time.Second), Reason: "expected 3 streams, found 2"})
	entry = hook.LastEntry()
	assert.Equal(t, "Discovery failed", entry.Message)
	assert.Equal(t, "expected 3 streams, found 2", entry.Data["reason"])
	assert.NotContains(t, entry.Data, "audio_port")

	r.Report(Event{Kind: EventAudioOff, Time: at(7 * time.Second)})
	assert.Equal(t, "AudioOff", hook.LastEntry().Message)
	assert.Len(t, hook.AllEntries(), 3)
}

func TestNewLogReporterDefaultsToStandardLogger(t *testing.T) {
	r := NewLogReporter(nil)
	assert.Same(t, logrus.StandardLogger(), r.Logger)
}
