// Package capture delivers outbound UDP packets to the call detector. Live
// capture goes through libpcap; recorded traces are replayed with the pure Go
// pcap readers. Either way packets are decoded with gopacket into
// videocall.Observations; payloads are never inspected.
package capture

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotUDP is returned by Decode for frames without a UDP header.
	ErrNotUDP = errors.New("not a UDP packet")
	// ErrMalformed is returned by Decode for frames that fail to parse.
	ErrMalformed = errors.New("malformed packet")
	// ErrUnsupported is returned when live capture was compiled out.
	ErrUnsupported = errors.New("live capture not supported in this build")
)

var droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "calltally_capture_dropped_total",
	Help: "Captured frames that did not yield an observation, partitioned by reason",
}, []string{"reason"})

var recordErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "calltally_record_errors_total",
	Help: "Trace recordings abandoned after a write failure",
})

// LiveConfig describes a live capture.
type LiveConfig struct {
	Device         string
	Snaplen        int
	Promiscuous    bool
	ReadTimeout    time.Duration
	SignallingPort uint16
	Networks       []netip.Prefix
}

// Device is a capture interface as reported by libpcap.
type Device struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
	Loopback    bool     `json:"loopback"`
}

// Stats counts what a source has read so far.
type Stats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Skipped   uint64 `json:"skipped"`
}

type counters struct {
	received  atomic.Uint64
	malformed atomic.Uint64
	skipped   atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Malformed: c.malformed.Load(),
		Skipped:   c.skipped.Load(),
	}
}

// drop records a frame Decode rejected. It returns false when err is not a
// per-frame decode failure and should be surfaced instead.
func (c *counters) drop(err error) bool {
	switch {
	case errors.Is(err, ErrNotUDP):
		c.skipped.Add(1)
		droppedTotal.WithLabelValues("not_udp").Inc()
	case errors.Is(err, ErrMalformed):
		n := c.malformed.Add(1)
		droppedTotal.WithLabelValues("malformed").Inc()
		if n == 1 || n%1000 == 0 {
			logrus.WithFields(logrus.Fields{
				"function":  "drop",
				"malformed": n,
				"error":     err.Error(),
			}).Warn("Skipping malformed capture records")
		}
	default:
		return false
	}
	return true
}
