package videocall

import (
	"sort"
	"time"
)

// Candidate accumulates the packets one source port sent toward the
// signalling port during a discovery cycle.
type Candidate struct {
	Port            uint16    `json:"port"`
	SampleCount     int       `json:"sample_count"`
	QualifyingSum   int64     `json:"qualifying_sum"`
	QualifyingCount int       `json:"qualifying_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	LastQualifying  time.Time `json:"last_qualifying"`
}

// MeanSize returns the average qualifying packet size. ok is false when the
// stream only carried keepalives.
func (c Candidate) MeanSize() (mean float64, ok bool) {
	if c.QualifyingCount == 0 {
		return 0, false
	}
	return float64(c.QualifyingSum) / float64(c.QualifyingCount), true
}

// CandidateTracker keeps per-port statistics for one discovery cycle.
// It is not safe for concurrent use.
type CandidateTracker struct {
	cfg     Config
	streams map[uint16]*Candidate
}

func NewCandidateTracker(cfg Config) *CandidateTracker {
	return &CandidateTracker{
		cfg:     cfg,
		streams: make(map[uint16]*Candidate),
	}
}

// Accepts reports whether obs would be tracked.
func (t *CandidateTracker) Accepts(obs Observation) bool {
	return t.cfg.toProvider(obs)
}

// Observe records obs against its source port. Packets not addressed to the
// provider's signalling port are ignored and false is returned.
func (t *CandidateTracker) Observe(obs Observation) bool {
	if !t.Accepts(obs) {
		return false
	}

	c, ok := t.streams[obs.SourcePort]
	if !ok {
		c = &Candidate{Port: obs.SourcePort, FirstSeen: obs.Timestamp}
		t.streams[obs.SourcePort] = c
	}

	c.SampleCount++
	if obs.Timestamp.Before(c.FirstSeen) {
		c.FirstSeen = obs.Timestamp
	}
	if obs.Timestamp.After(c.LastSeen) {
		c.LastSeen = obs.Timestamp
	}

	// Keepalives would drag every stream's average toward control.
	if obs.Size > t.cfg.KeepaliveMaxBytes {
		c.QualifyingSum += int64(obs.Size)
		c.QualifyingCount++
		if obs.Timestamp.After(c.LastQualifying) {
			c.LastQualifying = obs.Timestamp
		}
	}
	return true
}

// Snapshot returns a copy of every stream, ordered by port.
func (t *CandidateTracker) Snapshot() []Candidate {
	out := make([]Candidate, 0, len(t.streams))
	for _, c := range t.streams {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Len returns the number of streams seen this cycle.
func (t *CandidateTracker) Len() int {
	return len(t.streams)
}

// Reset drops all streams to begin a new discovery cycle.
func (t *CandidateTracker) Reset() {
	t.streams = make(map[uint16]*Candidate)
}
