package videocall

import (
	"context"
	"io"
	"net/netip"
	"sort"
	"sync"
	"time"
)

var (
	traceBase    = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	providerAddr = netip.MustParseAddr("203.0.113.10")
)

const (
	videoPort   uint16 = 51000
	audioPort   uint16 = 51001
	controlPort uint16 = 51002
)

func at(d time.Duration) time.Time {
	return traceBase.Add(d)
}

func packet(port uint16, size int, offset time.Duration) Observation {
	return Observation{
		SourcePort: port,
		DestPort:   8801,
		DestAddr:   providerAddr,
		Size:       size,
		Timestamp:  at(offset),
	}
}

// stream sends size-byte packets from port every interval in [from, to).
func stream(port uint16, size int, every, from, to time.Duration) []Observation {
	var out []Observation
	for t := from; t < to; t += every {
		out = append(out, packet(port, size, t))
	}
	return out
}

// merge interleaves streams by timestamp. Packets with equal timestamps keep
// the order of the streams passed in.
func merge(streams ...[]Observation) []Observation {
	var out []Observation
	for _, s := range streams {
		out = append(out, s...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// callTrace is the canonical three-stream call: video at 220 bytes and audio
// at 80 bytes every 20ms, control at 45 bytes every 5s.
func callTrace(from, to time.Duration) []Observation {
	return merge(
		stream(videoPort, 220, 20*time.Millisecond, from, to),
		stream(audioPort, 80, 20*time.Millisecond, from, to),
		stream(controlPort, 45, 5*time.Second, from, to),
	)
}

func feed(m *Machine, trace []Observation) []Event {
	var events []Event
	for _, obs := range trace {
		events = append(events, m.Observe(obs)...)
	}
	return events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func testConfig() Config {
	return DefaultConfig()
}

// sliceSource replays observations held in memory.
type sliceSource struct {
	mu     sync.Mutex
	obs    []Observation
	closed bool
}

func (s *sliceSource) Next(ctx context.Context) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Observation{}, ErrSourceClosed
	}
	if len(s.obs) == 0 {
		return Observation{}, io.EOF
	}
	obs := s.obs[0]
	s.obs = s.obs[1:]
	return obs, nil
}

func (s *sliceSource) Replay() bool { return true }

func (s *sliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// chanSource is a live source fed by the test. It records filter changes.
type chanSource struct {
	ch        chan Observation
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	narrows [][]uint16
	widens  int
}

func newChanSource() *chanSource {
	return &chanSource{
		ch:   make(chan Observation),
		done: make(chan struct{}),
	}
}

func (s *chanSource) Next(ctx context.Context) (Observation, error) {
	select {
	case obs := <-s.ch:
		return obs, nil
	case <-s.done:
		return Observation{}, ErrSourceClosed
	case <-ctx.Done():
		return Observation{}, ctx.Err()
	}
}

func (s *chanSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *chanSource) NarrowTo(ports []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narrows = append(s.narrows, append([]uint16(nil), ports...))
	return nil
}

func (s *chanSource) Widen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widens++
	return nil
}

func (s *chanSource) filterCalls() ([][]uint16, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]uint16(nil), s.narrows...), s.widens
}

// fakeClock is a settable clock for the silence tick.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// eventLog collects reported events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Report(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return kinds(l.events)
}

func (l *eventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}
