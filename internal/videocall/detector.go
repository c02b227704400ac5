package videocall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyRunning is returned when Run is called on a running detector.
	ErrAlreadyRunning = errors.New("detector already running")
	// ErrSourceClosed is returned by sources after Close.
	ErrSourceClosed = errors.New("capture source closed")
)

// packetBuffer decouples the blocking capture read from evaluation.
const packetBuffer = 1024

// Clock supplies the time used by the silence tick.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a detector.
type Option func(*detector)

// WithClock replaces the wall clock used by the silence tick.
func WithClock(c Clock) Option {
	return func(d *detector) { d.clock = c }
}

// detector runs the state machine over a capture source. One goroutine
// drains the source; a single event loop owns the machine and multiplexes
// packets with the silence tick, so the machine has exactly one writer.
type detector struct {
	cfg     Config
	clock   Clock
	machine *Machine

	mu       sync.RWMutex
	state    CallState
	running  bool
	callback StateCallback
	reporter Reporter
}

// NewDetector creates a new video call detector
func NewDetector(cfg Config, opts ...Option) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &detector{
		cfg:     cfg,
		clock:   systemClock{},
		machine: NewMachine(cfg),
		state:   CallState{Phase: PhaseNoCall},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// SetCallback sets the callback for state updates
func (d *detector) SetCallback(cb StateCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
}

// SetReporter sets the sink for call events
func (d *detector) SetReporter(r Reporter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reporter = r
}

// GetState returns the current call state
func (d *detector) GetState() CallState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// IsInCall returns true while a call is in progress
func (d *detector) IsInCall() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.InCall
}

// Run drains src until it is exhausted, closed or ctx is done. Cancelling
// ctx closes src, which is the only shutdown path.
func (d *detector) Run(ctx context.Context, src Source) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		src.Close()
	}()

	packets := make(chan Observation, packetBuffer)
	readErr := make(chan error, 1)
	go func() {
		defer close(packets)
		for {
			obs, err := src.Next(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case packets <- obs:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Replays are judged on packet time alone.
	var tick <-chan time.Time
	if r, ok := src.(Replayer); !ok || !r.Replay() {
		ticker := time.NewTicker(d.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Run",
		"signalling_port": d.cfg.SignallingPort,
		"policy":          d.cfg.DiscoveryPolicy,
		"replay":          tick == nil,
	}).Info("Detector started")

	for {
		select {
		case obs, ok := <-packets:
			if !ok {
				return d.finish(src, readErr)
			}
			packetsTotal.WithLabelValues(string(d.machine.Phase())).Inc()
			d.apply(src, d.machine.Observe(obs), false)

		case <-tick:
			d.apply(src, d.machine.Tick(d.clock.Now()), true)

		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "Run",
			}).Info("Detector stopped")
			return nil
		}
	}
}

func (d *detector) finish(src Source, readErr <-chan error) error {
	var err error
	select {
	case err = <-readErr:
	default:
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, ErrSourceClosed) || errors.Is(err, context.Canceled) {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
		}).Info("Capture source drained")
		return nil
	}

	// Nothing more will be observed; do not leave a stale call published.
	d.apply(src, d.machine.Stop(d.clock.Now()), true)
	return fmt.Errorf("read capture: %w", err)
}

// apply publishes the machine state and hands events to the reporter.
// notify forces the state callback even without events.
func (d *detector) apply(src Source, events []Event, notify bool) {
	for _, e := range events {
		eventsTotal.WithLabelValues(string(e.Kind)).Inc()
		d.adjustFilter(src, e)
	}

	st := d.machine.State()
	d.mu.Lock()
	d.state = st
	cb := d.callback
	rep := d.reporter
	d.mu.Unlock()

	observeMetrics(st)

	if rep != nil {
		for _, e := range events {
			rep.Report(e)
		}
	}
	if cb != nil && (notify || len(events) > 0) {
		app := ""
		if st.InCall {
			app = AppName
		}
		cb(st.InCall, st.VideoActive, st.AudioActive, app)
	}
}

func (d *detector) adjustFilter(src Source, e Event) {
	if !d.cfg.NarrowFilter {
		return
	}
	f, ok := src.(PortFilter)
	if !ok {
		return
	}

	var err error
	switch e.Kind {
	case EventCallStarted:
		err = f.NarrowTo([]uint16{e.AudioPort, e.VideoPort, e.ControlPort})
	case EventCallEnded:
		err = f.Widen()
	default:
		return
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "adjustFilter",
			"event":    string(e.Kind),
			"error":    err.Error(),
		}).Warn("Failed to adjust capture filter")
	}
}
