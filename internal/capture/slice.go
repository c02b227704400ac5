package capture

import (
	"context"
	"io"
	"sync"

	"github.com/victortrac/calltally/internal/videocall"
)

// SliceSource replays observations held in memory.
type SliceSource struct {
	mu     sync.Mutex
	obs    []videocall.Observation
	pos    int
	closed bool
}

func NewSliceSource(obs []videocall.Observation) *SliceSource {
	return &SliceSource{obs: obs}
}

func (s *SliceSource) Next(ctx context.Context) (videocall.Observation, error) {
	if err := ctx.Err(); err != nil {
		return videocall.Observation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return videocall.Observation{}, videocall.ErrSourceClosed
	}
	if s.pos >= len(s.obs) {
		return videocall.Observation{}, io.EOF
	}
	obs := s.obs[s.pos]
	s.pos++
	return obs, nil
}

func (s *SliceSource) Replay() bool { return true }

func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
