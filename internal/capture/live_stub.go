//go:build !cgo

package capture

import (
	"context"

	"github.com/victortrac/calltally/internal/videocall"
)

// LiveSource is a stub for builds without cgo
type LiveSource struct{}

// OpenLive is a stub for builds without cgo
func OpenLive(cfg LiveConfig) (*LiveSource, error) {
	return nil, ErrUnsupported
}

func (s *LiveSource) Next(ctx context.Context) (videocall.Observation, error) {
	return videocall.Observation{}, ErrUnsupported
}

func (s *LiveSource) NarrowTo(ports []uint16) error { return ErrUnsupported }

func (s *LiveSource) Widen() error { return ErrUnsupported }

func (s *LiveSource) Filter() string { return "" }

func (s *LiveSource) Stats() Stats { return Stats{} }

func (s *LiveSource) Close() error { return nil }

// ListDevices is a stub for builds without cgo
func ListDevices() ([]Device, error) {
	return nil, ErrUnsupported
}

// DefaultDevice is a stub for builds without cgo
func DefaultDevice() (Device, error) {
	return Device{}, ErrUnsupported
}
