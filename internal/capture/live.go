//go:build cgo

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"

	"github.com/victortrac/calltally/internal/videocall"
)

// LiveSource captures from a network interface through libpcap.
type LiveSource struct {
	cfg    LiveConfig
	handle *pcap.Handle

	filterMu sync.Mutex
	filter   string

	closed    atomic.Bool
	closeOnce sync.Once
	counters
}

// OpenLive activates a capture on cfg.Device with the discovery filter
// installed. Failure here (missing device, no permission) is fatal for the
// caller: the detector cannot work without raw packet visibility.
func OpenLive(cfg LiveConfig) (*LiveSource, error) {
	if cfg.Device == "" {
		dev, err := DefaultDevice()
		if err != nil {
			return nil, err
		}
		cfg.Device = dev.Name
	}
	if cfg.Snaplen <= 0 {
		cfg.Snaplen = 96
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}

	inactive, err := pcap.NewInactiveHandle(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(cfg.Snaplen); err != nil {
		return nil, fmt.Errorf("set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("set promiscuous: %w", err)
	}
	if err := inactive.SetTimeout(cfg.ReadTimeout); err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activate capture on %s: %w", cfg.Device, err)
	}

	s := &LiveSource{cfg: cfg, handle: handle}
	if err := s.setFilter(DiscoveryFilter(cfg.SignallingPort, cfg.Networks)); err != nil {
		handle.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenLive",
		"device":   cfg.Device,
		"snaplen":  cfg.Snaplen,
		"filter":   s.filter,
	}).Info("Live capture started")
	return s, nil
}

// Next blocks until an outbound UDP packet matching the filter arrives.
func (s *LiveSource) Next(ctx context.Context) (videocall.Observation, error) {
	for {
		if s.closed.Load() {
			return videocall.Observation{}, videocall.ErrSourceClosed
		}
		if err := ctx.Err(); err != nil {
			return videocall.Observation{}, err
		}

		data, ci, err := s.handle.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF) || s.closed.Load():
			return videocall.Observation{}, videocall.ErrSourceClosed
		default:
			return videocall.Observation{}, fmt.Errorf("read %s: %w", s.cfg.Device, err)
		}
		s.received.Add(1)

		obs, err := Decode(data, s.handle.LinkType(), ci.Timestamp)
		if err != nil {
			if s.drop(err) {
				continue
			}
			return videocall.Observation{}, err
		}
		return obs, nil
	}
}

// NarrowTo restricts capture to the given source ports.
func (s *LiveSource) NarrowTo(ports []uint16) error {
	return s.setFilter(MonitorFilter(s.cfg.SignallingPort, s.cfg.Networks, ports))
}

// Widen restores the discovery filter.
func (s *LiveSource) Widen() error {
	return s.setFilter(DiscoveryFilter(s.cfg.SignallingPort, s.cfg.Networks))
}

// Filter returns the BPF expression currently installed.
func (s *LiveSource) Filter() string {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	return s.filter
}

func (s *LiveSource) setFilter(expr string) error {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	if expr == s.filter {
		return nil
	}
	if err := s.handle.SetBPFFilter(expr); err != nil {
		return fmt.Errorf("set filter %q: %w", expr, err)
	}
	s.filter = expr
	logrus.WithFields(logrus.Fields{
		"function": "setFilter",
		"filter":   expr,
	}).Debug("Capture filter installed")
	return nil
}

// Stats returns the read counters.
func (s *LiveSource) Stats() Stats { return s.stats() }

// Close stops the capture. A blocked Next returns within the read timeout.
func (s *LiveSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.handle.Close()
	})
	return nil
}

// ListDevices returns the interfaces libpcap can capture on.
func ListDevices() ([]Device, error) {
	ifs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	devices := make([]Device, 0, len(ifs))
	for _, ifc := range ifs {
		d := Device{Name: ifc.Name, Description: ifc.Description}
		for _, a := range ifc.Addresses {
			if addr, ok := netip.AddrFromSlice(a.IP); ok {
				addr = addr.Unmap()
				d.Addresses = append(d.Addresses, addr.String())
				if addr.IsLoopback() {
					d.Loopback = true
				}
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// DefaultDevice picks the first non-loopback interface with an address.
func DefaultDevice() (Device, error) {
	devices, err := ListDevices()
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if !d.Loopback && len(d.Addresses) > 0 {
			return d, nil
		}
	}
	return Device{}, errors.New("no capture device with an address found")
}
