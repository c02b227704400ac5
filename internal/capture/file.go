package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/victortrac/calltally/internal/videocall"
)

// pcapng section header block type.
const pcapngMagic = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource replays a pcap or pcapng trace in file order.
type FileSource struct {
	path   string
	file   io.Closer
	reader packetReader

	closed    atomic.Bool
	closeOnce sync.Once
	counters
}

// OpenFile opens a recorded trace for replay.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}

	r, err := newPacketReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read trace %s: %w", path, err)
	}
	return &FileSource{path: path, file: f, reader: r}, nil
}

func newPacketReader(br *bufio.Reader) (packetReader, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Next returns the next UDP observation, skipping frames that do not decode.
// It returns io.EOF at the end of the trace.
func (s *FileSource) Next(ctx context.Context) (videocall.Observation, error) {
	for {
		if s.closed.Load() {
			return videocall.Observation{}, videocall.ErrSourceClosed
		}
		if err := ctx.Err(); err != nil {
			return videocall.Observation{}, err
		}

		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return videocall.Observation{}, io.EOF
			}
			if s.closed.Load() {
				return videocall.Observation{}, videocall.ErrSourceClosed
			}
			return videocall.Observation{}, fmt.Errorf("read %s: %w", s.path, err)
		}
		s.received.Add(1)

		obs, err := Decode(data, s.reader.LinkType(), ci.Timestamp)
		if err != nil {
			if s.drop(err) {
				continue
			}
			return videocall.Observation{}, err
		}
		return obs, nil
	}
}

// Replay marks the source as recorded traffic.
func (s *FileSource) Replay() bool { return true }

// Stats returns the read counters.
func (s *FileSource) Stats() Stats { return s.stats() }

// Close releases the file. It is safe to call more than once.
func (s *FileSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.file.Close()
	})
	return err
}

// TraceWriter writes observations as synthetic Ethernet/IP/UDP frames to a
// pcap stream. Payloads are zero-filled to the observed UDP length.
type TraceWriter struct {
	mu    sync.Mutex
	w     *pcapgo.Writer
	local netip.Addr
}

// NewTraceWriter writes the pcap header to w. local is the source address
// stamped on every frame.
func NewTraceWriter(w io.Writer, local netip.Addr) (*TraceWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	if !local.IsValid() {
		local = netip.MustParseAddr("192.0.2.1")
	}
	return &TraceWriter{w: pw, local: local}, nil
}

// Write appends obs to the trace.
func (t *TraceWriter) Write(obs videocall.Observation) error {
	payloadLen := obs.Size - udpHeaderLen
	if payloadLen < 0 {
		payloadLen = 0
	}

	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		DstMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(obs.SourcePort),
		DstPort: layers.UDPPort(obs.DestPort),
	}

	var network gopacket.SerializableLayer
	dst := obs.DestAddr
	if !dst.IsValid() {
		dst = netip.MustParseAddr("198.51.100.1")
	}
	if dst.Is4() && t.local.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    t.local.AsSlice(),
			DstIP:    dst.AsSlice(),
		}
		udp.SetNetworkLayerForChecksum(ip)
		network = ip
	} else {
		src16, dst16 := t.local.As16(), dst.As16()
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      net.IP(src16[:]),
			DstIP:      net.IP(dst16[:]),
		}
		udp.SetNetworkLayerForChecksum(ip)
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, udp, gopacket.Payload(make([]byte, payloadLen))); err != nil {
		return fmt.Errorf("serialize frame: %w", err)
	}

	data := buf.Bytes()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     obs.Timestamp,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

// Record returns a source that writes every observation read from src to w.
// Filtering and replay capabilities of src are passed through. A failed write
// stops the recording; observations keep flowing to the caller.
func Record(src videocall.Source, w *TraceWriter) videocall.Source {
	return &recordingSource{Source: src, w: w}
}

type recordingSource struct {
	videocall.Source
	w      *TraceWriter
	failed atomic.Bool
}

func (r *recordingSource) Next(ctx context.Context) (videocall.Observation, error) {
	obs, err := r.Source.Next(ctx)
	if err != nil || r.failed.Load() {
		return obs, err
	}
	if err := r.w.Write(obs); err != nil {
		r.failed.Store(true)
		recordErrorsTotal.Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Record",
			"error":    err.Error(),
		}).Error("Trace recording stopped")
	}
	return obs, nil
}

func (r *recordingSource) NarrowTo(ports []uint16) error {
	if f, ok := r.Source.(videocall.PortFilter); ok {
		return f.NarrowTo(ports)
	}
	return nil
}

func (r *recordingSource) Widen() error {
	if f, ok := r.Source.(videocall.PortFilter); ok {
		return f.Widen()
	}
	return nil
}

func (r *recordingSource) Replay() bool {
	rp, ok := r.Source.(videocall.Replayer)
	return ok && rp.Replay()
}
