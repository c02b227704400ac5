package capture

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/victortrac/calltally/internal/videocall"
)

const udpHeaderLen = 8

// Decode turns one captured frame into an observation. The size is the UDP
// length field, which survives snaplen truncation.
func Decode(data []byte, link layers.LinkType, ts time.Time) (videocall.Observation, error) {
	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	obs := videocall.Observation{Timestamp: ts}
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		if ip.Protocol != layers.IPProtocolUDP {
			return obs, ErrNotUDP
		}
		obs.DestAddr, _ = netip.AddrFromSlice(ip.DstIP)
	case *layers.IPv6:
		obs.DestAddr, _ = netip.AddrFromSlice(ip.DstIP)
	default:
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return obs, fmt.Errorf("%w: %v", ErrMalformed, errLayer.Error())
		}
		return obs, ErrNotUDP
	}

	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return obs, fmt.Errorf("%w: %v", ErrMalformed, errLayer.Error())
		}
		return obs, ErrNotUDP
	}

	obs.SourcePort = uint16(udp.SrcPort)
	obs.DestPort = uint16(udp.DstPort)
	obs.DestAddr = obs.DestAddr.Unmap()
	obs.Size = int(udp.Length)
	if obs.Size == 0 {
		obs.Size = udpHeaderLen + len(udp.Payload)
	}
	if obs.Size < udpHeaderLen {
		return obs, fmt.Errorf("%w: udp length %d", ErrMalformed, udp.Length)
	}
	return obs, nil
}
