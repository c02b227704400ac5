package capture

import (
	"fmt"
	"net/netip"
	"strings"
)

// DiscoveryFilter returns the BPF expression for outbound UDP to the
// signalling port, optionally restricted to the provider's networks.
func DiscoveryFilter(port uint16, networks []netip.Prefix) string {
	var b strings.Builder
	fmt.Fprintf(&b, "udp and dst port %d", port)
	if len(networks) > 0 {
		nets := make([]string, 0, len(networks))
		for _, n := range networks {
			nets = append(nets, "dst net "+n.Masked().String())
		}
		fmt.Fprintf(&b, " and (%s)", strings.Join(nets, " or "))
	}
	return b.String()
}

// MonitorFilter narrows DiscoveryFilter to the given source ports.
func MonitorFilter(port uint16, networks []netip.Prefix, sourcePorts []uint16) string {
	base := DiscoveryFilter(port, networks)
	seen := make(map[uint16]bool, len(sourcePorts))
	var ports []string
	for _, p := range sourcePorts {
		if p == 0 || seen[p] {
			continue
		}
		seen[p] = true
		ports = append(ports, fmt.Sprintf("src port %d", p))
	}
	if len(ports) == 0 {
		return base
	}
	return fmt.Sprintf("%s and (%s)", base, strings.Join(ports, " or "))
}
