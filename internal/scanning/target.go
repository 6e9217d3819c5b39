package scanning

import "net/netip"

// Target is one (address, port) endpoint to probe.
type Target struct {
	Addr netip.Addr
	Port uint16
}

// AddrPort returns the target as a netip.AddrPort.
func (t Target) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(t.Addr, t.Port)
}

// String returns the target in host:port form, bracketing IPv6 addresses.
func (t Target) String() string {
	return t.AddrPort().String()
}

// network returns the transport network matching the address family.
func (t Target) network(proto string) string {
	if t.Addr.Is4() {
		return proto + "4"
	}
	return proto + "6"
}

func compareTargets(a, b Target) int {
	if c := a.Addr.Compare(b.Addr); c != 0 {
		return c
	}
	return int(a.Port) - int(b.Port)
}

// SocketIterator enumerates the cross product of ports and addresses in
// port-major order.
type SocketIterator struct {
	addrs   []netip.Addr
	ports   []uint16
	portIdx int
	addrIdx int
}

// NewSocketIterator creates an iterator over ports × addrs.
func NewSocketIterator(addrs []netip.Addr, ports []uint16) *SocketIterator {
	return &SocketIterator{addrs: addrs, ports: ports}
}

// Next returns the next target, or false once every target was produced.
func (it *SocketIterator) Next() (Target, bool) {
	if len(it.addrs) == 0 || it.portIdx >= len(it.ports) {
		return Target{}, false
	}

	t := Target{Addr: it.addrs[it.addrIdx], Port: it.ports[it.portIdx]}
	it.addrIdx++
	if it.addrIdx == len(it.addrs) {
		it.addrIdx = 0
		it.portIdx++
	}
	return t, true
}

// Len returns the total number of targets, produced or not.
func (it *SocketIterator) Len() int {
	return len(it.addrs) * len(it.ports)
}

// jobID identifies the probe of t in pool results and logs.
func (t Target) jobID(proto string) string {
	return proto + "://" + t.String()
}
