package scanning

import (
	"slices"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
)

// Well-known UDP ports with a built-in probe payload.
const (
	portDNS     = 53
	portNTP     = 123
	portNetBIOS = 137
	portSNMP    = 161
	portSSDP    = 1900
	portMDNS    = 5353
)

// PayloadTable maps UDP ports to the payload sent when probing them.
// Ports without an entry are probed with an empty datagram.
type PayloadTable struct {
	payloads map[uint16][]byte
}

// NewPayloadTable returns an empty table.
func NewPayloadTable() *PayloadTable {
	return &PayloadTable{payloads: make(map[uint16][]byte)}
}

// Set assigns payload to every port in ports, replacing previous entries.
func (t *PayloadTable) Set(ports []uint16, payload []byte) {
	for _, p := range ports {
		t.payloads[p] = slices.Clone(payload)
	}
}

// Lookup returns the payload for port, or nil when there is none.
func (t *PayloadTable) Lookup(port uint16) []byte {
	if t == nil {
		return nil
	}
	return t.payloads[port]
}

// Merge copies every entry of other into t, overriding t's entries.
func (t *PayloadTable) Merge(other *PayloadTable) {
	if other == nil {
		return
	}
	for p, payload := range other.payloads {
		t.payloads[p] = slices.Clone(payload)
	}
}

// Len returns the number of ports with a payload.
func (t *PayloadTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.payloads)
}

// Ports returns the ports with a payload in ascending order.
func (t *PayloadTable) Ports() []uint16 {
	if t == nil {
		return nil
	}
	ports := make([]uint16, 0, len(t.payloads))
	for p := range t.payloads {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	return ports
}

// DefaultPayloads returns the built-in payloads for common UDP services.
func DefaultPayloads() *PayloadTable {
	t := NewPayloadTable()

	if b, err := dnsVersionQuery(); err == nil {
		t.Set([]uint16{portDNS}, b)
	}
	if b, err := mdnsServicesQuery(); err == nil {
		t.Set([]uint16{portMDNS}, b)
	}
	if b, err := snmpGetRequest(); err == nil {
		t.Set([]uint16{portSNMP}, b)
	}
	t.Set([]uint16{portNTP}, ntpClientRequest())
	t.Set([]uint16{portNetBIOS}, netbiosStatusQuery)
	t.Set([]uint16{portSSDP}, ssdpSearch)

	return t
}

// dnsVersionQuery asks for version.bind in the CHAOS class, which most
// authoritative and recursive servers answer or refuse.
func dnsVersionQuery() ([]byte, error) {
	m := new(dns.Msg)
	m.SetQuestion("version.bind.", dns.TypeTXT)
	m.Question[0].Qclass = dns.ClassCHAOS
	return m.Pack()
}

func mdnsServicesQuery() ([]byte, error) {
	m := new(dns.Msg)
	m.SetQuestion("_services._dns-sd._udp.local.", dns.TypePTR)
	m.Id = 0
	m.RecursionDesired = false
	return m.Pack()
}

// snmpGetRequest builds a v2c GetRequest for sysDescr.0 with the public community.
func snmpGetRequest() ([]byte, error) {
	packet := &gosnmp.SnmpPacket{
		Version:   gosnmp.Version2c,
		Community: "public",
		PDUType:   gosnmp.GetRequest,
		RequestID: 1,
		Variables: []gosnmp.SnmpPDU{
			{Name: ".1.3.6.1.2.1.1.1.0", Type: gosnmp.Null},
		},
	}
	return packet.MarshalMsg()
}

// ntpClientRequest is a 48 byte NTPv3 packet in client mode.
func ntpClientRequest() []byte {
	b := make([]byte, 48)
	b[0] = 0x1b
	return b
}

var netbiosStatusQuery = []byte("\x80\xf0\x00\x10\x00\x01\x00\x00\x00\x00\x00\x00" +
	"\x20CKAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA\x00\x00\x21\x00\x01")

var ssdpSearch = []byte("M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 1\r\n" +
	"ST: ssdp:all\r\n\r\n")
