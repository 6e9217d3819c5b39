package address

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/azula/internal/errors"
)

const (
	// DefaultTimeout bounds a single DNS exchange.
	DefaultTimeout = 2 * time.Second

	dnsPort = "53"
	dotPort = "853"

	netUDP = "udp"
	netDoT = "tcp-tls"
)

// resolvConfPath is the system resolver configuration.
var resolvConfPath = "/etc/resolv.conf"

// cloudflareServers are used when the system configuration is unusable.
var cloudflareServers = []string{"1.1.1.1", "1.0.0.1"}

const cloudflareTLSName = "one.one.one.one"

// Resolver looks up the addresses of a host name.
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// DNSResolver queries A and AAAA records against a list of name servers,
// trying them in order until one answers with at least one address.
type DNSResolver struct {
	servers []string
	client  *dns.Client
}

// NewDNSResolver creates a resolver for servers given as host:port.
// network is "udp", "tcp" or "tcp-tls".
func NewDNSResolver(servers []string, network string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &dns.Client{
		Net:     network,
		Timeout: timeout,
	}
	if network == netDoT {
		client.TLSConfig = &tls.Config{
			ServerName: cloudflareTLSName,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &DNSResolver{servers: servers, client: client}
}

// Servers returns the name servers in query order.
func (r *DNSResolver) Servers() []string {
	return append([]string(nil), r.servers...)
}

// Network returns the transport used for queries.
func (r *DNSResolver) Network() string {
	return r.client.Net
}

// LookupIP resolves host to its IPv4 and IPv6 addresses.
func (r *DNSResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if len(r.servers) == 0 {
		return nil, fmt.Errorf("no name servers configured")
	}

	fqdn := dns.Fqdn(host)
	var lastErr error
	for _, server := range r.servers {
		var addrs []netip.Addr
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			found, err := r.query(ctx, server, fqdn, qtype)
			if err != nil {
				lastErr = err
				continue
			}
			addrs = append(addrs, found...)
		}
		if len(addrs) > 0 {
			return addrs, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no address records for %s", host)
	}
	return nil, lastErr
}

func (r *DNSResolver) query(ctx context.Context, server, fqdn string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, qtype)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("query %s for %s: %w", server, fqdn, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("query %s for %s: %s", server, fqdn, dns.RcodeToString[in.Rcode])
	}

	var addrs []netip.Addr
	for _, rr := range in.Answer {
		var ip net.IP
		switch rec := rr.(type) {
		case *dns.A:
			ip = rec.A
		case *dns.AAAA:
			ip = rec.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, addr.Unmap())
		}
	}
	return addrs, nil
}

// NewResolver builds the resolver used for host name lookups.
//
// A non-empty spec is either a file holding one resolver IP per line or a
// comma separated list of resolver IPs; each is queried over UDP port 53.
// An empty spec uses the system configuration, falling back to Cloudflare
// over DNS-over-TLS when that cannot be read.
func NewResolver(spec string, timeout time.Duration) (*DNSResolver, error) {
	spec = strings.TrimSpace(spec)
	if spec != "" {
		servers := parseResolverSpec(spec)
		if len(servers) == 0 {
			return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
				"resolver specification contains no valid IP address", "resolver", spec)
		}
		return NewDNSResolver(servers, netUDP, timeout), nil
	}

	if r, err := systemResolver(timeout); err == nil {
		return r, nil
	}
	return CloudflareResolver(timeout), nil
}

// CloudflareResolver returns the public fallback resolver.
func CloudflareResolver(timeout time.Duration) *DNSResolver {
	servers := make([]string, 0, len(cloudflareServers))
	for _, ip := range cloudflareServers {
		servers = append(servers, net.JoinHostPort(ip, dotPort))
	}
	return NewDNSResolver(servers, netDoT, timeout)
}

func systemResolver(timeout time.Duration) (*DNSResolver, error) {
	cfg, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil {
		return nil, err
	}
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("%s lists no name servers", resolvConfPath)
	}
	port := cfg.Port
	if port == "" {
		port = dnsPort
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, port))
	}
	if cfg.Timeout > 0 && timeout <= 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return NewDNSResolver(servers, netUDP, timeout), nil
}

// parseResolverSpec reads resolver IPs from a file named by spec, or from
// spec itself as a comma separated list.
func parseResolverSpec(spec string) []string {
	var candidates []string
	if data, err := os.ReadFile(spec); err == nil {
		candidates = strings.Split(string(data), "\n")
	} else {
		candidates = strings.Split(spec, ",")
	}

	var servers []string
	for _, c := range candidates {
		addr, err := netip.ParseAddr(strings.TrimSpace(c))
		if err != nil {
			continue
		}
		servers = append(servers, net.JoinHostPort(addr.String(), dnsPort))
	}
	return servers
}
