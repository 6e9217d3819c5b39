// Package address turns user supplied address tokens into concrete IP
// addresses. A token may be an IP literal, a CIDR block, a host name or the
// path of a file listing any of those, one per line.
package address

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"slices"
	"strings"

	"github.com/anstrom/azula/internal/errors"
	"github.com/anstrom/azula/internal/logging"
)

const (
	// Widest prefixes that are expanded.
	maxIPv4PrefixBits = 8
	maxIPv6PrefixBits = 104

	maxPrealloc int = 1 << 16
)

// LookupFunc resolves a host name using the platform resolver.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Parser resolves address tokens. Each token is tried as a CIDR block, then
// by direct system resolution, then through Resolver; a token none of those
// resolve is read as a host list file.
type Parser struct {
	Resolver     Resolver
	SystemLookup LookupFunc
	Logger       *logging.Logger
}

// NewParser creates a parser using resolver for DNS lookups.
func NewParser(resolver Resolver, logger *logging.Logger) *Parser {
	if logger == nil {
		logger = logging.Default()
	}
	return &Parser{
		Resolver:     resolver,
		SystemLookup: SystemLookup,
		Logger:       logger.WithComponent("address"),
	}
}

// SystemLookup resolves host with the platform resolver (hosts file, then
// the system DNS configuration).
func SystemLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return addrs, nil
}

// Parse resolves every token and returns the distinct addresses in sorted
// order. Unresolvable tokens are skipped with a warning. An empty result is
// a NO_ADDRESSES error.
func (p *Parser) Parse(ctx context.Context, tokens []string) ([]netip.Addr, error) {
	var addrs []netip.Addr
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		resolved, err := p.resolveToken(ctx, token)
		if err == nil {
			addrs = append(addrs, resolved...)
			continue
		}

		fromFile, ferr := p.readHostFile(ctx, token)
		if ferr != nil {
			p.logger().WarnResolve("host or address could not be resolved", token, errors.ErrUnresolvable(token, err))
			continue
		}
		addrs = append(addrs, fromFile...)
	}

	addrs = Normalize(addrs)
	if len(addrs) == 0 {
		return nil, errors.ErrNoAddresses()
	}
	p.logger().Debug("addresses resolved", "tokens", len(tokens), "addresses", len(addrs))
	return addrs, nil
}

// Normalize unmaps, deduplicates and sorts addrs.
func Normalize(addrs []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.IsValid() {
			out = append(out, a.Unmap())
		}
	}
	slices.SortFunc(out, func(a, b netip.Addr) int { return a.Compare(b) })
	return slices.Compact(out)
}

// resolveToken applies the resolution strategies in order and returns the
// first non-empty answer.
func (p *Parser) resolveToken(ctx context.Context, token string) ([]netip.Addr, error) {
	if prefix, err := netip.ParsePrefix(token); err == nil {
		return ExpandPrefix(prefix)
	}

	if addr, err := netip.ParseAddr(token); err == nil {
		return []netip.Addr{addr}, nil
	}

	var lastErr error
	if p.SystemLookup != nil {
		addrs, err := p.SystemLookup(ctx, token)
		if err == nil && len(addrs) > 0 {
			return addrs, nil
		}
		lastErr = err
	}

	if p.Resolver != nil {
		addrs, err := p.Resolver.LookupIP(ctx, token)
		if err == nil && len(addrs) > 0 {
			return addrs, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", token)
	}
	return nil, lastErr
}

// readHostFile resolves each line of the file at path. Lines that do not
// resolve are skipped.
func (p *Parser) readHostFile(ctx context.Context, path string) ([]netip.Addr, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapResolveError(errors.CodeFileNotFound, "host list file could not be read", path, err)
	}

	var addrs []netip.Addr
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		resolved, err := p.resolveToken(ctx, line)
		if err != nil {
			p.logger().WarnResolve("host list entry could not be resolved", line, err, "file", path)
			continue
		}
		addrs = append(addrs, resolved...)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapResolveError(errors.CodeFileNotFound, "host list file could not be read", path, err)
	}
	return addrs, nil
}

// ExpandPrefix lists every address of prefix, network and broadcast
// addresses included.
func ExpandPrefix(prefix netip.Prefix) ([]netip.Addr, error) {
	prefix = prefix.Masked()
	limit := maxIPv4PrefixBits
	if prefix.Addr().Is6() {
		limit = maxIPv6PrefixBits
	}
	if prefix.Bits() < limit {
		return nil, errors.NewResolveError(errors.CodeValidation,
			fmt.Sprintf("CIDR block wider than /%d is not expanded", limit), prefix.String())
	}

	size := maxPrealloc
	if hostBits := prefix.Addr().BitLen() - prefix.Bits(); hostBits < 16 {
		size = 1 << hostBits
	}
	addrs := make([]netip.Addr, 0, size)
	for a := prefix.Addr(); a.IsValid() && prefix.Contains(a); a = a.Next() {
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (p *Parser) logger() *logging.Logger {
	if p.Logger == nil {
		return logging.Default()
	}
	return p.Logger
}
