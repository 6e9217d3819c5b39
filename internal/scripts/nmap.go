package scripts

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/azula/internal/errors"
)

// NmapRunner runs a verbose nmap service scan of the open ports of a host.
type NmapRunner struct {
	Extra []string
}

// NewNmapRunner creates the default script. extra is passed to nmap as is.
func NewNmapRunner(extra []string) *NmapRunner {
	return &NmapRunner{Extra: extra}
}

// Name implements Runner.
func (r *NmapRunner) Name() string {
	name := "nmap -vvv -sV -p {{port}} -{{ipversion}} {{ip}}"
	if len(r.Extra) > 0 {
		name += " " + strings.Join(r.Extra, " ")
	}
	return name
}

func (r *NmapRunner) options(addr netip.Addr, ports []uint16) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(addr.String()),
		nmap.WithPorts(joinPorts(ports, ",")),
		nmap.WithServiceInfo(),
		nmap.WithSkipHostDiscovery(),
		nmap.WithVerbosity(3),
	}
	if addr.Is6() {
		options = append(options, nmap.WithIPv6Scanning())
	}
	if len(r.Extra) > 0 {
		options = append(options, nmap.WithCustomArguments(r.Extra...))
	}
	return options
}

// Run implements Runner.
func (r *NmapRunner) Run(ctx context.Context, addr netip.Addr, ports []uint16) (string, error) {
	scanner, err := nmap.NewScanner(ctx, r.options(addr, ports)...)
	if err != nil {
		return "", errors.WrapScanErrorWithTarget(errors.CodeScriptFailed, "failed to create nmap scanner", addr.String(), err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return "", errors.WrapScanErrorWithTarget(errors.CodeScriptFailed, "nmap scan failed", addr.String(), err)
	}

	var out strings.Builder
	if warnings != nil {
		for _, w := range *warnings {
			fmt.Fprintf(&out, "warning: %s\n", w)
		}
	}
	formatRun(&out, result)
	return out.String(), nil
}

func formatRun(out *strings.Builder, result *nmap.Run) {
	if result == nil {
		return
	}
	for i := range result.Hosts {
		h := &result.Hosts[i]
		if len(h.Addresses) == 0 {
			continue
		}
		fmt.Fprintf(out, "Host: %s (%s)\n", h.Addresses[0].Addr, h.Status.State)
		fmt.Fprintf(out, "%-10s %-10s %-15s %s\n", "PORT", "STATE", "SERVICE", "VERSION")
		for j := range h.Ports {
			p := &h.Ports[j]
			version := strings.TrimSpace(p.Service.Product + " " + p.Service.Version)
			fmt.Fprintf(out, "%-10s %-10s %-15s %s\n",
				fmt.Sprintf("%d/%s", p.ID, p.Protocol), p.State.State, p.Service.Name, version)
		}
	}
}
