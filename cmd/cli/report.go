package cli

import (
	"fmt"
	"io"
	"net/netip"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/azula/internal/scanning"
)

// noOpenPortsHint explains the usual reasons for a host without results.
func noOpenPortsHint(addr netip.Addr, batchSize int) string {
	return fmt.Sprintf("Looks like I didn't find any open ports for %s. This is usually caused by a high batch size.\n"+
		"*I used %d batch size, consider lowering it with 'azula scan -b <batch_size> -a <ip address>' "+
		"or a comfortable number for your system.\n"+
		"Alternatively, increase the timeout if your ping is high. 'azula scan -t 2000' for a 2000 millisecond (2s) timeout.",
		addr, batchSize)
}

// reportMissing warns about every scanned address without open ports.
func reportMissing(p *Printer, addrs []netip.Addr, result *scanning.Result, batchSize int) {
	open := result.ByAddress()
	for _, addr := range addrs {
		if _, ok := open[addr]; !ok {
			p.Warning(noOpenPortsHint(addr, batchSize))
		}
	}
}

// renderSummary writes a table of the open ports per host.
func renderSummary(w io.Writer, result *scanning.Result) error {
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Open Ports", "Count")

	byAddr := result.ByAddress()
	for _, addr := range result.OpenAddrs() {
		ports := byAddr[addr]
		if err := table.Append([]string{
			addr.String(),
			joinPorts(ports),
			strconv.Itoa(len(ports)),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
