package cli

import (
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/anstrom/azula/internal/scanning"
)

// Printer is the console sink of a scan. Greppable mode suppresses
// everything but the final per-host lines. Accessible mode drops the
// colored markers.
type Printer struct {
	w          io.Writer
	greppable  bool
	accessible bool

	warn   *color.Color
	detail *color.Color
	output *color.Color
	open   *color.Color
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, greppable, accessible bool) *Printer {
	p := &Printer{
		w:          w,
		greppable:  greppable,
		accessible: accessible,
		warn:       color.New(color.FgRed, color.Bold),
		detail:     color.New(color.FgBlue, color.Bold),
		output:     color.New(color.FgGreen, color.Bold),
		open:       color.New(color.FgMagenta),
	}
	if accessible {
		for _, c := range []*color.Color{p.warn, p.detail, p.output, p.open} {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) line(c *color.Color, marker, msg string) {
	if p.greppable {
		return
	}
	if p.accessible {
		fmt.Fprintln(p.w, msg)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", c.Sprint(marker), msg)
}

// Warning prints a problem the user should know about.
func (p *Printer) Warning(msg string) {
	p.line(p.warn, "[!]", msg)
}

// Detail prints background information.
func (p *Printer) Detail(msg string) {
	p.line(p.detail, "[~]", msg)
}

// Output prints a result worth highlighting.
func (p *Printer) Output(msg string) {
	p.line(p.output, "[>]", msg)
}

// Open reports an open target as soon as it is found.
func (p *Printer) Open(t scanning.Target) {
	if p.greppable {
		return
	}
	fmt.Fprintf(p.w, "Open %s\n", p.open.Sprint(t.String()))
}

// Host prints the final line of a host. It is printed in every mode.
func (p *Printer) Host(addr netip.Addr, ports []uint16) {
	fmt.Fprintf(p.w, "%s -> [%s]\n", addr, joinPorts(ports))
}

func joinPorts(ports []uint16) string {
	parts := make([]string, len(ports))
	for i, port := range ports {
		parts[i] = strconv.Itoa(int(port))
	}
	return strings.Join(parts, ",")
}
