package scanning

import (
	"net/netip"
	"slices"
	"time"
)

// errorsPerAddress bounds the diagnostic error strings kept per scanned address.
const errorsPerAddress = 1000

// Result is the outcome of a scan.
type Result struct {
	// Open holds the targets confirmed open, sorted by address then port.
	Open []Target
	// Errors holds distinct diagnostic strings of failed probes, each made of
	// the failure reason followed by the address.
	Errors []string
	// Attempted is the number of targets whose probes completed.
	Attempted int
	// Duration is the wall time of the scan.
	Duration time.Duration
}

// ByAddress groups the open ports by address. Ports keep ascending order.
func (r *Result) ByAddress() map[netip.Addr][]uint16 {
	grouped := make(map[netip.Addr][]uint16)
	for _, t := range r.Open {
		grouped[t.Addr] = append(grouped[t.Addr], t.Port)
	}
	return grouped
}

// OpenAddrs returns the addresses with at least one open port in ascending order.
func (r *Result) OpenAddrs() []netip.Addr {
	var addrs []netip.Addr
	for _, t := range r.Open {
		if n := len(addrs); n == 0 || addrs[n-1] != t.Addr {
			addrs = append(addrs, t.Addr)
		}
	}
	return addrs
}

// collector accumulates completions. Only the goroutine running the scan
// touches it.
type collector struct {
	open      []Target
	errors    map[string]struct{}
	errorCap  int
	attempted int
}

func newCollector(addrCount int) *collector {
	return &collector{
		errors:   make(map[string]struct{}),
		errorCap: addrCount * errorsPerAddress,
	}
}

func (c *collector) addOpen(t Target) {
	c.open = append(c.open, t)
}

func (c *collector) addError(t Target, err error) {
	if len(c.errors) >= c.errorCap {
		return
	}
	c.errors[errorReason(err)+" "+t.Addr.String()] = struct{}{}
}

func (c *collector) result(started time.Time) *Result {
	open := slices.Clone(c.open)
	slices.SortFunc(open, compareTargets)

	errs := make([]string, 0, len(c.errors))
	for e := range c.errors {
		errs = append(errs, e)
	}
	slices.Sort(errs)

	return &Result{
		Open:      open,
		Errors:    errs,
		Attempted: c.attempted,
		Duration:  time.Since(started),
	}
}
