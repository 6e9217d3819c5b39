// Package ports selects and orders the ports a scan visits.
//
// A scan targets either a contiguous PortRange or an explicit list of ports.
// Ranges are traversed serially or as a full-period pseudo-random permutation
// that never allocates the whole range; lists are kept in the order given or
// shuffled. The chosen sequence is materialized once in a Strategy so callers
// can read it repeatedly without re-randomizing.
package ports

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anstrom/azula/internal/errors"
)

const (
	// MinPort is the lowest valid port number.
	MinPort = 1
	// MaxPort is the highest valid port number.
	MaxPort = 65535

	rangeParts = 2
)

// PortRange is an inclusive range of ports with Start <= End.
type PortRange struct {
	Start uint16
	End   uint16
}

// NewPortRange builds a range. Inverted ranges are rejected.
func NewPortRange(start, end uint16) (PortRange, error) {
	if end < start {
		return PortRange{}, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("range end %d is lower than range start %d", end, start), "range", nil)
	}
	return PortRange{Start: start, End: end}, nil
}

// FullRange covers every valid port.
func FullRange() PortRange {
	return PortRange{Start: MinPort, End: MaxPort}
}

// Len returns the number of ports in the range.
func (r PortRange) Len() int {
	return int(r.End) - int(r.Start) + 1
}

// Contains reports whether port lies within the range.
func (r PortRange) Contains(port uint16) bool {
	return port >= r.Start && port <= r.End
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ParseRange parses a "start-end" range specification.
func ParseRange(spec string) (PortRange, error) {
	parts := strings.Split(strings.TrimSpace(spec), "-")
	if len(parts) != rangeParts {
		return PortRange{}, errors.ErrConfigInvalid("range", spec)
	}

	start, err := parsePort(parts[0])
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid start port in range %q: %w", spec, err)
	}
	end, err := parsePort(parts[1])
	if err != nil {
		return PortRange{}, fmt.Errorf("invalid end port in range %q: %w", spec, err)
	}

	return NewPortRange(start, end)
}

// ParseList parses a comma separated list of ports such as "22,80,443".
// Empty entries are ignored.
func ParseList(spec string) ([]uint16, error) {
	var list []uint16
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		port, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		list = append(list, port)
	}
	if len(list) == 0 {
		return nil, errors.ErrConfigInvalid("ports", spec)
	}
	return list, nil
}

func parsePort(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil || n < MinPort || n > MaxPort {
		return 0, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("port must be between %d and %d", MinPort, MaxPort), "port", s)
	}
	return uint16(n), nil
}

// ScanOrder selects how ports are traversed.
type ScanOrder int

const (
	Serial ScanOrder = iota
	Random
)

func (o ScanOrder) String() string {
	switch o {
	case Random:
		return "random"
	default:
		return "serial"
	}
}

// ParseOrder parses "serial" or "random", case-insensitively.
func ParseOrder(s string) (ScanOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "serial":
		return Serial, nil
	case "random":
		return Random, nil
	default:
		return Serial, errors.ErrConfigInvalid("scan_order", s)
	}
}
