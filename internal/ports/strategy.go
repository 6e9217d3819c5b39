package ports

import (
	"math/rand/v2"
	"slices"
)

// Strategy holds the ordered port sequence of a scan.
type Strategy struct {
	order []uint16
}

// Pick materializes the port sequence. An explicit list takes precedence
// over the range; callers substitute FullRange when neither is given.
func Pick(r *PortRange, list []uint16, order ScanOrder) *Strategy {
	if list != nil {
		seq := dedupe(list)
		if order == Random {
			rand.Shuffle(len(seq), func(i, j int) {
				seq[i], seq[j] = seq[j], seq[i]
			})
		}
		return &Strategy{order: seq}
	}

	pr := FullRange()
	if r != nil {
		pr = *r
	}
	var gen Generator
	if order == Random {
		gen = NewRangeIterator(pr)
	} else {
		gen = NewSerialIterator(pr)
	}
	seq := make([]uint16, 0, pr.Len())
	for {
		port, ok := gen.Next()
		if !ok {
			break
		}
		seq = append(seq, port)
	}
	return &Strategy{order: seq}
}

// Order returns a copy of the port sequence.
func (s *Strategy) Order() []uint16 {
	return slices.Clone(s.order)
}

// Len returns the number of ports in the sequence.
func (s *Strategy) Len() int {
	return len(s.order)
}

// Without returns the sequence minus the excluded ports, order preserved.
func (s *Strategy) Without(excluded []uint16) []uint16 {
	if len(excluded) == 0 {
		return s.Order()
	}
	skip := make(map[uint16]struct{}, len(excluded))
	for _, p := range excluded {
		skip[p] = struct{}{}
	}
	out := make([]uint16, 0, len(s.order))
	for _, p := range s.order {
		if _, ok := skip[p]; !ok {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(list []uint16) []uint16 {
	seen := make(map[uint16]struct{}, len(list))
	out := make([]uint16, 0, len(list))
	for _, p := range list {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
