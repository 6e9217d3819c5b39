package ports

import (
	"math/rand/v2"
)

const coprimeAttempts = 10

// Generator produces ports one at a time until exhausted.
type Generator interface {
	Next() (uint16, bool)
}

// SerialIterator walks a range in ascending order.
type SerialIterator struct {
	next uint32
	end  uint32
}

// NewSerialIterator returns an iterator over r in ascending order.
func NewSerialIterator(r PortRange) *SerialIterator {
	return &SerialIterator{next: uint32(r.Start), end: uint32(r.End)}
}

// Next returns the next port, or false once the range is exhausted.
func (it *SerialIterator) Next() (uint16, bool) {
	if it.next > it.end {
		return 0, false
	}
	port := uint16(it.next)
	it.next++
	return port, true
}

// RangeIterator visits every port of a range exactly once in pseudo-random
// order by repeatedly adding a step coprime to the range size, modulo that
// size. Only the cursor is stored.
type RangeIterator struct {
	active    bool
	size      uint32
	firstPick uint32
	pick      uint32
	start     uint32
	step      uint32
}

// NewRangeIterator returns a random-order iterator over r.
func NewRangeIterator(r PortRange) *RangeIterator {
	return newRangeIterator(r, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

func newRangeIterator(r PortRange, rng *rand.Rand) *RangeIterator {
	size := uint32(r.Len())
	step := pickCoprime(size, rng)
	first := rng.Uint32N(size)
	return &RangeIterator{
		active:    true,
		size:      size,
		firstPick: first,
		pick:      first,
		start:     uint32(r.Start),
		step:      step,
	}
}

// Next returns the next port, or false once all ports have been emitted.
func (it *RangeIterator) Next() (uint16, bool) {
	if !it.active {
		return 0, false
	}
	current := it.pick
	next := (current + it.step) % it.size
	// The walk is back at its origin after exactly size emissions.
	if next == it.firstPick {
		it.active = false
	}
	it.pick = next

	port := it.start + current
	if port > MaxPort {
		panic("ports: generated port outside of the valid range")
	}
	return uint16(port), true
}

// pickCoprime samples the middle half of [0, n) for a value coprime to n,
// falling back to n-1.
func pickCoprime(n uint32, rng *rand.Rand) uint32 {
	lower := n / 4
	upper := n - lower
	for range coprimeAttempts {
		candidate := lower + rng.Uint32N(upper-lower)
		if gcd(n, candidate) == 1 {
			return candidate
		}
	}
	if n <= 1 {
		return 0
	}
	return n - 1
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Drain collects every remaining value of g.
func Drain(g Generator) []uint16 {
	var out []uint16
	for {
		port, ok := g.Next()
		if !ok {
			return out
		}
		out = append(out, port)
	}
}
