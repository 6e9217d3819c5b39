package ports

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/azula/internal/errors"
)

func ascending(start, end uint16) []uint16 {
	out := make([]uint16, 0, int(end)-int(start)+1)
	for p := uint32(start); p <= uint32(end); p++ {
		out = append(out, uint16(p))
	}
	return out
}

func TestNewPortRange(t *testing.T) {
	r, err := NewPortRange(1, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, r.Len())
	assert.True(t, r.Contains(1))
	assert.True(t, r.Contains(1000))
	assert.False(t, r.Contains(1001))
	assert.Equal(t, "1-1000", r.String())

	single, err := NewPortRange(80, 80)
	require.NoError(t, err)
	assert.Equal(t, 1, single.Len())
}

func TestNewPortRangeRejectsInverted(t *testing.T) {
	_, err := NewPortRange(100, 10)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    PortRange
		wantErr bool
	}{
		{"simple", "1-1000", PortRange{1, 1000}, false},
		{"spaces", " 20 - 25 ", PortRange{20, 25}, false},
		{"full", "1-65535", PortRange{1, 65535}, false},
		{"inverted", "100-10", PortRange{}, true},
		{"zero start", "0-10", PortRange{}, true},
		{"too high", "1-70000", PortRange{}, true},
		{"missing end", "10-", PortRange{}, true},
		{"not a range", "80", PortRange{}, true},
		{"garbage", "a-b", PortRange{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseList(t *testing.T) {
	list, err := ParseList("22, 80,443,,8080")
	require.NoError(t, err)
	assert.Equal(t, []uint16{22, 80, 443, 8080}, list)

	_, err = ParseList("22,http")
	assert.Error(t, err)

	_, err = ParseList(" , ")
	assert.Error(t, err)
}

func TestParseOrder(t *testing.T) {
	order, err := ParseOrder("Random")
	require.NoError(t, err)
	assert.Equal(t, Random, order)
	assert.Equal(t, "random", order.String())

	order, err = ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, Serial, order)

	_, err = ParseOrder("sideways")
	assert.Error(t, err)
}

func TestSerialIterator(t *testing.T) {
	got := Drain(NewSerialIterator(PortRange{1, 1000}))
	assert.Equal(t, ascending(1, 1000), got)

	top := Drain(NewSerialIterator(PortRange{65530, 65535}))
	assert.Equal(t, ascending(65530, 65535), top)
}

func TestRangeIteratorFullCoverage(t *testing.T) {
	ranges := []PortRange{
		{1, 1},
		{1, 2},
		{1, 3},
		{10, 17},
		{1, 100},
		{1000, 1999},
		{60000, 65535},
		{1, 65535},
	}

	for _, r := range ranges {
		t.Run(r.String(), func(t *testing.T) {
			got := Drain(NewRangeIterator(r))
			require.Len(t, got, r.Len())
			slices.Sort(got)
			assert.Equal(t, ascending(r.Start, r.End), got)
		})
	}
}

func TestRangeIteratorSeededCoverage(t *testing.T) {
	for seed := uint64(0); seed < 200; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		size := 1 + rng.IntN(500)
		r := PortRange{Start: 100, End: uint16(100 + size - 1)}

		got := Drain(newRangeIterator(r, rng))
		slices.Sort(got)
		require.Equal(t, ascending(r.Start, r.End), got, "seed %d", seed)
	}
}

func TestRangeIteratorIsNotAscending(t *testing.T) {
	got := Drain(NewRangeIterator(PortRange{1, 100}))
	assert.NotEqual(t, ascending(1, 100), got)

	slices.Sort(got)
	assert.Equal(t, ascending(1, 100), got)
}

func TestRangeIteratorSinglePort(t *testing.T) {
	it := NewRangeIterator(PortRange{443, 443})
	port, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, uint16(443), port)

	_, ok = it.Next()
	assert.False(t, ok)
}

func TestPickCoprime(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for n := uint32(2); n < 2000; n++ {
		step := pickCoprime(n, rng)
		assert.Equal(t, uint32(1), gcd(n, step), "n=%d step=%d", n, step)
		assert.Less(t, step, n)
	}
}
