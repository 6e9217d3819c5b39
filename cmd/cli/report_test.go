package cli

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/azula/internal/scanning"
)

func testResult() *scanning.Result {
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	return &scanning.Result{
		Open: []scanning.Target{
			{Addr: a, Port: 22},
			{Addr: a, Port: 80},
			{Addr: b, Port: 443},
		},
		Attempted: 6,
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderSummary(&buf, testResult()))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "ADDRESS")
	assert.Contains(t, out, "10.0.0.1")
	assert.Contains(t, out, "22,80")
	assert.Contains(t, out, "10.0.0.2")
	assert.Contains(t, out, "443")
}

func TestReportMissing(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false, true)

	addrs := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.3"),
	}
	reportMissing(p, addrs, testResult(), 4500)

	out := buf.String()
	assert.Contains(t, out, "didn't find any open ports for 10.0.0.3")
	assert.Contains(t, out, "I used 4500 batch size")
	assert.NotContains(t, out, "10.0.0.1")
}

func TestNoOpenPortsHint(t *testing.T) {
	hint := noOpenPortsHint(netip.MustParseAddr("::1"), 100)
	assert.Contains(t, hint, "::1")
	assert.Contains(t, hint, "100 batch size")
	assert.Contains(t, hint, "-t 2000")
}
