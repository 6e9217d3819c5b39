package scanning

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	azerrors "github.com/anstrom/azula/internal/errors"
	"github.com/anstrom/azula/internal/logging"
	"github.com/anstrom/azula/internal/metrics"
	"github.com/anstrom/azula/internal/ports"
)

var localhost = netip.MustParseAddr("127.0.0.1")

// fakeDialer counts dials per address and delegates the outcome to dial.
type fakeDialer struct {
	mu    sync.Mutex
	dials map[string]int
	dial  func(ctx context.Context, address string) (net.Conn, error)
}

func newFakeDialer(dial func(ctx context.Context, address string) (net.Conn, error)) *fakeDialer {
	return &fakeDialer{dials: make(map[string]int), dial: dial}
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials[address]++
	d.mu.Unlock()
	return d.dial(ctx, address)
}

func (d *fakeDialer) count(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[address]
}

func (d *fakeDialer) addresses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.dials))
	for a := range d.dials {
		out = append(out, a)
	}
	return out
}

func openConn() (net.Conn, error) {
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithLogger(logging.Discard()),
		WithRegistry(metrics.NewRegistry()),
	}, extra...)
}

func testScanConfig() Config {
	return Config{BatchSize: 8, Timeout: time.Second, Tries: 1}
}

// closedTCPPort returns a loopback port with nothing listening on it.
func closedTCPPort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	require.NoError(t, l.Close())
	return port
}

func TestScannerFindsOpenTCPPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	open := uint16(listener.Addr().(*net.TCPAddr).Port)
	list := []uint16{closedTCPPort(t), open, closedTCPPort(t)}

	scanner := New([]netip.Addr{localhost}, ports.Pick(nil, list, ports.Serial), testScanConfig(), testOptions()...)
	result, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Target{{localhost, open}}, result.Open)
	assert.Equal(t, 3, result.Attempted)
	assert.NotEmpty(t, result.Errors)
}

func TestScannerNeverProbesExcludedPorts(t *testing.T) {
	dialer := newFakeDialer(func(ctx context.Context, address string) (net.Conn, error) {
		return openConn()
	})

	cfg := testScanConfig()
	cfg.ExcludePorts = []uint16{80, 8080}
	strategy := ports.Pick(nil, []uint16{22, 80, 443, 8080}, ports.Random)

	scanner := New([]netip.Addr{localhost}, strategy, cfg, testOptions(WithDialer(dialer))...)

	it := scanner.Targets()
	for {
		target, ok := it.Next()
		if !ok {
			break
		}
		assert.NotContains(t, cfg.ExcludePorts, target.Port)
	}

	result, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"127.0.0.1:22", "127.0.0.1:443"}, dialer.addresses())
	assert.Len(t, result.Open, 2)
}

func TestScannerRetryExhaustion(t *testing.T) {
	refused := errors.New("connection refused")
	dialer := newFakeDialer(func(ctx context.Context, address string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp4", Err: refused}
	})

	addrs := []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")}
	cfg := testScanConfig()
	cfg.Tries = 3

	scanner := New(addrs, ports.Pick(nil, []uint16{22, 80}, ports.Serial), cfg, testOptions(WithDialer(dialer))...)
	result, err := scanner.Run(context.Background())
	require.NoError(t, err)

	for _, a := range []string{"10.0.0.1:22", "10.0.0.1:80", "10.0.0.2:22", "10.0.0.2:80"} {
		assert.Equal(t, 3, dialer.count(a), "attempts for %s", a)
	}
	assert.Empty(t, result.Open)
	assert.Equal(t, 4, result.Attempted)
	assert.Equal(t, []string{"connection refused 10.0.0.1", "connection refused 10.0.0.2"}, result.Errors)
}

func TestScannerTriesNormalized(t *testing.T) {
	dialer := newFakeDialer(func(ctx context.Context, address string) (net.Conn, error) {
		return nil, errors.New("unreachable")
	})
	cfg := testScanConfig()
	cfg.Tries = 0

	scanner := New([]netip.Addr{localhost}, ports.Pick(nil, []uint16{1}, ports.Serial), cfg, testOptions(WithDialer(dialer))...)
	assert.Equal(t, 1, scanner.Config().Tries)

	_, err := scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dialer.count("127.0.0.1:1"))
}

func TestScannerAbortsOnResourceExhaustion(t *testing.T) {
	dialer := newFakeDialer(func(ctx context.Context, address string) (net.Conn, error) {
		if address == "10.0.0.1:25" {
			return nil, &net.OpError{Op: "dial", Net: "tcp4", Err: os.NewSyscallError("socket", syscall.EMFILE)}
		}
		if address < "10.0.0.1:25" {
			return openConn()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := testScanConfig()
	cfg.BatchSize = 4
	cfg.Tries = 5
	strategy := ports.Pick(nil, []uint16{21, 22, 23, 25, 26, 27, 28, 29}, ports.Serial)

	scanner := New([]netip.Addr{netip.MustParseAddr("10.0.0.1")}, strategy, cfg, testOptions(WithDialer(dialer))...)
	result, err := scanner.Run(context.Background())

	require.Error(t, err)
	assert.True(t, azerrors.IsCode(err, azerrors.CodeResourceExhausted))
	assert.True(t, azerrors.IsFatal(err))
	assert.Contains(t, err.Error(), "lower the batch size (currently 4)")
	assert.Equal(t, 1, dialer.count("10.0.0.1:25"), "exhaustion must not be retried")

	require.NotNil(t, result, "partial results are returned with the fatal error")
	for _, target := range result.Open {
		assert.Less(t, target.Port, uint16(25))
	}
}

func TestScannerCancellation(t *testing.T) {
	dialer := newFakeDialer(func(ctx context.Context, address string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cfg := testScanConfig()
	cfg.Timeout = time.Minute
	scanner := New([]netip.Addr{localhost}, ports.Pick(nil, []uint16{1, 2, 3, 4, 5}, ports.Serial), cfg, testOptions(WithDialer(dialer))...)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := scanner.Run(ctx)
	require.Error(t, err)
	assert.True(t, azerrors.IsCode(err, azerrors.CodeCanceled))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, result)
	assert.Empty(t, result.Open)
	assert.Empty(t, result.Errors)
}

func TestScannerWindowBound(t *testing.T) {
	var running, peak int32
	dialer := newFakeDialer(func(ctx context.Context, address string) (net.Conn, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, errors.New("refused")
	})

	cfg := testScanConfig()
	cfg.BatchSize = 3
	r, err := ports.NewPortRange(1, 60)
	require.NoError(t, err)

	scanner := New([]netip.Addr{localhost}, ports.Pick(&r, nil, ports.Random), cfg, testOptions(WithDialer(dialer))...)
	result, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 60, result.Attempted)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Len(t, dialer.addresses(), 60, "every target is dialed exactly once")
}

func TestScannerHandlersAndMetrics(t *testing.T) {
	dialer := newFakeDialer(func(ctx context.Context, address string) (net.Conn, error) {
		if address == "127.0.0.1:443" {
			return openConn()
		}
		return nil, errors.New("refused")
	})

	registry := metrics.NewRegistry()
	var found []Target
	var progress int

	scanner := New([]netip.Addr{localhost}, ports.Pick(nil, []uint16{22, 80, 443}, ports.Serial), testScanConfig(),
		WithLogger(logging.Discard()),
		WithRegistry(registry),
		WithDialer(dialer),
		WithScanID("scan-1"),
		WithOpenHandler(func(target Target) { found = append(found, target) }),
		WithProgressHandler(func() { progress++ }))

	assert.Equal(t, "scan-1", scanner.ScanID())
	_, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Target{{localhost, 443}}, found)
	assert.Equal(t, 3, progress)

	open := registry.Get(metrics.MetricOpenPorts, metrics.Labels{metrics.LabelProtocol: "tcp"})
	require.NotNil(t, open)
	assert.Equal(t, 1.0, open.Value)
	assert.NotNil(t, registry.Get(metrics.MetricScanTotal, metrics.Labels{
		metrics.LabelProtocol: "tcp", metrics.LabelStatus: scanStatusSuccess,
	}))
}

func TestScannerNoTargets(t *testing.T) {
	cfg := testScanConfig()
	cfg.ExcludePorts = []uint16{80}

	scanner := New([]netip.Addr{localhost}, ports.Pick(nil, []uint16{80}, ports.Serial), cfg, testOptions()...)
	result, err := scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Open)
	assert.Zero(t, result.Attempted)
}

// udpResponder answers every datagram it receives and records the payloads.
func udpResponder(t *testing.T) (uint16, <-chan []byte) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	received := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			received <- append([]byte(nil), buf[:n]...)
			_, _ = conn.WriteTo([]byte("pong"), addr)
		}
	}()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port), received
}

func TestScannerUDPOpenPort(t *testing.T) {
	port, received := udpResponder(t)

	payloads := NewPayloadTable()
	payloads.Set([]uint16{port}, []byte("ping"))

	cfg := testScanConfig()
	cfg.UDP = true
	cfg.Payloads = payloads

	scanner := New([]netip.Addr{localhost}, ports.Pick(nil, []uint16{port}, ports.Serial), cfg, testOptions()...)
	result, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Target{{localhost, port}}, result.Open)
	select {
	case b := <-received:
		assert.Equal(t, []byte("ping"), b)
	case <-time.After(time.Second):
		t.Fatal("responder never received the payload")
	}
}

func TestScannerUDPSilentPort(t *testing.T) {
	// A bound socket that never answers looks closed or filtered.
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)

	cfg := testScanConfig()
	cfg.UDP = true
	cfg.Timeout = 50 * time.Millisecond
	cfg.Tries = 2

	scanner := New([]netip.Addr{localhost}, ports.Pick(nil, []uint16{port}, ports.Serial), cfg, testOptions()...)
	result, err := scanner.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Open)
	assert.Empty(t, result.Errors, "a UDP timeout is not an error")
	assert.Equal(t, 1, result.Attempted)
}

// lowestGauge records the smallest in-flight value it is given.
type lowestGauge struct {
	mu     sync.Mutex
	lowest int
	seen   bool
}

func (g *lowestGauge) RecordProbe(string, string, time.Duration) {}
func (g *lowestGauge) RecordScan(string, string, time.Duration)  {}
func (g *lowestGauge) SetAddresses(int)                          {}

func (g *lowestGauge) SetInFlight(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.seen || n < g.lowest {
		g.lowest, g.seen = n, true
	}
}

func TestScannerInFlightGaugeNeverNegative(t *testing.T) {
	dialer := newFakeDialer(func(ctx context.Context, address string) (net.Conn, error) {
		return openConn()
	})
	r, err := ports.NewPortRange(1, 2000)
	require.NoError(t, err)

	cfg := testScanConfig()
	cfg.BatchSize = 64
	gauge := &lowestGauge{}

	for i := 0; i < 50; i++ {
		scanner := New([]netip.Addr{localhost}, ports.Pick(&r, nil, ports.Serial), cfg,
			testOptions(WithDialer(dialer), WithMetrics(gauge))...)
		result, err := scanner.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, result.Open, 2000)
	}

	require.True(t, gauge.seen)
	assert.GreaterOrEqual(t, gauge.lowest, 0, "lowest in-flight value")
}

func TestClassifyAttemptErrors(t *testing.T) {
	job := &probeJob{target: Target{localhost, 22}}
	ctx := context.Background()

	refused := job.classify(ctx, &net.OpError{Op: "dial", Net: "tcp4", Err: errors.New("connection refused")})
	assert.True(t, azerrors.IsCode(refused, azerrors.CodeProbeFailed))
	assert.True(t, azerrors.IsRetryable(refused))
	assert.Equal(t, "connection refused", errorReason(refused))

	silent := job.classify(ctx, errNoResponse)
	assert.True(t, azerrors.IsCode(silent, azerrors.CodeTimeout))
	assert.True(t, isNoResponse(silent))

	timedOut := job.classify(ctx, os.ErrDeadlineExceeded)
	assert.True(t, azerrors.IsCode(timedOut, azerrors.CodeTimeout))

	exhausted := job.classify(ctx, os.NewSyscallError("socket", syscall.EMFILE))
	assert.Equal(t, azerrors.CodeUnknown, azerrors.GetCode(exhausted))
	assert.True(t, azerrors.IsTooManyOpenFiles(exhausted))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, context.Canceled, job.classify(canceled, context.Canceled))
	assert.NoError(t, job.classify(ctx, nil))
}

func TestShouldRetry(t *testing.T) {
	job := &probeJob{target: Target{localhost, 1}}
	ctx := context.Background()
	refused := job.classify(ctx, errors.New("refused"))
	silent := job.classify(ctx, errNoResponse)
	exhausted := job.classify(ctx, syscall.EMFILE)

	tcp := New(nil, ports.Pick(nil, []uint16{1}, ports.Serial), testScanConfig(), testOptions()...)
	assert.True(t, tcp.shouldRetry(refused))
	assert.True(t, tcp.shouldRetry(silent))
	assert.False(t, tcp.shouldRetry(exhausted))

	cfg := testScanConfig()
	cfg.UDP = true
	udp := New(nil, ports.Pick(nil, []uint16{1}, ports.Serial), cfg, testOptions()...)
	assert.True(t, udp.shouldRetry(silent))
	assert.False(t, udp.shouldRetry(job.classify(ctx, errors.New("network unreachable"))))
	assert.False(t, udp.shouldRetry(exhausted))
	assert.NotNil(t, udp.Config().Payloads, "UDP scans default to the built-in payloads")
}

func TestErrorReason(t *testing.T) {
	err := &net.OpError{Op: "dial", Net: "tcp4", Err: errors.New("connection refused")}
	assert.Equal(t, "connection refused", errorReason(err))
	assert.Equal(t, "plain", errorReason(errors.New("plain")))
}
