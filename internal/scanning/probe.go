package scanning

import (
	"context"
	stderrors "errors"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/anstrom/azula/internal/errors"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// errNoResponse marks a UDP attempt that timed out without any reply.
var errNoResponse = stderrors.New("no response")

// udpReadSize is the receive buffer of a UDP probe. Any reply counts, so
// the content is not inspected.
const udpReadSize = 1024

// probeJob is one target scheduled on the worker pool. Each Execute call is
// a single attempt; the pool handles retries.
type probeJob struct {
	target  Target
	udp     bool
	timeout time.Duration
	dialer  Dialer
	payload []byte
}

func (j *probeJob) ID() string {
	return j.target.jobID(j.Type())
}

func (j *probeJob) Type() string {
	if j.udp {
		return "udp"
	}
	return "tcp"
}

func (j *probeJob) Execute(ctx context.Context) error {
	var err error
	if j.udp {
		err = j.probeUDP(ctx)
	} else {
		err = j.probeTCP(ctx)
	}
	return j.classify(ctx, err)
}

// classify tags a failed attempt with TIMEOUT or PROBE_FAILED. Descriptor
// exhaustion and cancellation are returned untouched so they are never retried.
func (j *probeJob) classify(ctx context.Context, err error) error {
	switch {
	case err == nil, ctx.Err() != nil, errors.IsTooManyOpenFiles(err):
		return err
	case isNoResponse(err) || isTimeout(err):
		return errors.WrapScanErrorWithTarget(errors.CodeTimeout, "no reply before the deadline", j.target.String(), err)
	default:
		return errors.WrapScanErrorWithTarget(errors.CodeProbeFailed, "connection failed", j.target.String(), err)
	}
}

// probeTCP completes a handshake and closes the connection straight away.
func (j *probeJob) probeTCP(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	conn, err := j.dialer.DialContext(ctx, j.target.network("tcp"), j.target.String())
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}

// probeUDP sends the payload from an ephemeral socket of the target's family
// and waits for any reply.
func (j *probeJob) probeUDP(ctx context.Context) error {
	local := netip.IPv4Unspecified()
	if j.target.Addr.Is6() {
		local = netip.IPv6Unspecified()
	}

	conn, err := net.DialUDP(j.target.network("udp"),
		net.UDPAddrFromAddrPort(netip.AddrPortFrom(local, 0)),
		net.UDPAddrFromAddrPort(j.target.AddrPort()))
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(j.timeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(j.payload); err != nil {
		return j.udpError(ctx, err)
	}

	buf := make([]byte, udpReadSize)
	if _, err := conn.Read(buf); err != nil {
		return j.udpError(ctx, err)
	}
	return nil
}

func (j *probeJob) udpError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if stderrors.Is(err, os.ErrDeadlineExceeded) {
		return errNoResponse
	}
	return err
}

// isNoResponse reports whether a UDP attempt ended without a reply.
func isNoResponse(err error) bool {
	return stderrors.Is(err, errNoResponse)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// errorReason strips the classification and the operation prefix of network
// errors so that failures of the same kind on one host collapse to a single
// diagnostic string.
func errorReason(err error) string {
	var scanErr *errors.ScanError
	if stderrors.As(err, &scanErr) && scanErr.Cause != nil {
		err = scanErr.Cause
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err.Error()
	}
	return err.Error()
}
