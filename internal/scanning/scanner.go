package scanning

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/azula/internal/errors"
	"github.com/anstrom/azula/internal/logging"
	"github.com/anstrom/azula/internal/metrics"
	"github.com/anstrom/azula/internal/ports"
	"github.com/anstrom/azula/internal/workers"
)

// Scan outcome labels recorded through the metrics recorder.
const (
	scanStatusSuccess  = "success"
	scanStatusCanceled = "canceled"
	scanStatusAborted  = "aborted"
)

// Scanner probes every (address, port) pair of a scan with a bounded number
// of probes in flight.
type Scanner struct {
	addrs    []netip.Addr
	strategy *ports.Strategy
	config   Config

	scanID   string
	logger   *logging.Logger
	recorder metrics.ProbeRecorder
	registry *metrics.Registry
	dialer   Dialer
	onOpen   func(Target)
	onDone   func()
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger. The default logger is used otherwise.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// WithMetrics sets the recorder receiving probe and scan metrics.
func WithMetrics(recorder metrics.ProbeRecorder) Option {
	return func(s *Scanner) {
		s.recorder = recorder
	}
}

// WithRegistry sets the registry of the worker pool metrics.
func WithRegistry(registry *metrics.Registry) Option {
	return func(s *Scanner) {
		s.registry = registry
	}
}

// WithDialer replaces the dialer of TCP probes.
func WithDialer(dialer Dialer) Option {
	return func(s *Scanner) {
		s.dialer = dialer
	}
}

// WithOpenHandler registers fn to be called for every open target as soon as
// it is found. fn runs on the goroutine calling Run.
func WithOpenHandler(fn func(Target)) Option {
	return func(s *Scanner) {
		s.onOpen = fn
	}
}

// WithProgressHandler registers fn to be called once per completed target.
func WithProgressHandler(fn func()) Option {
	return func(s *Scanner) {
		s.onDone = fn
	}
}

// WithScanID sets the identifier attached to logs. A random UUID is used otherwise.
func WithScanID(id string) Option {
	return func(s *Scanner) {
		s.scanID = id
	}
}

// New creates a scanner over addrs and the ports of strategy.
func New(addrs []netip.Addr, strategy *ports.Strategy, cfg Config, opts ...Option) *Scanner {
	s := &Scanner{
		addrs:    addrs,
		strategy: strategy,
		config:   cfg.normalized(),
		dialer:   &net.Dialer{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.scanID == "" {
		s.scanID = uuid.NewString()
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("scanner").WithScanID(s.scanID)
	if s.registry == nil {
		s.registry = metrics.Default()
	}
	if s.recorder == nil {
		s.recorder = metrics.NewRegistryRecorder(s.registry)
	}
	return s
}

// ScanID returns the identifier of the scan.
func (s *Scanner) ScanID() string {
	return s.scanID
}

// Config returns the normalized configuration.
func (s *Scanner) Config() Config {
	return s.config
}

// Targets returns the iterator over every target the scan probes, excluded
// ports removed.
func (s *Scanner) Targets() *SocketIterator {
	return NewSocketIterator(s.addrs, s.strategy.Without(s.config.ExcludePorts))
}

// Run probes every target and returns the open ones.
//
// On resource exhaustion or cancellation of ctx, Run stops dispatching,
// waits for in-flight probes, and returns the partial result with the error.
func (s *Scanner) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	protocol := s.config.protocol()
	targets := s.Targets()
	total := targets.Len()
	acc := newCollector(len(s.addrs))

	window := min(s.config.BatchSize, total)
	s.logger.Debug("Starting scan",
		"protocol", protocol,
		"addresses", len(s.addrs),
		"targets", total,
		"batch_size", s.config.BatchSize,
		"window", window,
		"timeout", s.config.Timeout,
		"tries", s.config.Tries)
	if s.config.UDP {
		s.logger.Debug("UDP payloads loaded", "ports", s.config.Payloads.Ports())
	}
	s.recorder.SetAddresses(len(s.addrs))

	if total == 0 {
		s.recorder.RecordScan(protocol, scanStatusSuccess, time.Since(started))
		return acc.result(started), nil
	}

	pool := workers.New(workers.Config{
		Size:        window,
		QueueSize:   0,
		MaxRetries:  s.config.Tries - 1,
		ShouldRetry: s.shouldRetry,
		Registry:    s.registry,
		Logger:      s.logger,
	})
	pool.Start(ctx)
	defer pool.Stop()

	var submitted atomic.Int64
	go s.feed(ctx, pool, targets, &submitted)

	var fatal error
	completed := 0
	for res := range pool.Results() {
		completed++
		s.recorder.SetInFlight(int(submitted.Load()) - completed)
		job := res.Job.(*probeJob)
		if res.Attempts > 0 {
			acc.attempted++
		}

		switch {
		case res.Error == nil:
			acc.addOpen(job.target)
			s.recorder.RecordProbe(protocol, metrics.StatusOpen, res.Duration)
			s.logger.DebugProbe("Target open", job.target.String(), res.Attempts)
			if s.onOpen != nil {
				s.onOpen(job.target)
			}
		case fatal != nil || ctx.Err() != nil:
			// Aborted or canceled probes say nothing about the target.
		case errors.IsTooManyOpenFiles(res.Error):
			fatal = errors.ErrResourceExhausted(s.config.BatchSize, res.Error)
			s.logger.WithTarget(job.target.String()).WithError(fatal).Error("Aborting scan")
			pool.Stop()
		case s.config.UDP && isNoResponse(res.Error):
			s.recorder.RecordProbe(protocol, metrics.StatusClosed, res.Duration)
		default:
			acc.addError(job.target, res.Error)
			s.recorder.RecordProbe(protocol, metrics.StatusError, res.Duration)
			s.logger.DebugProbe("Target failed", job.target.String(), res.Attempts, "error", res.Error)
		}

		if s.onDone != nil {
			s.onDone()
		}
	}
	s.recorder.SetInFlight(0)

	result := acc.result(started)
	s.logger.Debug("Scan finished",
		"open", len(result.Open),
		"attempted", result.Attempted,
		"errors", len(result.Errors),
		"duration", result.Duration)

	switch {
	case fatal != nil:
		s.recorder.RecordScan(protocol, scanStatusAborted, result.Duration)
		return result, fatal
	case ctx.Err() != nil:
		s.recorder.RecordScan(protocol, scanStatusCanceled, result.Duration)
		return result, errors.WrapScanError(errors.CodeCanceled, "scan canceled", ctx.Err())
	}
	s.recorder.RecordScan(protocol, scanStatusSuccess, result.Duration)
	return result, nil
}

// feed submits every target to the pool. Submit blocks while the window is
// full, so a probe starts only when another one completed. A target is
// counted as submitted before it can reach a worker.
func (s *Scanner) feed(ctx context.Context, pool *workers.Pool, targets *SocketIterator, submitted *atomic.Int64) {
	defer pool.CloseInput()

	for {
		t, ok := targets.Next()
		if !ok {
			return
		}
		submitted.Add(1)
		if err := pool.Submit(ctx, s.newProbe(t)); err != nil {
			submitted.Add(-1)
			return
		}
	}
}

func (s *Scanner) newProbe(t Target) *probeJob {
	job := &probeJob{
		target:  t,
		udp:     s.config.UDP,
		timeout: s.config.Timeout,
		dialer:  s.dialer,
	}
	if s.config.UDP {
		job.payload = s.config.Payloads.Lookup(t.Port)
	}
	return job
}

// shouldRetry retries every classified TCP failure. UDP probes are retried
// only when no reply arrived, other errors are final.
func (s *Scanner) shouldRetry(err error) bool {
	if s.config.UDP {
		return errors.IsCode(err, errors.CodeTimeout)
	}
	return errors.IsRetryable(err)
}
