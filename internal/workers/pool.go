// Package workers provides the bounded worker pool that carries azula's
// in-flight probe window. A fixed number of workers pull jobs from a queue,
// retry failed jobs up to a limit, and hand every outcome to a single
// results channel.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/azula/internal/errors"
	"github.com/anstrom/azula/internal/logging"
	"github.com/anstrom/azula/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs one attempt of the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	Job      Job
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Attempts int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines, i.e. the maximum number of
	// jobs executing at once.
	Size int
	// QueueSize is the number of submitted jobs waiting for a worker.
	QueueSize int
	// MaxRetries is the number of extra attempts after a failed one.
	MaxRetries int
	// RetryDelay is the delay between attempts.
	RetryDelay time.Duration
	// ShouldRetry decides whether a failed attempt is retried. Fatal
	// errors are never retried. Nil retries every other error.
	ShouldRetry func(err error) bool
	// Registry receives pool metrics. Nil uses the default registry.
	Registry *metrics.Registry
	// Logger is used for debug output. Nil uses the default logger.
	Logger *logging.Logger
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:       10,
		QueueSize:  100,
		MaxRetries: 0,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config    Config
	jobs      chan Job
	results   chan Result
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	registry  *metrics.Registry
	logger    *logging.Logger
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	registry := config.Registry
	if registry == nil {
		registry = metrics.Default()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Pool{
		config:   config,
		jobs:     make(chan Job, config.QueueSize),
		results:  make(chan Result, config.Size),
		registry: registry,
		logger:   logger.WithComponent("workers"),
	}
}

// Start launches the workers. Jobs run with a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.ctx, p.cancel = context.WithCancel(ctx)

		p.logger.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"max_retries", p.config.MaxRetries)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}

		go func() {
			p.wg.Wait()
			close(p.results)
		}()

		p.registry.Gauge(metrics.MetricWorkerPool, float64(p.config.Size), metrics.Labels{
			metrics.LabelComponent: "workers",
		})
	})
}

// Submit queues a job, blocking until there is room, ctx is done or the
// pool is stopped.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.ctx == nil {
		return fmt.Errorf("worker pool is not started")
	}
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool is shutting down: %w", err)
	}

	select {
	case p.jobs <- job:
		p.registry.Counter(metrics.MetricJobsSubmitted, metrics.Labels{
			metrics.LabelJobType: job.Type(),
		})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", p.ctx.Err())
	}
}

// CloseInput signals that no more jobs will be submitted. Workers finish the
// queued jobs and exit. It must not be called concurrently with Submit.
func (p *Pool) CloseInput() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
}

// Results returns the channel of job outcomes. It is closed once every
// worker has exited, and must be drained for workers to make progress.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stop cancels running jobs and stops workers from picking up queued ones.
// Results still closes once workers have exited.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.results <- p.execute(id, job)
		case <-p.ctx.Done():
			return
		}
	}
}

// execute runs a job with retry logic and returns its final outcome.
func (p *Pool) execute(workerID int, job Job) Result {
	timer := p.registry.NewTimer(metrics.MetricJobDuration, metrics.Labels{
		metrics.LabelJobType: job.Type(),
	})

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if p.ctx.Err() != nil {
			if lastErr == nil {
				lastErr = errors.WrapScanError(errors.CodeCanceled, "job canceled before completion", p.ctx.Err())
			}
			break
		}

		attempts++
		lastErr = job.Execute(p.ctx)
		if lastErr == nil {
			break
		}
		if !p.retryable(lastErr) {
			break
		}

		if attempt < p.config.MaxRetries {
			p.logger.Debug("Job failed, retrying",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"attempt", attempt+1,
				"max_retries", p.config.MaxRetries,
				"worker_id", workerID,
				"error", lastErr)

			if p.config.RetryDelay > 0 {
				select {
				case <-time.After(p.config.RetryDelay):
				case <-p.ctx.Done():
				}
			}
		}
	}

	duration := timer.Stop()
	status := "success"
	if lastErr != nil {
		status = "error"
	}
	p.registry.Counter(metrics.MetricJobsCompleted, metrics.Labels{
		metrics.LabelJobType: job.Type(),
		metrics.LabelStatus:  status,
	})
	p.registry.Histogram(metrics.MetricJobAttempts, float64(attempts), metrics.Labels{
		metrics.LabelJobType: job.Type(),
	})

	return Result{
		Job:      job,
		JobID:    job.ID(),
		JobType:  job.Type(),
		Error:    lastErr,
		Duration: duration,
		Attempts: attempts,
	}
}

func (p *Pool) retryable(err error) bool {
	if errors.IsFatal(err) || errors.IsTooManyOpenFiles(err) {
		return false
	}
	if p.config.ShouldRetry != nil {
		return p.config.ShouldRetry(err)
	}
	return true
}
