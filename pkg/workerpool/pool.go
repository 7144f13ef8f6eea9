// Package workerpool provides a bounded worker pool for batch re-evaluation.
// The unit of work is one patient's full pipeline pass, so cancellation never
// leaves a single patient half-updated.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PatientFunc runs one patient's pass. It must be safe to retry.
type PatientFunc func(ctx context.Context, patientID string) error

// Result reports the outcome of one patient's pass.
type Result struct {
	PatientID string
	Err       error
}

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the patient queue
	QueueSize int
	// MaxRetries is the maximum number of retries for a failed pass
	MaxRetries int
	// RetryDelay is the base delay between retries
	RetryDelay time.Duration
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for a nightly re-score batch.
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               1024,
		MaxRetries:              2,
		RetryDelay:              250 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages the workers running patient passes.
type Pool struct {
	config Config
	fn     PatientFunc
	logger *zap.Logger

	patientChan chan string
	resultChan  chan Result
	wg          sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	retried   int64
}

// New creates a new worker pool
func New(cfg Config, fn PatientFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("patient function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:      cfg,
		fn:          fn,
		logger:      logger,
		patientChan: make(chan string, cfg.QueueSize),
		resultChan:  make(chan Result, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues a patient for re-evaluation.
func (p *Pool) Submit(patientID string) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.patientChan <- patientID:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		return fmt.Errorf("patient queue is full")
	}
}

// Results returns the result channel for async consumption.
func (p *Pool) Results() <-chan Result {
	return p.resultChan
}

// Drain closes the queue and waits until every submitted patient has been
// processed, then closes the result channel. Used by batch runs.
func (p *Pool) Drain() {
	close(p.patientChan)
	p.wg.Wait()
	close(p.resultChan)
}

// Stop cancels in-flight passes and shuts the pool down.
func (p *Pool) Stop() error {
	p.logger.Info("stopping worker pool")
	p.cancel()
	close(p.patientChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}

	close(p.resultChan)
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for patientID := range p.patientChan {
		p.process(id, patientID)
	}

	p.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

// process runs one patient's pass with retries and backoff. A cancelled
// context stops between attempts, never mid-pass.
func (p *Pool) process(workerID int, patientID string) {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := p.ctx.Err(); err != nil {
			lastErr = err
			break
		}

		lastErr = p.fn(p.ctx, patientID)
		if lastErr == nil {
			break
		}

		if attempt < p.config.MaxRetries {
			atomic.AddInt64(&p.retried, 1)
			p.logger.Debug("retrying patient pass",
				zap.String("patient_id", patientID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))

			select {
			case <-p.ctx.Done():
				lastErr = p.ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
				continue
			}
			break
		}
	}

	if lastErr == nil {
		atomic.AddInt64(&p.completed, 1)
	} else {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Error("patient pass failed",
			zap.String("patient_id", patientID),
			zap.Int("worker_id", workerID),
			zap.Error(lastErr))
	}

	select {
	case p.resultChan <- Result{PatientID: patientID, Err: lastErr}:
	default:
		p.logger.Warn("result channel full, dropping result",
			zap.String("patient_id", patientID))
	}
}

// Stats returns current pool statistics
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Retried   int64
	Workers   int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Retried:   atomic.LoadInt64(&p.retried),
		Workers:   p.config.Workers,
	}
}
