package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vendorops/backend/internal/domain"
)

// Default loop timings.
const (
	DefaultPollInterval = 1 * time.Second
	DefaultErrorBackoff = 5 * time.Second
)

// Store is the queue surface the pool runs against. All coordination
// happens through it; loops share no mutable state with each other.
type Store interface {
	Dequeue(ctx context.Context) (*domain.Job, error)
	UpdateProgress(ctx context.Context, jobID string, pct int, partial json.RawMessage) error
	MarkCompleted(ctx context.Context, jobID string, result json.RawMessage) error
	MarkFailed(ctx context.Context, jobID, errDetail string, retry bool) (string, error)
}

// EventPublisher receives best-effort notifications of terminal job
// transitions. Implementations must never block the worker loop for long.
type EventPublisher interface {
	JobFinished(ctx context.Context, job *domain.Job, status, errDetail string)
}

// Config holds worker pool configuration
type Config struct {
	Logger       *slog.Logger
	Store        Store
	Registry     *Registry
	Publisher    EventPublisher // optional
	Concurrency  int
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// Pool runs a fixed number of claim-execute-resolve loops against the
// store. Start is idempotent and Stop blocks until every loop has exited.
type Pool struct {
	logger       *slog.Logger
	store        Store
	registry     *Registry
	publisher    EventPublisher
	concurrency  int
	pollInterval time.Duration
	errorBackoff time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPool creates a new worker pool instance
func NewPool(cfg *Config) *Pool {
	p := &Pool{
		logger:       cfg.Logger,
		store:        cfg.Store,
		registry:     cfg.Registry,
		publisher:    cfg.Publisher,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		errorBackoff: cfg.ErrorBackoff,
	}
	if p.concurrency <= 0 {
		p.concurrency = 1
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.errorBackoff <= 0 {
		p.errorBackoff = DefaultErrorBackoff
	}
	return p
}

// Start spawns the worker loops. Calling Start while the pool is already
// running is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn("Worker pool already running, ignoring start")
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})

	p.logger.Info("Starting worker pool",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, p.stopChan, i)
	}
}

// Stop signals every loop to exit and waits for them. Loops observe the
// signal at least once per poll interval, so Stop returns promptly.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// workerLoop is the main claim-execute-resolve loop for one worker slot.
func (p *Pool) workerLoop(ctx context.Context, stop <-chan struct{}, workerNum int) {
	defer p.wg.Done()

	log := p.logger.With(slog.Int("worker_num", workerNum))
	log.Info("Worker loop started")

	for {
		select {
		case <-stop:
			log.Info("Worker loop stopping - stop requested")
			return
		case <-ctx.Done():
			log.Info("Worker loop stopping - context canceled")
			return
		default:
		}

		job, err := p.store.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error("Claim failed, backing off",
				slog.String("error", err.Error()),
			)
			p.sleep(ctx, stop, p.errorBackoff)
			continue
		}

		if job == nil {
			p.sleep(ctx, stop, p.pollInterval)
			continue
		}

		p.execute(ctx, log, job)
	}
}

// execute runs the job's handler and converts its outcome into a state
// transition. A handler failure or panic never escapes the loop.
func (p *Pool) execute(ctx context.Context, log *slog.Logger, job *domain.Job) {
	log.Info("Executing job",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Int("attempt", job.Attempt),
	)

	progress := func(pct int, partial json.RawMessage) {
		if err := p.store.UpdateProgress(ctx, job.ID, pct, partial); err != nil {
			log.Warn("Failed to update job progress",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	result, err := p.runHandler(ctx, job, progress)

	// Resolution writes survive shutdown: a canceled run context must not
	// strand a finished job in running until the stuck sweep finds it.
	resolveCtx := context.WithoutCancel(ctx)

	if err != nil {
		retry := !domain.IsFatal(err)
		log.Error("Job execution failed",
			slog.String("job_id", job.ID),
			slog.String("kind", job.Kind),
			slog.Int("attempt", job.Attempt),
			slog.Bool("retryable", retry),
			slog.String("error", err.Error()),
		)

		finalStatus, markErr := p.store.MarkFailed(resolveCtx, job.ID, err.Error(), retry)
		if markErr != nil {
			log.Error("Failed to record job failure",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()),
			)
			return
		}
		// Requeued attempts are not terminal transitions; only a job that
		// actually ended gets announced.
		if finalStatus == domain.JobStatusFailed {
			p.notify(resolveCtx, job, domain.JobStatusFailed, err.Error())
		}
		return
	}

	if markErr := p.store.MarkCompleted(resolveCtx, job.ID, result); markErr != nil {
		log.Error("Failed to record job completion",
			slog.String("job_id", job.ID),
			slog.String("error", markErr.Error()),
		)
		return
	}

	log.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
	)
	p.notify(resolveCtx, job, domain.JobStatusCompleted, "")
}

// runHandler resolves and invokes the handler, converting panics into
// ordinary retryable errors.
func (p *Pool) runHandler(ctx context.Context, job *domain.Job, progress ProgressFunc) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewRetryableError(fmt.Errorf("handler panic: %v", r))
		}
	}()

	handler, err := p.registry.Resolve(job.Kind)
	if err != nil {
		return nil, err
	}

	return handler(ctx, job, progress)
}

func (p *Pool) notify(ctx context.Context, job *domain.Job, status, errDetail string) {
	if p.publisher == nil {
		return
	}
	p.publisher.JobFinished(ctx, job, status, errDetail)
}

// sleep waits for d, returning early when the pool is stopping.
func (p *Pool) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
	case <-ctx.Done():
	case <-timer.C:
	}
}
