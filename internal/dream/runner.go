package dream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

// ErrRunnerClosed indicates the runner is no longer accepting work.
var ErrRunnerClosed = errors.New("dream: runner closed")

const (
	defaultRunnerWorkers = 2
	defaultQueueDepth    = 32
	defaultJobTimeout    = 5 * time.Minute
)

type job struct {
	sessionID string
	input     Submission
}

// Runner executes pipeline runs on a bounded worker pool so submission
// handlers can return immediately with a session ID. Results land in the
// session store; callers poll the status endpoint.
type Runner struct {
	pipeline *Pipeline
	logger   *logging.Logger

	jobs       chan job
	jobTimeout time.Duration
	workers    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRunnerWorkers overrides the number of pipeline worker goroutines.
func WithRunnerWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithJobTimeout bounds how long one pipeline run may take end to end.
func WithJobTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.jobTimeout = d
		}
	}
}

// Submit creates a new session, enqueues the pipeline run, and returns the
// session ID. The run executes asynchronously on the worker pool.
func (r *Runner) Submit(ctx context.Context, input Submission) (string, error) {
	if input.Empty() {
		return "", ErrEmptyInput
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRunnerClosed
	}
	r.mu.Unlock()

	session := NewDreamSession(uuid.NewString())
	if err := r.pipeline.Store().Save(ctx, session); err != nil {
		return "", err
	}

	select {
	case r.jobs <- job{sessionID: session.ID, input: input}:
		return session.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.ctx.Done():
		return "", ErrRunnerClosed
	}
}

// Shutdown stops accepting work and waits for in-flight runs to finish or
// the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Runner) runWorker(workerID int) {
	defer r.wg.Done()
	r.logger.Debug("pipeline worker started", "worker_id", workerID)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("pipeline worker stopping", "worker_id", workerID)
			return
		case j := <-r.jobs:
			r.handle(j)
		}
	}
}

func (r *Runner) handle(j job) {
	// Runs outlive the submitting request, so the timeout is anchored to the
	// runner lifetime rather than the HTTP context.
	ctx, cancel := context.WithTimeout(context.Background(), r.jobTimeout)
	defer cancel()

	session, err := r.pipeline.Store().Load(ctx, j.sessionID)
	if err != nil {
		r.logger.Error("pipeline job lost its session", "session_id", j.sessionID, "error", err.Error())
		return
	}

	if err := r.pipeline.Run(ctx, session, j.input); err != nil {
		// Run already recorded the failure on the session; nothing to add.
		r.logger.Debug("pipeline run ended with failure", "session_id", j.sessionID)
	}
}

// NewRunner starts the worker pool immediately.
func NewRunner(pipeline *Pipeline, logger *logging.Logger, opts ...RunnerOption) *Runner {
	if pipeline == nil {
		panic("dream: pipeline cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		pipeline:   pipeline,
		logger:     logger,
		jobs:       make(chan job, defaultQueueDepth),
		jobTimeout: defaultJobTimeout,
		ctx:        ctx,
		cancel:     cancel,
		workers:    defaultRunnerWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.runWorker(i + 1)
	}
	return r
}
