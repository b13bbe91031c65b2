package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docutag/postscraper/metrics"
)

var (
	// ErrQueueFull is returned by Enqueue when every queue slot is taken
	ErrQueueFull = errors.New("processing queue is full")
	// ErrPoolStopped is returned by Enqueue after Stop
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// Job is one background processing request for a post
type Job struct {
	ID       string
	PostID   int64
	Enqueued time.Time
}

// Handler processes a job. It owns all error reporting; the pool only logs panics.
type Handler func(ctx context.Context, job Job)

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue
type Pool struct {
	workers int
	queue   chan Job
	handler Handler
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewPool creates a pool; Start must be called before jobs run
func NewPool(workers, queueSize int, handler Handler, m *metrics.Metrics, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		queue:   make(chan Job, queueSize),
		handler: handler,
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.logger.Info("worker pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool) work(worker int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		p.run(worker, job)
	}
}

func (p *Pool) run(worker int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				"worker", worker,
				"job_id", job.ID,
				"post_id", job.PostID,
				"panic", fmt.Sprint(r))
		}
	}()
	p.handler(p.ctx, job)
}

// Enqueue schedules a post without blocking
func (p *Pool) Enqueue(postID int64) (Job, error) {
	job := Job{ID: uuid.NewString(), PostID: postID, Enqueued: time.Now()}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return Job{}, ErrPoolStopped
	}
	select {
	case p.queue <- job:
		p.metrics.SetQueueDepth(len(p.queue))
		return job, nil
	default:
		return Job{}, ErrQueueFull
	}
}

// Len returns the number of queued jobs
func (p *Pool) Len() int {
	return len(p.queue)
}

// Stop refuses new jobs and waits for queued ones to finish. When ctx ends
// first, running jobs see their context cancelled and ctx.Err() is returned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
