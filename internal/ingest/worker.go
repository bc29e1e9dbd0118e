package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/storage"
)

// JobHandler processes one queued document.
type JobHandler func(ctx context.Context, doc *storage.Document)

// WorkerPool runs extraction jobs on a fixed number of goroutines fed by a
// bounded queue.
type WorkerPool struct {
	handle  JobHandler
	workers int
	jobs    chan *storage.Document
	logger  *observability.Logger

	start  sync.Once
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool. Call Start before submitting.
func NewWorkerPool(workers, queueSize int, handle JobHandler, logger *observability.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 2 // Default: 2 concurrent extractions
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &WorkerPool{
		handle:  handle,
		workers: workers,
		jobs:    make(chan *storage.Document, queueSize),
		logger:  logger,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (w *WorkerPool) Start() {
	w.start.Do(func() {
		for i := 0; i < w.workers; i++ {
			w.wg.Add(1)
			go w.loop(i)
		}
		w.logger.Info().Int("workers", w.workers).Int("queue_size", cap(w.jobs)).Msg("Extraction workers started")
	})
}

func (w *WorkerPool) loop(id int) {
	defer w.wg.Done()
	for doc := range w.jobs {
		w.logger.Debug().Int("worker", id).Str("document_id", doc.ID.String()).Msg("Picked up extraction job")
		w.handle(context.Background(), doc)
	}
}

// Submit enqueues doc without blocking.
func (w *WorkerPool) Submit(doc *storage.Document) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrPoolClosed
	}
	select {
	case w.jobs <- doc:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (w *WorkerPool) Pending() int { return len(w.jobs) }

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish, or for ctx to end. Jobs still running when ctx ends keep their
// document in processing until RecoverStale runs.
func (w *WorkerPool) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("Extraction workers drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain extraction workers: %w", ctx.Err())
	}
}
