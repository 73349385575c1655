// Package worker runs the background side of the system: a pool of
// goroutines draining the task queue, and a reaper that recovers stuck
// work and prunes expired records.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hemalyze/hemalyze/internal/config"
	"github.com/hemalyze/hemalyze/internal/queue"
	"github.com/hemalyze/hemalyze/internal/report"
)

// Processor executes one claimed task. A nil return settles the
// delivery; an error leaves it for redelivery.
type Processor interface {
	Process(ctx context.Context, msg queue.Message) error
}

// Pool claims tasks from the queue and executes them on a fixed number
// of goroutines. A delivery is acked only when the processor settled
// it; otherwise it stays on the processing list for the reaper to
// requeue.
type Pool struct {
	queue     queue.Queue
	processor Processor
	workers   int
	claimWait time.Duration
}

// NewPool creates a worker pool.
func NewPool(q queue.Queue, processor Processor, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:     q,
		processor: processor,
		workers:   workers,
		claimWait: 5 * time.Second,
	}
}

// Run blocks until ctx is cancelled and all in-flight tasks finished.
func (p *Pool) Run(ctx context.Context) {
	slog.Info("worker pool started", "workers", p.workers)

	deliveries := make(chan *queue.Delivery)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for d := range deliveries {
				p.handle(ctx, n, d)
			}
		}(i + 1)
	}

	for {
		select {
		case <-ctx.Done():
			close(deliveries)
			wg.Wait()
			slog.Info("worker pool stopped")
			return
		default:
		}

		d, err := p.queue.ClaimBlocking(ctx, p.claimWait)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("claim failed", "error", err)
			}
			continue
		}

		select {
		case deliveries <- d:
		case <-ctx.Done():
			close(deliveries)
			wg.Wait()
			slog.Info("worker pool stopped")
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, n int, d *queue.Delivery) {
	err := p.processor.Process(ctx, d.Message)
	if err != nil {
		// Leave the delivery on the processing list; the reaper will
		// requeue it once it is stale.
		slog.Error("task processing failed",
			"worker", n, "analysis_id", d.AnalysisID, "error", err)
		return
	}
	if ackErr := p.queue.Ack(ctx, d); ackErr != nil {
		slog.Error("ack failed", "worker", n, "analysis_id", d.AnalysisID, "error", ackErr)
	}
}

// Janitor is the slice of the store the reaper needs.
type Janitor interface {
	FailStuckProcessing(ctx context.Context, startedBefore time.Time, reason string) (int64, error)
	DeleteAnalysesOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// Reaper periodically requeues stale deliveries, fails analyses stuck
// in processing past their deadline, and prunes expired records along
// with their upload files.
type Reaper struct {
	queue queue.Queue
	store Janitor
	files *report.Store
	cfg   config.AnalysisConfig

	// RequeueInterval should exceed the processing deadline so
	// in-flight deliveries are rarely duplicated.
	RequeueInterval time.Duration
	PruneInterval   time.Duration
}

// NewReaper creates a reaper with intervals derived from the config.
func NewReaper(q queue.Queue, st Janitor, files *report.Store, cfg config.AnalysisConfig) *Reaper {
	return &Reaper{
		queue:           q,
		store:           st,
		files:           files,
		cfg:             cfg,
		RequeueInterval: cfg.ProcessingTimeout,
		PruneInterval:   time.Hour,
	}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	requeue := time.NewTicker(r.RequeueInterval)
	defer requeue.Stop()
	prune := time.NewTicker(r.PruneInterval)
	defer prune.Stop()

	slog.Info("reaper started",
		"requeue_interval", r.RequeueInterval, "prune_interval", r.PruneInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-requeue.C:
			r.recover(ctx)
		case <-prune.C:
			r.prune(ctx)
		}
	}
}

// recover returns unacked deliveries to the queue and fails analyses
// whose worker died or overran the deadline. Order matters: failing
// stuck rows first means a requeued duplicate finds a terminal status
// and drops out.
func (r *Reaper) recover(ctx context.Context) {
	grace := 5 * time.Minute
	cutoff := time.Now().UTC().Add(-(r.cfg.ProcessingTimeout + grace))

	failed, err := r.store.FailStuckProcessing(ctx, cutoff, "processing deadline exceeded")
	if err != nil {
		slog.Error("failing stuck analyses", "error", err)
	} else if failed > 0 {
		slog.Warn("failed stuck analyses", "count", failed)
	}

	moved, err := r.queue.RequeueStale(ctx, 100)
	if err != nil {
		slog.Error("requeueing stale deliveries", "error", err)
	} else if moved > 0 {
		slog.Info("requeued stale deliveries", "count", moved)
	}
}

// prune deletes analyses past the retention window together with any
// upload files still on disk.
func (r *Reaper) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.cfg.Retention)

	ids, err := r.store.DeleteAnalysesOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("pruning expired analyses", "error", err)
		return
	}
	for _, id := range ids {
		if err := r.files.Remove(id); err != nil {
			slog.Warn("removing expired upload", "analysis_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		slog.Info("pruned expired analyses", "count", len(ids))
	}
}
