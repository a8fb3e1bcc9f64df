// Package scheduler implements a partitioned write scheduler: a bounded
// worker pool with a target in-flight count and a hard queue cap.
// Submissions past the hard cap block the caller, propagating backpressure
// from store latency all the way back to the block fetcher. Submit itself
// returns as soon as a write is enqueued, so a caller flushing many
// partitions at once can wait on them together and get genuine
// bounded-parallelism across the worker pool instead of serializing on
// each partition's write in turn.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/buffer"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// Writer performs one partition-grouped bulk write with "replace
// unconditionally" semantics; the scheduler is the sole caller, so no
// optimistic concurrency is needed on the writer's side.
type Writer interface {
	BulkUpsert(ctx context.Context, partition string, rows []model.Row) error
}

// RetryPolicy bounds the exponential-with-jitter backoff applied to a
// failing partition write before the batch is surfaced as failed.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy starts at 200ms and caps each interval at 5s, well
// below the indexing loop's 10s default batch-failure sleep, so a single
// partition's retries resolve within one batch's patience.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxRetries:      8,
}

type task struct {
	partition string
	rows      []model.Row
	done      chan error
}

// Scheduler executes partition-grouped bulk writes under a bounded worker
// pool with backoff-retried writes and backpressure at the hard queue cap.
type Scheduler struct {
	writer Writer
	logger *zap.Logger
	policy RetryPolicy
	rl     ratelimit.Limiter

	ready  int
	queued chan task
	done   chan struct{}
}

// New constructs a Scheduler. ready is the target in-flight worker count,
// queued is the hard cap on work sitting in the submission queue. writeRPS
// caps the aggregate rate of partition writes issued to the store across
// all workers; zero or negative disables the limit.
func New(writer Writer, logger *zap.Logger, ready, queued int, policy RetryPolicy, writeRPS int) *Scheduler {
	limiter := ratelimit.NewUnlimited()
	if writeRPS > 0 {
		limiter = ratelimit.New(writeRPS)
	}
	return &Scheduler{
		writer: writer,
		logger: logger.Named("writeScheduler"),
		policy: policy,
		rl:     limiter,
		ready:  ready,
		queued: make(chan task, queued),
		done:   make(chan struct{}),
	}
}

// Start spawns the worker pool. Workers are daemons: they keep draining
// queued.Submit work until the queue is closed by Stop and empties, even
// if ctx has already been cancelled — in-flight and already-queued writes
// are allowed to finish or fail naturally.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.ready; i++ {
		go s.worker(ctx)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for t := range s.queued {
		s.rl.Take()
		err := s.writeWithRetry(ctx, t.partition, t.rows)
		t.done <- err
	}
}

// taskHandle lets a caller wait on a task's outcome independently of the
// moment it was enqueued.
type taskHandle struct {
	done chan error
}

// Wait blocks until the worker pool has processed the write (success,
// exhausted-retry failure) or ctx is cancelled.
func (h taskHandle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands one partition group to the scheduler, blocking the caller
// only when the hard queue cap is already full. It returns a handle the
// caller can Wait on for the write's outcome; it does not itself wait for
// the write to complete, so a caller submitting several partition groups
// can enqueue all of them before waiting on any.
func (s *Scheduler) Submit(ctx context.Context, partition string, rows []model.Row) (buffer.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := task{partition: partition, rows: rows, done: make(chan error, 1)}

	select {
	case s.queued <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return taskHandle{done: t.done}, nil
}

// Stop closes the submission queue; workers exit once they have drained
// every already-queued write. Stop itself returns immediately and does not
// wait for those writes to finish. Callers must not call Submit after Stop.
func (s *Scheduler) Stop() {
	close(s.queued)
}

func (s *Scheduler) writeWithRetry(ctx context.Context, partition string, rows []model.Row) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	b.MaxInterval = s.policy.MaxInterval
	bounded := backoff.WithMaxRetries(b, s.policy.MaxRetries)
	bounded = backoff.WithContext(bounded, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := s.writer.BulkUpsert(ctx, partition, rows)
		if err != nil {
			s.logger.Warn("partition write failed, retrying",
				zap.String("partition", partition), zap.Int("rows", len(rows)),
				zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(operation, bounded); err != nil {
		return fmt.Errorf("scheduler: partition %s write exhausted retries after %d attempts: %w", partition, attempt, err)
	}
	return nil
}
