// Package buffer implements a bulk import buffer: entities are
// accumulated keyed by partition and flushed, grouped by partition, to a
// write scheduler once either a per-partition or a total-size threshold is
// crossed.
package buffer

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// Handle is a submitted partition write the caller can wait on. Submit
// returns one as soon as the write is enqueued, so a flush can enqueue
// every partition group before waiting on any of them.
type Handle interface {
	Wait(ctx context.Context) error
}

// Scheduler accepts one partition group for a bounded-parallelism write,
// the contract this buffer flushes into.
type Scheduler interface {
	Submit(ctx context.Context, partition string, rows []model.Row) (Handle, error)
}

// Buffer accumulates rows per partition key. Insertion order within a
// partition is preserved, matching block/tx iteration order, which
// together with deterministic row-key construction yields idempotency
// under replay.
type Buffer struct {
	partitions map[string][]model.Row
	order      []string
	total      int

	partitionThreshold int
	totalThreshold     int
}

// New constructs a Buffer that flush-triggers when any one partition
// accumulates partitionThreshold rows, or the buffer as a whole
// accumulates totalThreshold rows.
func New(partitionThreshold, totalThreshold int) *Buffer {
	return &Buffer{
		partitions:         make(map[string][]model.Row),
		partitionThreshold: partitionThreshold,
		totalThreshold:     totalThreshold,
	}
}

// Add appends row to its partition's in-memory group. It returns true when
// a threshold has been crossed and the caller should Flush.
func (b *Buffer) Add(row model.Row) bool {
	key := row.PartitionKey()
	if _, ok := b.partitions[key]; !ok {
		b.order = append(b.order, key)
	}
	b.partitions[key] = append(b.partitions[key], row)
	b.total++

	return len(b.partitions[key]) >= b.partitionThreshold || b.total >= b.totalThreshold
}

// Len reports the total number of buffered, unflushed rows.
func (b *Buffer) Len() int {
	return b.total
}

// Flush enqueues every non-empty partition group with scheduler in the
// order partitions were first touched, then waits on all of them together
// so the scheduler's worker pool can write them concurrently, before
// clearing the buffer. Flushing an empty buffer is a no-op.
func (b *Buffer) Flush(ctx context.Context, scheduler Scheduler) error {
	if b.total == 0 {
		return nil
	}

	var errs *multierror.Error
	handles := make([]Handle, 0, len(b.order))
	for _, key := range b.order {
		rows := b.partitions[key]
		if len(rows) == 0 {
			continue
		}
		h, err := scheduler.Submit(ctx, key, rows)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		handles = append(handles, h)
	}

	for _, h := range handles {
		if err := h.Wait(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	b.partitions = make(map[string][]model.Row)
	b.order = nil
	b.total = 0

	return errs.ErrorOrNil()
}
