// Package projection implements the four checkpointed projection tasks:
// Blocks, Transactions, Balances (script), and Balances (wallet).
// All four share the template in Run: pull blocks from a fetcher, project
// each into rows, buffer them, flush on thresholds, and at the end flush
// whatever remains and publish the final checkpoint intent.
package projection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/buffer"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/checkpoint"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/fetcher"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// Scheduler is the write-scheduler surface the buffer flushes into.
type Scheduler interface {
	Submit(ctx context.Context, partition string, rows []model.Row) (buffer.Handle, error)
}

// Project turns one fetched item into zero or more rows of one entity
// family. A nil/empty result for a gap item is expected and not an error.
// ctx is only used by projectors that need to consult a store (the
// balance streams' output resolver falling back to a persisted lookup on
// a cache miss); projectors with no such dependency ignore it.
type Project func(ctx context.Context, item fetcher.Item) ([]model.Row, error)

// Aux bundles an optional auxiliary projection (currently: smart-contract
// detail extraction) with the scheduler for its own destination table,
// kept separate from the primary stream's table since each entity family
// owns its own table. A nil *Aux disables the auxiliary entirely.
type Aux struct {
	Project   Project
	Scheduler Scheduler
}

// Result reports how a task's run ended, for the indexing loop to fold
// into its aggregate store_tip computation.
type Result struct {
	LastProcessedHeight uint32
	RowsWritten         int
	AuxRowsWritten      int
}

// Run drives the shared template over f, buffering rows produced by
// project and flushing them through sched, saving checkpoint intents via
// ckpt under kind whenever the fetcher says one is due. When aux is
// non-nil, every item is also run through aux.Project and flushed
// independently through aux.Scheduler, sharing the same flush triggers
// but never the primary stream's checkpoint.
func Run(ctx context.Context, kind model.StreamKind, f *fetcher.Fetcher, sched Scheduler, ckpt *checkpoint.Store, partitionThreshold, totalThreshold int, logger *zap.Logger, project Project, aux *Aux) (Result, error) {
	buf := buffer.New(partitionThreshold, totalThreshold)
	written := 0

	var auxBuf *buffer.Buffer
	auxWritten := 0
	if aux != nil {
		auxBuf = buffer.New(partitionThreshold, totalThreshold)
	}

	result := func() Result {
		return Result{LastProcessedHeight: f.LastProcessedHeight(), RowsWritten: written, AuxRowsWritten: auxWritten}
	}

	flushAndCheckpoint := func() error {
		if err := buf.Flush(ctx, sched); err != nil {
			return fmt.Errorf("projection %s: flush: %w", kind, err)
		}
		if auxBuf != nil {
			if err := auxBuf.Flush(ctx, aux.Scheduler); err != nil {
				return fmt.Errorf("projection %s: aux flush: %w", kind, err)
			}
		}
		if f.CheckpointIntentDue() {
			intent := f.Intent()
			if err := ckpt.Save(ctx, kind, intent.Locator, intent.Height); err != nil {
				return fmt.Errorf("projection %s: save checkpoint: %w", kind, err)
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return result(), err
		}

		item, ok, err := f.Next(ctx)
		if err != nil {
			return result(), err
		}
		if !ok {
			break
		}

		if !item.Gap {
			rows, err := project(ctx, item)
			if err != nil {
				return result(), fmt.Errorf("projection %s: project height %d: %w", kind, item.Height, err)
			}
			flushNow := false
			for _, row := range rows {
				if buf.Add(row) {
					flushNow = true
				}
			}
			written += len(rows)

			if aux != nil {
				auxRows, err := aux.Project(ctx, item)
				if err != nil {
					return result(), fmt.Errorf("projection %s: aux project height %d: %w", kind, item.Height, err)
				}
				for _, row := range auxRows {
					if auxBuf.Add(row) {
						flushNow = true
					}
				}
				auxWritten += len(auxRows)
			}

			if flushNow {
				if err := flushAndCheckpoint(); err != nil {
					return result(), err
				}
				continue
			}
		}

		if f.CheckpointIntentDue() {
			if err := flushAndCheckpoint(); err != nil {
				return result(), err
			}
		}
	}

	if err := flushAndCheckpoint(); err != nil {
		return result(), err
	}

	logger.Debug("projection task completed batch",
		zap.String("stream", string(kind)), zap.Uint32("lastProcessedHeight", f.LastProcessedHeight()),
		zap.Int("rowsWritten", written), zap.Int("auxRowsWritten", auxWritten))

	return result(), nil
}

// SkipToEnd advances kind's checkpoint straight to toHeight without
// reading any blocks. Used by the wallets stream when its rule set is
// empty.
func SkipToEnd(ctx context.Context, kind model.StreamKind, ckpt *checkpoint.Store, toHeight uint32, locator model.Locator) error {
	return ckpt.Save(ctx, kind, locator, toHeight)
}
