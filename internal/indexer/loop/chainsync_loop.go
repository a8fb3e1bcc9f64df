package loop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/clock"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/chainview"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

const chainSyncCadence = time.Minute

// ChainSource is the node-side source of new headers, independent of the
// block repository used by the four projection streams.
type ChainSource interface {
	HeaderAt(ctx context.Context, height uint32) (model.ChainedHeader, bool, error)
}

// ChainTable persists the dedicated chain table, keyed by height, that the
// chain-sync loop appends into.
type ChainTable interface {
	Tip(ctx context.Context) (uint32, bool, error)
	Append(ctx context.Context, h model.ChainedHeader) error
}

// ChainSyncLoop runs in parallel with the indexing loop, walking from
// the stored chain-table tip forward and appending headers into both the
// chain table and the in-memory chain view until caught up.
type ChainSyncLoop struct {
	source    ChainSource
	table     ChainTable
	chainView *chainview.View
	logger    *zap.Logger
}

// NewChainSyncLoop constructs a ChainSyncLoop.
func NewChainSyncLoop(source ChainSource, table ChainTable, chainView *chainview.View, logger *zap.Logger) *ChainSyncLoop {
	return &ChainSyncLoop{source: source, table: table, chainView: chainView, logger: logger.Named("chainSyncLoop")}
}

// Run advances the chain table to the node's tip, then repeats every
// minute until ctx is cancelled. On failure it logs and retries after the
// same one-minute cadence.
func (l *ChainSyncLoop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := l.syncOnce(ctx); err != nil {
			l.logger.Error("chain sync iteration failed, retrying in 1m", zap.Error(err))
		}

		if err := clock.SleepWithContext(ctx, chainSyncCadence); err != nil {
			return nil
		}
	}
}

func (l *ChainSyncLoop) syncOnce(ctx context.Context) error {
	height, ok, err := l.table.Tip(ctx)
	if err != nil {
		return fmt.Errorf("chain sync: loading chain table tip: %w", err)
	}
	next := uint32(0)
	if ok {
		next = height + 1
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		header, ok, err := l.source.HeaderAt(ctx, next)
		if err != nil {
			return fmt.Errorf("chain sync: fetching header at height %d: %w", next, err)
		}
		if !ok {
			return nil
		}

		if err := l.table.Append(ctx, header); err != nil {
			return fmt.Errorf("chain sync: appending header at height %d: %w", next, err)
		}
		l.chainView.Append(header)
		next++
	}
}
