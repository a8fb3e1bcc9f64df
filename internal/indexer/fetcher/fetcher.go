// Package fetcher implements a bounded, checkpoint-anchored sequence of
// (height, block) pairs for one indexing
// stream, periodically emitting checkpoint intents for the bulk-writer
// side to persist once acknowledged.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/chainview"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/node"
)

// CheckpointIntent carries the locator derived from the cursor at the time
// of emission. Downstream bulk-writer code converts it into a persisted
// save once every row at or below this height has been committed.
type CheckpointIntent struct {
	Height  uint32
	Locator model.Locator
}

// Item is one emission of the fetcher: either a block at a height, or a
// logged gap (when the chain view cannot resolve the height, or the
// repository reports the block missing).
type Item struct {
	Height uint32
	Block  model.Block
	Gap    bool
}

// Fetcher produces the bounded sequence of blocks for one projection
// stream's current batch.
type Fetcher struct {
	repo       node.BlockRepository
	chainView  *chainview.View
	logger     *zap.Logger

	fromHeight       uint32
	toHeight         uint32
	needSaveInterval uint32

	cursor        uint32
	sinceLastSave uint32
	stopped       bool
}

// New constructs a Fetcher starting at max(lastProcessedHeight+1,
// fromHeight) up to and including toHeight. hasProgress must be false for
// a stream that has never saved a checkpoint, so that a zero-value
// lastProcessedHeight is not mistaken for "genesis already processed".
func New(repo node.BlockRepository, chainView *chainview.View, logger *zap.Logger, hasProgress bool, lastProcessedHeight, fromHeight, toHeight, needSaveInterval uint32) *Fetcher {
	start := fromHeight
	if hasProgress && lastProcessedHeight+1 > start {
		start = lastProcessedHeight + 1
	}

	return &Fetcher{
		repo:             repo,
		chainView:        chainView,
		logger:           logger.Named("blockFetcher"),
		fromHeight:       start,
		toHeight:         toHeight,
		needSaveInterval: needSaveInterval,
		cursor:           start,
	}
}

// Done reports whether the fetcher has nothing left to produce. A
// repository-missing-block gap stops the sequence early (stopped),
// distinct from exhausting the configured height range.
func (f *Fetcher) Done() bool {
	return f.stopped || f.cursor > f.toHeight
}

// Next returns the next item in the sequence. It returns (Item{}, false,
// nil) once the sequence is exhausted, and a non-nil error only for
// fetch failures other than cancellation or a missing block.
//
// A height the chain view cannot resolve to a hash is skipped and never
// retried within this batch: the cursor advances past it, since there is
// nothing more this stream could learn about that height without a new
// chain-view header. A height the repository reports missing is handled
// differently: the cursor does NOT advance, so LastProcessedHeight/Intent
// stop at height-1 and the checkpoint is never saved past the gap — the
// next batch's fetcher starts again at the same height and retries it,
// since the node may simply not have the block yet.
func (f *Fetcher) Next(ctx context.Context) (Item, bool, error) {
	if f.Done() {
		return Item{}, false, nil
	}

	if err := ctx.Err(); err != nil {
		return Item{}, false, nil
	}

	height := f.cursor
	header, ok := f.chainView.BlockAt(height)
	if !ok {
		f.logger.Warn("chain view cannot resolve height, skipping as gap", zap.Uint32("height", height))
		f.advance(height)
		return Item{Height: height, Gap: true}, true, nil
	}

	block, err := f.repo.GetBlock(ctx, header.Hash)
	if err != nil {
		if errors.Is(err, node.ErrBlockNotFound) {
			f.logger.Warn("repository reports missing block, stopping batch at height", zap.Uint32("height", height), zap.Error(err))
			f.stopped = true
			return Item{Height: height, Gap: true}, true, nil
		}
		return Item{}, false, fmt.Errorf("fetcher: get block at height %d: %w", height, err)
	}

	f.advance(height)
	return Item{Height: height, Block: block}, true, nil
}

func (f *Fetcher) advance(height uint32) {
	f.cursor = height + 1
	f.sinceLastSave++
}

// CheckpointIntentDue reports whether the fetcher has produced
// need_save_interval emissions since the last one, or has reached the end
// of its sequence — either condition triggers a checkpoint intent.
func (f *Fetcher) CheckpointIntentDue() bool {
	return f.sinceLastSave >= f.needSaveInterval || f.Done()
}

// Intent builds a checkpoint intent anchored at the cursor's last
// processed height, and resets the save-interval counter.
func (f *Fetcher) Intent() CheckpointIntent {
	f.sinceLastSave = 0

	lastProcessed := uint32(0)
	if f.cursor > 0 {
		lastProcessed = f.cursor - 1
	}

	return CheckpointIntent{
		Height:  lastProcessed,
		Locator: model.NewLocator(f.chainView.HashAt, lastProcessed),
	}
}

// LastProcessedHeight reports the height just below the cursor: the most
// recent height the cursor advanced past, including a height skipped as a
// chain-view gap, but not a height where the repository reported a missing
// block.
func (f *Fetcher) LastProcessedHeight() uint32 {
	if f.cursor == 0 {
		return 0
	}
	return f.cursor - 1
}
