// Package loop implements the two long-running tasks that drive the
// pipeline: the indexing loop, which advances the four checkpointed
// projection streams in lockstep batches, and the chain-sync loop, which
// independently keeps the header chain view caught up.
package loop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/clock"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/buffer"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/chainview"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/checkpoint"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/fetcher"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/node"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/projection"
)

// defaultBatchFailureSleep is the default batch-failure backoff.
const defaultBatchFailureSleep = 10 * time.Second

// Scheduler is the write-scheduler surface each stream's projection task
// flushes into.
type Scheduler interface {
	Submit(ctx context.Context, partition string, rows []model.Row) (buffer.Handle, error)
}

// Metrics records the loop's per-stream progress and throughput.
type Metrics interface {
	ObserveCheckpoint(stream string, height, nodeTip uint32)
	ObserveRowsWritten(stream string, n int)
	ObserveBatch(stream string, err error, started time.Time)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCheckpoint(string, uint32, uint32) {}
func (noopMetrics) ObserveRowsWritten(string, int)           {}
func (noopMetrics) ObserveBatch(string, error, time.Time)    {}

// Config parameterizes one indexing loop run.
type Config struct {
	FromHeight         uint32
	ToHeight           uint32
	BatchSize          uint32 // heights processed per batch, default 100
	CheckpointInterval uint32 // need_save_interval, fetched heights between saves
	PartitionThreshold int    // C5 per-partition flush threshold
	TotalThreshold     int    // C5 total flush threshold
	WalletRules        []model.WalletRule
	ContractExtractor  projection.ContractExtractor
	BatchFailureSleep  time.Duration
}

// Schedulers holds the one write scheduler per destination table the four
// projection streams (plus the smart-contracts auxiliary) write into. Each
// entity family owns its own table, so each needs its own scheduler rather
// than sharing one buffer/flush pipeline.
type Schedulers struct {
	Blocks         Scheduler
	Transactions   Scheduler
	Balances       Scheduler
	Wallets        Scheduler
	SmartContracts Scheduler
}

func (s Schedulers) forStream(kind model.StreamKind) Scheduler {
	switch kind {
	case model.StreamBlocks:
		return s.Blocks
	case model.StreamTransactions:
		return s.Transactions
	case model.StreamBalances:
		return s.Balances
	case model.StreamWallets:
		return s.Wallets
	default:
		panic(fmt.Sprintf("indexing loop: unknown stream kind %q", kind))
	}
}

// Loop drives the four streams across the configured height range.
type Loop struct {
	repo        node.BlockRepository
	chainView   *chainview.View
	ckpt        *checkpoint.Store
	sched       Schedulers
	outputStore projection.OutputStore
	metrics     Metrics
	logger      *zap.Logger
	cfg         Config
}

// New constructs an indexing Loop. metrics may be nil, in which case
// observations are discarded. outputStore backs the balance streams'
// output resolver, so an input spending an output from a block outside
// the current batch can still be resolved.
func New(repo node.BlockRepository, chainView *chainview.View, ckpt *checkpoint.Store, sched Schedulers, outputStore projection.OutputStore, metrics Metrics, logger *zap.Logger, cfg Config) *Loop {
	if cfg.ContractExtractor == nil {
		cfg.ContractExtractor = projection.NoContractExtractor{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Loop{repo: repo, chainView: chainView, ckpt: ckpt, sched: sched, outputStore: outputStore, metrics: metrics, logger: logger.Named("indexingLoop"), cfg: cfg}
}

// storeTip is the aggregate store_tip across all streams: the minimum
// last-processed height, or processed=false when at least one stream has
// never saved a checkpoint. A zero-value storeTip must never be mistaken
// for "height 0 already processed" — that is exactly what processed
// guards against, mirroring fetcher.New's own hasProgress/
// lastProcessedHeight pair for the same reason.
type storeTip struct {
	height    uint32
	processed bool
}

// Run drives batches until store_tip reaches configured.to or ctx is
// cancelled. It never returns a non-nil error for cancellation.
func (l *Loop) Run(ctx context.Context) error {
	tip, err := l.currentStoreTip(ctx)
	if err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if tip.processed && tip.height >= l.cfg.ToHeight {
			l.logger.Info("indexing loop reached configured target height", zap.Uint32("height", tip.height))
			return nil
		}

		next, err := l.runBatch(ctx, tip)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("batch failed, will retry", zap.Error(err))
			sleep := l.cfg.BatchFailureSleep
			if sleep == 0 {
				sleep = defaultBatchFailureSleep
			}
			if sleepErr := clock.SleepWithContext(ctx, sleep); sleepErr != nil {
				return nil
			}
			continue
		}
		tip = next
	}
}

// currentStoreTip recomputes the aggregate store tip as the minimum
// last-processed height across the four streams. If any stream has never
// saved a checkpoint, the aggregate itself is unprocessed: the first
// batch must start at cfg.FromHeight, not at some stream's unrelated
// progress.
func (l *Loop) currentStoreTip(ctx context.Context) (storeTip, error) {
	min := l.cfg.ToHeight
	first := true
	for _, kind := range model.Streams {
		cp, err := l.ckpt.Load(ctx, kind)
		if err != nil {
			return storeTip{}, fmt.Errorf("indexing loop: loading checkpoint %s: %w", kind, err)
		}
		if !cp.Processed {
			return storeTip{processed: false}, nil
		}
		if first || cp.Height < min {
			min = cp.Height
			first = false
		}
	}
	return storeTip{height: min, processed: true}, nil
}

// runBatch executes one iteration over all streams and returns the new
// aggregate store_tip.
func (l *Loop) runBatch(ctx context.Context, tip storeTip) (storeTip, error) {
	fromHeight := l.cfg.FromHeight
	if tip.processed {
		fromHeight = tip.height + 1
	}
	toHeight := fromHeight + l.cfg.BatchSize - 1
	if toHeight > l.cfg.ToHeight {
		toHeight = l.cfg.ToHeight
	}

	var minLastProcessed uint32
	first := true
	nodeTip, _ := l.chainView.Tip()

	for _, kind := range model.Streams {
		started := time.Now()

		cp, err := l.ckpt.Load(ctx, kind)
		if err != nil {
			return storeTip{}, fmt.Errorf("indexing loop: loading checkpoint %s: %w", kind, err)
		}

		if cp.Processed && cp.Height >= toHeight {
			l.foldMin(&minLastProcessed, &first, cp.Height)
			continue
		}

		if kind == model.StreamWallets && projection.WalletsEmpty(l.cfg.WalletRules) {
			locator := l.chainView.Locator()
			if err := projection.SkipToEnd(ctx, kind, l.ckpt, toHeight, locator); err != nil {
				l.metrics.ObserveBatch(string(kind), err, started)
				return storeTip{}, fmt.Errorf("indexing loop: skipping empty wallets stream: %w", err)
			}
			l.metrics.ObserveCheckpoint(string(kind), toHeight, nodeTip.Height)
			l.metrics.ObserveBatch(string(kind), nil, started)
			l.foldMin(&minLastProcessed, &first, toHeight)
			continue
		}

		f := fetcher.New(l.repo, l.chainView, l.logger, cp.Processed, cp.Height, fromHeight, toHeight, l.cfg.CheckpointInterval)

		project, aux := l.projectFor(kind)
		result, err := projection.Run(ctx, kind, f, l.sched.forStream(kind), l.ckpt, l.cfg.PartitionThreshold, l.cfg.TotalThreshold, l.logger, project, aux)
		l.metrics.ObserveBatch(string(kind), err, started)
		if err != nil {
			return storeTip{}, fmt.Errorf("indexing loop: stream %s: %w", kind, err)
		}

		l.metrics.ObserveRowsWritten(string(kind), result.RowsWritten)
		if aux != nil {
			l.metrics.ObserveRowsWritten("smartcontracts", result.AuxRowsWritten)
		}
		l.metrics.ObserveCheckpoint(string(kind), result.LastProcessedHeight, nodeTip.Height)
		l.foldMin(&minLastProcessed, &first, result.LastProcessedHeight)
	}

	if first {
		return tip, nil
	}
	return storeTip{height: minLastProcessed, processed: true}, nil
}

func (l *Loop) foldMin(min *uint32, first *bool, height uint32) {
	if *first || height < *min {
		*min = height
		*first = false
	}
}

// projectFor returns the primary projection for kind plus its auxiliary,
// if any. Only the transactions stream carries one: smart-contract detail
// rows are written to their own smartcontracts table rather than folded
// into the transactions table.
func (l *Loop) projectFor(kind model.StreamKind) (projection.Project, *projection.Aux) {
	switch kind {
	case model.StreamBlocks:
		return projection.ProjectBlock, nil
	case model.StreamTransactions:
		aux := &projection.Aux{
			Project:   projection.ProjectSmartContracts(l.cfg.ContractExtractor),
			Scheduler: l.sched.SmartContracts,
		}
		return projection.ProjectTransactions, aux
	case model.StreamBalances:
		return projection.ProjectScriptBalances(projection.NewOutputResolver(l.outputStore)), nil
	case model.StreamWallets:
		return projection.ProjectWalletBalances(projection.NewOutputResolver(l.outputStore), l.cfg.WalletRules), nil
	default:
		panic(fmt.Sprintf("indexing loop: unknown stream kind %q", kind))
	}
}
