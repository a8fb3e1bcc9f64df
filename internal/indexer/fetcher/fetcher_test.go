package fetcher

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/chainview"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/node"
)

type fakeRepo struct {
	byHash map[chainhash.Hash]model.Block
	missing map[chainhash.Hash]bool
}

func (r *fakeRepo) GetBlock(ctx context.Context, hash chainhash.Hash) (model.Block, error) {
	if r.missing[hash] {
		return model.Block{}, node.ErrBlockNotFound
	}
	b, ok := r.byHash[hash]
	if !ok {
		return model.Block{}, node.ErrBlockNotFound
	}
	return b, nil
}

func buildChain(n uint32) (*chainview.View, *fakeRepo) {
	view := chainview.New()
	repo := &fakeRepo{byHash: make(map[chainhash.Hash]model.Block), missing: make(map[chainhash.Hash]bool)}

	for h := uint32(0); h <= n; h++ {
		var hash chainhash.Hash
		hash[0] = byte(h + 1)
		view.Append(model.ChainedHeader{Height: h, Hash: hash})
		repo.byHash[hash] = model.Block{Header: model.ChainedHeader{Height: h, Hash: hash}}
	}
	return view, repo
}

func TestFetcher_ProducesOrderedSequence(t *testing.T) {
	view, repo := buildChain(10)
	f := New(repo, view, zap.NewNop(), false, 0, 0, 5, 100)

	var heights []uint32
	for {
		item, ok, err := f.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		heights = append(heights, item.Height)
	}

	require.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, heights)
}

func TestFetcher_StartsAfterLastProcessed(t *testing.T) {
	view, repo := buildChain(10)
	f := New(repo, view, zap.NewNop(), true, 3, 0, 6, 100)

	item, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(4), item.Height)
}

func TestFetcher_MissingBlockStopsBatchWithoutAdvancingPastIt(t *testing.T) {
	view, repo := buildChain(5)
	var h2 chainhash.Hash
	h2[0] = 3
	repo.missing[h2] = true

	f := New(repo, view, zap.NewNop(), false, 0, 0, 5, 100)

	var heights []uint32
	var gaps []uint32
	for {
		item, ok, err := f.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		heights = append(heights, item.Height)
		if item.Gap {
			gaps = append(gaps, item.Height)
		}
	}

	// Heights 0 and 1 are processed normally; height 2's block is
	// reported missing and the batch stops there rather than skipping
	// past it, so height 3 onward is never even attempted.
	require.Equal(t, []uint32{0, 1, 2}, heights)
	require.Equal(t, []uint32{2}, gaps)
	require.Equal(t, uint32(1), f.LastProcessedHeight())

	intent := f.Intent()
	require.Equal(t, uint32(1), intent.Height)

	// A fresh batch built from that checkpoint retries at height 2, not
	// past it.
	retry := New(repo, view, zap.NewNop(), true, f.LastProcessedHeight(), 0, 5, 100)
	item, ok, err := retry.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2), item.Height)
}

func TestFetcher_CheckpointIntentDueAtIntervalAndAtEnd(t *testing.T) {
	view, repo := buildChain(10)
	f := New(repo, view, zap.NewNop(), false, 0, 0, 5, 2)

	_, _, _ = f.Next(context.Background())
	require.False(t, f.CheckpointIntentDue())
	_, _, _ = f.Next(context.Background())
	require.True(t, f.CheckpointIntentDue())

	intent := f.Intent()
	require.Equal(t, uint32(1), intent.Height)
	require.False(t, f.CheckpointIntentDue())
}

func TestFetcher_FromEqualsToProcessesExactlyOneBlock(t *testing.T) {
	view, repo := buildChain(10)
	f := New(repo, view, zap.NewNop(), false, 0, 3, 3, 100)

	item, ok, err := f.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(3), item.Height)

	_, ok, err = f.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
