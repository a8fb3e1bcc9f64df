package loop

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/chainview"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

type fakeChainSource struct {
	headers map[uint32]model.ChainedHeader
	max     uint32
}

func newFakeChainSource(n uint32) *fakeChainSource {
	s := &fakeChainSource{headers: make(map[uint32]model.ChainedHeader), max: n}
	for h := uint32(0); h <= n; h++ {
		var hash chainhash.Hash
		hash[0] = byte(h + 1)
		s.headers[h] = model.ChainedHeader{Height: h, Hash: hash}
	}
	return s
}

func (s *fakeChainSource) HeaderAt(ctx context.Context, height uint32) (model.ChainedHeader, bool, error) {
	h, ok := s.headers[height]
	return h, ok, nil
}

type fakeChainTable struct {
	headers []model.ChainedHeader
}

func (f *fakeChainTable) Tip(ctx context.Context) (uint32, bool, error) {
	if len(f.headers) == 0 {
		return 0, false, nil
	}
	return f.headers[len(f.headers)-1].Height, true, nil
}

func (f *fakeChainTable) Append(ctx context.Context, h model.ChainedHeader) error {
	f.headers = append(f.headers, h)
	return nil
}

type failingChainTable struct {
	err error
}

func (f *failingChainTable) Tip(ctx context.Context) (uint32, bool, error) { return 0, false, nil }
func (f *failingChainTable) Append(ctx context.Context, h model.ChainedHeader) error {
	return f.err
}

func TestChainSyncLoop_SyncOnceAppendsAllHeadersFromGenesis(t *testing.T) {
	source := newFakeChainSource(5)
	table := &fakeChainTable{}
	view := chainview.New()

	l := NewChainSyncLoop(source, table, view, zap.NewNop())
	require.NoError(t, l.syncOnce(context.Background()))

	require.Len(t, table.headers, 6)
	require.Equal(t, uint32(5), table.headers[len(table.headers)-1].Height)

	tip, ok := view.Tip()
	require.True(t, ok)
	require.Equal(t, uint32(5), tip.Height)
}

func TestChainSyncLoop_SyncOnceResumesFromStoredTip(t *testing.T) {
	source := newFakeChainSource(5)
	table := &fakeChainTable{headers: []model.ChainedHeader{{Height: 2}}}
	view := chainview.New()

	l := NewChainSyncLoop(source, table, view, zap.NewNop())
	require.NoError(t, l.syncOnce(context.Background()))

	require.Len(t, table.headers, 1+3)
	require.Equal(t, uint32(3), table.headers[1].Height)
	require.Equal(t, uint32(5), table.headers[len(table.headers)-1].Height)
}

func TestChainSyncLoop_SyncOnceStopsAtSourceTip(t *testing.T) {
	source := newFakeChainSource(2)
	table := &fakeChainTable{}
	view := chainview.New()

	l := NewChainSyncLoop(source, table, view, zap.NewNop())
	require.NoError(t, l.syncOnce(context.Background()))
	require.Len(t, table.headers, 3)

	require.NoError(t, l.syncOnce(context.Background()))
	require.Len(t, table.headers, 3)
}

func TestChainSyncLoop_SyncOncePropagatesAppendErrors(t *testing.T) {
	source := newFakeChainSource(2)
	table := &failingChainTable{err: errors.New("write failed")}
	view := chainview.New()

	l := NewChainSyncLoop(source, table, view, zap.NewNop())
	err := l.syncOnce(context.Background())
	require.Error(t, err)
}
