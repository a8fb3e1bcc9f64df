package chaintable

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	aztablesstore "github.com/chainvault-io/blocktable-indexer/internal/store/aztables"
)

type fakeTable struct {
	rows map[string]map[string]any
}

func newFakeTable() *fakeTable { return &fakeTable{rows: make(map[string]map[string]any)} }

func (f *fakeTable) CreateIfAbsent(ctx context.Context) error { return nil }

func (f *fakeTable) BulkUpsert(ctx context.Context, partition string, rows []aztablesstore.Row) error {
	for _, r := range rows {
		f.rows[partition+"/"+r.RowKey()] = r.Properties()
	}
	return nil
}

func (f *fakeTable) Get(ctx context.Context, partition, row string) (map[string]any, error) {
	props, ok := f.rows[partition+"/"+row]
	if !ok {
		return nil, aztablesstore.ErrNotFound
	}
	return props, nil
}

func TestStore_TipEmptyReturnsNotOK(t *testing.T) {
	store := New(newFakeTable(), zap.NewNop())

	_, ok, err := store.Tip(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_AppendThenTipRoundTrips(t *testing.T) {
	store := New(newFakeTable(), zap.NewNop())

	var hash chainhash.Hash
	hash[0] = 0xAA

	require.NoError(t, store.Append(context.Background(), model.ChainedHeader{Height: 7, Hash: hash}))

	height, ok, err := store.Tip(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(7), height)
}

func TestStore_AppendAdvancesTipAcrossMultipleHeaders(t *testing.T) {
	store := New(newFakeTable(), zap.NewNop())

	for h := uint32(0); h <= 3; h++ {
		var hash chainhash.Hash
		hash[0] = byte(h + 1)
		require.NoError(t, store.Append(context.Background(), model.ChainedHeader{Height: h, Hash: hash}))
	}

	height, ok, err := store.Tip(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(3), height)
}
