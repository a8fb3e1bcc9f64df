package outputlookup

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

func TestStore_LookupMissingTxReturnsNotOK(t *testing.T) {
	store := New(newFakeTable(), zap.NewNop())

	var txid chainhash.Hash
	txid[0] = 0xAA

	outputs, ok, err := store.Lookup(context.Background(), txid)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, outputs)
}

func TestStore_SaveThenLookupRoundTrips(t *testing.T) {
	store := New(newFakeTable(), zap.NewNop())

	var txid chainhash.Hash
	txid[0] = 0xBB

	want := []model.TxOutput{
		{Index: 0, Value: 1000, Addresses: []string{"addrA"}},
		{Index: 1, Value: 500, Addresses: []string{"addrB", "addrC"}},
	}
	require.NoError(t, store.Save(context.Background(), txid, want))

	got, ok, err := store.Lookup(context.Background(), txid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestStore_SaveEmptyOutputsIsNoOp(t *testing.T) {
	store := New(newFakeTable(), zap.NewNop())

	var txid chainhash.Hash
	txid[0] = 0xCC

	require.NoError(t, store.Save(context.Background(), txid, nil))

	_, ok, err := store.Lookup(context.Background(), txid)
	require.NoError(t, err)
	require.False(t, ok)
}
