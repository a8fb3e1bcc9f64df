package checkpoint

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
	created bool
	rows    map[string]map[string]any
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: make(map[string]map[string]any)}
}

func (f *fakeTable) CreateIfAbsent(ctx context.Context) error {
	f.created = true
	return nil
}

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

func TestStore_LoadMissingReturnsGenesis(t *testing.T) {
	table := newFakeTable()
	store := New(table, "checkpoints", false, 0, zap.NewNop())

	cp, err := store.Load(context.Background(), model.StreamBlocks)
	require.NoError(t, err)
	require.Equal(t, uint32(0), cp.Height)
	require.Empty(t, cp.Locator.Hashes)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	table := newFakeTable()
	store := New(table, "checkpoints", false, 0, zap.NewNop())

	h1 := chainhash.Hash{0x01}
	h2 := chainhash.Hash{0x02}
	locator := model.Locator{Hashes: []chainhash.Hash{h1, h2}}

	require.NoError(t, store.Save(context.Background(), model.StreamTransactions, locator, 42))

	cp, err := store.Load(context.Background(), model.StreamTransactions)
	require.NoError(t, err)
	require.Equal(t, uint32(42), cp.Height)
	require.Equal(t, locator.Hashes, cp.Locator.Hashes)
}

func TestStore_IgnoreCheckpointsReturnsFromHeightAndSkipsSave(t *testing.T) {
	table := newFakeTable()
	store := New(table, "checkpoints", true, 200, zap.NewNop())

	cp, err := store.Load(context.Background(), model.StreamBalances)
	require.NoError(t, err)
	require.Equal(t, uint32(200), cp.Height)

	require.NoError(t, store.Save(context.Background(), model.StreamBalances, model.Locator{}, 500))
	require.Empty(t, table.rows)
}
