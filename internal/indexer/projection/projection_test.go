package projection

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/buffer"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/chainview"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/checkpoint"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/fetcher"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/node"
	aztablesstore "github.com/chainvault-io/blocktable-indexer/internal/store/aztables"
)

type fakeRepo struct {
	blocks map[chainhash.Hash]model.Block
}

func (r *fakeRepo) GetBlock(ctx context.Context, hash chainhash.Hash) (model.Block, error) {
	b, ok := r.blocks[hash]
	if !ok {
		return model.Block{}, node.ErrBlockNotFound
	}
	return b, nil
}

type fakeScheduler struct {
	mu   sync.Mutex
	rows map[string][]model.Row
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{rows: make(map[string][]model.Row)} }

type fakeHandle struct{}

func (fakeHandle) Wait(ctx context.Context) error { return nil }

func (s *fakeScheduler) Submit(ctx context.Context, partition string, rows []model.Row) (buffer.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[partition] = append(s.rows[partition], rows...)
	return fakeHandle{}, nil
}

type fakeOutputStore struct {
	saved map[chainhash.Hash][]model.TxOutput
}

func newFakeOutputStore() *fakeOutputStore {
	return &fakeOutputStore{saved: make(map[chainhash.Hash][]model.TxOutput)}
}

func (s *fakeOutputStore) Save(ctx context.Context, txid chainhash.Hash, outputs []model.TxOutput) error {
	s.saved[txid] = outputs
	return nil
}

func (s *fakeOutputStore) Lookup(ctx context.Context, txid chainhash.Hash) ([]model.TxOutput, bool, error) {
	outputs, ok := s.saved[txid]
	return outputs, ok, nil
}

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

func buildSingleBlockChain() (*chainview.View, *fakeRepo, chainhash.Hash, chainhash.Hash) {
	view := chainview.New()
	repo := &fakeRepo{blocks: make(map[chainhash.Hash]model.Block)}

	var blockHash, txID chainhash.Hash
	blockHash[0] = 0xAA
	txID[0] = 0xBB

	block := model.Block{
		Header: model.ChainedHeader{Height: 0, Hash: blockHash},
		Txs: []model.Transaction{
			{
				TxID: txID,
				Outputs: []model.TxOutput{
					{Index: 0, Value: 1000, Addresses: []string{"addrA"}},
					{Index: 1, Value: 500, Addresses: []string{"addrB"}},
				},
			},
		},
	}

	view.Append(block.Header)
	repo.blocks[blockHash] = block

	return view, repo, blockHash, txID
}

func TestRun_BlocksProjectionWritesOneRowAndAdvancesCheckpoint(t *testing.T) {
	view, repo, _, _ := buildSingleBlockChain()
	f := fetcher.New(repo, view, zap.NewNop(), false, 0, 0, 0, 1)

	sched := newFakeScheduler()
	ckpt := checkpoint.New(newFakeTable(), "checkpoints", false, 0, zap.NewNop())

	result, err := Run(context.Background(), model.StreamBlocks, f, sched, ckpt, 100, 100, zap.NewNop(), ProjectBlock, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(0), result.LastProcessedHeight)
	require.Equal(t, 1, result.RowsWritten)

	cp, err := ckpt.Load(context.Background(), model.StreamBlocks)
	require.NoError(t, err)
	require.Equal(t, uint32(0), cp.Height)
}

func TestRun_ScriptBalancesEmitsPerAddressRows(t *testing.T) {
	view, repo, _, _ := buildSingleBlockChain()
	f := fetcher.New(repo, view, zap.NewNop(), false, 0, 0, 0, 1)

	sched := newFakeScheduler()
	ckpt := checkpoint.New(newFakeTable(), "checkpoints", false, 0, zap.NewNop())
	resolver := NewOutputResolver(newFakeOutputStore())

	result, err := Run(context.Background(), model.StreamBalances, f, sched, ckpt, 100, 100, zap.NewNop(), ProjectScriptBalances(resolver), nil)
	require.NoError(t, err)
	require.Equal(t, 2, result.RowsWritten)

	total := 0
	for _, rows := range sched.rows {
		total += len(rows)
	}
	require.Equal(t, 2, total)
}

func TestWalletsEmpty_ReportsWhetherRuleSetIsEmpty(t *testing.T) {
	require.True(t, WalletsEmpty(nil))
	require.False(t, WalletsEmpty([]model.WalletRule{{ID: "rule_A"}}))
}

func TestProjectWalletBalances_OnlyMatchingAddressAndPartition(t *testing.T) {
	view, repo, _, _ := buildSingleBlockChain()
	f := fetcher.New(repo, view, zap.NewNop(), false, 0, 0, 0, 1)

	sched := newFakeScheduler()
	ckpt := checkpoint.New(newFakeTable(), "checkpoints", false, 0, zap.NewNop())
	resolver := NewOutputResolver(newFakeOutputStore())
	rules := []model.WalletRule{{ID: "rule_A", Addresses: map[string]struct{}{"addrA": {}}}}

	result, err := Run(context.Background(), model.StreamWallets, f, sched, ckpt, 100, 100, zap.NewNop(), ProjectWalletBalances(resolver, rules), nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.RowsWritten)
	require.Len(t, sched.rows["rule_A"], 1)
}
