package projection

import (
	"context"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/fetcher"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// ProjectTransactions emits one TransactionRow per transaction in the
// block, back-referencing the block and recording the transaction's
// 0-based position within it.
func ProjectTransactions(ctx context.Context, item fetcher.Item) ([]model.Row, error) {
	rows := make([]model.Row, 0, len(item.Block.Txs))
	for pos, tx := range item.Block.Txs {
		rows = append(rows, model.TransactionRow{
			TxID:        tx.TxID,
			BlockHash:   item.Block.Header.Hash,
			BlockHeight: item.Block.Header.Height,
			Position:    uint32(pos),
			Version:     tx.Version,
			LockTime:    tx.LockTime,
			InputCount:  len(tx.Inputs),
			OutputCount: len(tx.Outputs),
		})
	}
	return rows, nil
}
