package projection

import (
	"context"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/fetcher"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// ProjectBlock emits one BlockRow per block: header fields plus the
// ordered list of transaction ids it contains.
func ProjectBlock(ctx context.Context, item fetcher.Item) ([]model.Row, error) {
	txIDs := make([]string, 0, len(item.Block.Txs))
	for _, tx := range item.Block.Txs {
		txIDs = append(txIDs, tx.TxID.String())
	}

	row := model.BlockRow{
		Hash:     item.Block.Header.Hash,
		Height:   item.Block.Header.Height,
		PrevHash: item.Block.Header.PrevHash,
		Version:  item.Block.Header.Version,
		Bits:     item.Block.Header.Bits,
		Nonce:    item.Block.Header.Nonce,
		TxIDs:    txIDs,
		Time:     item.Block.Header.Timestamp,
	}
	return []model.Row{row}, nil
}
