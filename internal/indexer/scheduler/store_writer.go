package scheduler

import (
	"context"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	aztablesstore "github.com/chainvault-io/blocktable-indexer/internal/store/aztables"
)

// StoreWriter adapts a table store's BulkUpsert (which takes the store
// package's own Row type) into the Writer interface the scheduler depends
// on (model.Row) — the two interfaces are structurally identical, but Go
// requires an explicit adapter across named interface boundaries.
type StoreWriter struct {
	Table *aztablesstore.Table
}

// BulkUpsert satisfies Writer by forwarding to the underlying table.
func (w StoreWriter) BulkUpsert(ctx context.Context, partition string, rows []model.Row) error {
	out := make([]aztablesstore.Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return w.Table.BulkUpsert(ctx, partition, out)
}
