// Package node implements the block repository adapter: fetching a full
// block by hash from the local node's block store. The interface is the
// only contract the projection tasks depend on; the RPC-backed
// implementation below is one concrete realization of it.
package node

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// ErrBlockNotFound is returned by BlockRepository.GetBlock when the node
// has no block with the given hash. A missing block is a skip-and-log gap,
// not a batch failure.
var ErrBlockNotFound = errors.New("node: block not found")

// BlockRepository fetches full blocks by hash from the node's block store.
// Implementations must be safe to call concurrently from multiple
// projection tasks; serialization to the underlying node is their concern.
type BlockRepository interface {
	GetBlock(ctx context.Context, hash chainhash.Hash) (model.Block, error)
}
