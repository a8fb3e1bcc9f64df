package projection

import "github.com/chainvault-io/blocktable-indexer/internal/indexer/model"

// WalletsEmpty reports whether the configured wallet-rule collection is
// empty, in which case the wallets stream must skip to tip without
// reading any blocks.
func WalletsEmpty(rules []model.WalletRule) bool {
	return len(rules) == 0
}
