package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// walletRuleDoc is the on-disk shape for one wallet rule: an id plus the
// set of addresses it matches.
type walletRuleDoc struct {
	ID        string   `json:"id"`
	Addresses []string `json:"addresses"`
}

// LoadWalletRules reads path's JSON rule list into the wallets stream's
// rule set. An empty path yields an empty set, which the wallets stream
// treats as "skip without reading any blocks."
func LoadWalletRules(path string) ([]model.WalletRule, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading wallet rules %s: %w", path, err)
	}

	var docs []walletRuleDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("config: parsing wallet rules %s: %w", path, err)
	}

	rules := make([]model.WalletRule, 0, len(docs))
	for _, d := range docs {
		addrs := make(map[string]struct{}, len(d.Addresses))
		for _, a := range d.Addresses {
			addrs[a] = struct{}{}
		}
		rules = append(rules, model.WalletRule{ID: d.ID, Addresses: addrs})
	}
	return rules, nil
}
