package projection

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/fetcher"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// outpoint identifies one previous output consumed by a later input.
type outpoint struct {
	txid  chainhash.Hash
	index uint32
}

// OutputStore persists every transaction's outputs durably, so an input
// spending an output from outside the current run's in-memory cache can
// still be resolved. *outputlookup.Store satisfies this in production.
type OutputStore interface {
	Save(ctx context.Context, txid chainhash.Hash, outputs []model.TxOutput) error
	Lookup(ctx context.Context, txid chainhash.Hash) ([]model.TxOutput, bool, error)
}

// OutputResolver caches outputs seen earlier in the same batch so that a
// later input spending them can be resolved to a value and address set
// without a store round-trip, falling back to the persisted store on a
// cache miss the way the teacher's transaction-output resolver falls back
// to its repository.
type OutputResolver struct {
	seen  map[outpoint]model.TxOutput
	store OutputStore
}

// NewOutputResolver constructs a resolver backed by store. A resolver's
// in-memory cache lifetime matches one projection task invocation,
// mirroring the bulk buffer's own per-invocation lifetime; store carries
// the knowledge across invocations and across streams.
func NewOutputResolver(store OutputStore) *OutputResolver {
	return &OutputResolver{seen: make(map[outpoint]model.TxOutput), store: store}
}

// Seed records a transaction's outputs as resolvable by later inputs in
// this batch, and persists them so a later batch's resolver can still
// find them once this one's in-memory cache is gone.
func (r *OutputResolver) Seed(ctx context.Context, txid chainhash.Hash, outputs []model.TxOutput) error {
	for _, out := range outputs {
		r.seen[outpoint{txid: txid, index: out.Index}] = out
	}
	if err := r.store.Save(ctx, txid, outputs); err != nil {
		return fmt.Errorf("projection: seeding outputs for tx %s: %w", txid, err)
	}
	return nil
}

// Resolve returns the output spent by (txid, index): from this batch's
// in-memory cache if it was seeded here, or else from the persisted
// store. ok is false when neither holds output index of txid.
func (r *OutputResolver) Resolve(ctx context.Context, txid chainhash.Hash, index uint32) (model.TxOutput, bool, error) {
	if out, ok := r.seen[outpoint{txid: txid, index: index}]; ok {
		return out, true, nil
	}

	outputs, ok, err := r.store.Lookup(ctx, txid)
	if err != nil {
		return model.TxOutput{}, false, fmt.Errorf("projection: resolving spent output for tx %s: %w", txid, err)
	}
	if !ok {
		return model.TxOutput{}, false, nil
	}

	for _, out := range outputs {
		r.seen[outpoint{txid: txid, index: out.Index}] = out
	}
	out, ok := r.seen[outpoint{txid: txid, index: index}]
	return out, ok, nil
}

// balanceMatchSet decides which addresses a balance change is attributed
// to. The script stream matches every address touched; the wallet stream
// matches only addresses in its configured rule.
type balanceMatchSet interface {
	matches(addr string) (partitionKey string, ok bool)
}

type scriptMatchSet struct{}

func (scriptMatchSet) matches(addr string) (string, bool) { return "", true }

type walletMatchSet struct {
	rules []model.WalletRule
}

func (w walletMatchSet) matches(addr string) (string, bool) {
	for _, rule := range w.rules {
		if rule.Matches(addr) {
			return rule.ID, true
		}
	}
	return "", false
}

// newBalanceProjector builds a Project function over match, accumulating
// resolver state across the whole batch (the resolver closes over the
// returned function rather than being threaded through the shared Run
// template).
func newBalanceProjector(resolver *OutputResolver, match balanceMatchSet) Project {
	return func(ctx context.Context, item fetcher.Item) ([]model.Row, error) {
		var rows []model.Row

		for txIndex, tx := range item.Block.Txs {
			if err := resolver.Seed(ctx, tx.TxID, tx.Outputs); err != nil {
				return nil, err
			}

			changes := make(map[string]*model.BalanceChangeRow)
			var order []string

			changeFor := func(addr, partitionOverride string) *model.BalanceChangeRow {
				if c, ok := changes[addr]; ok {
					return c
				}
				c := &model.BalanceChangeRow{
					PartitionOverride: partitionOverride,
					Address:           addr,
					BlockHash:         item.Block.Header.Hash,
					Height:            item.Block.Header.Height,
					TxID:              tx.TxID,
					TxIndex:           uint32(txIndex),
				}
				changes[addr] = c
				order = append(order, addr)
				return c
			}

			for _, in := range tx.Inputs {
				prev, ok, err := resolver.Resolve(ctx, in.PrevTxID, in.PrevIndex)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				for _, addr := range prev.Addresses {
					partitionKey, ok := match.matches(addr)
					if !ok {
						continue
					}
					c := changeFor(addr, partitionKey)
					c.Sent += prev.Value
					c.SpentOutpoints = append(c.SpentOutpoints, model.SpentOutpoint{TxID: in.PrevTxID, Index: in.PrevIndex})
				}
			}

			for _, out := range tx.Outputs {
				for _, addr := range out.Addresses {
					partitionKey, ok := match.matches(addr)
					if !ok {
						continue
					}
					c := changeFor(addr, partitionKey)
					c.Received += out.Value
				}
			}

			for changeIndex, addr := range order {
				c := changes[addr]
				c.ChangeIndex = uint32(changeIndex)
				rows = append(rows, *c)
			}
		}

		return rows, nil
	}
}

// ProjectScriptBalances builds the balances-by-address-or-script Project
// function: every address touched by a transaction gets an entry.
func ProjectScriptBalances(resolver *OutputResolver) Project {
	return newBalanceProjector(resolver, scriptMatchSet{})
}

// ProjectWalletBalances builds the wallet-scoped Project function: only
// addresses covered by one of rules are emitted, partitioned by the
// matching rule's id.
func ProjectWalletBalances(resolver *OutputResolver, rules []model.WalletRule) Project {
	return newBalanceProjector(resolver, walletMatchSet{rules: rules})
}
