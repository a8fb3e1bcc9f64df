// Package chainview implements the in-memory, read-mostly view over the
// local node's best chain: finding a fork point against a locator,
// fetching a header by height, and reporting the current tip. It is safe
// for concurrent use by the indexing loop's readers and the chain-sync
// loop's single writer.
package chainview

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// View holds the best chain as a height-indexed slice of headers, starting
// at genesis. Only Append mutates it; all other methods only read.
type View struct {
	mu      sync.RWMutex
	headers []model.ChainedHeader
	byHash  map[chainhash.Hash]uint32
}

// New constructs an empty View; Append the genesis header before use.
func New() *View {
	return &View{byHash: make(map[chainhash.Hash]uint32)}
}

// Append adds the next header to the chain. The caller (chain-sync loop)
// is the only writer and must append strictly by increasing height.
func (v *View) Append(h model.ChainedHeader) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.headers = append(v.headers, h)
	v.byHash[h.Hash] = h.Height
}

// Tip returns the highest known header, or the zero header if the view is
// still empty.
func (v *View) Tip() (model.ChainedHeader, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.headers) == 0 {
		return model.ChainedHeader{}, false
	}
	return v.headers[len(v.headers)-1], true
}

// BlockAt returns the header at height, if known.
func (v *View) BlockAt(height uint32) (model.ChainedHeader, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if int(height) >= len(v.headers) {
		return model.ChainedHeader{}, false
	}
	return v.headers[height], true
}

// HashAt is a convenience accessor used by NewLocator's blockAt callback.
func (v *View) HashAt(height uint32) (chainhash.Hash, bool) {
	h, ok := v.BlockAt(height)
	if !ok {
		return chainhash.Hash{}, false
	}
	return h.Hash, true
}

// FindFork walks the locator entries in order and returns the first one
// present on the local chain, else the genesis header. This is the
// contract the checkpoint-to-chain reconciliation relies on.
func (v *View) FindFork(locator model.Locator) model.ChainedHeader {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, hash := range locator.Hashes {
		if height, ok := v.byHash[hash]; ok {
			return v.headers[height]
		}
	}

	if len(v.headers) == 0 {
		return model.ChainedHeader{}
	}
	return v.headers[0]
}

// Locator builds a fresh block locator anchored at the current tip.
func (v *View) Locator() model.Locator {
	tip, ok := v.Tip()
	if !ok {
		return model.Locator{}
	}
	return model.NewLocator(v.HashAt, tip.Height)
}
