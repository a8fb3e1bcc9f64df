// Package model defines the chain and entity types shared by the indexing
// pipeline: block locators, checkpoints, chained headers, blocks, and the
// row types projected into the table store.
package model

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// StreamKind identifies one of the four checkpointed projection streams.
type StreamKind string

const (
	StreamBlocks       StreamKind = "blocks"
	StreamTransactions StreamKind = "transactions"
	StreamBalances     StreamKind = "balances"
	StreamWallets      StreamKind = "wallets"
)

// Streams lists the four projection streams in the fixed order the indexing
// loop must process them each batch.
var Streams = []StreamKind{StreamBlocks, StreamTransactions, StreamBalances, StreamWallets}

// Locator is an exponentially thinning list of block hashes from a tip
// backward, used to find the most recent common ancestor with a chain.
type Locator struct {
	Hashes []chainhash.Hash
}

// TipHash returns the newest hash in the locator, or the zero hash if empty.
func (l Locator) TipHash() chainhash.Hash {
	if len(l.Hashes) == 0 {
		return chainhash.Hash{}
	}
	return l.Hashes[0]
}

// NewLocator builds a locator from height/hash pairs of the best chain,
// walking backward from tipHeight with exponentially increasing steps,
// always including height 0.
func NewLocator(blockAt func(height uint32) (chainhash.Hash, bool), tipHeight uint32) Locator {
	var hashes []chainhash.Hash
	step := uint32(1)
	height := tipHeight
	for {
		if hash, ok := blockAt(height); ok {
			hashes = append(hashes, hash)
		}
		if height == 0 {
			break
		}
		if len(hashes) >= 10 {
			step *= 2
		}
		if height < step {
			height = 0
		} else {
			height -= step
		}
	}
	return Locator{Hashes: hashes}
}

// Checkpoint is the durable progress record for a single stream. Processed
// distinguishes "nothing saved yet, start at from_height" from "saved at
// height 0" — both have Height == 0, but only the latter has processed
// genesis already.
type Checkpoint struct {
	Kind      StreamKind
	Locator   Locator
	Height    uint32
	Processed bool
	SavedAt   time.Time
}

// ChainedHeader is a block header positioned on the best chain.
type ChainedHeader struct {
	Height     uint32
	Hash       chainhash.Hash
	PrevHash   chainhash.Hash
	Timestamp  time.Time
	Version    int32
	MerkleRoot chainhash.Hash
	Bits       uint32
	Nonce      uint32
}

// TxInput is one input of a transaction.
type TxInput struct {
	PrevTxID  chainhash.Hash
	PrevIndex uint32
	Sequence  uint32
	ScriptSig []byte
	Witness   [][]byte
}

// TxOutput is one output of a transaction.
type TxOutput struct {
	Index        uint32
	Value        int64
	ScriptPubKey []byte
	Addresses    []string
}

// Transaction is a single transaction within a block.
type Transaction struct {
	TxID     chainhash.Hash
	Version  int32
	LockTime uint32
	Inputs   []TxInput
	Outputs  []TxOutput
}

// Block is a full block as read from the node's block repository.
type Block struct {
	Header ChainedHeader
	Txs    []Transaction
}

// Hash returns the block's hash, taken from its header.
func (b Block) Hash() chainhash.Hash {
	return b.Header.Hash
}

// WalletRule is a named predicate tagging balance changes into a logical
// wallet partition. An empty rule set short-circuits the wallets stream.
type WalletRule struct {
	ID        string
	Addresses map[string]struct{}
}

// Matches reports whether the rule's address set contains addr.
func (r WalletRule) Matches(addr string) bool {
	_, ok := r.Addresses[addr]
	return ok
}
