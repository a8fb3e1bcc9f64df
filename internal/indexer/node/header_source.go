package node

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	btcrpc "github.com/chainvault-io/blocktable-indexer/internal/pkg/btcd/rpcclient"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	"github.com/chainvault-io/blocktable-indexer/pkg/safe"
)

// HeaderSource is the RPC-backed realization of the chain-sync loop's
// ChainSource: it fetches one header at a time by height, independently
// of the block bodies the four projection streams read.
type HeaderSource struct {
	client *btcrpc.ObservedClient
}

// NewHeaderSource constructs a HeaderSource over client.
func NewHeaderSource(client *btcrpc.ObservedClient) *HeaderSource {
	return &HeaderSource{client: client}
}

// HeaderAt returns the header at height, or ok=false if the node's best
// chain does not yet extend that far.
func (s *HeaderSource) HeaderAt(ctx context.Context, height uint32) (model.ChainedHeader, bool, error) {
	hash, err := s.client.GetBlockHash(int64(height))
	if err != nil {
		if isMissingBlockErr(err) {
			return model.ChainedHeader{}, false, nil
		}
		// A height past the node's tip is reported as out of range (btcd)
		// or as an invalid parameter (bitcoind), not as a missing block.
		if rpcErr, ok := err.(*btcjson.RPCError); ok &&
			(rpcErr.Code == btcjson.ErrRPCOutOfRange || rpcErr.Code == btcjson.ErrRPCInvalidParameter) {
			return model.ChainedHeader{}, false, nil
		}
		return model.ChainedHeader{}, false, fmt.Errorf("node: get block hash at height %d: %w", height, err)
	}

	verbose, err := s.client.GetBlockHeaderVerbose(hash)
	if err != nil {
		return model.ChainedHeader{}, false, fmt.Errorf("node: get header %s: %w", hash, err)
	}

	header, err := convertHeader(*verbose)
	if err != nil {
		return model.ChainedHeader{}, false, err
	}
	return header, true, nil
}

func convertHeader(src btcjson.GetBlockHeaderVerboseResult) (model.ChainedHeader, error) {
	height, err := safe.Uint32(src.Height)
	if err != nil {
		return model.ChainedHeader{}, fmt.Errorf("node: header height overflow: %w", err)
	}

	hash, err := chainhash.NewHashFromStr(src.Hash)
	if err != nil {
		return model.ChainedHeader{}, fmt.Errorf("node: header hash parse: %w", err)
	}
	var prevHash chainhash.Hash
	if src.PreviousHash != "" {
		p, err := chainhash.NewHashFromStr(src.PreviousHash)
		if err != nil {
			return model.ChainedHeader{}, fmt.Errorf("node: header prev hash parse: %w", err)
		}
		prevHash = *p
	}
	merkleRoot, err := chainhash.NewHashFromStr(src.MerkleRoot)
	if err != nil {
		return model.ChainedHeader{}, fmt.Errorf("node: header merkle root parse: %w", err)
	}
	bits, err := strconv.ParseUint(src.Bits, 16, 32)
	if err != nil {
		return model.ChainedHeader{}, fmt.Errorf("node: header %d bits parse: %w", src.Height, err)
	}

	return model.ChainedHeader{
		Height:     height,
		Hash:       *hash,
		PrevHash:   prevHash,
		Timestamp:  time.Unix(src.Time, 0).UTC(),
		Version:    src.Version,
		MerkleRoot: *merkleRoot,
		Bits:       uint32(bits),
		Nonce:      uint32(src.Nonce),
	}, nil
}
