package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	btcrpc "github.com/chainvault-io/blocktable-indexer/internal/pkg/btcd/rpcclient"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	"github.com/chainvault-io/blocktable-indexer/pkg/safe"
)

// btcToSatoshis converts a float BTC amount to signed minor units.
func btcToSatoshis(value float64) (int64, error) {
	amt, err := btcutil.NewAmount(value)
	if err != nil {
		return 0, fmt.Errorf("node: amount conversion: %w", err)
	}
	return int64(amt), nil
}

// RPCRepository is a BlockRepository backed by a node's JSON-RPC
// interface, the concrete realization used outside of tests.
type RPCRepository struct {
	client  *btcrpc.ObservedClient
	decoder *scriptDecoder
}

// NewRPCRepository constructs an RPC-backed BlockRepository for network
// (used only to select address-decoding chain parameters).
func NewRPCRepository(client *btcrpc.ObservedClient, network string) (*RPCRepository, error) {
	decoder, err := newScriptDecoder(network)
	if err != nil {
		return nil, err
	}
	return &RPCRepository{client: client, decoder: decoder}, nil
}

// GetBlock fetches hash's full block, including every transaction's inputs
// and outputs with decoded addresses.
func (r *RPCRepository) GetBlock(ctx context.Context, hash chainhash.Hash) (block model.Block, err error) {
	raw, rpcErr := r.client.GetBlockVerboseTx(&hash)
	if rpcErr != nil {
		if isMissingBlockErr(rpcErr) {
			err = fmt.Errorf("%w: %s: %v", ErrBlockNotFound, hash, rpcErr)
			return model.Block{}, err
		}
		err = fmt.Errorf("node: get block %s: %w", hash, rpcErr)
		return model.Block{}, err
	}

	block, err = convertBlock(*raw)
	if err != nil {
		return model.Block{}, err
	}

	for i := range block.Txs {
		block.Txs[i], err = r.convertTx(raw.Tx[i])
		if err != nil {
			return model.Block{}, err
		}
	}
	return block, nil
}

func isMissingBlockErr(err error) bool {
	rpcErr, ok := err.(*btcjson.RPCError)
	return ok && rpcErr.Code == btcjson.ErrRPCBlockNotFound
}

func convertBlock(src btcjson.GetBlockVerboseTxResult) (model.Block, error) {
	height, err := safe.Uint32(src.Height)
	if err != nil {
		return model.Block{}, fmt.Errorf("node: block height overflow: %w", err)
	}
	bits, err := strconv.ParseUint(src.Bits, 16, 32)
	if err != nil {
		return model.Block{}, fmt.Errorf("node: block %d bits parse: %w", src.Height, err)
	}

	hash, err := chainhash.NewHashFromStr(src.Hash)
	if err != nil {
		return model.Block{}, fmt.Errorf("node: block hash parse: %w", err)
	}
	var prevHash chainhash.Hash
	if src.PreviousHash != "" {
		p, err := chainhash.NewHashFromStr(src.PreviousHash)
		if err != nil {
			return model.Block{}, fmt.Errorf("node: block prev hash parse: %w", err)
		}
		prevHash = *p
	}
	merkleRoot, err := chainhash.NewHashFromStr(src.MerkleRoot)
	if err != nil {
		return model.Block{}, fmt.Errorf("node: merkle root parse: %w", err)
	}

	return model.Block{
		Header: model.ChainedHeader{
			Height:     height,
			Hash:       *hash,
			PrevHash:   prevHash,
			Timestamp:  time.Unix(src.Time, 0).UTC(),
			Version:    src.Version,
			MerkleRoot: *merkleRoot,
			Bits:       uint32(bits),
			Nonce:      src.Nonce,
		},
		Txs: make([]model.Transaction, len(src.Tx)),
	}, nil
}

func (r *RPCRepository) convertTx(tx btcjson.TxRawResult) (model.Transaction, error) {
	txID, err := chainhash.NewHashFromStr(tx.Txid)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("node: txid parse: %w", err)
	}

	inputs := make([]model.TxInput, 0, len(tx.Vin))
	for _, vin := range tx.Vin {
		input := model.TxInput{Sequence: vin.Sequence}
		if vin.Txid != "" {
			prevTxID, err := chainhash.NewHashFromStr(vin.Txid)
			if err != nil {
				return model.Transaction{}, fmt.Errorf("node: tx %s vin prev txid parse: %w", tx.Txid, err)
			}
			input.PrevTxID = *prevTxID
			input.PrevIndex = vin.Vout
		}
		if vin.ScriptSig != nil {
			sig, err := hex.DecodeString(vin.ScriptSig.Hex)
			if err != nil {
				return model.Transaction{}, fmt.Errorf("node: tx %s scriptSig decode: %w", tx.Txid, err)
			}
			input.ScriptSig = sig
		}
		for _, w := range vin.Witness {
			b, err := hex.DecodeString(w)
			if err != nil {
				return model.Transaction{}, fmt.Errorf("node: tx %s witness decode: %w", tx.Txid, err)
			}
			input.Witness = append(input.Witness, b)
		}
		inputs = append(inputs, input)
	}

	outputs := make([]model.TxOutput, 0, len(tx.Vout))
	for idx, vout := range tx.Vout {
		index, err := safe.Uint32(idx)
		if err != nil {
			return model.Transaction{}, fmt.Errorf("node: tx %s output index overflow: %w", tx.Txid, err)
		}
		value, err := btcToSatoshis(vout.Value)
		if err != nil {
			return model.Transaction{}, fmt.Errorf("node: tx %s output %d value: %w", tx.Txid, idx, err)
		}
		addrs, err := r.decoder.decodeAddresses(vout)
		if err != nil {
			return model.Transaction{}, fmt.Errorf("node: tx %s output %d addresses: %w", tx.Txid, idx, err)
		}
		scriptBytes, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			return model.Transaction{}, fmt.Errorf("node: tx %s output %d script decode: %w", tx.Txid, idx, err)
		}
		outputs = append(outputs, model.TxOutput{
			Index:        index,
			Value:        value,
			ScriptPubKey: scriptBytes,
			Addresses:    addrs,
		})
	}

	return model.Transaction{
		TxID:     *txID,
		Version:  int32(tx.Version),
		LockTime: tx.LockTime,
		Inputs:   inputs,
		Outputs:  outputs,
	}, nil
}
