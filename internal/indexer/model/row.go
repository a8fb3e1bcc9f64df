package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Row is the capability set every projected entity family implements. The
// projection task template (see internal/indexer/projection) is polymorphic
// over this set rather than switching on concrete entity types.
type Row interface {
	PartitionKey() string
	RowKey() string
	Properties() map[string]any
}

const numBuckets = 256

// bucketKey hashes an identifier into one of a fixed number of partition
// buckets so that a single hot key never receives every row.
func bucketKey(prefix string, id []byte) string {
	h := chainhash.HashB(id)
	return fmt.Sprintf("%s-%02x", prefix, int(h[0])%numBuckets)
}

// zeroPaddedHeight renders height as a fixed-width decimal string so that
// lexicographic and numeric ordering agree.
func zeroPaddedHeight(height uint32) string {
	return fmt.Sprintf("%020d", height)
}

// BlockRow is the block entity family: one row per block.
type BlockRow struct {
	Hash     chainhash.Hash
	Height   uint32
	PrevHash chainhash.Hash
	Version  int32
	Bits     uint32
	Nonce    uint32
	TxIDs    []string
	Time     time.Time
}

func (r BlockRow) PartitionKey() string { return bucketKey("block", r.Hash[:]) }
func (r BlockRow) RowKey() string       { return r.Hash.String() }
func (r BlockRow) Properties() map[string]any {
	return map[string]any{
		"Height":    int64(r.Height),
		"PrevHash":  r.PrevHash.String(),
		"Version":   int64(r.Version),
		"Bits":      int64(r.Bits),
		"Nonce":     int64(r.Nonce),
		"TxIDs":     strings.Join(r.TxIDs, ","),
		"TxCount":   int64(len(r.TxIDs)),
		"Timestamp": r.Time.UTC(),
	}
}

// TransactionRow is the transaction entity family: one row per transaction.
type TransactionRow struct {
	TxID        chainhash.Hash
	BlockHash   chainhash.Hash
	BlockHeight uint32
	Position    uint32
	Version     int32
	LockTime    uint32
	InputCount  int
	OutputCount int
}

func (r TransactionRow) PartitionKey() string { return bucketKey("tx", r.TxID[:]) }
func (r TransactionRow) RowKey() string       { return r.TxID.String() }
func (r TransactionRow) Properties() map[string]any {
	return map[string]any{
		"BlockHash":   r.BlockHash.String(),
		"BlockHeight": int64(r.BlockHeight),
		"Position":    int64(r.Position),
		"Version":     int64(r.Version),
		"LockTime":    int64(r.LockTime),
		"InputCount":  int64(r.InputCount),
		"OutputCount": int64(r.OutputCount),
	}
}

// SpentOutpoint references a previous output consumed by a balance change.
type SpentOutpoint struct {
	TxID  chainhash.Hash
	Index uint32
}

// BalanceChangeRow is the ordered balance-change entity family, produced per
// (address-or-script, tx) pair that the address/script participates in.
type BalanceChangeRow struct {
	PartitionOverride string // set for the wallet stream: wallet-rule id
	Address           string
	BlockHash         chainhash.Hash
	Height            uint32
	TxID              chainhash.Hash
	TxIndex           uint32
	ChangeIndex       uint32
	Received          int64
	Sent              int64
	SpentOutpoints    []SpentOutpoint
	Confirmations     uint32
}

func (r BalanceChangeRow) PartitionKey() string {
	if r.PartitionOverride != "" {
		return r.PartitionOverride
	}
	return bucketKey("addr", []byte(r.Address))
}

// RowKey encodes (height, block-hash-prefix, tx-index, change-index) so
// that a scan of one partition returns rows in strictly increasing
// chronological order.
func (r BalanceChangeRow) RowKey() string {
	return fmt.Sprintf("%s-%s-%010d-%05d",
		zeroPaddedHeight(r.Height), r.BlockHash.String()[:8], r.TxIndex, r.ChangeIndex)
}

func (r BalanceChangeRow) Properties() map[string]any {
	spent := make([]string, 0, len(r.SpentOutpoints))
	for _, s := range r.SpentOutpoints {
		spent = append(spent, fmt.Sprintf("%s:%d", s.TxID.String(), s.Index))
	}
	return map[string]any{
		"Address":       r.Address,
		"TxID":          r.TxID.String(),
		"BlockHash":     r.BlockHash.String(),
		"Received":      r.Received,
		"Sent":          r.Sent,
		"SpentOutputs":  strings.Join(spent, ","),
		"Confirmations": int64(r.Confirmations),
	}
}

// smartContractCodeFieldCanonical is the property name written for contract
// bytecode. The reader must accept both it and the legacy typo
// smartContractCodeFieldLegacy.
const (
	smartContractCodeFieldCanonical = "CSharpCode"
	smartContractCodeFieldLegacy    = "CShartCode"
)

// SmartContractRow is the optional auxiliary smart-contract detail entity.
type SmartContractRow struct {
	ContractAddress string
	Bytecode        string
}

func (SmartContractRow) PartitionKey() string { return "SmartContract" }
func (r SmartContractRow) RowKey() string     { return r.ContractAddress }
func (r SmartContractRow) Properties() map[string]any {
	return map[string]any{
		smartContractCodeFieldCanonical: r.Bytecode,
	}
}

// SmartContractCode reads the bytecode field off a raw property map,
// tolerating either the canonical spelling or the legacy typo.
func SmartContractCode(props map[string]any) (string, bool) {
	if v, ok := props[smartContractCodeFieldCanonical]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	if v, ok := props[smartContractCodeFieldLegacy]; ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}
