// Package outputlookup persists, per transaction, the outputs a later
// block's inputs may need to resolve a spent address and value. The
// balance projection streams write through it as they process each
// transaction's outputs, and fall back to it when an input spends an
// output from a block outside the resolver's in-memory, same-batch cache.
package outputlookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	aztablesstore "github.com/chainvault-io/blocktable-indexer/internal/store/aztables"
)

const numBuckets = 256

// Table is the narrow table-store surface the output lookup needs.
type Table interface {
	CreateIfAbsent(ctx context.Context) error
	BulkUpsert(ctx context.Context, partition string, rows []aztablesstore.Row) error
	Get(ctx context.Context, partition, row string) (map[string]any, error)
}

// Store persists one row per transaction, keyed by txid, holding enough
// of each output (value and addresses) for a later input to resolve what
// it spends without a node round trip.
type Store struct {
	table  Table
	logger *zap.Logger
}

// New constructs an output lookup Store.
func New(table Table, logger *zap.Logger) *Store {
	return &Store{table: table, logger: logger.Named("outputLookup")}
}

// EnsureTable creates the backing table if it does not already exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	return s.table.CreateIfAbsent(ctx)
}

// Save durably records txid's outputs. Called once per transaction as the
// balance streams process it, regardless of whether any output is ever
// spent within the current run.
func (s *Store) Save(ctx context.Context, txid chainhash.Hash, outputs []model.TxOutput) error {
	if len(outputs) == 0 {
		return nil
	}

	row := outputRow{txid: txid, outputs: outputs}
	if err := s.table.BulkUpsert(ctx, row.PartitionKey(), []aztablesstore.Row{row}); err != nil {
		return fmt.Errorf("outputlookup: saving outputs for tx %s: %w", txid, err)
	}
	return nil
}

// Lookup returns the previously saved outputs for txid, or ok=false if
// none have been saved (the transaction has not been indexed yet, or
// predates this lookup table's introduction).
func (s *Store) Lookup(ctx context.Context, txid chainhash.Hash) ([]model.TxOutput, bool, error) {
	partition := partitionKey(txid)
	props, err := s.table.Get(ctx, partition, txid.String())
	if err != nil {
		if errors.Is(err, aztablesstore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("outputlookup: loading outputs for tx %s: %w", txid, err)
	}

	outputs, err := decodeOutputs(props)
	if err != nil {
		return nil, false, fmt.Errorf("outputlookup: decoding outputs for tx %s: %w", txid, err)
	}
	return outputs, true, nil
}

func partitionKey(txid chainhash.Hash) string {
	h := chainhash.HashB(txid[:])
	return fmt.Sprintf("output-%02x", int(h[0])%numBuckets)
}

// encodedOutput is the JSON-friendly shape one TxOutput is stored as.
type encodedOutput struct {
	Index     uint32   `json:"index"`
	Value     int64    `json:"value"`
	Addresses []string `json:"addresses"`
}

type outputRow struct {
	txid    chainhash.Hash
	outputs []model.TxOutput
}

func (r outputRow) PartitionKey() string { return partitionKey(r.txid) }
func (r outputRow) RowKey() string       { return r.txid.String() }
func (r outputRow) Properties() map[string]any {
	encoded := make([]encodedOutput, 0, len(r.outputs))
	for _, out := range r.outputs {
		encoded = append(encoded, encodedOutput{Index: out.Index, Value: out.Value, Addresses: out.Addresses})
	}
	b, err := json.Marshal(encoded)
	if err != nil {
		// encodedOutput is a plain value type; marshaling it cannot fail.
		panic(fmt.Sprintf("outputlookup: marshaling outputs: %v", err))
	}
	return map[string]any{
		"OutputCount": int64(len(r.outputs)),
		"Outputs":     string(b),
	}
}

func decodeOutputs(props map[string]any) ([]model.TxOutput, error) {
	raw, ok := props["Outputs"].(string)
	if !ok || raw == "" {
		return nil, nil
	}

	var encoded []encodedOutput
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return nil, err
	}

	outputs := make([]model.TxOutput, 0, len(encoded))
	for _, e := range encoded {
		outputs = append(outputs, model.TxOutput{Index: e.Index, Value: e.Value, Addresses: e.Addresses})
	}
	return outputs, nil
}
