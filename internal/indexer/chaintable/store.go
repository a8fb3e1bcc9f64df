// Package chaintable implements the dedicated chain table: a durable
// record of the header chain, kept current by the chain-sync loop
// independently of the four projection checkpoints.
package chaintable

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	aztablesstore "github.com/chainvault-io/blocktable-indexer/internal/store/aztables"
)

// chainPartition is the single partition every header and the tip marker
// live in; the table is small enough (one row per block height) that
// partition fan-out buys nothing here.
const chainPartition = "chain"

// tipRowKey names the marker row that caches the current tip height so
// Tip does not need to scan the whole table on every chain-sync iteration.
const tipRowKey = "Tip"

// Table is the narrow table-store surface the chain table needs.
type Table interface {
	CreateIfAbsent(ctx context.Context) error
	BulkUpsert(ctx context.Context, partition string, rows []aztablesstore.Row) error
	Get(ctx context.Context, partition, row string) (map[string]any, error)
}

// Store persists the header chain into a dedicated table.
type Store struct {
	table  Table
	logger *zap.Logger
}

// New constructs a chain table Store.
func New(table Table, logger *zap.Logger) *Store {
	return &Store{table: table, logger: logger.Named("chainTable")}
}

// EnsureTable creates the backing table if it does not already exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	return s.table.CreateIfAbsent(ctx)
}

// Tip returns the height of the most recently appended header, or
// ok=false if the chain table is empty.
func (s *Store) Tip(ctx context.Context) (uint32, bool, error) {
	props, err := s.table.Get(ctx, chainPartition, tipRowKey)
	if err != nil {
		if isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("chaintable: loading tip marker: %w", err)
	}

	switch h := props["Height"].(type) {
	case int64:
		return uint32(h), true, nil
	case float64:
		return uint32(h), true, nil
	default:
		return 0, false, nil
	}
}

// Append writes h's header row and advances the tip marker in one
// transaction, so a reader never observes a tip past the last durable
// header row.
func (s *Store) Append(ctx context.Context, h model.ChainedHeader) error {
	headerRow := chainHeaderRow{header: h}
	tip := chainTipRow{height: h.Height}

	if err := s.table.BulkUpsert(ctx, chainPartition, []aztablesstore.Row{headerRow, tip}); err != nil {
		return fmt.Errorf("chaintable: appending header at height %d: %w", h.Height, err)
	}

	s.logger.Debug("chain header appended", zap.Uint32("height", h.Height), zap.Stringer("hash", h.Hash))
	return nil
}

func zeroPaddedHeight(height uint32) string {
	return fmt.Sprintf("%020d", height)
}

type chainHeaderRow struct {
	header model.ChainedHeader
}

func (r chainHeaderRow) PartitionKey() string { return chainPartition }
func (r chainHeaderRow) RowKey() string       { return zeroPaddedHeight(r.header.Height) }
func (r chainHeaderRow) Properties() map[string]any {
	return map[string]any{
		"Hash":       r.header.Hash.String(),
		"PrevHash":   r.header.PrevHash.String(),
		"Version":    int64(r.header.Version),
		"MerkleRoot": r.header.MerkleRoot.String(),
		"Bits":       int64(r.header.Bits),
		"Nonce":      int64(r.header.Nonce),
		"Timestamp":  r.header.Timestamp.UTC(),
	}
}

type chainTipRow struct {
	height uint32
}

func (chainTipRow) PartitionKey() string { return chainPartition }
func (chainTipRow) RowKey() string       { return tipRowKey }
func (r chainTipRow) Properties() map[string]any {
	return map[string]any{
		"Height":  int64(r.height),
		"SavedAt": time.Now().UTC(),
	}
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found")
}
