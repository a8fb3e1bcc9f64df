// Package checkpoint implements the durable per-stream progress record:
// load/save block locators in the shared table store under a configured
// checkpoint set.
package checkpoint

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
	aztablesstore "github.com/chainvault-io/blocktable-indexer/internal/store/aztables"
)

// Table is the narrow table-store surface the checkpoint store needs.
type Table interface {
	CreateIfAbsent(ctx context.Context) error
	BulkUpsert(ctx context.Context, partition string, rows []aztablesstore.Row) error
	Get(ctx context.Context, partition, row string) (map[string]any, error)
}

// Store persists checkpoints for all four streams under one checkpoint set.
type Store struct {
	table           Table
	checkpointSet   string
	ignore          bool
	fromHeight      uint32
	logger          *zap.Logger
}

// New constructs a checkpoint Store. When ignoreCheckpoints is set, Load
// always returns a checkpoint with Height set to fromHeight, an empty
// locator and Processed false (no locator is built for fromHeight), and
// Save becomes a no-op, per the ignore_checkpoints configuration knob.
func New(table Table, checkpointSet string, ignoreCheckpoints bool, fromHeight uint32, logger *zap.Logger) *Store {
	return &Store{
		table:         table,
		checkpointSet: checkpointSet,
		ignore:        ignoreCheckpoints,
		fromHeight:    fromHeight,
		logger:        logger.Named("checkpointStore"),
	}
}

// EnsureTable creates the backing table if it does not already exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	return s.table.CreateIfAbsent(ctx)
}

// Load returns the persisted checkpoint for kind, or a genesis checkpoint
// if none has been saved yet.
func (s *Store) Load(ctx context.Context, kind model.StreamKind) (model.Checkpoint, error) {
	if s.ignore {
		return model.Checkpoint{
			Kind:    kind,
			Height:  s.fromHeight,
			Locator: model.Locator{},
			SavedAt: time.Time{},
		}, nil
	}

	props, err := s.table.Get(ctx, s.checkpointSet, string(kind))
	if err != nil {
		if isNotFound(err) {
			return model.Checkpoint{Kind: kind}, nil
		}
		return model.Checkpoint{}, fmt.Errorf("checkpoint: loading %s/%s: %w", s.checkpointSet, kind, err)
	}

	return decodeCheckpoint(kind, props)
}

// Save persists locator and height for kind. It is a no-op when
// ignore_checkpoints is configured: new checkpoints are not written while
// the stream is running from an overridden from_height.
func (s *Store) Save(ctx context.Context, kind model.StreamKind, locator model.Locator, height uint32) error {
	if s.ignore {
		return nil
	}

	r := checkpointRow{
		set:     s.checkpointSet,
		kind:    kind,
		locator: locator,
		height:  height,
		savedAt: time.Now().UTC(),
	}

	if err := s.table.BulkUpsert(ctx, s.checkpointSet, []aztablesstore.Row{r}); err != nil {
		return fmt.Errorf("checkpoint: saving %s/%s at height %d: %w", s.checkpointSet, kind, height, err)
	}

	s.logger.Debug("checkpoint saved", zap.String("kind", string(kind)), zap.Uint32("height", height))
	return nil
}

type checkpointRow struct {
	set     string
	kind    model.StreamKind
	locator model.Locator
	height  uint32
	savedAt time.Time
}

func (r checkpointRow) PartitionKey() string { return r.set }
func (r checkpointRow) RowKey() string       { return string(r.kind) }
func (r checkpointRow) Properties() map[string]any {
	return map[string]any{
		"Locator":   encodeLocator(r.locator),
		"Height":    int64(r.height),
		"SavedAt":   r.savedAt,
	}
}

// encodeLocator serializes a locator as a comma-joined list of
// base64-encoded hashes. serialize -> deserialize -> serialize must be a
// fixed point, which a stable join/split achieves.
func encodeLocator(l model.Locator) string {
	parts := make([]string, 0, len(l.Hashes))
	for _, h := range l.Hashes {
		parts = append(parts, base64.StdEncoding.EncodeToString(h[:]))
	}
	return strings.Join(parts, ",")
}

func decodeLocator(s string) (model.Locator, error) {
	if s == "" {
		return model.Locator{}, nil
	}
	parts := strings.Split(s, ",")
	hashes := make([]chainhash.Hash, 0, len(parts))
	for _, p := range parts {
		raw, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return model.Locator{}, fmt.Errorf("checkpoint: decoding locator entry: %w", err)
		}
		h, err := chainhash.NewHash(raw)
		if err != nil {
			return model.Locator{}, fmt.Errorf("checkpoint: decoding locator hash: %w", err)
		}
		hashes = append(hashes, *h)
	}
	return model.Locator{Hashes: hashes}, nil
}

func decodeCheckpoint(kind model.StreamKind, props map[string]any) (model.Checkpoint, error) {
	cp := model.Checkpoint{Kind: kind}

	if raw, ok := props["Locator"].(string); ok {
		locator, err := decodeLocator(raw)
		if err != nil {
			return model.Checkpoint{}, err
		}
		cp.Locator = locator
	}

	switch h := props["Height"].(type) {
	case int64:
		cp.Height = uint32(h)
		cp.Processed = true
	case float64:
		cp.Height = uint32(h)
		cp.Processed = true
	}

	if t, ok := props["SavedAt"].(time.Time); ok {
		cp.SavedAt = t
	}

	return cp, nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "not found")
}
