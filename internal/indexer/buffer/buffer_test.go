package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

type fakeRow struct {
	partition string
	row       string
}

func (r fakeRow) PartitionKey() string       { return r.partition }
func (r fakeRow) RowKey() string             { return r.row }
func (r fakeRow) Properties() map[string]any { return nil }

type fakeHandle struct{ err error }

func (h fakeHandle) Wait(ctx context.Context) error { return h.err }

type fakeScheduler struct {
	mu      sync.Mutex
	submits map[string][]model.Row
	err     error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{submits: make(map[string][]model.Row)}
}

func (f *fakeScheduler) Submit(ctx context.Context, partition string, rows []model.Row) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits[partition] = append(f.submits[partition], rows...)
	return fakeHandle{err: f.err}, nil
}

func TestBuffer_AddSignalsThresholdOnPartitionSize(t *testing.T) {
	b := New(2, 100)
	require.False(t, b.Add(fakeRow{partition: "p1", row: "r1"}))
	require.True(t, b.Add(fakeRow{partition: "p1", row: "r2"}))
}

func TestBuffer_AddSignalsThresholdOnTotalSize(t *testing.T) {
	b := New(100, 2)
	require.False(t, b.Add(fakeRow{partition: "p1", row: "r1"}))
	require.True(t, b.Add(fakeRow{partition: "p2", row: "r2"}))
}

func TestBuffer_FlushGroupsByPartitionAndClears(t *testing.T) {
	b := New(100, 100)
	b.Add(fakeRow{partition: "p1", row: "r1"})
	b.Add(fakeRow{partition: "p2", row: "r2"})
	b.Add(fakeRow{partition: "p1", row: "r3"})

	sched := newFakeScheduler()
	require.NoError(t, b.Flush(context.Background(), sched))

	require.Len(t, sched.submits["p1"], 2)
	require.Len(t, sched.submits["p2"], 1)
	require.Equal(t, 0, b.Len())
}

func TestBuffer_FlushEmptyIsNoOp(t *testing.T) {
	b := New(100, 100)
	sched := newFakeScheduler()
	require.NoError(t, b.Flush(context.Background(), sched))
	require.Empty(t, sched.submits)
}

func TestBuffer_FlushPropagatesSchedulerErrors(t *testing.T) {
	b := New(100, 100)
	b.Add(fakeRow{partition: "p1", row: "r1"})

	sched := newFakeScheduler()
	sched.err = errors.New("store unavailable")

	err := b.Flush(context.Background(), sched)
	require.Error(t, err)
}
