package chainview

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

func header(height uint32, b byte) model.ChainedHeader {
	var h chainhash.Hash
	h[0] = b
	return model.ChainedHeader{Height: height, Hash: h}
}

func TestView_FindFork_ReturnsFirstLocatorHashPresent(t *testing.T) {
	v := New()
	v.Append(header(0, 0x00))
	v.Append(header(1, 0x01))
	v.Append(header(2, 0x02))

	locator := model.Locator{Hashes: []chainhash.Hash{header(5, 0x05).Hash, header(1, 0x01).Hash}}

	fork := v.FindFork(locator)
	require.Equal(t, uint32(1), fork.Height)
}

func TestView_FindFork_FallsBackToGenesis(t *testing.T) {
	v := New()
	v.Append(header(0, 0x00))

	locator := model.Locator{Hashes: []chainhash.Hash{header(9, 0x09).Hash}}

	fork := v.FindFork(locator)
	require.Equal(t, uint32(0), fork.Height)
}

func TestView_BlockAtAndTip(t *testing.T) {
	v := New()
	v.Append(header(0, 0x00))
	v.Append(header(1, 0x01))

	tip, ok := v.Tip()
	require.True(t, ok)
	require.Equal(t, uint32(1), tip.Height)

	h, ok := v.BlockAt(1)
	require.True(t, ok)
	require.Equal(t, tip.Hash, h.Hash)

	_, ok = v.BlockAt(5)
	require.False(t, ok)
}
