package projection

import (
	"context"

	"github.com/chainvault-io/blocktable-indexer/internal/indexer/fetcher"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/model"
)

// ContractExtractor identifies contract-deployment transactions within a
// block and returns their detail rows. Extraction internals are an
// external collaborator; the core only needs this interface to push
// contract rows through the same buffer/scheduler pipeline the other
// entity families use.
type ContractExtractor interface {
	Extract(block model.Block) []model.SmartContractRow
}

// NoContractExtractor is used when no auxiliary contract-detail source is
// configured; it never emits rows.
type NoContractExtractor struct{}

func (NoContractExtractor) Extract(model.Block) []model.SmartContractRow { return nil }

// ProjectSmartContracts adapts a ContractExtractor into the shared Project
// shape so the auxiliary stream can reuse the same buffer/flush template.
func ProjectSmartContracts(extractor ContractExtractor) Project {
	return func(ctx context.Context, item fetcher.Item) ([]model.Row, error) {
		details := extractor.Extract(item.Block)
		rows := make([]model.Row, 0, len(details))
		for _, d := range details {
			rows = append(rows, d)
		}
		return rows, nil
	}
}

