// Package aztables wraps the Azure Table Storage SDK into the narrow
// table-store contract the indexing pipeline needs: create/delete table,
// partition-grouped bulk upsert with replace semantics, point get, and
// range scan.
package aztables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// hasStatusCode reports whether err is an Azure ResponseError carrying one
// of the given HTTP status codes.
func hasStatusCode(err error, statusCodes ...int) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	for _, code := range statusCodes {
		if respErr.StatusCode == code {
			return true
		}
	}
	return false
}

// ErrNotFound is returned by Get when no row matches the partition/row key.
var ErrNotFound = errors.New("aztables: entity not found")

// Credentials selects either the storage emulator or an account key pair,
// per the configured azure_emulator_used toggle.
type Credentials struct {
	EmulatorUsed bool
	AccountName  string
	AccountKey   string
	ServiceURL   string // optional override when EmulatorUsed is false; defaults to the account's table endpoint
}

// Row is the minimal shape a caller must supply to write an entity: a
// partition/row key pair plus arbitrary typed properties.
type Row interface {
	PartitionKey() string
	RowKey() string
	Properties() map[string]any
}

// Table is a handle to one named table in the store.
type Table struct {
	name    string
	service *aztables.ServiceClient
	client  *aztables.Client
}

// NewServiceClient builds a service-level client from the configured
// credentials, preferring the emulator connection string when toggled.
func NewServiceClient(creds Credentials) (*aztables.ServiceClient, error) {
	if creds.EmulatorUsed {
		connStr := "UseDevelopmentStorage=true"
		return aztables.NewServiceClientFromConnectionString(connStr, nil)
	}

	cred, err := aztables.NewSharedKeyCredential(creds.AccountName, creds.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("aztables: building shared key credential: %w", err)
	}

	serviceURL := creds.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.table.core.windows.net/", creds.AccountName)
	}

	svc, err := aztables.NewServiceClientWithSharedKey(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("aztables: building service client: %w", err)
	}
	return svc, nil
}

// Open returns a Table handle for name, namespaced by the caller (the
// caller is expected to have already prefixed name with storage_namespace).
func Open(service *aztables.ServiceClient, name string) *Table {
	return &Table{
		name:    name,
		service: service,
		client:  service.NewClient(name),
	}
}

// CreateIfAbsent creates the table, tolerating an already-exists response.
func (t *Table) CreateIfAbsent(ctx context.Context) error {
	_, err := t.client.CreateTable(ctx, nil)
	if err == nil {
		return nil
	}
	if hasStatusCode(err, 409) {
		return nil
	}
	return fmt.Errorf("aztables: create table %s: %w", t.name, err)
}

// Delete deletes the table outright, tolerating an already-absent response.
func (t *Table) Delete(ctx context.Context) error {
	_, err := t.client.Delete(ctx, nil)
	if err == nil {
		return nil
	}
	if hasStatusCode(err, 404) {
		return nil
	}
	return fmt.Errorf("aztables: delete table %s: %w", t.name, err)
}

// BulkUpsert writes every row in partition-grouped transactions of at most
// 100 entities each, with "replace unconditionally" semantics; each chunk
// is atomic on its own, not the call as a whole. The caller is responsible
// for grouping rows by partition key before calling this; the store itself
// only guarantees atomicity within one partition, so mixed-partition
// input is an error.
func (t *Table) BulkUpsert(ctx context.Context, partition string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	actions := make([]aztables.TransactionAction, 0, len(rows))
	for _, row := range rows {
		if row.PartitionKey() != partition {
			return fmt.Errorf("aztables: row %s/%s does not belong to partition %s",
				row.PartitionKey(), row.RowKey(), partition)
		}

		entity, err := marshalEntity(row)
		if err != nil {
			return err
		}

		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeInsertReplace,
			Entity:     entity,
		})
	}

	// A single batched transaction is capped at 100 entities by the store;
	// split into chunks so BulkUpsert absorbs that limit for callers.
	const maxTxnEntities = 100
	for start := 0; start < len(actions); start += maxTxnEntities {
		end := start + maxTxnEntities
		if end > len(actions) {
			end = len(actions)
		}
		if _, err := t.client.SubmitTransaction(ctx, actions[start:end], nil); err != nil {
			return fmt.Errorf("aztables: bulk upsert into %s/%s: %w", t.name, partition, err)
		}
	}
	return nil
}

// Get reads a single entity by partition and row key.
func (t *Table) Get(ctx context.Context, partition, row string) (map[string]any, error) {
	resp, err := t.client.GetEntity(ctx, partition, row, nil)
	if err != nil {
		if hasStatusCode(err, 404) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("aztables: get %s/%s/%s: %w", t.name, partition, row, err)
	}

	var props map[string]any
	if err := json.Unmarshal(resp.Value, &props); err != nil {
		return nil, fmt.Errorf("aztables: decoding entity %s/%s: %w", partition, row, err)
	}
	return props, nil
}

// Scan lists entities within a partition in row-key order, optionally
// bounded to [fromRowKey, toRowKey) when either is non-empty.
func (t *Table) Scan(ctx context.Context, partition, fromRowKey, toRowKey string) ([]map[string]any, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", escapeODataLiteral(partition))
	if fromRowKey != "" {
		filter += fmt.Sprintf(" and RowKey ge '%s'", escapeODataLiteral(fromRowKey))
	}
	if toRowKey != "" {
		filter += fmt.Sprintf(" and RowKey lt '%s'", escapeODataLiteral(toRowKey))
	}

	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})

	var out []map[string]any
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("aztables: scan %s/%s: %w", t.name, partition, err)
		}
		for _, raw := range page.Entities {
			var props map[string]any
			if err := json.Unmarshal(raw, &props); err != nil {
				return nil, fmt.Errorf("aztables: decoding scanned entity: %w", err)
			}
			out = append(out, props)
		}
	}
	return out, nil
}

func marshalEntity(row Row) ([]byte, error) {
	props := row.Properties()

	entity := aztables.EDMEntity{
		Entity: aztables.Entity{
			PartitionKey: row.PartitionKey(),
			RowKey:       row.RowKey(),
		},
		Properties: props,
	}

	b, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("aztables: marshaling entity %s/%s: %w", row.PartitionKey(), row.RowKey(), err)
	}
	return b, nil
}

func escapeODataLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
