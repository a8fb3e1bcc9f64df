// Package config defines the indexer binary's command-line/environment
// configuration, parsed with go-flags the way the teacher's cmd/*/main.go
// entrypoints do.
package config

import "time"

// Config enumerates every field the indexing pipeline needs: the table
// store credentials and naming, the indexing range and checkpoint knobs,
// the scheduler/batch tuning knobs, and the ambient node-connection and
// metrics-server settings.
type Config struct {
	// Table store credentials/parameters
	StorageNamespace  string `long:"storage-namespace" env:"INDEXER_STORAGE_NAMESPACE" description:"table name prefix" required:"true"`
	CheckpointSetName string `long:"checkpoint-set-name" env:"INDEXER_CHECKPOINT_SET_NAME" description:"subgrouping within the checkpoint table" default:"default"`
	AzureEmulatorUsed bool   `long:"azure-emulator-used" env:"INDEXER_AZURE_EMULATOR_USED" description:"use the local storage emulator instead of an account key pair"`
	AccountName       string `long:"account-name" env:"INDEXER_ACCOUNT_NAME" description:"storage account name"`
	AccountKey        string `long:"account-key" env:"INDEXER_ACCOUNT_KEY" description:"storage account key"`
	ServiceURL        string `long:"service-url" env:"INDEXER_SERVICE_URL" description:"override for the table service URL (defaults to the account's default endpoint)"`

	// Indexing range and checkpoint behavior
	FromHeight         uint32 `long:"from-height" env:"INDEXER_FROM_HEIGHT" description:"first height of the indexing range (inclusive)"`
	ToHeight           uint32 `long:"to-height" env:"INDEXER_TO_HEIGHT" description:"last height of the indexing range (inclusive)" required:"true"`
	CheckpointInterval uint32 `long:"checkpoint-interval" env:"INDEXER_CHECKPOINT_INTERVAL" description:"fetched heights between checkpoint saves within a projection task" default:"1000"`
	IgnoreCheckpoints  bool   `long:"ignore-checkpoints" env:"INDEXER_IGNORE_CHECKPOINTS" description:"start from from-height regardless of stored state and skip saving new checkpoints"`

	// Scheduler and batch tuning knobs
	BatchSize       uint32 `long:"batch-size" env:"INDEXER_BATCH_SIZE" description:"heights processed per indexing loop batch" default:"100"`
	SchedulerReady  int    `long:"scheduler-ready" env:"INDEXER_SCHEDULER_READY" description:"target in-flight scheduler worker count" default:"30"`
	SchedulerQueued int    `long:"scheduler-queued" env:"INDEXER_SCHEDULER_QUEUED" description:"hard cap on work queued at the scheduler" default:"100"`
	WriteRPS        int    `long:"write-rps" env:"INDEXER_WRITE_RPS" description:"cap on aggregate partition writes per second, 0 disables"`

	// Bulk import buffer thresholds
	PartitionThreshold int `long:"partition-threshold" env:"INDEXER_PARTITION_THRESHOLD" description:"rows buffered for one partition before a flush is forced" default:"100"`
	TotalThreshold     int `long:"total-threshold" env:"INDEXER_TOTAL_THRESHOLD" description:"rows buffered across all partitions before a flush is forced" default:"1000"`

	// Wallet rules for the wallet-balances projection
	WalletRulesPath string `long:"wallet-rules-path" env:"INDEXER_WALLET_RULES_PATH" description:"path to a JSON file listing wallet rule id/address sets; omitted or empty disables the wallets stream"`

	// Node connection, needed to construct the block repository and
	// header source
	Network     string        `long:"network" env:"INDEXER_NETWORK" description:"node network name, selects address-decoding chain parameters" required:"true"`
	RPCURL      string        `long:"rpc-url" env:"INDEXER_RPC_URL" description:"node RPC URL" default:"http://127.0.0.1:8332"`
	RPCUser     string        `long:"rpc-user" env:"INDEXER_RPC_USER" description:"node RPC username"`
	RPCPassword string        `long:"rpc-password" env:"INDEXER_RPC_PASSWORD" description:"node RPC password"`
	HTTPTimeout time.Duration `long:"http-timeout" env:"INDEXER_HTTP_TIMEOUT" description:"HTTP timeout for node RPC requests; parsed but not applied to the node RPC client" default:"30s"`

	// Ambient observability/runtime
	MetricsAddr       string        `long:"metrics-addr" env:"INDEXER_METRICS_ADDR" description:"address for the Prometheus metrics server" default:":2112"`
	BatchFailureSleep time.Duration `long:"batch-failure-sleep" env:"INDEXER_BATCH_FAILURE_SLEEP" description:"sleep before retrying a failed indexing loop batch" default:"10s"`
}
