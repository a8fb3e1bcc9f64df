package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainvault-io/blocktable-indexer/internal/config"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/chaintable"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/chainview"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/checkpoint"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/loop"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/node"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/outputlookup"
	"github.com/chainvault-io/blocktable-indexer/internal/indexer/scheduler"
	"github.com/chainvault-io/blocktable-indexer/internal/metrics"
	btcrpc "github.com/chainvault-io/blocktable-indexer/internal/pkg/btcd/rpcclient"
	aztablesstore "github.com/chainvault-io/blocktable-indexer/internal/store/aztables"
)

func main() {
	cfg := config.Config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("indexer failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	service, err := aztablesstore.NewServiceClient(aztablesstore.Credentials{
		EmulatorUsed: cfg.AzureEmulatorUsed,
		AccountName:  cfg.AccountName,
		AccountKey:   cfg.AccountKey,
		ServiceURL:   cfg.ServiceURL,
	})
	if err != nil {
		return fmt.Errorf("init table service client: %w", err)
	}

	rpcClient, err := newRPCClient(cfg.RPCURL, cfg.RPCUser, cfg.RPCPassword)
	if err != nil {
		return fmt.Errorf("init node rpc client: %w", err)
	}
	defer func() {
		rpcClient.Shutdown()
		rpcClient.WaitForShutdown()
	}()
	observed := btcrpc.NewObservedClient(rpcClient, metrics.NewRPCClient(cfg.Network))

	repo, err := node.NewRPCRepository(observed, cfg.Network)
	if err != nil {
		return fmt.Errorf("init block repository: %w", err)
	}
	headerSource := node.NewHeaderSource(observed)

	tables := map[string]*aztablesstore.Table{
		"blocks":         aztablesstore.Open(service, cfg.StorageNamespace+"blocks"),
		"transactions":   aztablesstore.Open(service, cfg.StorageNamespace+"transactions"),
		"balances":       aztablesstore.Open(service, cfg.StorageNamespace+"balances"),
		"wallets":        aztablesstore.Open(service, cfg.StorageNamespace+"wallets"),
		"smartcontracts": aztablesstore.Open(service, cfg.StorageNamespace+"smartcontracts"),
	}
	chainTbl := aztablesstore.Open(service, cfg.StorageNamespace+"chain")
	checkpointTbl := aztablesstore.Open(service, cfg.StorageNamespace+"checkpoints")
	outputsTbl := aztablesstore.Open(service, cfg.StorageNamespace+"outputs")

	for name, tbl := range tables {
		if err := tbl.CreateIfAbsent(ctx); err != nil {
			return fmt.Errorf("ensure table %s: %w", name, err)
		}
	}

	ckpt := checkpoint.New(checkpointTbl, cfg.CheckpointSetName, cfg.IgnoreCheckpoints, cfg.FromHeight, logger)
	if err := ckpt.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure checkpoint table: %w", err)
	}

	chainTable := chaintable.New(chainTbl, logger)
	if err := chainTable.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure chain table: %w", err)
	}

	outputStore := outputlookup.New(outputsTbl, logger)
	if err := outputStore.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure output lookup table: %w", err)
	}

	walletRules, err := config.LoadWalletRules(cfg.WalletRulesPath)
	if err != nil {
		return fmt.Errorf("load wallet rules: %w", err)
	}

	scheds := map[string]*scheduler.Scheduler{}
	for name, tbl := range tables {
		scheds[name] = scheduler.New(
			scheduler.StoreWriter{Table: tbl},
			logger,
			cfg.SchedulerReady,
			cfg.SchedulerQueued,
			scheduler.DefaultRetryPolicy,
			cfg.WriteRPS,
		)
	}
	for _, s := range scheds {
		s.Start(ctx)
	}
	defer func() {
		for _, s := range scheds {
			s.Stop()
		}
	}()

	chainView := chainview.New()
	if err := seedChainView(ctx, chainTable, headerSource, chainView); err != nil {
		return fmt.Errorf("seed chain view: %w", err)
	}

	indexingLoop := loop.New(repo, chainView, ckpt, loop.Schedulers{
		Blocks:         scheds["blocks"],
		Transactions:   scheds["transactions"],
		Balances:       scheds["balances"],
		Wallets:        scheds["wallets"],
		SmartContracts: scheds["smartcontracts"],
	}, outputStore, metrics.NewPipeline(), logger, loop.Config{
		FromHeight:         cfg.FromHeight,
		ToHeight:           cfg.ToHeight,
		BatchSize:          cfg.BatchSize,
		CheckpointInterval: cfg.CheckpointInterval,
		PartitionThreshold: cfg.PartitionThreshold,
		TotalThreshold:     cfg.TotalThreshold,
		WalletRules:        walletRules,
		BatchFailureSleep:  cfg.BatchFailureSleep,
	})

	chainSyncLoop := loop.NewChainSyncLoop(headerSource, chainTable, chainView, logger)

	errs := make(chan error, 2)
	go func() { errs <- indexingLoop.Run(ctx) }()
	go func() { errs <- chainSyncLoop.Run(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// seedChainView reads the chain table's tip height and fetches every header
// from genesis up to that height from the node into the in-memory view (on
// an empty chain table it fetches and appends the genesis header to both),
// then lets the chain-sync loop take it from there.
func seedChainView(ctx context.Context, chainTable *chaintable.Store, source *node.HeaderSource, view *chainview.View) error {
	tip, ok, err := chainTable.Tip(ctx)
	if err != nil {
		return err
	}
	if !ok {
		header, found, err := source.HeaderAt(ctx, 0)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		view.Append(header)
		return chainTable.Append(ctx, header)
	}

	for height := uint32(0); height <= tip; height++ {
		header, found, err := source.HeaderAt(ctx, height)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		view.Append(header)
	}
	return nil
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}()
}

func newRPCClient(rawURL, user, password string) (*rpcclient.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rpc url: %w", err)
	}
	if parsed.Scheme != "http" {
		return nil, fmt.Errorf("rpc url scheme %q not supported, use http", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("rpc url missing host")
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         parsed.Host,
		User:         user,
		Pass:         password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	return rpcclient.New(connCfg, nil)
}
