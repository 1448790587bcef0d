package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"counterchain/config"
	"counterchain/core/events"
	"counterchain/core/host"
	"counterchain/core/types"
	"counterchain/indexer"
	"counterchain/native/counter"
	"counterchain/native/token"
	"counterchain/observability/logging"
	"counterchain/rpc"
	"counterchain/storage"
)

// node owns every long lived component of the daemon.
type node struct {
	db      storage.Database
	runtime *host.Runtime
	index   *indexer.Indexer
	server  *rpc.Server
	logger  *slog.Logger
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "memory":
		return storage.NewMemDB(), nil
	default:
		return storage.NewLevelDBWithOptions(filepath.Join(cfg.DataDir, "state"), storage.LevelDBOptions{
			CacheMiB: cfg.Storage.CacheMiB,
			Handles:  cfg.Storage.Handles,
		})
	}
}

func counterConfig(cfg *config.Config) (counter.Config, error) {
	fee, err := config.ParseAmount(cfg.Counter.EntryFee)
	if err != nil {
		return counter.Config{}, err
	}
	out := counter.Config{
		EntryFee:    fee,
		CallGas:     types.Gas(cfg.Counter.CallGasTGas) * types.TGas,
		CallbackGas: types.Gas(cfg.Counter.CallbackGasTGas) * types.TGas,
	}
	if cfg.Counter.Settlement {
		out.Token = types.AccountID(cfg.Token.Account)
	}
	return out, nil
}

func tokenConfig(cfg *config.Config) (token.Config, error) {
	out := token.DefaultConfig()
	out.Metadata.Name = cfg.Token.Name
	out.Metadata.Symbol = cfg.Token.Symbol
	out.Metadata.Decimals = cfg.Token.Decimals
	var err error
	if out.MaxSupply, err = config.ParseAmount(cfg.Token.MaxSupply); err != nil {
		return out, err
	}
	if out.MintAmount, err = config.ParseAmount(cfg.Token.MintAmount); err != nil {
		return out, err
	}
	if out.StorageCost, err = config.ParseAmount(cfg.Token.StorageCost); err != nil {
		return out, err
	}
	return out, nil
}

// newNode opens storage, deploys both programs and prepares the RPC server.
func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	counterCfg, err := counterConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("counter config: %w", err)
	}
	tokenCfg, err := tokenConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("token config: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	n := &node{db: db, logger: logger}

	broadcaster := events.NewBroadcaster()
	opts := []host.Option{
		host.WithEmitter(broadcaster),
		host.WithLogger(logger),
		host.WithViewGas(types.Gas(cfg.RPC.ViewGasTGas) * types.TGas),
		host.WithResultHook(counter.ObserveResult),
	}
	if cfg.Indexer.Enabled {
		idx, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, logger)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("open indexer: %w", err)
		}
		n.index = idx
		opts = append(opts, host.WithResultHook(idx.Hook(5*time.Second)))
		logger.Info("indexer enabled", "driver", cfg.Indexer.Driver, logging.DSN(cfg.Indexer.DSN))
	}

	rt, err := host.New(db, opts...)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("start runtime: %w", err)
	}
	n.runtime = rt

	counterAccount := types.AccountID(cfg.Counter.Account)
	if err := rt.Deploy(counterAccount, counter.NewEngine(counterCfg)); err != nil {
		n.Close()
		return nil, err
	}
	if rt.Height() == 0 && strings.TrimSpace(cfg.Counter.InitialValue) != "" {
		initial, err := config.ParseAmount(cfg.Counter.InitialValue)
		if err != nil {
			n.Close()
			return nil, err
		}
		if err := rt.Genesis(counterAccount, func(kv host.KV) error {
			return counter.SetInitialValue(kv, initial)
		}); err != nil {
			n.Close()
			return nil, fmt.Errorf("seed counter: %w", err)
		}
		logger.Info("counter seeded", "value", initial.Dec())
	}

	var tokenAccount types.AccountID
	if counterCfg.SettlementEnabled() {
		tokenAccount = counterCfg.Token
		if err := rt.Deploy(tokenAccount, token.NewEngine(tokenCfg)); err != nil {
			n.Close()
			return nil, err
		}
		if err := initializeToken(ctx, rt, tokenAccount, logger); err != nil {
			n.Close()
			return nil, err
		}
	}

	serverOpts := []rpc.Option{rpc.WithBroadcaster(broadcaster), rpc.WithLogger(logger)}
	if n.index != nil {
		serverOpts = append(serverOpts, rpc.WithIndexer(n.index))
	}
	n.server = rpc.NewServer(rt, rpc.ServerConfig{
		Counter: counterAccount,
		Token:   tokenAccount,
		TxGas:   types.Gas(cfg.RPC.TxGasTGas) * types.TGas,
		RateLimit: rpc.RateLimit{
			PerSecond:         cfg.RPC.RateLimitPerSecond,
			Burst:             cfg.RPC.RateLimitBurst,
			TrustedProxies:    append([]string{}, cfg.RPC.TrustedProxies...),
			TrustProxyHeaders: cfg.RPC.TrustProxyHeaders,
		},
		ReadTimeout:  time.Duration(cfg.RPC.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.RPC.WriteTimeoutSeconds) * time.Second,
	}, serverOpts...)
	return n, nil
}

// initializeToken runs the issuer's new() once per data directory.
func initializeToken(ctx context.Context, rt *host.Runtime, account types.AccountID, logger *slog.Logger) error {
	_, err := rt.View(ctx, account, "ft_metadata", nil)
	if err == nil {
		return nil
	}
	if !host.IsAbort(err) {
		return fmt.Errorf("read token metadata: %w", err)
	}
	res, err := rt.Submit(ctx, types.Transaction{
		Signer:   account,
		Receiver: account,
		Method:   "new",
		Gas:      host.DefaultTransactionGas,
	})
	if err != nil {
		return fmt.Errorf("initialize token: %w", err)
	}
	if !res.Succeeded() {
		failure, _ := res.FirstFailure()
		return fmt.Errorf("initialize token: %s", failure.Failure)
	}
	logger.Info("token initialized", "account", string(account))
	return nil
}

// Close releases storage and the indexer connection.
func (n *node) Close() {
	if n.index != nil {
		if err := n.index.Close(); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Warn("close indexer", "error", err)
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}
