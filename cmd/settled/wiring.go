package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ammSettle/internal/chain"
	"ammSettle/internal/claims"
	"ammSettle/internal/config"
	"ammSettle/internal/ledger"
	"ammSettle/internal/metrics"
	"ammSettle/internal/model"
	"ammSettle/internal/storage"
	"ammSettle/internal/storage/leveldb"
	"ammSettle/internal/storage/postgres"
	"ammSettle/internal/transfer"
)

// node holds the long-lived components built from Config.
type node struct {
	cfg      config.Config
	log      *zap.Logger
	kv       storage.KV
	ledger   *ledger.Ledger
	verifier *transfer.Verifier
	evm      *chain.Client
	solana   *transfer.SolanaAdapter
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	claims   *claims.Service
}

func newNode(ctx context.Context, cfg config.Config, logger *zap.Logger) (*node, error) {
	n := &node{cfg: cfg, log: logger, registry: prometheus.NewRegistry()}
	n.metrics = metrics.New(n.registry)

	kv, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	n.kv = kv
	n.ledger = ledger.New(kv, logger.Named("ledger"))
	n.verifier = transfer.NewVerifier(logger.Named("transfer"))

	retry := transfer.RetryPolicy{MaxRetries: cfg.RPCMaxRetries, Backoff: cfg.RPCRetryBackoff}
	if err := n.setupEVM(ctx, retry); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.setupSolana(retry); err != nil {
		n.Close()
		return nil, err
	}

	n.claims = claims.NewService(n.ledger, n.verifier, cfg.ClaimMaxRetries, logger.Named("claims"), claims.WithMetrics(n.metrics))
	return n, nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.KV, error) {
	switch cfg.Store {
	case "leveldb":
		return leveldb.Open(cfg.LevelDBPath)
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return storage.NewMemoryKV(), nil
	}
}

func (n *node) setupEVM(ctx context.Context, retry transfer.RetryPolicy) error {
	if n.cfg.EVMRPC == "" {
		n.log.Warn("evm rpc not configured, evm tokens cannot settle")
		return nil
	}
	client, err := chain.NewClient(ctx, n.cfg.EVMRPC)
	if err != nil {
		return fmt.Errorf("connect evm rpc: %w", err)
	}
	n.evm = client
	if n.cfg.EVMCustodyKey == "" {
		n.log.Warn("evm custody key not configured, evm tokens cannot settle")
		return nil
	}
	key, err := transfer.ParseECDSAKey(n.cfg.EVMCustodyKey)
	if err != nil {
		return err
	}
	chainID := big.NewInt(n.cfg.EVMChainID)
	if chainID.Sign() <= 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			return fmt.Errorf("fetch chain id: %w", err)
		}
	}
	adapter, err := transfer.NewEVMAdapter(client, transfer.EVMConfig{
		Key:           key,
		ChainID:       chainID,
		Confirmations: n.cfg.EVMConfirmations,
		Retry:         retry,
	}, n.log.Named("evm"))
	if err != nil {
		return err
	}
	n.verifier.Register(model.ChainEVM, adapter)
	n.log.Info("evm adapter ready", zap.String("chain_id", chainID.String()))
	return nil
}

func (n *node) setupSolana(retry transfer.RetryPolicy) error {
	if n.cfg.SolanaRPC == "" || n.cfg.SolanaCustodyKey == "" {
		n.log.Warn("solana rpc or custody key not configured, solana tokens cannot settle")
		return nil
	}
	custody, err := solana.PrivateKeyFromBase58(n.cfg.SolanaCustodyKey)
	if err != nil {
		return fmt.Errorf("parse solana custody key: %w", err)
	}
	attestor, err := solana.PublicKeyFromBase58(n.cfg.SolanaAttestor)
	if err != nil {
		return fmt.Errorf("parse solana attestor: %w", err)
	}

	var cache transfer.TransferCache = transfer.NewMemoryTransferCache()
	if n.cfg.RedisAddr != "" {
		cache = transfer.NewRedisTransferCache(n.cfg.RedisAddr, n.cfg.RedisPassword, n.cfg.RedisDB, n.cfg.RedisTTL)
	}

	adapter, err := transfer.NewSolanaAdapter(solrpc.New(n.cfg.SolanaRPC), cache, transfer.SolanaConfig{
		Custody:       custody,
		Attestor:      attestor,
		MessageFormat: n.cfg.SolanaMessageFormat,
		MaxAge:        n.cfg.SolanaMaxAge,
		Retry:         retry,
	}, n.log.Named("solana"))
	if err != nil {
		return err
	}
	n.solana = adapter
	n.verifier.Register(model.ChainSolana, adapter)
	n.log.Info("solana adapter ready", zap.String("custody", adapter.Custody().String()))
	return nil
}

// Close releases the store and RPC connections.
func (n *node) Close() {
	if n.evm != nil {
		n.evm.Close()
	}
	if n.kv != nil {
		if err := n.kv.Close(); err != nil {
			n.log.Warn("close store", zap.Error(err))
		}
	}
}
