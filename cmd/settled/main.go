package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "settled",
		Short:        "AMM swap and liquidity settlement engine",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the settlement engine, HTTP API and background jobs",
		RunE:  runServe,
	}
	addCommonFlags(serveCmd.Flags())
	addEngineFlags(serveCmd.Flags())
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringSlice("admins", nil, "operator principals (comma-separated)")
	serveCmd.Flags().String("archive-dir", "./data/archive", "directory for archived ledger records")
	serveCmd.Flags().Duration("claims-interval", time.Minute, "pending claim sweep interval, 0 disables")
	serveCmd.Flags().Int("claims-sweep-limit", 100, "claims paid per sweep")
	serveCmd.Flags().Duration("stats-interval", 5*time.Minute, "pool stats refresh interval, 0 disables")
	serveCmd.Flags().Duration("archive-interval", time.Hour, "archive interval, 0 disables")
	serveCmd.Flags().Duration("archive-retention", 30*24*time.Hour, "age before finalized requests are archived, 0 disables")
	serveCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers for transaction events (comma-separated)")
	serveCmd.Flags().String("kafka-topic", "settle.transactions", "Kafka topic for transaction events")
	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres ledger schema",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	migrateCmd.Flags().String("log-file", "", "also write logs to this rotated file")
	root.AddCommand(migrateCmd)

	claimsCmd := &cobra.Command{
		Use:   "claims [claim-id...]",
		Short: "Process claims as operator and print the batch result",
		RunE:  runClaims,
	}
	addCommonFlags(claimsCmd.Flags())
	claimsCmd.Flags().Bool("pending", false, "process every pending claim instead of the listed ids")
	claimsCmd.Flags().Int("limit", 0, "maximum pending claims to process, 0 means all")
	root.AddCommand(claimsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// addCommonFlags registers the store and custody flags shared by commands
// that open the ledger and move funds.
func addCommonFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write logs to this rotated file")
	flags.String("store", "memory", "ledger store (memory, leveldb, postgres)")
	flags.String("leveldb-path", "./data/ledger", "LevelDB directory")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("evm-rpc", "", "EVM RPC URL")
	flags.String("evm-custody-key", "", "hex private key of the EVM custody account")
	flags.Int64("evm-chain-id", 0, "EVM chain id, 0 asks the RPC")
	flags.Uint64("evm-confirmations", 1, "confirmations required for EVM deposits")
	flags.String("solana-rpc", "", "Solana RPC URL")
	flags.String("solana-custody-key", "", "base58 private key of the Solana custody wallet")
	flags.String("solana-attestor", "", "base58 public key that signs ingested Solana transfers")
	flags.Duration("solana-max-age", 10*time.Minute, "maximum age of an ingested Solana transfer")
	flags.String("redis-addr", "", "Redis address for ingested transfers, empty keeps them in memory")
	flags.Int("rpc-max-retries", 5, "maximum RPC retry attempts")
	flags.Duration("rpc-retry-backoff", 500*time.Millisecond, "initial RPC retry backoff")
	flags.Uint8("claim-max-retries", 2, "owner retries allowed after a failed claim")
}

func addEngineFlags(flags *pflag.FlagSet) {
	flags.Uint16("lp-fee-bps", 30, "default pool fee in basis points")
	flags.Uint16("protocol-fee-bps", 5, "protocol share of the pool fee in basis points")
	flags.Uint8("lp-token-decimals", 8, "decimals of minted lp tokens")
	flags.Float64("max-slippage", 2.0, "default slippage limit in percent")
	flags.StringSlice("hub-tokens", nil, "intermediate tokens for two-hop routes (comma-separated)")
}

func newLogger(level, file string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if file == "" {
		return cfg.Build()
	}
	rotated := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), rotated, cfg.Level)
	return cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}
