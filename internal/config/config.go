package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "SETTLE"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	LogLevel string
	LogFile  string
	Listen   string
	Admins   []string

	Store       string
	LevelDBPath string
	PGDSN       string
	ArchiveDir  string

	EVMRPC           string
	EVMCustodyKey    string
	EVMChainID       int64
	EVMConfirmations uint64

	SolanaRPC           string
	SolanaCustodyKey    string
	SolanaAttestor      string
	SolanaMessageFormat string
	SolanaMaxAge        time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	LPFeeBPS        uint16
	ProtocolFeeBPS  uint16
	LPTokenDecimals uint8
	MaxSlippage     float64
	HubTokens       []string
	ClaimMaxRetries uint8

	ClaimsInterval   time.Duration
	ClaimsSweepLimit int
	StatsInterval    time.Duration
	ArchiveInterval  time.Duration
	ArchiveRetention time.Duration

	RPCMaxRetries   int
	RPCRetryBackoff time.Duration
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("listen", ":8080")
	v.SetDefault("store", "memory")
	v.SetDefault("leveldb-path", "./data/ledger")
	v.SetDefault("archive-dir", "./data/archive")
	v.SetDefault("evm-confirmations", uint64(1))
	v.SetDefault("solana-message-format", "{pay_token_address}:{from}:{to}:{amount}:{status}:{signature}:{ts}")
	v.SetDefault("solana-max-age", 10*time.Minute)
	v.SetDefault("redis-ttl", 24*time.Hour)
	v.SetDefault("kafka-topic", "settle.transactions")
	v.SetDefault("lp-fee-bps", 30)
	v.SetDefault("protocol-fee-bps", 5)
	v.SetDefault("lp-token-decimals", 8)
	v.SetDefault("max-slippage", 2.0)
	v.SetDefault("claim-max-retries", 2)
	v.SetDefault("claims-interval", time.Minute)
	v.SetDefault("claims-sweep-limit", 100)
	v.SetDefault("stats-interval", 5*time.Minute)
	v.SetDefault("archive-interval", time.Hour)
	v.SetDefault("archive-retention", 30*24*time.Hour)
	v.SetDefault("rpc-max-retries", 5)
	v.SetDefault("rpc-retry-backoff", 500*time.Millisecond)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel: v.GetString("log-level"),
		LogFile:  v.GetString("log-file"),
		Listen:   v.GetString("listen"),
		Admins:   getStringSlice(v, "admins"),

		Store:       strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		LevelDBPath: v.GetString("leveldb-path"),
		PGDSN:       v.GetString("pg-dsn"),
		ArchiveDir:  v.GetString("archive-dir"),

		EVMRPC:           v.GetString("evm-rpc"),
		EVMCustodyKey:    v.GetString("evm-custody-key"),
		EVMChainID:       v.GetInt64("evm-chain-id"),
		EVMConfirmations: v.GetUint64("evm-confirmations"),

		SolanaRPC:           v.GetString("solana-rpc"),
		SolanaCustodyKey:    v.GetString("solana-custody-key"),
		SolanaAttestor:      v.GetString("solana-attestor"),
		SolanaMessageFormat: v.GetString("solana-message-format"),
		SolanaMaxAge:        v.GetDuration("solana-max-age"),

		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		RedisTTL:      v.GetDuration("redis-ttl"),

		KafkaBrokers: getStringSlice(v, "kafka-brokers"),
		KafkaTopic:   v.GetString("kafka-topic"),

		LPFeeBPS:        uint16(v.GetUint("lp-fee-bps")),
		ProtocolFeeBPS:  uint16(v.GetUint("protocol-fee-bps")),
		LPTokenDecimals: uint8(v.GetUint("lp-token-decimals")),
		MaxSlippage:     v.GetFloat64("max-slippage"),
		HubTokens:       getStringSlice(v, "hub-tokens"),
		ClaimMaxRetries: uint8(v.GetUint("claim-max-retries")),

		ClaimsInterval:   v.GetDuration("claims-interval"),
		ClaimsSweepLimit: v.GetInt("claims-sweep-limit"),
		StatsInterval:    v.GetDuration("stats-interval"),
		ArchiveInterval:  v.GetDuration("archive-interval"),
		ArchiveRetention: v.GetDuration("archive-retention"),

		RPCMaxRetries:   v.GetInt("rpc-max-retries"),
		RPCRetryBackoff: v.GetDuration("rpc-retry-backoff"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no safe fallback.
func (c Config) Validate() error {
	switch c.Store {
	case "memory", "leveldb", "postgres":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Store == "postgres" && c.PGDSN == "" {
		return fmt.Errorf("pg-dsn is required for the postgres store")
	}
	if c.LPFeeBPS == 0 || c.LPFeeBPS > 10000 {
		return fmt.Errorf("lp-fee-bps must be in 1..10000, got %d", c.LPFeeBPS)
	}
	if c.ProtocolFeeBPS > c.LPFeeBPS {
		return fmt.Errorf("protocol-fee-bps %d exceeds lp-fee-bps %d", c.ProtocolFeeBPS, c.LPFeeBPS)
	}
	if c.MaxSlippage < 0 {
		return fmt.Errorf("max-slippage must not be negative")
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
