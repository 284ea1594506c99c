package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ammSettle/internal/api"
	"ammSettle/internal/chain"
	"ammSettle/internal/config"
	"ammSettle/internal/events"
	"ammSettle/internal/jobs"
	"ammSettle/internal/settle"
	"ammSettle/internal/stats"
	"ammSettle/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := newNode(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	opts := []settle.Option{settle.WithPublisher(publisher), settle.WithMetrics(n.metrics)}
	if n.evm != nil {
		opts = append(opts, settle.WithTokenMeta(chain.NewMetaSource(n.evm, logger.Named("meta"))))
	}
	engine := settle.NewEngine(n.ledger, n.verifier, settle.Config{
		LPFeeBPS:        cfg.LPFeeBPS,
		ProtocolFeeBPS:  cfg.ProtocolFeeBPS,
		LPTokenDecimals: cfg.LPTokenDecimals,
		MaxSlippage:     cfg.MaxSlippage,
		HubTokens:       cfg.HubTokens,
	}, logger.Named("settle"), opts...)
	defer engine.Wait()

	scheduler := jobs.NewScheduler(logger.Named("jobs"), n.metrics)
	scheduler.Add(jobs.NewClaimsSweep(n.claims, cfg.ClaimsInterval, cfg.ClaimsSweepLimit, logger.Named("sweep")))
	scheduler.Add(jobs.NewStatsRefresh(stats.NewRefresher(n.ledger, logger.Named("stats")), cfg.StatsInterval))
	archiver := jobs.NewArchiver(n.ledger, storage.NewJsonlArchive(cfg.ArchiveDir), cfg.ArchiveRetention, logger.Named("archive"))
	scheduler.Add(jobs.NewArchive(archiver, cfg.ArchiveInterval))

	serverOpts := []api.Option{api.WithGatherer(n.registry), api.WithAdmins(cfg.Admins...)}
	if n.solana != nil {
		serverOpts = append(serverOpts, api.WithIngestor(n.solana))
	}
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(engine, n.claims, logger.Named("api"), serverOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("settled start",
		zap.String("listen", cfg.Listen),
		zap.String("store", cfg.Store),
		zap.Strings("jobs", scheduler.Jobs()),
		zap.Strings("hub_tokens", cfg.HubTokens),
		zap.Uint16("lp_fee_bps", cfg.LPFeeBPS),
		zap.Uint16("protocol_fee_bps", cfg.ProtocolFeeBPS),
		zap.Int("admins", len(cfg.Admins)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("settled stop", zap.Error(err))
	return err
}

func newPublisher(cfg config.Config) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}, nil
	}
	return events.NewKafka(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
}
