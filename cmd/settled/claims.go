package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammSettle/internal/config"
	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
)

func runClaims(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	pending, _ := cmd.Flags().GetBool("pending")
	limit, _ := cmd.Flags().GetInt("limit")

	ids, err := parseClaimIDs(args)
	if err != nil {
		return err
	}
	if len(ids) == 0 && !pending {
		return fmt.Errorf("claim ids or --pending required")
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

	if pending {
		err := n.ledger.View(ctx, func(tx *ledger.Tx) error {
			list, err := tx.ClaimsByStatus(model.ClaimPending, limit)
			if err != nil {
				return err
			}
			for _, c := range list {
				ids = append(ids, c.ID)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("list pending claims: %w", err)
		}
	}

	logger.Info("claims batch start", zap.Int("claims", len(ids)))
	res, err := n.claims.Batch(ctx, "", ids)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func parseClaimIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid claim id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
