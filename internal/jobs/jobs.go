package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	ClaimsSweepJob  = "claims_sweep"
	StatsRefreshJob = "stats_refresh"
	ArchiveJob      = "archive"
)

// ClaimSweeper pays out pending claims.
type ClaimSweeper interface {
	Sweep(ctx context.Context, limit int) (int, error)
}

// StatsRefresher recomputes pool stats.
type StatsRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// NewClaimsSweep pays out up to limit pending claims per tick.
func NewClaimsSweep(s ClaimSweeper, interval time.Duration, limit int, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name:     ClaimsSweepJob,
		Interval: interval,
		Run: func(ctx context.Context) error {
			paid, err := s.Sweep(ctx, limit)
			if paid > 0 {
				logger.Info("claims swept", zap.Int("paid", paid))
			}
			return err
		},
	}
}

func NewStatsRefresh(r StatsRefresher, interval time.Duration) Job {
	return Job{
		Name:     StatsRefreshJob,
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := r.Refresh(ctx)
			return err
		},
	}
}

func NewArchive(a *Archiver, interval time.Duration) Job {
	return Job{
		Name:     ArchiveJob,
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := a.Run(ctx)
			return err
		},
	}
}
