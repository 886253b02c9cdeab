package services

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"messenger-console/db"
	"messenger-console/logger"
	"messenger-console/pkg/telemetry"
)

const defaultArchiveCron = "0 3 * * *"

// Archiver periodically moves old messages into messages_archive.
type Archiver struct {
	ledger *db.Ledger
	cron   string
	days   int
	now    func() time.Time
}

func NewArchiver(ledger *db.Ledger, cronExpr string, days int) (*Archiver, error) {
	if cronExpr == "" {
		cronExpr = defaultArchiveCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid archive cron expression: %s", cronExpr)
	}
	if days <= 0 {
		return nil, fmt.Errorf("archive days must be positive, got %d", days)
	}
	return &Archiver{ledger: ledger, cron: cronExpr, days: days, now: time.Now}, nil
}

// RunOnce archives everything older than the configured number of days.
func (a *Archiver) RunOnce(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().AddDate(0, 0, -a.days)
	moved, err := a.ledger.ArchiveOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive messages before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	telemetry.ArchivedMessages.Add(float64(moved))
	logger.LogInfo("🗄️ Archived %d messages older than %s", moved, cutoff.Format(time.RFC3339))
	return moved, nil
}

// Start runs the scheduler until ctx is cancelled.
func (a *Archiver) Start(ctx context.Context) {
	logger.LogInfo("Archive scheduler started (cron %q, %d days)", a.cron, a.days)
	go a.loop(ctx)
}

func (a *Archiver) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(a.cron, a.now().UTC(), false)
		if err != nil {
			logger.LogError("Archive scheduler could not compute next tick: %v", err)
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := a.RunOnce(ctx); err != nil {
				logger.LogError("Archive run failed: %v", err)
			}
		case <-ctx.Done():
			logger.LogInfo("Archive scheduler stopping")
			return
		}
	}
}
