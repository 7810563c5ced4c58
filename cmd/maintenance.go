package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/jennifer88huang/gtplanner/internal/config"
	"github.com/jennifer88huang/gtplanner/internal/store"
)

// runMaintenance purges soft-deleted sessions past the retention window on
// the configured cron schedule. Blocks until ctx is cancelled.
func runMaintenance(ctx context.Context, st *store.Store, cfg config.MaintenanceConfig) {
	if !cfg.Enabled {
		return
	}
	if !gronx.New().IsValid(cfg.Cron) {
		slog.Warn("maintenance disabled: invalid cron expression", "cron", cfg.Cron)
		return
	}
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = 90
	}

	slog.Info("maintenance sweep scheduled", "cron", cfg.Cron, "retention_days", retention)

	for {
		next, err := gronx.NextTick(cfg.Cron, false)
		if err != nil {
			slog.Warn("maintenance stopped", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		cutoff := time.Now().AddDate(0, 0, -retention)
		purged, err := st.PurgeDeletedSessions(ctx, cutoff)
		if err != nil {
			slog.Warn("maintenance sweep failed", "error", err)
			continue
		}
		if purged > 0 {
			slog.Info("purged deleted sessions", "count", purged, "cutoff", cutoff.Format(time.RFC3339))
		}
	}
}
