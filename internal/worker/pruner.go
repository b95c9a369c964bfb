package worker

import (
	"context"
	"log/slog"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/storage"
)

const defaultPruneInterval = time.Hour

// LedgerPruner periodically deletes notification records older than the
// retention period. Retention must exceed any upload window in use, or an
// upload could be announced twice.
type LedgerPruner struct {
	ledger    storage.NotificationLedger
	clock     fastpass.Clock
	retention time.Duration
	interval  time.Duration
}

// NewLedgerPruner creates a LedgerPruner that runs hourly.
func NewLedgerPruner(ledger storage.NotificationLedger, clock fastpass.Clock, retention time.Duration) *LedgerPruner {
	return &LedgerPruner{ledger: ledger, clock: clock, retention: retention, interval: defaultPruneInterval}
}

// Name returns the worker identifier.
func (p *LedgerPruner) Name() string { return "ledger_pruner" }

// Run prunes once at start and then on every tick.
func (p *LedgerPruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *LedgerPruner) prune(ctx context.Context) {
	n, err := p.ledger.PruneNotified(ctx, p.clock.Now().Add(-p.retention))
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "ledger prune failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelInfo, "ledger pruned", slog.Int64("deleted", n))
	}
}
