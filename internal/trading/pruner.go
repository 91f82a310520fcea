package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const DefaultPruneInterval = time.Hour

// KeyPruner periodically deletes expired idempotency keys
type KeyPruner struct {
	db       *Database
	interval time.Duration
}

func NewKeyPruner(gormDB *gorm.DB, interval time.Duration) *KeyPruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &KeyPruner{
		db:       NewDatabase(gormDB),
		interval: interval,
	}
}

// Start prunes on every tick until ctx is cancelled
func (p *KeyPruner) Start(ctx context.Context) {
	logger := log.With().Str("component", "idempotency_pruner").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting idempotency key pruner")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down idempotency key pruner")
			return
		case <-ticker.C:
			if _, err := p.Prune(ctx, time.Now()); err != nil {
				logger.Error().Err(err).Msg("failed to prune idempotency keys")
			}
		}
	}
}

// Prune deletes every key that expired at or before now
func (p *KeyPruner) Prune(ctx context.Context, now time.Time) (int64, error) {
	n, err := p.db.PruneIdempotencyRecords(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debug().Int64("pruned", n).Msg("expired idempotency keys removed")
	}
	return n, nil
}
