package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const DefaultTokenCleanupInterval = time.Hour

// StartTokenCleaner purges expired session and confirmation tokens every
// interval until ctx is cancelled.
func (s *Service) StartTokenCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTokenCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.log.Error("purge expired tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("purged expired tokens", zap.Int64("count", n))
			}
		}
	}
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	for _, table := range []string{"user_tokens", "confirmation_tokens"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= ?`, now)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
