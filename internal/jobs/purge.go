package jobs

import (
	"context"

	"go.uber.org/zap"
)

// ResetPurger clears expired password reset tokens.
type ResetPurger interface {
	PurgeExpiredResets(ctx context.Context) (int64, error)
}

const PurgeResetTokens = "purge-reset-tokens"

// PurgeResets returns a task that clears expired reset tokens and logs how
// many were cleared.
func PurgeResets(p ResetPurger, logger *zap.Logger) Task {
	return func(ctx context.Context) error {
		n, err := p.PurgeExpiredResets(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("expired reset tokens cleared", zap.Int64("count", n))
		}
		return nil
	}
}
