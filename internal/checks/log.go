package checks

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
)

// LogPublisher writes signals to the log. Used when no platform is
// configured.
type LogPublisher struct {
	Logger *logging.Logger
}

// PublishCheck implements Publisher.
func (p LogPublisher) PublishCheck(ctx context.Context, key ledger.Key, sig Signal) error {
	p.Logger.Info(ctx, "check",
		zap.String("changeset", key.String()),
		zap.String("check", sig.Name),
		zap.String("conclusion", string(sig.Conclusion)),
		zap.String("revision", sig.Revision),
		zap.String("summary", sig.Summary),
	)
	return nil
}
