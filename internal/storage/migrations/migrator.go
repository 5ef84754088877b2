package migrations

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Target is a database migrations are applied to.
type Target interface {
	// Prepare creates the version table if needed.
	Prepare(ctx context.Context) error
	// Applied returns the versions already recorded.
	Applied(ctx context.Context) (map[string]bool, error)
	// Apply runs m and records its version.
	Apply(ctx context.Context, m Migration) error
}

// Run applies every migration of d that t has not recorded, in version order,
// and returns the versions it applied.
func Run(ctx context.Context, d Dialect, t Target, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("migrations")

	all, err := Load(d)
	if err != nil {
		return nil, err
	}
	if err := t.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("prepare %s version table: %w", d, err)
	}
	applied, err := t.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("read applied %s migrations: %w", d, err)
	}

	var ran []string
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		if err := t.Apply(ctx, m); err != nil {
			return ran, fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		logger.Info("migration applied", zap.String("dialect", string(d)), zap.String("version", m.Version))
		ran = append(ran, m.Version)
	}
	return ran, nil
}
