// Package learning persists selector corrections accepted by the healer so
// later runs can skip a known-stale locator before it times out. Corrections
// are keyed by (node id, component role); the current table is
// replace-by-key while the history table is append-only.
package learning

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
	"github.com/xkilldash9x/trident-cli/internal/store"
)

// identRE gates table names from configuration before they are interpolated
// into SQL text. Correction fields always travel as bind parameters.
var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// New builds the learning store selected by cfg.Backend. The postgres
// backend shares the database pool; the memory backend needs none and loses
// everything on exit.
func New(ctx context.Context, cfg config.LearningConfig, pool store.DBPool, logger *zap.Logger) (schemas.LearningStore, error) {
	switch config.LearningBackend(strings.ToLower(string(cfg.Backend))) {
	case config.LearningMemory:
		logger.Info("Initializing in-memory learning store; corrections will be lost on exit.")
		return NewMemoryStore(), nil
	case config.LearningPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres learning backend requires a database pool")
		}
		return NewPostgresStore(ctx, pool, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported learning backend %q", cfg.Backend)
	}
}

func validateCorrection(c schemas.SelectorCorrection) error {
	if c.NodeID == "" || c.ComponentRole == "" {
		return fmt.Errorf("correction requires node id and component role (got %q, %q)", c.NodeID, c.ComponentRole)
	}
	if c.NewLocator == "" {
		return fmt.Errorf("correction for %s/%s has no replacement locator", c.NodeID, c.ComponentRole)
	}
	return nil
}
