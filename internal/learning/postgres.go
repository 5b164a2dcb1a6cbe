package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
	"github.com/xkilldash9x/trident-cli/internal/store"
)

// PostgresStore keeps the authoritative correction per key in cfg.Table and
// every acceptance ever made in cfg.HistoryTable. Both writes happen in one
// transaction so the history never disagrees with the current row.
type PostgresStore struct {
	pool         store.DBPool
	table        string
	historyTable string
	log          *zap.Logger
}

var _ schemas.LearningStore = (*PostgresStore)(nil)

// NewPostgresStore validates the configured table names and verifies the
// connection.
func NewPostgresStore(ctx context.Context, pool store.DBPool, cfg config.LearningConfig, logger *zap.Logger) (*PostgresStore, error) {
	for _, table := range []string{cfg.Table, cfg.HistoryTable} {
		if !identRE.MatchString(table) {
			return nil, fmt.Errorf("invalid learning table name %q", table)
		}
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		pool:         pool,
		table:        pgx.Identifier{cfg.Table}.Sanitize(),
		historyTable: pgx.Identifier{cfg.HistoryTable}.Sanitize(),
		log:          logger.Named("learning"),
	}, nil
}

// Get returns the authoritative correction for the key, or nil when none has
// been learned.
func (p *PostgresStore) Get(ctx context.Context, nodeID, componentRole string) (*schemas.SelectorCorrection, error) {
	sql := fmt.Sprintf(`
        SELECT node_id, component_role, old_locator, new_locator, reasoning, accepted_at
        FROM %s
        WHERE node_id = $1 AND component_role = $2;
    `, p.table)

	rows, err := p.pool.Query(ctx, sql, nodeID, componentRole)
	if err != nil {
		return nil, fmt.Errorf("failed to query learned correction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query learned correction: %w", err)
		}
		return nil, nil
	}

	var c schemas.SelectorCorrection
	if err := rows.Scan(&c.NodeID, &c.ComponentRole, &c.OldLocator, &c.NewLocator, &c.Reasoning, &c.AcceptedAt); err != nil {
		return nil, fmt.Errorf("failed to scan learned correction: %w", err)
	}
	return &c, nil
}

// Put upserts the current correction for its key and appends it to the
// history table.
func (p *PostgresStore) Put(ctx context.Context, correction schemas.SelectorCorrection) error {
	if err := validateCorrection(correction); err != nil {
		return err
	}
	if correction.AcceptedAt.IsZero() {
		correction.AcceptedAt = time.Now()
	}
	correction.AcceptedAt = correction.AcceptedAt.UTC()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	upsert := fmt.Sprintf(`
        INSERT INTO %s (node_id, component_role, old_locator, new_locator, reasoning, accepted_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (node_id, component_role) DO UPDATE SET
            old_locator = EXCLUDED.old_locator,
            new_locator = EXCLUDED.new_locator,
            reasoning = EXCLUDED.reasoning,
            accepted_at = EXCLUDED.accepted_at;
    `, p.table)

	args := []interface{}{
		correction.NodeID,
		correction.ComponentRole,
		correction.OldLocator,
		correction.NewLocator,
		correction.Reasoning,
		correction.AcceptedAt,
	}

	if _, err := tx.Exec(ctx, upsert, args...); err != nil {
		return fmt.Errorf("failed to upsert correction for %s/%s: %w", correction.NodeID, correction.ComponentRole, err)
	}

	appendHistory := fmt.Sprintf(`
        INSERT INTO %s (node_id, component_role, old_locator, new_locator, reasoning, accepted_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `, p.historyTable)

	if _, err := tx.Exec(ctx, appendHistory, args...); err != nil {
		return fmt.Errorf("failed to append correction history for %s/%s: %w", correction.NodeID, correction.ComponentRole, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	p.log.Info("Recorded selector correction",
		zap.String("node_id", correction.NodeID),
		zap.String("component_role", correction.ComponentRole),
		zap.String("new_locator", correction.NewLocator),
	)
	return nil
}

// History returns every correction recorded for the key, oldest first.
func (p *PostgresStore) History(ctx context.Context, nodeID, componentRole string) ([]schemas.SelectorCorrection, error) {
	sql := fmt.Sprintf(`
        SELECT node_id, component_role, old_locator, new_locator, reasoning, accepted_at
        FROM %s
        WHERE node_id = $1 AND component_role = $2
        ORDER BY accepted_at ASC;
    `, p.historyTable)

	rows, err := p.pool.Query(ctx, sql, nodeID, componentRole)
	if err != nil {
		return nil, fmt.Errorf("failed to query correction history: %w", err)
	}
	defer rows.Close()

	var history []schemas.SelectorCorrection
	for rows.Next() {
		var c schemas.SelectorCorrection
		if err := rows.Scan(&c.NodeID, &c.ComponentRole, &c.OldLocator, &c.NewLocator, &c.Reasoning, &c.AcceptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction history: %w", err)
		}
		history = append(history, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read correction history: %w", err)
	}
	return history, nil
}
