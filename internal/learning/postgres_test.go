package learning

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// anyTime accepts any timestamp we cannot predict exactly.
var anyTime = ArgumentMatcherFunc(func(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
})

const (
	sqlUpsertCorrection = `
        INSERT INTO "selector_corrections" (node_id, component_role, old_locator, new_locator, reasoning, accepted_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (node_id, component_role) DO UPDATE SET
            old_locator = EXCLUDED.old_locator,
            new_locator = EXCLUDED.new_locator,
            reasoning = EXCLUDED.reasoning,
            accepted_at = EXCLUDED.accepted_at;
    `
	sqlAppendHistory = `
        INSERT INTO "selector_correction_history" (node_id, component_role, old_locator, new_locator, reasoning, accepted_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	sqlGetCorrection = `
        SELECT node_id, component_role, old_locator, new_locator, reasoning, accepted_at
        FROM "selector_corrections"
        WHERE node_id = $1 AND component_role = $2;
    `
	sqlGetHistory = `
        SELECT node_id, component_role, old_locator, new_locator, reasoning, accepted_at
        FROM "selector_correction_history"
        WHERE node_id = $1 AND component_role = $2
        ORDER BY accepted_at ASC;
    `
)

func testLearningConfig() config.LearningConfig {
	return config.LearningConfig{
		Backend:      config.LearningPostgres,
		Table:        "selector_corrections",
		HistoryTable: "selector_correction_history",
	}
}

func newTestPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	store, err := NewPostgresStore(context.Background(), mockPool, testLearningConfig(), zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func TestNewPostgresStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresStore(context.Background(), mockPool, testLearningConfig(), zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject hostile table names from configuration", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		cfg := testLearningConfig()
		cfg.HistoryTable = `history"; DROP TABLE missions`

		_, err = NewPostgresStore(context.Background(), mockPool, cfg, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid learning table name")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStorePut(t *testing.T) {
	ctx := context.Background()

	t.Run("should upsert the correction and append history in one transaction", func(t *testing.T) {
		store, mockPool := newTestPostgresStore(t)

		acceptedLocal := time.Date(2026, 8, 25, 10, 30, 0, 0, time.FixedZone("EDT", -4*3600))
		correction := schemas.SelectorCorrection{
			NodeID:        "sales_bookings",
			ComponentRole: "column_tcv",
			OldLocator:    "#tcv-col",
			NewLocator:    "[data-testid='tcv-column']",
			Reasoning:     "grid rewrote header ids after the upgrade",
			AcceptedAt:    acceptedLocal,
		}

		args := []interface{}{
			correction.NodeID,
			correction.ComponentRole,
			correction.OldLocator,
			correction.NewLocator,
			correction.Reasoning,
			acceptedLocal.UTC(),
		}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertCorrection)).
			WithArgs(args...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlAppendHistory)).
			WithArgs(args...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.Put(ctx, correction))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should stamp a missing accepted_at", func(t *testing.T) {
		store, mockPool := newTestPostgresStore(t)

		correction := schemas.SelectorCorrection{
			NodeID:        "items_manager",
			ComponentRole: "submit_button",
			OldLocator:    "#submit-btn",
			NewLocator:    "#create-item-submit",
		}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertCorrection)).
			WithArgs(correction.NodeID, correction.ComponentRole, correction.OldLocator, correction.NewLocator, "", anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlAppendHistory)).
			WithArgs(correction.NodeID, correction.ComponentRole, correction.OldLocator, correction.NewLocator, "", anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, store.Put(ctx, correction))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the upsert fails", func(t *testing.T) {
		store, mockPool := newTestPostgresStore(t)

		execErr := errors.New("deadlock detected")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertCorrection)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(execErr)
		mockPool.ExpectRollback()

		err := store.Put(ctx, schemas.SelectorCorrection{
			NodeID:        "sales_bookings",
			ComponentRole: "column_tcv",
			NewLocator:    "[data-testid='tcv-column']",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, execErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject an incomplete correction without touching the pool", func(t *testing.T) {
		store, mockPool := newTestPostgresStore(t)

		err := store.Put(ctx, schemas.SelectorCorrection{NodeID: "sales_bookings"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "component role")

		err = store.Put(ctx, schemas.SelectorCorrection{NodeID: "sales_bookings", ComponentRole: "column_tcv"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no replacement locator")

		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStoreGet(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the learned correction", func(t *testing.T) {
		store, mockPool := newTestPostgresStore(t)

		accepted := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
		rows := pgxmock.NewRows([]string{"node_id", "component_role", "old_locator", "new_locator", "reasoning", "accepted_at"}).
			AddRow("sales_bookings", "column_tcv", "#tcv-col", "[data-testid='tcv-column']", "grid rewrite", accepted)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGetCorrection)).
			WithArgs("sales_bookings", "column_tcv").
			WillReturnRows(rows)

		got, err := store.Get(ctx, "sales_bookings", "column_tcv")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "[data-testid='tcv-column']", got.NewLocator)
		assert.Equal(t, "#tcv-col", got.OldLocator)
		assert.True(t, got.AcceptedAt.Equal(accepted))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return nil when nothing has been learned for the key", func(t *testing.T) {
		store, mockPool := newTestPostgresStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGetCorrection)).
			WithArgs("sales_bookings", "column_unknown").
			WillReturnRows(pgxmock.NewRows([]string{"node_id", "component_role", "old_locator", "new_locator", "reasoning", "accepted_at"}))

		got, err := store.Get(ctx, "sales_bookings", "column_unknown")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStoreHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("should return every recorded correction oldest first", func(t *testing.T) {
		store, mockPool := newTestPostgresStore(t)

		first := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
		second := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
		rows := pgxmock.NewRows([]string{"node_id", "component_role", "old_locator", "new_locator", "reasoning", "accepted_at"}).
			AddRow("sales_bookings", "column_tcv", "#tcv", "#tcv-col", "header renamed", first).
			AddRow("sales_bookings", "column_tcv", "#tcv-col", "[data-testid='tcv-column']", "grid rewrite", second)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlGetHistory)).
			WithArgs("sales_bookings", "column_tcv").
			WillReturnRows(rows)

		history, err := store.History(ctx, "sales_bookings", "column_tcv")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "#tcv-col", history[0].NewLocator)
		assert.Equal(t, "[data-testid='tcv-column']", history[1].NewLocator)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
