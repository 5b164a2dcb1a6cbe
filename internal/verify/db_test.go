package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

func dbMission(vp schemas.VerificationPoints) *schemas.Mission {
	return &schemas.Mission{
		TicketID:     "WEB-4000",
		TargetNode:   "sales_bookings",
		Verification: vp,
	}
}

func TestCheckDatabaseFilterBuilding(t *testing.T) {
	db := &stubQuerier{record: map[string]interface{}{
		"id":          int64(7),
		"name":        "Test Highlighter Pro",
		"description": "A new tool for testing",
		"tcv_amount":  1250000.5,
	}}
	v := New(db, zap.NewNop())

	m := dbMission(schemas.VerificationPoints{
		DBTable: "items",
		ExpectedValues: map[string]interface{}{
			"item_name":        "Test Highlighter Pro",
			"item_description": "A new tool for testing",
			"tcv_amount":       1250000.5,
		},
	})

	leg := v.checkDatabase(context.Background(), m)
	require.Equal(t, schemas.LegPassed, leg.Status, "leg error: %s", leg.Error)

	// Strings go into the WHERE clause under their column aliases; the
	// numeric expectation stays out and compares in memory.
	assert.Equal(t, map[string]interface{}{
		"name":        "Test Highlighter Pro",
		"description": "A new tool for testing",
	}, db.gotFilter)
	assert.Equal(t, "items", db.gotTable)
}

func TestCheckDatabaseNumericEpsilon(t *testing.T) {
	v := func(record map[string]interface{}) schemas.LegResult {
		db := &stubQuerier{record: record}
		return New(db, zap.NewNop()).checkDatabase(context.Background(), dbMission(schemas.VerificationPoints{
			DBTable:        "bookings",
			ExpectedValues: map[string]interface{}{"tcv_amount": 1250000.5},
		}))
	}

	t.Run("drift within tolerance passes", func(t *testing.T) {
		leg := v(map[string]interface{}{"id": int64(1), "tcv_amount": 1250000.5000001})
		assert.Equal(t, schemas.LegPassed, leg.Status)
	})

	t.Run("integer-typed column still compares", func(t *testing.T) {
		leg := New(&stubQuerier{record: map[string]interface{}{"id": int64(1), "quantity": int64(42)}}, zap.NewNop()).
			checkDatabase(context.Background(), dbMission(schemas.VerificationPoints{
				DBTable:        "items",
				ExpectedValues: map[string]interface{}{"quantity": float64(42)},
			}))
		assert.Equal(t, schemas.LegPassed, leg.Status)
	})

	t.Run("real mismatch fails", func(t *testing.T) {
		leg := v(map[string]interface{}{"id": int64(1), "tcv_amount": 1250010.0})
		require.Equal(t, schemas.LegFailed, leg.Status)
		mismatches := leg.Details["mismatches"].(map[string]interface{})
		assert.Contains(t, mismatches, "tcv_amount")
	})
}

func TestCheckDatabaseNoMatchingRow(t *testing.T) {
	db := &stubQuerier{record: nil}
	v := New(db, zap.NewNop())

	m := dbMission(schemas.VerificationPoints{
		DBTable:        "items",
		ExpectedValues: map[string]interface{}{"name": "Ghost"},
	})

	leg := v.checkDatabase(context.Background(), m)
	require.Equal(t, schemas.LegFailed, leg.Status)
	assert.Contains(t, leg.Error, "no matching row found in items")
	assert.Equal(t, map[string]interface{}{"name": "Ghost"}, leg.Details["filter"])
}

func TestCheckDatabaseMissingColumn(t *testing.T) {
	db := &stubQuerier{record: map[string]interface{}{"id": int64(1)}}
	v := New(db, zap.NewNop())

	m := dbMission(schemas.VerificationPoints{
		DBTable:        "items",
		ExpectedValues: map[string]interface{}{"quantity": float64(3)},
	})

	leg := v.checkDatabase(context.Background(), m)
	require.Equal(t, schemas.LegFailed, leg.Status)
	mismatches := leg.Details["mismatches"].(map[string]interface{})
	require.Contains(t, mismatches, "quantity")
	diff := mismatches["quantity"].(map[string]interface{})
	assert.Contains(t, diff["reason"], `column "quantity" not present`)
}

func TestCheckDatabaseQueryError(t *testing.T) {
	db := &stubQuerier{err: errors.New("relation does not exist")}
	v := New(db, zap.NewNop())

	m := dbMission(schemas.VerificationPoints{DBTable: "missing"})

	leg := v.checkDatabase(context.Background(), m)
	require.Equal(t, schemas.LegFailed, leg.Status)
	assert.Contains(t, leg.Error, "database query failed")
}

func TestCheckDatabaseGates(t *testing.T) {
	t.Run("disabled by scope", func(t *testing.T) {
		m := dbMission(schemas.VerificationPoints{DBTable: "items"})
		m.Scope = schemas.TestScope{TestDB: boolPtr(false)}
		leg := New(&stubQuerier{}, zap.NewNop()).checkDatabase(context.Background(), m)
		assert.Equal(t, schemas.LegSkipped, leg.Status)
	})

	t.Run("no table configured", func(t *testing.T) {
		m := dbMission(schemas.VerificationPoints{})
		leg := New(&stubQuerier{}, zap.NewNop()).checkDatabase(context.Background(), m)
		assert.Equal(t, schemas.LegSkipped, leg.Status)
	})

	t.Run("requested but no database wired", func(t *testing.T) {
		m := dbMission(schemas.VerificationPoints{DBTable: "items"})
		leg := New(nil, zap.NewNop()).checkDatabase(context.Background(), m)
		require.Equal(t, schemas.LegFailed, leg.Status)
		assert.Contains(t, leg.Error, "no database is configured")
	})
}

func TestCheckDatabaseRowExistenceOnly(t *testing.T) {
	// No expected values at all: the leg asserts the table gained a row.
	db := &stubQuerier{record: map[string]interface{}{"id": int64(9)}}
	v := New(db, zap.NewNop())

	m := dbMission(schemas.VerificationPoints{DBTable: "audit_log"})

	leg := v.checkDatabase(context.Background(), m)
	assert.Equal(t, schemas.LegPassed, leg.Status)
	assert.Empty(t, db.gotFilter)
}
