package verify

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// checkDatabase fetches the newest row of the mission's db_table that
// matches the string-typed expected values and compares the rest of the
// expectations against it.
//
// String expectations go into the WHERE clause so the database proves their
// equality; numeric and structured expectations are compared in memory with
// the epsilon, since exact SQL equality on serialized floats is a coin
// flip.
func (v *Verifier) checkDatabase(ctx context.Context, m *schemas.Mission) schemas.LegResult {
	if !m.Scope.DBEnabled() {
		return skippedLeg("database leg disabled by test_scope")
	}
	table := m.Verification.DBTable
	if table == "" {
		return skippedLeg("no db_table configured")
	}
	if v.db == nil {
		return failedLeg(
			"database leg requested but no database is configured",
			map[string]interface{}{"table": table},
		)
	}

	filter := make(map[string]interface{})
	inFilter := make(map[string]bool, len(m.Verification.ExpectedValues))
	for field, expected := range m.Verification.ExpectedValues {
		if s, ok := expected.(string); ok {
			filter[columnFor(field)] = s
			inFilter[field] = true
		}
	}

	record, err := v.db.QueryOne(ctx, table, filter)
	if err != nil {
		return failedLeg(
			fmt.Sprintf("database query failed: %v", err),
			map[string]interface{}{"table": table},
		)
	}
	if record == nil {
		return failedLeg(
			fmt.Sprintf("no matching row found in %s", table),
			map[string]interface{}{"table": table, "filter": filter},
		)
	}

	// Fields already enforced by the WHERE clause are proven equal; only
	// the remainder needs the in-memory comparison.
	mismatches := make(map[string]interface{})
	for field, expected := range m.Verification.ExpectedValues {
		if inFilter[field] {
			continue
		}
		col := columnFor(field)
		actual, ok := record[col]
		if !ok {
			mismatches[field] = map[string]interface{}{
				"expected": expected,
				"actual":   nil,
				"reason":   fmt.Sprintf("column %q not present in row", col),
			}
			continue
		}
		if !valuesMatch(expected, actual) {
			mismatches[field] = map[string]interface{}{
				"expected": expected,
				"actual":   actual,
			}
		}
	}
	if len(mismatches) > 0 {
		return failedLeg(
			"expected values not reflected in the database row",
			map[string]interface{}{"table": table, "mismatches": mismatches},
		)
	}

	return passedLeg(map[string]interface{}{
		"table":  table,
		"record": record,
	})
}
