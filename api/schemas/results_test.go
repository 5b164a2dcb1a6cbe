package schemas_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

func TestTripleCheckOverallSuccess(t *testing.T) {
	t.Parallel()

	pass := schemas.LegResult{Status: schemas.LegPassed}
	fail := schemas.LegResult{Status: schemas.LegFailed}
	skip := schemas.LegResult{Status: schemas.LegSkipped}

	testCases := []struct {
		name     string
		result   schemas.TripleCheckResult
		expected bool
	}{
		{"all passed", schemas.TripleCheckResult{Database: pass, API: pass, UI: pass}, true},
		{"one failed", schemas.TripleCheckResult{Database: pass, API: fail, UI: pass}, false},
		{"skipped leg ignored", schemas.TripleCheckResult{Database: skip, API: pass, UI: pass}, true},
		{"skipped never masks failure", schemas.TripleCheckResult{Database: skip, API: fail, UI: pass}, false},
		{"all skipped verifies nothing", schemas.TripleCheckResult{Database: skip, API: skip, UI: skip}, false},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.result.OverallSuccess())
		})
	}
}

func TestTestScopeDefaultsAllTrue(t *testing.T) {
	t.Parallel()

	var scope schemas.TestScope
	assert.True(t, scope.DBEnabled())
	assert.True(t, scope.APIEnabled())
	assert.True(t, scope.UIEnabled())

	off := false
	scope.TestDB = &off
	assert.False(t, scope.DBEnabled())
	assert.True(t, scope.APIEnabled())
}

func TestSecurityViolationIdentity(t *testing.T) {
	t.Parallel()

	base := &schemas.SecurityViolationError{Field: "tcvAmount", Where: "GET /api/bookings"}
	wrapped := fmt.Errorf("api leg: %w", base)

	assert.True(t, schemas.IsSecurityViolation(base))
	assert.True(t, schemas.IsSecurityViolation(wrapped))
	assert.False(t, schemas.IsSecurityViolation(schemas.ErrAssertionFailed))

	var sv *schemas.SecurityViolationError
	require.True(t, errors.As(wrapped, &sv))
	assert.Equal(t, "tcvAmount", sv.Field)
}

func TestHealableErrors(t *testing.T) {
	t.Parallel()

	assert.True(t, schemas.IsHealable(schemas.ErrStepTimeout))
	assert.True(t, schemas.IsHealable(fmt.Errorf("click #submit: %w", schemas.ErrElementNotFound)))
	assert.False(t, schemas.IsHealable(schemas.ErrAssertionFailed))
	assert.False(t, schemas.IsHealable(&schemas.SecurityViolationError{Field: "ssn"}))
	assert.False(t, schemas.IsHealable(nil))
}

func TestValidationErrorMessages(t *testing.T) {
	t.Parallel()

	planErr := schemas.NewValidationError("no steps")
	assert.Equal(t, "invalid plan: no steps", planErr.Error())

	stepErr := schemas.NewStepValidationError(3, "unknown kind %q", "hover")
	assert.Equal(t, `invalid plan: step 3: unknown kind "hover"`, stepErr.Error())
}

func TestCompileErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("no json object in response")
	err := &schemas.CompileError{Reason: "unparseable response", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "plan compilation failed")
}
