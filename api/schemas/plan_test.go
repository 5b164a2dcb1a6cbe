package schemas_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// TestActionKindClassification pins the closed kind set and its
// interactive/assertion classification. The executor's dispatch and the
// healer's eligibility check both hang off these predicates.
func TestActionKindClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		kind        schemas.ActionKind
		valid       bool
		interactive bool
		assertion   bool
	}{
		{schemas.ActionNavigate, true, false, false},
		{schemas.ActionClick, true, true, false},
		{schemas.ActionFill, true, true, false},
		{schemas.ActionSelect, true, true, false},
		{schemas.ActionWaitVisible, true, true, true},
		{schemas.ActionAssertText, true, false, true},
		{schemas.ActionAssertURLContains, true, false, true},
		{schemas.ActionAssertFieldAbsent, true, false, true},
		{schemas.ActionSaveSession, true, false, false},
		{schemas.ActionKind("hover"), false, false, false},
		{schemas.ActionKind(""), false, false, false},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.valid, tt.kind.Valid())
			assert.Equal(t, tt.interactive, tt.kind.Interactive())
			assert.Equal(t, tt.assertion, tt.kind.Assertion())
		})
	}
}

func TestKnownActionKindsCoversClosedSet(t *testing.T) {
	t.Parallel()

	require.Len(t, schemas.KnownActionKinds, 9)
	for _, k := range schemas.KnownActionKinds {
		assert.True(t, k.Valid(), "kind %q must validate", k)
	}
}

func TestActionPlanAllStepsOrder(t *testing.T) {
	t.Parallel()

	plan := schemas.ActionPlan{
		Steps: []schemas.ActionStep{
			{Kind: schemas.ActionNavigate, Target: "https://app.local/"},
			{Kind: schemas.ActionClick, Target: "#submit"},
		},
		Postconditions: []schemas.ActionStep{
			{Kind: schemas.ActionAssertText, Value: "Saved"},
		},
	}

	all := plan.AllSteps()
	require.Len(t, all, 3)
	assert.Equal(t, schemas.ActionNavigate, all[0].Kind)
	assert.Equal(t, schemas.ActionClick, all[1].Kind)
	assert.Equal(t, schemas.ActionAssertText, all[2].Kind)

	// The returned slice is a copy; mutating it must not touch the plan.
	all[0].Target = "mutated"
	assert.Equal(t, "https://app.local/", plan.Steps[0].Target)
}

// TestActionStepJSONRoundTrip verifies the wire names the external
// planner produces map onto the step struct.
func TestActionStepJSONRoundTrip(t *testing.T) {
	t.Parallel()

	raw := `{"kind":"fill","target":"#item-name","value":"Widget","description":"Item name field","role":"item_name_input"}`

	var step schemas.ActionStep
	require.NoError(t, json.Unmarshal([]byte(raw), &step))

	assert.Equal(t, schemas.ActionFill, step.Kind)
	assert.Equal(t, "#item-name", step.Target)
	assert.Equal(t, "Widget", step.Value)
	assert.Equal(t, "item_name_input", step.Role)
}
