package compiler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

type stubClient struct {
	response string
	err      error
	calls    int
	lastReq  schemas.GenerationRequest
}

func (s *stubClient) GenerateResponse(_ context.Context, req schemas.GenerationRequest) (string, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubClient) Close() error { return nil }

func loginPage() *schemas.PageSnapshot {
	return &schemas.PageSnapshot{
		URL:   "https://app.example.test/login",
		Title: "Sign in",
		Text:  "Sign in to continue",
		Elements: []schemas.ElementSummary{
			{Role: "textbox", Name: "Email", Locator: "#email"},
			{Role: "textbox", Name: "Password", Locator: "#password"},
			{Role: "button", Name: "Sign in", Locator: "#signin"},
		},
	}
}

const validPlanJSON = `{
  "goal": "Sign in as the test user",
  "steps": [
    {"kind": "fill", "target": "#email", "value": "qa@example.test", "role": "username_field", "description": "Enter the email"},
    {"kind": "fill", "target": "#password", "value": "env(TRIDENT_TEST_PASSWORD)", "role": "password_field", "description": "Enter the password"},
    {"kind": "click", "target": "#signin", "role": "submit_button", "description": "Submit the form", "timeout_ms": 20000}
  ],
  "postconditions": [
    {"kind": "assert_url_contains", "value": "/dashboard", "description": "Landed on the dashboard"}
  ]
}`

func TestCompileProducesValidatedPlan(t *testing.T) {
	client := &stubClient{response: validPlanJSON}
	c := New(client, zap.NewNop())

	plan, err := c.Compile(context.Background(), "Sign in as the test user", "", loginPage())
	require.NoError(t, err)
	require.NotNil(t, plan)

	assert.True(t, plan.Compiled)
	assert.Equal(t, "Sign in as the test user", plan.Goal)
	require.Len(t, plan.Steps, 3)
	require.Len(t, plan.Postconditions, 1)

	assert.Equal(t, schemas.ActionFill, plan.Steps[0].Kind)
	assert.Equal(t, "#email", plan.Steps[0].Target)
	assert.Equal(t, "username_field", plan.Steps[0].Role)

	// Secrets stay as env() placeholders until execution time.
	assert.Equal(t, "env(TRIDENT_TEST_PASSWORD)", plan.Steps[1].Value)

	assert.Equal(t, 20*time.Second, plan.Steps[2].Timeout, "timeout_ms widens to a Duration")
	assert.Equal(t, schemas.ActionAssertURLContains, plan.Postconditions[0].Kind)

	assert.Equal(t, 1, client.calls, "exactly one model call per compile")
}

func TestCompileNormalizesModelOutput(t *testing.T) {
	client := &stubClient{response: `{
	  "goal": "  Create an item  ",
	  "steps": [
	    {"kind": " Navigate ", "target": " https://app.example.test/items "},
	    {"kind": "CLICK", "target": "#new-item"}
	  ],
	  "postconditions": [{"kind": "assert_text", "value": "Item created"}]
	}`}
	c := New(client, zap.NewNop())

	plan, err := c.Compile(context.Background(), "Create an item", "", loginPage())
	require.NoError(t, err)

	assert.Equal(t, "Create an item", plan.Goal)
	assert.Equal(t, schemas.ActionNavigate, plan.Steps[0].Kind)
	assert.Equal(t, "https://app.example.test/items", plan.Steps[0].Target)
	assert.True(t, plan.Steps[0].Blocking, "navigate is always a hard precondition")
	assert.Equal(t, schemas.ActionClick, plan.Steps[1].Kind)
}

func TestCompileToleratesMarkdownAndProse(t *testing.T) {
	cases := map[string]string{
		"fenced":  "```json\n" + validPlanJSON + "\n```",
		"chatty":  "Here is the plan you asked for:\n\n" + validPlanJSON + "\n\nGood luck!",
		"nofence": validPlanJSON,
	}
	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			c := New(&stubClient{response: response}, zap.NewNop())
			plan, err := c.Compile(context.Background(), "Sign in", "", loginPage())
			require.NoError(t, err)
			assert.Len(t, plan.Steps, 3)
		})
	}
}

func TestCompileFailuresAreCompileErrors(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		transportErr := errors.New("rate limited")
		client := &stubClient{err: transportErr}
		c := New(client, zap.NewNop())

		_, err := c.Compile(context.Background(), "Sign in", "", loginPage())
		var ce *schemas.CompileError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, transportErr)
		assert.Equal(t, 1, client.calls, "no internal retries")
	})

	t.Run("unparseable response", func(t *testing.T) {
		client := &stubClient{response: "I am sorry, I cannot help with that."}
		c := New(client, zap.NewNop())

		_, err := c.Compile(context.Background(), "Sign in", "", loginPage())
		var ce *schemas.CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 1, client.calls)
	})

	t.Run("plan without postconditions", func(t *testing.T) {
		client := &stubClient{response: `{"steps":[{"kind":"click","target":"#x"}],"postconditions":[]}`}
		c := New(client, zap.NewNop())

		_, err := c.Compile(context.Background(), "Sign in", "", loginPage())
		var ce *schemas.CompileError
		require.ErrorAs(t, err, &ce)
		var ve *schemas.ValidationError
		assert.ErrorAs(t, err, &ve, "validation failure rides inside the compile error")
	})

	t.Run("unknown step kind", func(t *testing.T) {
		client := &stubClient{response: `{
		  "steps":[{"kind":"teleport","target":"#x"}],
		  "postconditions":[{"kind":"assert_text","value":"ok"}]
		}`}
		c := New(client, zap.NewNop())

		_, err := c.Compile(context.Background(), "Sign in", "", loginPage())
		var ce *schemas.CompileError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("nothing to compile", func(t *testing.T) {
		client := &stubClient{response: validPlanJSON}
		c := New(client, zap.NewNop())

		_, err := c.Compile(context.Background(), "", "   ", loginPage())
		var ce *schemas.CompileError
		require.ErrorAs(t, err, &ce)
		assert.Zero(t, client.calls, "no model call without a goal or instructions")
	})
}

func TestCompilePromptCarriesTheObservation(t *testing.T) {
	client := &stubClient{response: validPlanJSON}
	c := New(client, zap.NewNop())

	_, err := c.Compile(context.Background(), "Sign in", "Use the corporate test account", loginPage())
	require.NoError(t, err)

	req := client.lastReq
	assert.True(t, req.Options.ForceJSONFormat)
	assert.Contains(t, req.UserPrompt, "Sign in")
	assert.Contains(t, req.UserPrompt, "Use the corporate test account")
	assert.Contains(t, req.UserPrompt, `"#signin"`, "element census travels to the model")
	assert.Contains(t, req.UserPrompt, "https://app.example.test/login")
	assert.Contains(t, req.SystemPrompt, "env(NAME)")
	assert.Contains(t, req.SystemPrompt, "postconditions")
}

func TestCompileWithoutPageObservation(t *testing.T) {
	client := &stubClient{response: validPlanJSON}
	c := New(client, zap.NewNop())

	plan, err := c.Compile(context.Background(), "Sign in", "", nil)
	require.NoError(t, err)
	assert.NotNil(t, plan)
	assert.Contains(t, client.lastReq.UserPrompt, "no page observation available")
}
