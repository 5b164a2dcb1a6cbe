// Package compiler turns a mission's natural-language goal and instructions
// into a validated ActionPlan using a single LLM call against a snapshot of
// the live entry page.
//
// The compiler never retries: transport-level retry/backoff belongs to the
// LLM client, and a model answer that fails to parse or validate is a
// CompileError the caller surfaces as-is. Compiled plans always carry at
// least one postcondition or they do not leave this package.
package compiler

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/llmutil"
	"github.com/xkilldash9x/trident-cli/internal/plan"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Compiler owns the "compile plan" prompt. It is stateless and safe for
// concurrent use.
type Compiler struct {
	client schemas.LLMClient
	log    *zap.Logger
}

func New(client schemas.LLMClient, logger *zap.Logger) *Compiler {
	return &Compiler{
		client: client,
		log:    logger.Named("compiler"),
	}
}

// wireStep is the JSON shape the model emits. Timeouts travel in
// milliseconds; ActionStep's nanosecond Duration is not a reasonable thing
// to ask a model for.
type wireStep struct {
	Kind        string `json:"kind"`
	Target      string `json:"target,omitempty"`
	Value       string `json:"value,omitempty"`
	TimeoutMS   int64  `json:"timeout_ms,omitempty"`
	Description string `json:"description,omitempty"`
	Role        string `json:"role,omitempty"`
}

type wirePlan struct {
	Goal           string     `json:"goal"`
	Steps          []wireStep `json:"steps"`
	Postconditions []wireStep `json:"postconditions"`
}

// Compile builds an executable plan for the goal against the observed page.
// Exactly one model call per invocation.
func (c *Compiler) Compile(ctx context.Context, goal, instructions string, page *schemas.PageSnapshot) (*schemas.ActionPlan, error) {
	if strings.TrimSpace(goal) == "" && strings.TrimSpace(instructions) == "" {
		return nil, &schemas.CompileError{Reason: "mission has neither goal nor instructions"}
	}

	userPrompt, err := buildUserPrompt(goal, instructions, page)
	if err != nil {
		return nil, &schemas.CompileError{Reason: "failed to describe the page to the model", Cause: err}
	}

	req := schemas.GenerationRequest{
		SystemPrompt: compileSystemPrompt,
		UserPrompt:   userPrompt,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.2,
		},
	}

	c.log.Debug("Compiling plan",
		zap.String("goal", goal),
		zap.Int("page_elements", pageElementCount(page)),
	)

	response, err := c.client.GenerateResponse(ctx, req)
	if err != nil {
		return nil, &schemas.CompileError{Reason: "llm generation failed", Cause: err}
	}

	parsed, err := llmutil.ParseJSONResponse[wirePlan](response)
	if err != nil {
		return nil, &schemas.CompileError{Reason: "model response is not a plan", Cause: err}
	}

	actionPlan := toActionPlan(goal, parsed)
	if err := plan.Validate(actionPlan); err != nil {
		return nil, &schemas.CompileError{Reason: "compiled plan failed validation", Cause: err}
	}

	c.log.Info("Plan compiled",
		zap.Int("steps", len(actionPlan.Steps)),
		zap.Int("postconditions", len(actionPlan.Postconditions)),
	)
	return actionPlan, nil
}

// toActionPlan maps the wire shape onto the schema, normalizing the loose
// edges a model produces: kinds are lowercased, fields trimmed, millisecond
// timeouts widened.
func toActionPlan(goal string, wire *wirePlan) *schemas.ActionPlan {
	out := &schemas.ActionPlan{
		Goal:     strings.TrimSpace(wire.Goal),
		Compiled: true,
	}
	if out.Goal == "" {
		out.Goal = strings.TrimSpace(goal)
	}
	for _, ws := range wire.Steps {
		out.Steps = append(out.Steps, toActionStep(ws))
	}
	for _, ws := range wire.Postconditions {
		out.Postconditions = append(out.Postconditions, toActionStep(ws))
	}
	return out
}

func toActionStep(ws wireStep) schemas.ActionStep {
	step := schemas.ActionStep{
		Kind:        schemas.ActionKind(strings.ToLower(strings.TrimSpace(ws.Kind))),
		Target:      strings.TrimSpace(ws.Target),
		Value:       ws.Value,
		Description: strings.TrimSpace(ws.Description),
		Role:        strings.TrimSpace(ws.Role),
	}
	if ws.TimeoutMS > 0 {
		step.Timeout = time.Duration(ws.TimeoutMS) * time.Millisecond
	}
	if step.Kind == schemas.ActionNavigate {
		step.Blocking = true
	}
	return step
}

func buildUserPrompt(goal, instructions string, page *schemas.PageSnapshot) (string, error) {
	var sb strings.Builder

	sb.WriteString("Mission goal:\n")
	if strings.TrimSpace(goal) != "" {
		sb.WriteString(strings.TrimSpace(goal))
	} else {
		sb.WriteString("(none stated; derive it from the instructions)")
	}
	sb.WriteString("\n\n")

	if strings.TrimSpace(instructions) != "" {
		sb.WriteString("Operator instructions:\n")
		sb.WriteString(strings.TrimSpace(instructions))
		sb.WriteString("\n\n")
	}

	sb.WriteString("Current page observation:\n")
	if page == nil {
		sb.WriteString("(no page observation available)\n")
	} else {
		encoded, err := json.MarshalIndent(page, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode page snapshot: %w", err)
		}
		sb.Write(encoded)
		sb.WriteString("\n")
	}

	sb.WriteString("\nRespond with the plan JSON only.")
	return sb.String(), nil
}

func pageElementCount(page *schemas.PageSnapshot) int {
	if page == nil {
		return 0
	}
	return len(page.Elements)
}

// compileSystemPrompt is the fixed instruction set for the plan compiler.
// The contract mirrors the executor exactly: anything outside it fails
// validation and the whole compile with it.
const compileSystemPrompt = `You are the plan compiler of 'trident-cli', a web application test runner.
You receive a mission goal, optional operator instructions, and a structural observation of the current page (url, title, text preview, interactive elements with locators).
You respond with ONE JSON object describing an executable action plan. No prose, no markdown, JSON only.

Response shape:
{
  "goal": "one-line restatement of the goal",
  "steps": [ {"kind": "...", "target": "...", "value": "...", "role": "...", "description": "..."} ],
  "postconditions": [ ... same step shape, assertions only ... ]
}

Step kinds and their fields:
- "navigate":   target = absolute URL to open.
- "click":      target = CSS selector of the element to click.
- "fill":       target = CSS selector of the input, value = text to type.
- "select":     target = CSS selector of the <select>, value = option value to choose.
- "wait_visible": target = CSS selector that must become visible.
- "assert_text": value = text that must be present on the page. target may scope the check to a CSS selector.
- "assert_url_contains": value = substring the page URL must contain.
- "assert_field_absent_in_api": value = field name that must NOT appear in any captured API response.
- "save_session": value = file path for the saved session state.

Rules:
1. Use ONLY locators derived from the provided element census. Prefer the census "locator" values verbatim. Never invent ids or test hooks you cannot see.
2. Each step gets a "role" naming the semantic component it touches (e.g. "username_field", "submit_button") and a short human "description".
3. NEVER write credentials or secrets into a plan. When a value is secret, write the placeholder env(NAME) (e.g. env(TRIDENT_TEST_PASSWORD)); the runner resolves it at execution time.
4. "postconditions" must contain at least one assertion step ("wait_visible", "assert_text", "assert_url_contains" or "assert_field_absent_in_api") that confirms the goal was achieved. A plan without postconditions is rejected.
5. Keep plans minimal: the fewest steps that achieve the goal. Do not add speculative waits; the runner has its own timeouts. Omit "timeout_ms" unless a step genuinely needs more time than usual.
6. If the goal cannot be achieved with the visible elements, still produce your best plan using a "navigate" step toward where the goal could be achieved.`
