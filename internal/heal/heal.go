// Package heal recovers interactive steps whose locators stopped matching
// the page. Recovery is deliberately narrow: one page snapshot, one
// "suggest a replacement" model call, one retry. The executor grants each
// step at most one heal attempt; when the replacement also fails, the
// step's original error stands.
package heal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/llmutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Healer proposes and verifies replacement locators for failed steps.
// Stateless and safe for use across concurrent mission runs.
type Healer struct {
	client   schemas.LLMClient
	learning schemas.LearningStore
	log      *zap.Logger
}

// New builds a Healer. learning may be nil, in which case accepted
// corrections are returned to the caller but not persisted.
func New(client schemas.LLMClient, learning schemas.LearningStore, logger *zap.Logger) *Healer {
	return &Healer{
		client:   client,
		learning: learning,
		log:      logger.Named("healer"),
	}
}

// Eligible reports whether a step failure qualifies for the single heal
// attempt. Only interactive kinds qualify, and only for timeouts and
// missing elements: an assertion failure means the locator worked and the
// page disagreed, which no new locator can fix.
func Eligible(step schemas.ActionStep, err error) bool {
	return step.Kind.Interactive() && schemas.IsHealable(err)
}

// Suggestion is the model's proposed replacement locator.
type Suggestion struct {
	Locator   string
	Reasoning string
}

// wireSuggestion is the JSON shape the model is asked to produce.
type wireSuggestion struct {
	Locator   string `json:"locator"`
	Reasoning string `json:"reasoning"`
}

// Attempt runs the whole recovery for one failed step: observe the page,
// ask the model for a replacement locator, re-run the step through retry,
// and on success persist the correction under (nodeID, step.Role).
//
// The returned correction is non-nil exactly when the retry succeeded.
// Any other outcome returns an error describing why recovery was not
// possible; the caller keeps the step's original error for its report.
func (h *Healer) Attempt(
	ctx context.Context,
	session schemas.BrowserSession,
	nodeID string,
	step schemas.ActionStep,
	cause error,
	retry func(locator string) error,
) (*schemas.SelectorCorrection, error) {
	if !Eligible(step, cause) {
		return nil, fmt.Errorf("step kind %q with error %q is not healable", step.Kind, cause)
	}
	if h.client == nil {
		return nil, errors.New("no llm client configured, healing disabled")
	}

	page, err := session.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to observe the page: %w", err)
	}

	suggestion, err := h.suggest(ctx, step, cause, page)
	if err != nil {
		return nil, err
	}
	if suggestion.Locator == "" {
		return nil, fmt.Errorf("model found no plausible replacement for %q: %s", step.Target, suggestion.Reasoning)
	}
	if suggestion.Locator == step.Target {
		return nil, fmt.Errorf("model repeated the failed locator %q", step.Target)
	}

	h.log.Info("retrying step with replacement locator",
		zap.String("kind", string(step.Kind)),
		zap.String("old_locator", step.Target),
		zap.String("new_locator", suggestion.Locator),
	)

	if err := retry(suggestion.Locator); err != nil {
		return nil, fmt.Errorf("replacement locator %q also failed: %w", suggestion.Locator, err)
	}

	correction := schemas.SelectorCorrection{
		NodeID:        nodeID,
		ComponentRole: step.Role,
		OldLocator:    step.Target,
		NewLocator:    suggestion.Locator,
		Reasoning:     suggestion.Reasoning,
		AcceptedAt:    time.Now().UTC(),
	}

	switch {
	case h.learning == nil:
		h.log.Debug("no learning store wired, correction not persisted")
	case nodeID == "" || step.Role == "":
		// An unkeyed correction still heals this run; it just cannot be
		// replayed by future ones.
		h.log.Debug("correction key incomplete, not persisted",
			zap.String("node_id", nodeID),
			zap.String("component_role", step.Role),
		)
	default:
		if err := h.learning.Put(ctx, correction); err != nil {
			h.log.Warn("failed to persist selector correction", zap.Error(err))
		}
	}

	return &correction, nil
}

// suggest makes the single model call and decodes the answer. A response
// that is not the suggestion JSON is given one lenient reading as a bare
// selector before being rejected.
func (h *Healer) suggest(ctx context.Context, step schemas.ActionStep, cause error, page *schemas.PageSnapshot) (*Suggestion, error) {
	userPrompt, err := buildUserPrompt(step, cause, page)
	if err != nil {
		return nil, fmt.Errorf("failed to describe the failure to the model: %w", err)
	}

	response, err := h.client.GenerateResponse(ctx, schemas.GenerationRequest{
		SystemPrompt: healSystemPrompt,
		UserPrompt:   userPrompt,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     0.2,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	parsed, parseErr := llmutil.ParseJSONResponse[wireSuggestion](response)
	if parseErr == nil {
		return &Suggestion{
			Locator:   strings.TrimSpace(parsed.Locator),
			Reasoning: strings.TrimSpace(parsed.Reasoning),
		}, nil
	}

	// Some models answer with the bare selector despite the JSON contract.
	// Accept a single short line; a useless suggestion is caught by the
	// retry anyway.
	if bare := llmutil.CleanTextOutput(response); bare != "" &&
		len(bare) <= 200 && !strings.ContainsAny(bare, "{}\n") {
		return &Suggestion{Locator: bare}, nil
	}

	return nil, fmt.Errorf("model response is not a selector suggestion: %w", parseErr)
}

func buildUserPrompt(step schemas.ActionStep, cause error, page *schemas.PageSnapshot) (string, error) {
	failed := struct {
		Kind        schemas.ActionKind `json:"kind"`
		Locator     string             `json:"locator"`
		Value       string             `json:"value,omitempty"`
		Description string             `json:"description,omitempty"`
		Role        string             `json:"role,omitempty"`
		Error       string             `json:"error"`
	}{
		Kind:        step.Kind,
		Locator:     step.Target,
		Value:       step.Value,
		Description: step.Description,
		Role:        step.Role,
		Error:       cause.Error(),
	}

	stepJSON, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Failed step:\n")
	b.Write(stepJSON)
	b.WriteString("\n\nCurrent page observation (JSON):\n")
	if page == nil {
		b.WriteString("(no page observation available)")
	} else {
		pageJSON, err := json.MarshalIndent(page, "", "  ")
		if err != nil {
			return "", err
		}
		b.Write(pageJSON)
	}
	b.WriteString("\n\nRespond with the suggestion JSON only.")
	return b.String(), nil
}

const healSystemPrompt = `You are the selector healer for trident-cli, an automated web test runner.

A test step just failed because its locator no longer matches anything on the page. You receive the failed step (kind, locator, description, semantic role, error) and an observation of the current page: URL, title, a text preview, and a census of interactive elements with locators that exist right now.

Respond with a single JSON object and nothing else:
{
  "locator": "<replacement CSS locator>",
  "reasoning": "<one sentence naming why this element is the intended target>"
}

Rules:
- Pick the element whose role and name best match the failed step's description and semantic role.
- Use locators from the element census verbatim whenever possible. Never invent ids, classes, or test attributes that do not appear in the observation.
- The replacement must differ from the failed locator.
- If nothing on the page plausibly matches the intent, return {"locator": "", "reasoning": "<why>"}.`
