// Package executor runs validated action plans against a browser session.
// The fast path is deterministic: steps execute strictly in order with
// bounded timeouts, learned locators preempt planned ones, and the model
// is consulted only when an interactive step fails in a healable way, and
// then exactly once.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/heal"
	"github.com/xkilldash9x/trident-cli/internal/plan"
	"github.com/xkilldash9x/trident-cli/internal/verify"
)

// Recoverer is the healer as the executor sees it: given a failed step and
// a way to re-run it, produce the accepted correction or explain why not.
type Recoverer interface {
	Attempt(
		ctx context.Context,
		session schemas.BrowserSession,
		nodeID string,
		step schemas.ActionStep,
		cause error,
		retry func(locator string) error,
	) (*schemas.SelectorCorrection, error)
}

// Executor walks a plan's steps against one browser session. Stateless
// across runs; shared collaborators (learning store, healer) carry their
// own synchronization.
type Executor struct {
	learning       schemas.LearningStore
	healer         Recoverer
	defaultTimeout time.Duration
	log            *zap.Logger
}

// New builds an Executor. learning and healer may be nil: without a
// learning store every step uses its planned locator, without a healer
// every failure is final.
func New(learning schemas.LearningStore, healer Recoverer, defaultStepTimeout time.Duration, logger *zap.Logger) *Executor {
	if defaultStepTimeout <= 0 {
		defaultStepTimeout = 15 * time.Second
	}
	return &Executor{
		learning:       learning,
		healer:         healer,
		defaultTimeout: defaultStepTimeout,
		log:            logger.Named("executor"),
	}
}

// Outcome is everything one plan execution produced. Results accumulate
// in step order; a failed step never erases the results before it.
type Outcome struct {
	Results     []schemas.StepResult
	Corrections []schemas.SelectorCorrection
	// Halted marks a hard-precondition failure: the remaining steps
	// never ran.
	Halted bool
	// Aborted marks a cancellation that landed between steps.
	Aborted bool
}

// StepsPassed reports whether every recorded step succeeded.
func (o Outcome) StepsPassed() bool {
	for _, r := range o.Results {
		if !r.Success {
			return false
		}
	}
	return true
}

// Run executes the plan's steps and postconditions in order. It never
// returns an error: every failure lands in a StepResult so the report
// reflects the full picture, and cancellation yields a partial Outcome
// with Aborted set.
func (e *Executor) Run(ctx context.Context, mission *schemas.Mission, p *schemas.ActionPlan, session schemas.BrowserSession) Outcome {
	var out Outcome
	nodeID := ""
	if mission != nil {
		nodeID = mission.TargetNode
	}

	steps := p.AllSteps()
	for i, step := range steps {
		if ctx.Err() != nil {
			e.log.Warn("run cancelled between steps",
				zap.Int("completed", len(out.Results)),
				zap.Int("remaining", len(steps)-i),
			)
			out.Aborted = true
			return out
		}

		result, correction := e.runStep(ctx, nodeID, session, i, step)
		out.Results = append(out.Results, result)
		if correction != nil {
			out.Corrections = append(out.Corrections, *correction)
		}

		if !result.Success && isBlocking(step) {
			e.log.Warn("hard precondition failed, halting plan",
				zap.Int("step", i),
				zap.String("kind", string(step.Kind)),
				zap.String("error", result.Error),
			)
			out.Halted = true
			return out
		}
	}
	return out
}

// isBlocking reports whether a failed step stops the rest of the plan.
// Navigate is always a hard precondition regardless of the flag.
func isBlocking(step schemas.ActionStep) bool {
	return step.Blocking || step.Kind == schemas.ActionNavigate
}

func (e *Executor) runStep(ctx context.Context, nodeID string, session schemas.BrowserSession, index int, step schemas.ActionStep) (schemas.StepResult, *schemas.SelectorCorrection) {
	started := time.Now()

	target := e.resolveTarget(ctx, nodeID, step)
	// env(NAME) indirections resolve here and nowhere earlier, so plans
	// and reports never carry secrets.
	value := plan.ResolveValue(step.Value)
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	result := schemas.StepResult{
		Index:       index,
		Kind:        step.Kind,
		Target:      target,
		Description: step.Description,
	}

	e.log.Debug("executing step",
		zap.Int("index", index),
		zap.String("kind", string(step.Kind)),
		zap.String("target", target),
		zap.Duration("timeout", timeout),
	)

	err := e.perform(ctx, session, step.Kind, target, value, timeout)

	var correction *schemas.SelectorCorrection
	if err != nil && e.healer != nil {
		failed := step
		failed.Target = target
		if heal.Eligible(failed, err) {
			retry := func(locator string) error {
				return e.perform(ctx, session, step.Kind, locator, value, timeout)
			}
			c, healErr := e.healer.Attempt(ctx, session, nodeID, failed, err, retry)
			if healErr != nil {
				e.log.Warn("heal attempt failed, keeping original error",
					zap.Int("step", index),
					zap.String("locator", target),
					zap.NamedError("heal_error", healErr),
					zap.Error(err),
				)
			} else {
				result.Healed = true
				result.HealedTarget = c.NewLocator
				correction = c
				err = nil
			}
		}
	}

	result.Elapsed = time.Since(started)
	if err != nil {
		result.Error = err.Error()
		result.SecurityViolation = schemas.IsSecurityViolation(err)
		e.log.Warn("step failed",
			zap.Int("index", index),
			zap.String("kind", string(step.Kind)),
			zap.String("target", target),
			zap.Error(err),
		)
	} else {
		result.Success = true
	}
	return result, correction
}

// resolveTarget returns the locator the step will actually use: the
// learned correction for (nodeID, step.Role) when one exists, otherwise
// the planned locator. A prior healed run thereby becomes deterministic
// on the next attempt.
func (e *Executor) resolveTarget(ctx context.Context, nodeID string, step schemas.ActionStep) string {
	if e.learning == nil || !step.Kind.Interactive() {
		return step.Target
	}
	if nodeID == "" || step.Role == "" {
		return step.Target
	}

	c, err := e.learning.Get(ctx, nodeID, step.Role)
	if err != nil {
		e.log.Warn("learning store lookup failed, using planned locator",
			zap.String("node_id", nodeID),
			zap.String("component_role", step.Role),
			zap.Error(err),
		)
		return step.Target
	}
	if c == nil || c.NewLocator == "" || c.NewLocator == step.Target {
		return step.Target
	}

	e.log.Info("using learned locator",
		zap.String("node_id", nodeID),
		zap.String("component_role", step.Role),
		zap.String("planned", step.Target),
		zap.String("learned", c.NewLocator),
	)
	return c.NewLocator
}

// perform dispatches one step kind against the session. The switch is the
// whole action vocabulary; validation guarantees nothing else reaches it.
func (e *Executor) perform(ctx context.Context, session schemas.BrowserSession, kind schemas.ActionKind, target, value string, timeout time.Duration) error {
	switch kind {
	case schemas.ActionNavigate:
		return session.Navigate(ctx, target, timeout)
	case schemas.ActionClick:
		return session.Click(ctx, target, timeout)
	case schemas.ActionFill:
		return session.Fill(ctx, target, value, timeout)
	case schemas.ActionSelect:
		return session.SelectOption(ctx, target, value, timeout)
	case schemas.ActionWaitVisible:
		return session.WaitVisible(ctx, target, timeout)
	case schemas.ActionAssertText:
		return assertText(ctx, session, target, value)
	case schemas.ActionAssertURLContains:
		return assertURLContains(ctx, session, value)
	case schemas.ActionAssertFieldAbsent:
		return assertFieldAbsent(session, value)
	case schemas.ActionSaveSession:
		return saveSession(ctx, session, value)
	default:
		return fmt.Errorf("unknown action kind %q", kind)
	}
}

func assertText(ctx context.Context, session schemas.BrowserSession, locator, expected string) error {
	if expected == "" {
		return errors.New("assert_text step has no expected text")
	}
	text, err := session.Text(ctx, locator)
	if err != nil {
		return fmt.Errorf("failed to read page text: %w", err)
	}
	if !strings.Contains(text, expected) {
		return fmt.Errorf("%w: text %q not visible on the page", schemas.ErrAssertionFailed, expected)
	}
	return nil
}

func assertURLContains(ctx context.Context, session schemas.BrowserSession, fragment string) error {
	if fragment == "" {
		return errors.New("assert_url_contains step has no expected fragment")
	}
	current, err := session.URL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current url: %w", err)
	}
	if !strings.Contains(current, fragment) {
		return fmt.Errorf("%w: url %q does not contain %q", schemas.ErrAssertionFailed, current, fragment)
	}
	return nil
}

func assertFieldAbsent(session schemas.BrowserSession, field string) error {
	if field == "" {
		return errors.New("assert_field_absent_in_api step names no field")
	}
	hits := verify.ScanForField(session.Traffic(), field)
	if len(hits) == 0 {
		return nil
	}
	return &schemas.SecurityViolationError{Field: field, Where: hits[0].Where}
}

func saveSession(ctx context.Context, session schemas.BrowserSession, path string) error {
	if path == "" {
		path = "session_state.json"
	}
	return session.SaveSession(ctx, path)
}
