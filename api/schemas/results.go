package schemas

import (
	"time"
)

// -- Step Result Schemas --

// StepResult records the outcome of one executed step. Immutable once
// recorded; the run's results form an ordered list so the report reflects
// the full picture, not just the first problem.
type StepResult struct {
	Index       int        `json:"index"`
	Kind        ActionKind `json:"kind"`
	Target      string     `json:"target,omitempty"`
	Description string     `json:"description,omitempty"`
	Success     bool       `json:"success"`
	// Healed is true when the step failed on its planned locator and
	// succeeded on the healer's replacement. Reports distinguish "worked
	// first try" from "required recovery".
	Healed bool `json:"healed,omitempty"`
	// HealedTarget is the replacement locator that worked, when Healed.
	HealedTarget string `json:"healed_target,omitempty"`
	Error        string `json:"error,omitempty"`
	// SecurityViolation marks a failed hidden-field assertion. It is
	// never demoted to a plain assertion failure.
	SecurityViolation bool          `json:"security_violation,omitempty"`
	Elapsed           time.Duration `json:"elapsed,omitempty"`
}

// -- Selector Correction Schemas --

// SelectorCorrection is an accepted healing outcome: a locator that
// stopped working and the replacement that did. Owned by the learning
// store; superseded, never deleted, so a regression can be diagnosed from
// prior values.
type SelectorCorrection struct {
	NodeID        string    `json:"node_id"`
	ComponentRole string    `json:"component_role"`
	OldLocator    string    `json:"old_locator"`
	NewLocator    string    `json:"new_locator"`
	Reasoning     string    `json:"reasoning,omitempty"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// -- Triple-Check Schemas --

// LegStatus is the tri-state outcome of one verification leg. Skipped is
// distinct from passed: a leg excluded by test_scope never counts toward
// overall success.
type LegStatus string

const (
	LegPassed  LegStatus = "passed"
	LegFailed  LegStatus = "failed"
	LegSkipped LegStatus = "skipped"
)

// LegResult is one leg of the triple check.
type LegResult struct {
	Status  LegStatus              `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Error   string                 `json:"error,omitempty"`
	// SecurityViolation is set on the API leg when a hidden field was
	// found in a response body.
	SecurityViolation bool `json:"security_violation,omitempty"`
}

// Passed reports whether the leg succeeded outright.
func (l LegResult) Passed() bool { return l.Status == LegPassed }

// TripleCheckResult aggregates the three verification legs.
type TripleCheckResult struct {
	Database LegResult `json:"database"`
	API      LegResult `json:"api"`
	UI       LegResult `json:"ui"`
}

// OverallSuccess is the conjunction of all non-skipped legs. A run where
// every leg was skipped verifies nothing and reports false.
func (t TripleCheckResult) OverallSuccess() bool {
	checked := 0
	for _, leg := range []LegResult{t.Database, t.API, t.UI} {
		switch leg.Status {
		case LegSkipped:
			continue
		case LegPassed:
			checked++
		default:
			return false
		}
	}
	return checked > 0
}

// -- Execution Report Schemas --

// ExecutionReport is the terminal artifact of a mission run: immutable,
// JSON-serializable, and deterministic for identical inputs.
type ExecutionReport struct {
	MissionID      string            `json:"mission_id"`
	RunID          string            `json:"run_id"`
	Persona        string            `json:"persona,omitempty"`
	TargetNode     string            `json:"target_node,omitempty"`
	OverallSuccess bool              `json:"overall_success"`
	Steps          []StepResult      `json:"step_results"`
	TripleCheck    TripleCheckResult `json:"triple_check"`
	Corrections    []SelectorCorrection `json:"corrections,omitempty"`
	// Aborted is set when the run was cancelled between steps; the
	// report still carries whatever partial results were produced.
	Aborted bool `json:"aborted,omitempty"`
	// ActedAs is the subject of the bearer token observed in captured
	// traffic, when one was present. Audit attribution only.
	ActedAs    string    `json:"acted_as,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
