package schemas

import (
	"time"
)

// -- Action Plan Schemas --

// ActionKind identifies one of the closed set of step kinds the engine can
// execute. Anything outside this set is rejected at validation time.
type ActionKind string

const (
	ActionNavigate          ActionKind = "navigate"
	ActionClick             ActionKind = "click"
	ActionFill              ActionKind = "fill"
	ActionSelect            ActionKind = "select"
	ActionWaitVisible       ActionKind = "wait_visible"
	ActionAssertText        ActionKind = "assert_text"
	ActionAssertURLContains ActionKind = "assert_url_contains"
	ActionAssertFieldAbsent ActionKind = "assert_field_absent_in_api"
	ActionSaveSession       ActionKind = "save_session"
)

// KnownActionKinds enumerates every kind the executor dispatches on, in
// documentation order.
var KnownActionKinds = []ActionKind{
	ActionNavigate,
	ActionClick,
	ActionFill,
	ActionSelect,
	ActionWaitVisible,
	ActionAssertText,
	ActionAssertURLContains,
	ActionAssertFieldAbsent,
	ActionSaveSession,
}

// Valid reports whether the kind belongs to the closed set.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionNavigate, ActionClick, ActionFill, ActionSelect,
		ActionWaitVisible, ActionAssertText, ActionAssertURLContains,
		ActionAssertFieldAbsent, ActionSaveSession:
		return true
	}
	return false
}

// Interactive reports whether the kind drives an element on the page and
// therefore requires a target locator. Interactive step timeouts are the
// only failures eligible for healing.
func (k ActionKind) Interactive() bool {
	switch k {
	case ActionClick, ActionFill, ActionSelect, ActionWaitVisible:
		return true
	}
	return false
}

// Assertion reports whether the kind is a pure check that never mutates
// page state. Assertion failures are recorded and execution continues.
func (k ActionKind) Assertion() bool {
	switch k {
	case ActionWaitVisible, ActionAssertText, ActionAssertURLContains, ActionAssertFieldAbsent:
		return true
	}
	return false
}

// ActionStep is a single unit of work in an Action Plan.
//
// Target carries a CSS locator for interactive kinds and a URL for
// navigate. Value carries input text for fill/select, expected text for
// assert_text, the URL fragment for assert_url_contains, the forbidden
// field name for assert_field_absent_in_api, and the destination path for
// save_session. Values of the form env(NAME) are resolved from the
// environment at execution time, never earlier, so plans stay free of
// secrets.
type ActionStep struct {
	Kind        ActionKind    `json:"kind" yaml:"kind"`
	Target      string        `json:"target,omitempty" yaml:"target,omitempty"`
	Value       string        `json:"value,omitempty" yaml:"value,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	// Role names the semantic component this step touches (e.g.
	// "submit_button"). Together with the mission's target node it keys
	// the selector learning store.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
	// Blocking marks the step as a hard precondition: if it fails, the
	// remainder of the plan is not executed. Navigate steps are always
	// treated as blocking.
	Blocking bool `json:"blocking,omitempty" yaml:"blocking,omitempty"`
}

// ActionPlan is an ordered, validated sequence of steps plus the
// postconditions that confirm the plan achieved its goal. Plans are
// immutable once validated: constructed once per compile, consumed once
// per execution attempt.
type ActionPlan struct {
	Goal           string       `json:"goal,omitempty" yaml:"goal,omitempty"`
	Steps          []ActionStep `json:"steps" yaml:"steps"`
	Postconditions []ActionStep `json:"postconditions,omitempty" yaml:"postconditions,omitempty"`
	// Compiled records whether the plan came out of the LLM compiler
	// rather than a hand-written mission. Compiled plans must carry at
	// least one postcondition.
	Compiled bool `json:"compiled,omitempty" yaml:"compiled,omitempty"`
}

// AllSteps returns steps followed by postconditions, the exact order the
// executor walks them.
func (p *ActionPlan) AllSteps() []ActionStep {
	out := make([]ActionStep, 0, len(p.Steps)+len(p.Postconditions))
	out = append(out, p.Steps...)
	out = append(out, p.Postconditions...)
	return out
}

// -- Page Snapshot Schemas --

// ElementSummary is one interactive element in a page snapshot: just
// enough structure for the LLM to propose a locator, nothing more.
type ElementSummary struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Locator string `json:"locator"`
}

// PageSnapshot is the compact structural observation of a page handed to
// the plan compiler and the healer. Text previews are truncated and the
// element census is capped so prompts stay small.
type PageSnapshot struct {
	URL      string           `json:"url"`
	Title    string           `json:"title"`
	Text     string           `json:"text_preview"`
	Elements []ElementSummary `json:"elements"`
}
