package schemas

import (
	"errors"
	"fmt"
)

// -- Error Taxonomy --
//
// Every failure the engine produces folds into one of these categories.
// Recovery rules differ per category: validation and compile errors are
// fatal and never retried, step timeouts are eligible for exactly one heal
// attempt, assertion failures are recorded while execution continues, and
// security violations are always surfaced at their own severity.

var (
	// ErrStepTimeout marks an interactive step that ran out of time. It
	// is the only error class the healer acts on.
	ErrStepTimeout = errors.New("step timed out")

	// ErrElementNotFound marks a locator that matched nothing. Kept
	// distinct from ErrStepTimeout so callers can tell a slow page from
	// a broken selector.
	ErrElementNotFound = errors.New("element not found")

	// ErrAssertionFailed marks a genuine expectation mismatch. Never
	// healed: the locator worked, the page disagreed.
	ErrAssertionFailed = errors.New("assertion failed")

	// ErrVerificationMismatch marks a triple-check leg that disagreed
	// with the mission's expected values.
	ErrVerificationMismatch = errors.New("verification mismatch")
)

// ValidationError reports a malformed action plan. Fatal: a plan that
// fails validation never reaches the executor.
type ValidationError struct {
	// StepIndex is the offending step's position, or -1 for a
	// plan-level problem.
	StepIndex int
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.StepIndex < 0 {
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plan: step %d: %s", e.StepIndex, e.Reason)
}

// NewValidationError builds a plan-level validation error.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{StepIndex: -1, Reason: fmt.Sprintf(format, args...)}
}

// NewStepValidationError builds a step-scoped validation error.
func NewStepValidationError(index int, format string, args ...interface{}) *ValidationError {
	return &ValidationError{StepIndex: index, Reason: fmt.Sprintf(format, args...)}
}

// CompileError reports that the LLM produced no usable plan. Fatal for
// the attempt; the compiler never retries internally.
type CompileError struct {
	Reason string
	Cause  error
}

func (e *CompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plan compilation failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("plan compilation failed: %s", e.Reason)
}

func (e *CompileError) Unwrap() error { return e.Cause }

// SecurityViolationError reports a hidden field found in an API response.
// It is its own type so no caller can demote it to a plain assertion
// failure.
type SecurityViolationError struct {
	Field string
	// Where describes the response the field surfaced in.
	Where string
}

func (e *SecurityViolationError) Error() string {
	if e.Where == "" {
		return fmt.Sprintf("security violation: hidden field %q present in API response", e.Field)
	}
	return fmt.Sprintf("security violation: hidden field %q present in %s", e.Field, e.Where)
}

// IsSecurityViolation reports whether err is, or wraps, a security
// violation.
func IsSecurityViolation(err error) bool {
	var sv *SecurityViolationError
	return errors.As(err, &sv)
}

// IsHealable reports whether err qualifies a step for the single heal
// attempt. Only interactive timeouts and missing elements qualify;
// assertion failures represent real mismatches and are never healed.
func IsHealable(err error) bool {
	return errors.Is(err, ErrStepTimeout) || errors.Is(err, ErrElementNotFound)
}
