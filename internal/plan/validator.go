// internal/plan/validator.go
package plan

import (
	"strings"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// Validate checks a plan against the structural rules every plan must
// satisfy before it reaches the executor. It is pure: no browser, no store,
// no I/O. The returned error is always nil or a *schemas.ValidationError.
//
// A plan is rejected when any step's kind falls outside the closed action
// set, an interactive step carries no locator, a navigate step carries no
// URL, or a compiler-produced plan has no postconditions (without at least
// one confirming check a silently wrong plan would look like a success).
func Validate(p *schemas.ActionPlan) error {
	if p == nil {
		return schemas.NewValidationError("plan is nil")
	}
	if len(p.Steps) == 0 && len(p.Postconditions) == 0 {
		return schemas.NewValidationError("plan contains no steps")
	}
	if p.Compiled && len(p.Postconditions) == 0 {
		return schemas.NewValidationError("compiled plan has no postconditions")
	}

	for i, step := range p.AllSteps() {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step schemas.ActionStep) error {
	if !step.Kind.Valid() {
		return schemas.NewStepValidationError(index, "unknown action kind %q", step.Kind)
	}
	if step.Kind == schemas.ActionNavigate && strings.TrimSpace(step.Target) == "" {
		return schemas.NewStepValidationError(index, "navigate step has no target URL")
	}
	if step.Kind.Interactive() && strings.TrimSpace(step.Target) == "" {
		return schemas.NewStepValidationError(index, "%s step has no target locator", step.Kind)
	}
	if step.Timeout < 0 {
		return schemas.NewStepValidationError(index, "negative timeout %s", step.Timeout)
	}
	return nil
}
