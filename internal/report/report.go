// Package report turns execution outcomes into durable artifacts: a
// deterministic JSON report per mission run and an optional JUnit XML
// rollup for CI. Building is pure aggregation; identical inputs always
// serialize to byte-identical output.
package report

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// jsonCfg freezes map-key ordering so the same report never serializes
// two different ways.
var jsonCfg = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// Input collects everything one mission run produced. RunID and the
// timestamps are inputs rather than side effects so Build stays pure.
type Input struct {
	Mission     *schemas.Mission
	RunID       string
	Steps       []schemas.StepResult
	Corrections []schemas.SelectorCorrection
	TripleCheck schemas.TripleCheckResult
	ActedAs     string
	Aborted     bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Build aggregates a run into its terminal report. Overall success
// requires every executed step to have succeeded, every non-skipped
// verification leg to have passed, and the run not to have been aborted.
func Build(in Input) schemas.ExecutionReport {
	r := schemas.ExecutionReport{
		RunID:          in.RunID,
		OverallSuccess: !in.Aborted && stepsPassed(in.Steps) && in.TripleCheck.OverallSuccess(),
		Steps:          append([]schemas.StepResult{}, in.Steps...),
		TripleCheck:    in.TripleCheck,
		Corrections:    append([]schemas.SelectorCorrection(nil), in.Corrections...),
		Aborted:        in.Aborted,
		ActedAs:        in.ActedAs,
		StartedAt:      in.StartedAt.UTC(),
		FinishedAt:     in.FinishedAt.UTC(),
	}
	if in.Mission != nil {
		r.MissionID = in.Mission.TicketID
		r.TargetNode = in.Mission.TargetNode
		if in.Mission.Persona != nil {
			r.Persona = in.Mission.Persona.Name
		}
	}
	return r
}

func stepsPassed(steps []schemas.StepResult) bool {
	for _, s := range steps {
		if !s.Success {
			return false
		}
	}
	return true
}

// Encode serializes a report with stable field order and sorted map keys.
func Encode(r schemas.ExecutionReport) ([]byte, error) {
	return jsonCfg.MarshalIndent(r, "", "  ")
}

// Decode reads a report back from its serialized form.
func Decode(data []byte) (schemas.ExecutionReport, error) {
	var r schemas.ExecutionReport
	err := jsonCfg.Unmarshal(data, &r)
	return r, err
}
