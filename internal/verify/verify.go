// Package verify reconciles three independent observations of a mission run
// into one verdict: the database row the action should have produced, the
// API traffic the browser actually emitted, and the text rendered on the
// final page. Each leg can be switched off per mission via test_scope; a
// skipped leg is reported as skipped and never counts toward overall
// success.
package verify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
)

// Verifier runs the triple check. The database querier may be nil when the
// tool runs without a database; missions that request the database leg then
// fail that leg instead of crashing.
type Verifier struct {
	db  schemas.RowQuerier
	log *zap.Logger
}

func New(db schemas.RowQuerier, logger *zap.Logger) *Verifier {
	return &Verifier{db: db, log: logger.Named("verify")}
}

// Outcome is the verifier's full answer: the three legs plus audit
// attribution lifted from captured bearer tokens.
type Outcome struct {
	TripleCheck schemas.TripleCheckResult
	// ActedAs is the subject of the bearer token seen in captured traffic,
	// when one was present. Attribution only, never used for verification.
	ActedAs string
}

// Run executes every in-scope leg. The database and API legs verify
// concurrently; the UI leg reads the still-open browser session from the
// calling goroutine.
func (v *Verifier) Run(ctx context.Context, mission *schemas.Mission, session schemas.BrowserSession, traffic schemas.TrafficReader) Outcome {
	var (
		wg      sync.WaitGroup
		dbLeg   schemas.LegResult
		apiLeg  schemas.LegResult
		actedAs string
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		dbLeg = v.checkDatabase(ctx, mission)
	}()
	go func() {
		defer wg.Done()
		apiLeg, actedAs = v.checkAPI(mission, traffic)
	}()
	uiLeg := v.checkUI(ctx, mission, session)
	wg.Wait()

	result := schemas.TripleCheckResult{Database: dbLeg, API: apiLeg, UI: uiLeg}
	v.log.Info("Triple check complete",
		zap.String("ticket_id", mission.TicketID),
		zap.String("db", string(dbLeg.Status)),
		zap.String("api", string(apiLeg.Status)),
		zap.String("ui", string(uiLeg.Status)),
		zap.Bool("overall_success", result.OverallSuccess()),
	)
	return Outcome{TripleCheck: result, ActedAs: actedAs}
}

func skippedLeg(reason string) schemas.LegResult {
	return schemas.LegResult{
		Status:  schemas.LegSkipped,
		Details: map[string]interface{}{"reason": reason},
	}
}

func failedLeg(errText string, details map[string]interface{}) schemas.LegResult {
	return schemas.LegResult{
		Status:  schemas.LegFailed,
		Error:   errText,
		Details: details,
	}
}

func passedLeg(details map[string]interface{}) schemas.LegResult {
	return schemas.LegResult{
		Status:  schemas.LegPassed,
		Details: details,
	}
}
