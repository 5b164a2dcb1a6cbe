// Package engine distributes missions to a bounded worker pool. Each
// mission gets one browser session, one traffic log and one terminal
// report; a run that is cancelled or dies mid-flight still produces a
// partial report with aborted set.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
	"github.com/xkilldash9x/trident-cli/internal/executor"
	"github.com/xkilldash9x/trident-cli/internal/plan"
	"github.com/xkilldash9x/trident-cli/internal/report"
	"github.com/xkilldash9x/trident-cli/internal/verify"
)

// -- Interfaces for Dependency Inversion --

// SessionFactory opens a fresh browser session for one mission run.
type SessionFactory interface {
	NewSession(ctx context.Context) (schemas.BrowserSession, error)
}

// PlanCompiler turns mission instructions plus a page observation into an
// executable plan. Nil is allowed when no model is configured; missions
// without prebuilt actions then abort with a clear reason.
type PlanCompiler interface {
	Compile(ctx context.Context, goal, instructions string, page *schemas.PageSnapshot) (*schemas.ActionPlan, error)
}

// StepRunner walks a validated plan against a live session.
type StepRunner interface {
	Run(ctx context.Context, mission *schemas.Mission, p *schemas.ActionPlan, session schemas.BrowserSession) executor.Outcome
}

// Checker reconciles the three verification legs after the steps ran.
type Checker interface {
	Run(ctx context.Context, mission *schemas.Mission, session schemas.BrowserSession, traffic schemas.TrafficReader) verify.Outcome
}

// ReportSink persists one terminal report per run.
type ReportSink interface {
	WriteJSON(r schemas.ExecutionReport) (string, error)
}

// Engine manages the in-process distribution of missions to a pool of
// workers.
type Engine struct {
	cfg      config.EngineConfig
	log      *zap.Logger
	sessions SessionFactory
	compiler PlanCompiler
	executor StepRunner
	verifier Checker
	reports  ReportSink

	group errgroup.Group

	mu      sync.Mutex
	results []schemas.ExecutionReport

	stateLock sync.Mutex
	isRunning bool
}

// New wires an engine from its collaborators. The compiler and the report
// sink are optional; everything else is required.
func New(
	cfg config.EngineConfig,
	logger *zap.Logger,
	sessions SessionFactory,
	compiler PlanCompiler,
	runner StepRunner,
	verifier Checker,
	reports ReportSink,
) (*Engine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if sessions == nil {
		return nil, errors.New("session factory cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("step runner cannot be nil")
	}
	if verifier == nil {
		return nil, errors.New("verifier cannot be nil")
	}

	return &Engine{
		cfg:      cfg,
		log:      logger.Named("engine"),
		sessions: sessions,
		compiler: compiler,
		executor: runner,
		verifier: verifier,
		reports:  reports,
	}, nil
}

// Start launches the worker pool consuming missions from the channel.
// Workers drain the channel and exit when it closes or ctx is cancelled.
func (e *Engine) Start(ctx context.Context, missions <-chan *schemas.Mission) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.log.Warn("Start called on an engine that is already running")
		return
	}
	e.isRunning = true
	e.stateLock.Unlock()

	concurrency := e.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	e.log.Info("Starting mission worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		id := i + 1
		e.group.Go(func() error {
			e.runWorker(ctx, id, missions)
			return nil
		})
	}
}

// Stop waits for the workers to drain and resets the engine so it could be
// started again.
func (e *Engine) Stop() {
	e.log.Info("Stopping engine, waiting for in-flight missions")
	_ = e.group.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()

	e.log.Info("Engine stopped")
}

// Results returns a copy of every report produced so far, in completion
// order.
func (e *Engine) Results() []schemas.ExecutionReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.ExecutionReport, len(e.results))
	copy(out, e.results)
	return out
}

// Failures counts runs whose report is not an overall success.
func (e *Engine) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.results {
		if !r.OverallSuccess {
			n++
		}
	}
	return n
}

func (e *Engine) runWorker(ctx context.Context, workerID int, missions <-chan *schemas.Mission) {
	log := e.log.With(zap.Int("worker_id", workerID))
	log.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down", zap.Error(ctx.Err()))
			return
		case m, ok := <-missions:
			if !ok {
				log.Debug("Mission queue closed and drained, worker shutting down")
				return
			}
			e.runMission(ctx, m, log)
		}
	}
}

// runMission executes one mission end to end and always leaves a report
// behind, partial when the run was cut short.
func (e *Engine) runMission(ctx context.Context, m *schemas.Mission, log *zap.Logger) {
	if ctx.Err() != nil {
		log.Warn("Context cancelled before mission started", zap.String("ticket_id", m.TicketID))
		return
	}

	runID := uuid.NewString()
	started := time.Now().UTC()
	log = log.With(zap.String("ticket_id", m.TicketID), zap.String("run_id", runID))
	log.Info("Mission started", zap.String("target_node", m.TargetNode))

	timeout := e.cfg.MissionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := e.execute(mctx, m, log)

	rep := report.Build(report.Input{
		Mission:     m,
		RunID:       runID,
		Steps:       run.steps,
		Corrections: run.corrections,
		TripleCheck: run.tripleCheck,
		ActedAs:     run.actedAs,
		Aborted:     run.aborted,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
	})

	e.mu.Lock()
	e.results = append(e.results, rep)
	e.mu.Unlock()

	if e.reports != nil {
		if path, err := e.reports.WriteJSON(rep); err != nil {
			log.Error("Failed to persist report", zap.Error(err))
		} else {
			log.Debug("Report persisted", zap.String("path", path))
		}
	}

	log.Info("Mission finished",
		zap.Bool("overall_success", rep.OverallSuccess),
		zap.Bool("aborted", rep.Aborted),
		zap.Duration("elapsed", time.Since(started)),
	)
}

// runOutcome collects everything a report needs from one execution.
type runOutcome struct {
	steps       []schemas.StepResult
	corrections []schemas.SelectorCorrection
	tripleCheck schemas.TripleCheckResult
	actedAs     string
	aborted     bool
}

func (e *Engine) execute(ctx context.Context, m *schemas.Mission, log *zap.Logger) (run runOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Mission run panicked",
				zap.Any("panicValue", r),
				zap.String("stack", string(debug.Stack())),
			)
			run = abortedRun(fmt.Sprintf("mission run panicked: %v", r))
		}
	}()

	session, err := e.sessions.NewSession(ctx)
	if err != nil {
		log.Error("Failed to open browser session", zap.Error(err))
		return abortedRun("browser session failed: " + err.Error())
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("Browser session close failed", zap.Error(err))
		}
	}()

	p, err := e.plan(ctx, m, session)
	if err != nil {
		log.Error("Failed to produce an action plan", zap.Error(err))
		return abortedRun("no executable plan: " + err.Error())
	}

	out := e.executor.Run(ctx, m, p, session)
	run = runOutcome{
		steps:       out.Results,
		corrections: out.Corrections,
		aborted:     out.Aborted,
	}
	if out.Aborted {
		// No time left to verify anything, the legs were never checked.
		run.tripleCheck = skippedChecks("run aborted before verification")
		return run
	}

	// A halted plan still gets verified: the legs then document what the
	// partial execution actually left behind.
	vo := e.verifier.Run(ctx, m, session, session.Traffic())
	run.tripleCheck = vo.TripleCheck
	run.actedAs = vo.ActedAs
	return run
}

// plan produces the executable plan for a mission: prebuilt actions are
// validated as-is, instruction missions are compiled against a snapshot of
// the live entry page.
func (e *Engine) plan(ctx context.Context, m *schemas.Mission, session schemas.BrowserSession) (*schemas.ActionPlan, error) {
	if m.HasActions() {
		p := &schemas.ActionPlan{Goal: m.Goal, Steps: m.Actions}
		if err := plan.Validate(p); err != nil {
			return nil, err
		}
		return p, nil
	}

	if e.compiler == nil {
		return nil, fmt.Errorf("mission %s has no prebuilt actions and no plan compiler is configured", m.TicketID)
	}

	if err := session.Navigate(ctx, m.EntryURL, 0); err != nil {
		return nil, fmt.Errorf("failed to open entry page %s: %w", m.EntryURL, err)
	}
	page, err := session.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to observe entry page: %w", err)
	}
	return e.compiler.Compile(ctx, m.Goal, m.Instructions, page)
}

func abortedRun(reason string) runOutcome {
	return runOutcome{aborted: true, tripleCheck: skippedChecks(reason)}
}

func skippedChecks(reason string) schemas.TripleCheckResult {
	leg := func() schemas.LegResult {
		return schemas.LegResult{
			Status:  schemas.LegSkipped,
			Details: map[string]interface{}{"reason": reason},
		}
	}
	return schemas.TripleCheckResult{Database: leg(), API: leg(), UI: leg()}
}
