package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapgate/internal/dag"
	"github.com/leapstack-labs/leapgate/internal/quality"
	"github.com/leapstack-labs/leapgate/internal/source"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// RunOptions controls one run.
type RunOptions struct {
	// ValidateOnly stops after the rule nodes. A passing run ends in PASSED
	// and nothing is promoted.
	ValidateOnly bool
}

// TaskOutcome is the final state of one graph node.
type TaskOutcome struct {
	ID       string          `json:"id"`
	Kind     core.TaskKind   `json:"kind"`
	Status   core.TaskStatus `json:"status"`
	Attempts int             `json:"attempts,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Result describes a finished run. It is returned even when Run fails.
type Result struct {
	RunID     string             `json:"run_id"`
	Pipeline  string             `json:"pipeline"`
	State     core.RunState      `json:"state"`
	Load      *source.LoadResult `json:"load,omitempty"`
	Checks    []core.CheckResult `json:"checks"`
	Summary   quality.Summary    `json:"summary"`
	Promotion *PromotionResult   `json:"promotion,omitempty"`
	Tasks     []TaskOutcome      `json:"tasks"`
	Error     string             `json:"error,omitempty"`
	Duration  time.Duration      `json:"duration"`
}

// Run executes the pipeline once. The returned error is a
// *core.DataViolation when the gate failed, and the root cause otherwise.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	start := time.Now()

	g, err := p.Graph(opts)
	if err != nil {
		return nil, err
	}

	tracker, err := p.startRun(ctx)
	if err != nil {
		return nil, err
	}
	logger := tracker.logger
	logger.Info("starting run",
		slog.Int("checks", len(p.checks)),
		slog.Bool("validate_only", opts.ValidateOnly))

	exec := &dag.Executor{
		Workers:  p.def.Execution.Concurrency,
		FailFast: p.def.Execution.StopOnFirstFailure,
		Logger:   logger,
	}
	report, execErr := exec.Run(ctx, g, func(ctx context.Context, n *dag.Node) error {
		return p.execNode(ctx, tracker, n)
	})
	if report == nil {
		tracker.complete(core.RunStateAborted, execErr.Error())
		return tracker.result(start), execErr
	}
	tracker.recordSkipped(g, report)

	res := tracker.result(start)
	res.Summary = quality.Summarize(res.Checks)

	switch {
	case !res.Summary.AllPassed():
		violation := res.Summary.Violation()
		tracker.failGate()
		tracker.complete(core.RunStateAborted, violation.Error())
		err = violation
	case execErr != nil:
		err = rootCause(execErr)
		tracker.complete(core.RunStateAborted, err.Error())
	case opts.ValidateOnly:
		if aerr := tracker.advance(core.RunStatePassed); aerr != nil {
			err = aerr
			tracker.complete(core.RunStateAborted, err.Error())
		} else {
			tracker.completePassed()
		}
	default:
		tracker.complete(core.RunStateCommitted, "")
	}

	final := tracker.result(start)
	final.Summary = res.Summary
	if err != nil {
		final.Error = err.Error()
	}
	logger.Info("run finished",
		slog.String("state", string(final.State)),
		slog.Duration("duration", final.Duration))
	return final, err
}

// rootCause picks the error of the earliest failed task in graph order. Rule
// failures are reported through the DataViolation instead.
func rootCause(execErr error) error {
	var ee *dag.ExecutionError
	if !errors.As(execErr, &ee) {
		return execErr
	}
	for i, id := range ee.Failed {
		if strings.HasPrefix(id, CheckPrefix) {
			continue
		}
		return ee.Errs[i]
	}
	if len(ee.Errs) > 0 {
		return ee.Errs[0]
	}
	return execErr
}

func (p *Pipeline) startRun(ctx context.Context) (*runTracker, error) {
	t := &runTracker{
		store:   p.store,
		ctx:     context.WithoutCancel(ctx),
		results: make([]*core.CheckResult, len(p.checks)),
		tasks:   make(map[string]*TaskOutcome),
	}
	if p.store != nil {
		run, err := p.store.CreateRun(t.ctx, p.def.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		t.run = run
	} else {
		t.run = &core.Run{
			ID:        uuid.NewString(),
			Pipeline:  p.def.Name,
			State:     core.RunStatePending,
			StartedAt: time.Now().UTC(),
		}
	}
	t.logger = p.logger.With(slog.String("run_id", t.run.ID))
	return t, nil
}

// execNode runs one graph node and records it as a task run.
func (p *Pipeline) execNode(ctx context.Context, t *runTracker, n *dag.Node) error {
	tk, ok := n.Data.(*task)
	if !ok {
		return fmt.Errorf("node %s has no task", n.ID)
	}

	tr := &core.TaskRun{
		RunID:     t.run.ID,
		TaskID:    n.ID,
		Kind:      tk.kind,
		Status:    core.TaskStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	t.recordTask(tr)

	var err error
	switch tk.kind {
	case core.TaskKindCreateStaging:
		tr.Attempts, err = p.retry(ctx, func(ctx context.Context) error {
			return p.stagingDDL.Apply(ctx, p.gw)
		})
	case core.TaskKindLoadStaging:
		err = p.loadStaging(ctx, t, tr)
	case core.TaskKindCheck:
		err = p.runCheck(ctx, t, tk, tr)
	case core.TaskKindCreatePublished:
		if err = t.advance(core.RunStatePassed); err == nil {
			tr.Attempts, err = p.retry(ctx, func(ctx context.Context) error {
				return p.publishedDDL.Apply(ctx, p.gw)
			})
		}
	case core.TaskKindPromote:
		err = p.promote(ctx, t, tr)
	default:
		err = fmt.Errorf("unknown task kind %q", tk.kind)
	}

	t.finishTask(tr, err)
	return err
}

func (p *Pipeline) retry(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	return withRetry(ctx, p.def.Execution.Retries, p.def.Execution.Backoff, fn)
}

func (p *Pipeline) loadStaging(ctx context.Context, t *runTracker, tr *core.TaskRun) error {
	loader := &source.Loader{
		BatchSize: p.def.Source.BatchSize,
		Mode:      p.def.StagingLoadMode,
		Logger:    t.logger,
	}

	// An append load that failed halfway cannot be repeated safely.
	retries := p.def.Execution.Retries
	if p.def.StagingLoadMode == gateway.LoadModeAppend {
		retries = 0
	}

	var res source.LoadResult
	attempts, err := withRetry(ctx, retries, p.def.Execution.Backoff, func(ctx context.Context) error {
		r, err := p.openSource(ctx)
		if err != nil {
			return err
		}
		defer r.Close()
		res, err = loader.Load(ctx, p.gw, p.def.Staging.Name, r)
		return err
	})
	tr.Attempts = attempts
	if err != nil {
		return fmt.Errorf("load %s: %w", p.location, err)
	}
	tr.RowsAffected = res.Rows

	t.setLoad(res)
	if err := t.advance(core.RunStateStagingReady); err != nil {
		return err
	}
	return t.advance(core.RunStateValidating)
}

func (p *Pipeline) runCheck(ctx context.Context, t *runTracker, tk *task, tr *core.TaskRun) error {
	res := p.evaluator.Run(ctx, tk.check, p.gw)
	res = t.recordCheck(tk.index, res)

	tr.Attempts = res.Attempts
	tr.ViolationCount = res.ViolationCount
	switch {
	case res.Error != "":
		return fmt.Errorf("rule %s errored: %s", res.RuleID, res.Error)
	case !res.Passed:
		return fmt.Errorf("rule %s failed: %d violating rows", res.RuleID, res.ViolationCount)
	}
	return nil
}

func (p *Pipeline) promote(ctx context.Context, t *runTracker, tr *core.TaskRun) error {
	if err := t.advance(core.RunStatePromoting); err != nil {
		return err
	}
	plan := p.PromotionPlan()

	var res PromotionResult
	attempts, err := p.retry(ctx, func(ctx context.Context) error {
		var err error
		res, err = p.promoter.Promote(ctx, plan)
		return err
	})
	tr.Attempts = attempts
	if err != nil {
		return err
	}
	tr.RowsAffected = res.Rows
	t.setPromotion(res)
	return nil
}

// runTracker owns the in-memory run record and mirrors it to the store.
// Store failures are logged; they never change the outcome of a run.
type runTracker struct {
	store  core.Store
	ctx    context.Context
	logger *slog.Logger

	mu        sync.Mutex
	run       *core.Run
	results   []*core.CheckResult
	tasks     map[string]*TaskOutcome
	order     []string
	load      *source.LoadResult
	promotion *PromotionResult
}

func (t *runTracker) advance(to core.RunState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advanceLocked(to)
}

func (t *runTracker) advanceLocked(to core.RunState) error {
	from := t.run.State
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal run transition %s -> %s", from, to)
	}
	t.run.State = to
	t.logger.Debug("run state changed", slog.String("from", string(from)), slog.String("to", string(to)))
	if t.store != nil {
		if err := t.store.UpdateRunState(t.ctx, t.run.ID, to); err != nil {
			t.logger.Warn("failed to record run state", slog.String("state", string(to)), slog.String("error", err.Error()))
		}
	}
	return nil
}

// failGate moves a validating run to FAILED. It is a no-op once decided.
func (t *runTracker) failGate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run.State == core.RunStateValidating {
		_ = t.advanceLocked(core.RunStateFailed)
	}
}

func (t *runTracker) complete(to core.RunState, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.run.State.CanTransitionTo(to) {
		t.logger.Error("cannot complete run",
			slog.String("from", string(t.run.State)),
			slog.String("to", string(to)))
		return
	}
	now := time.Now().UTC()
	t.run.State = to
	t.run.CompletedAt = &now
	t.run.Error = errMsg
	if t.store != nil {
		if err := t.store.CompleteRun(t.ctx, t.run.ID, to, errMsg); err != nil {
			t.logger.Warn("failed to record run completion", slog.String("error", err.Error()))
		}
	}
}

// completePassed stamps completion of a validate-only run left in PASSED.
func (t *runTracker) completePassed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	t.run.CompletedAt = &now
	if t.store != nil {
		if err := t.store.CompleteValidation(t.ctx, t.run.ID); err != nil {
			t.logger.Warn("failed to record run completion", slog.String("error", err.Error()))
		}
	}
}

// recordCheck stores a check result. The first failure decides the gate;
// results arriving after that are flagged AfterDecision.
func (t *runTracker) recordCheck(index int, res core.CheckResult) core.CheckResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run.State == core.RunStateFailed {
		res.AfterDecision = true
	}
	if res.Failed() && t.run.State == core.RunStateValidating {
		if err := t.advanceLocked(core.RunStateFailed); err == nil {
			t.logger.Info("data quality gate failed", slog.String("rule", res.RuleID))
		}
	}
	t.results[index] = &res
	return res
}

func (t *runTracker) setLoad(res source.LoadResult) {
	t.mu.Lock()
	t.load = &res
	t.run.RowsLoaded = res.Rows
	t.run.SourceChecksum = res.Checksum
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.RecordLoad(t.ctx, t.run.ID, res.Rows, res.Checksum); err != nil {
			t.logger.Warn("failed to record load", slog.String("error", err.Error()))
		}
	}
}

func (t *runTracker) setPromotion(res PromotionResult) {
	t.mu.Lock()
	t.promotion = &res
	t.run.RowsPromoted = res.Rows
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.RecordPromotion(t.ctx, t.run.ID, res.Rows); err != nil {
			t.logger.Warn("failed to record promotion", slog.String("error", err.Error()))
		}
	}
}

func (t *runTracker) recordTask(tr *core.TaskRun) {
	t.mu.Lock()
	t.tasks[tr.TaskID] = &TaskOutcome{ID: tr.TaskID, Kind: tr.Kind, Status: tr.Status, Error: tr.Error}
	t.order = append(t.order, tr.TaskID)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.RecordTaskRun(t.ctx, tr); err != nil {
			t.logger.Warn("failed to record task", slog.String("task", tr.TaskID), slog.String("error", err.Error()))
		}
	}
}

func (t *runTracker) finishTask(tr *core.TaskRun, err error) {
	now := time.Now().UTC()
	tr.CompletedAt = &now
	tr.ExecutionMS = now.Sub(tr.StartedAt).Milliseconds()
	tr.Status = core.TaskStatusSuccess
	if err != nil {
		tr.Status = core.TaskStatusFailed
		tr.Error = err.Error()
	}

	t.mu.Lock()
	o := t.tasks[tr.TaskID]
	o.Status = tr.Status
	o.Attempts = tr.Attempts
	o.Error = tr.Error
	o.Duration = now.Sub(tr.StartedAt)
	t.mu.Unlock()

	if t.store != nil && tr.ID != "" {
		if err := t.store.UpdateTaskRun(t.ctx, tr); err != nil {
			t.logger.Warn("failed to update task", slog.String("task", tr.TaskID), slog.String("error", err.Error()))
		}
	}
}

// recordSkipped records every node that never ran.
func (t *runTracker) recordSkipped(g *dag.Graph, report *dag.Report) {
	for _, id := range report.Skipped() {
		n, _ := g.Node(id)
		kind := core.TaskKind("")
		if tk, ok := n.Data.(*task); ok {
			kind = tk.kind
		}
		tr := &core.TaskRun{RunID: t.run.ID, TaskID: id, Kind: kind, Status: core.TaskStatusSkipped}
		if err := report.Outcomes[id].Err; err != nil {
			tr.Error = err.Error()
		}
		t.recordTask(tr)
	}
}

func (t *runTracker) result(start time.Time) *Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	run := *t.run
	res := &Result{
		RunID:     run.ID,
		Pipeline:  run.Pipeline,
		State:     run.State,
		Load:      t.load,
		Promotion: t.promotion,
		Error:     run.Error,
		Duration:  time.Since(start),
		Checks:    make([]core.CheckResult, 0, len(t.results)),
		Tasks:     make([]TaskOutcome, 0, len(t.order)),
	}
	for _, r := range t.results {
		if r != nil {
			res.Checks = append(res.Checks, *r)
		}
	}
	for _, id := range t.order {
		res.Tasks = append(res.Tasks, *t.tasks[id])
	}
	return res
}
