package dag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a node during execution.
type State int32

// Node states.
const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrSkipped is wrapped by the error recorded for nodes that never ran.
var ErrSkipped = errors.New("skipped")

// NodeFunc executes one node. A non-nil error fails the node and skips every
// node downstream of it.
type NodeFunc func(ctx context.Context, node *Node) error

// Executor runs a Graph with a bounded pool of workers.
type Executor struct {
	// Workers bounds concurrently running nodes. Values < 1 mean 1.
	Workers int
	// FailFast stops scheduling on the first node failure. Nodes not yet
	// started are skipped; nodes already running drain normally.
	FailFast bool
	Logger   *slog.Logger
}

// Outcome is the final state of one node.
type Outcome struct {
	State    State
	Err      error
	Duration time.Duration
}

// Report describes a finished execution.
type Report struct {
	Outcomes map[string]Outcome
	// Order lists nodes in the order they finished (skips included).
	Order []string
}

// Failed returns the IDs of nodes whose function returned an error, sorted.
func (r *Report) Failed() []string {
	return r.inState(Failed)
}

// Skipped returns the IDs of nodes that never ran, sorted.
func (r *Report) Skipped() []string {
	return r.inState(Skipped)
}

func (r *Report) inState(s State) []string {
	var ids []string
	for id, o := range r.Outcomes {
		if o.State == s {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ExecutionError is returned when at least one node failed.
type ExecutionError struct {
	Failed []string
	Errs   []error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for %s: %v", strings.Join(e.Failed, ", "), e.Errs[0])
}

// Unwrap exposes every node error to errors.Is and errors.As.
func (e *ExecutionError) Unwrap() []error {
	return e.Errs
}

type nodeState struct {
	node      *Node
	state     atomic.Int32
	remaining atomic.Int32
	err       error
	duration  time.Duration
}

type execution struct {
	graph    *Graph
	fn       NodeFunc
	logger   *slog.Logger
	nodes    map[string]*nodeState
	ready    chan *nodeState
	wg       sync.WaitGroup
	failFast bool
	halted   atomic.Bool

	mu    sync.Mutex
	order []string
}

// Run executes every node of g once its parents succeeded. It blocks until
// each node has succeeded, failed, or been skipped. The returned Report is
// never nil when the graph is valid.
func (e *Executor) Run(ctx context.Context, g *Graph, fn NodeFunc) (*Report, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	logger := e.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := max(e.Workers, 1)

	x := &execution{
		graph:    g,
		fn:       fn,
		logger:   logger,
		nodes:    make(map[string]*nodeState, g.NodeCount()),
		ready:    make(chan *nodeState, g.NodeCount()),
		failFast: e.FailFast,
	}
	for _, n := range g.Nodes() {
		ns := &nodeState{node: n}
		ns.remaining.Store(int32(len(g.parents[n.ID]))) //nolint:gosec // bounded by node count
		x.nodes[n.ID] = ns
	}

	x.wg.Add(g.NodeCount())
	for _, id := range g.Roots() {
		x.ready <- x.nodes[id]
	}

	logger.Debug("starting executor", slog.Int("nodes", g.NodeCount()), slog.Int("workers", workers))
	for i := 0; i < workers; i++ {
		go x.worker(ctx)
	}
	x.wg.Wait()
	close(x.ready)

	report := &Report{Outcomes: make(map[string]Outcome, len(x.nodes)), Order: x.order}
	var execErr ExecutionError
	for _, id := range g.order {
		ns := x.nodes[id]
		st := State(ns.state.Load())
		report.Outcomes[id] = Outcome{State: st, Err: ns.err, Duration: ns.duration}
		if st == Failed {
			execErr.Failed = append(execErr.Failed, id)
			execErr.Errs = append(execErr.Errs, ns.err)
		}
	}
	if len(execErr.Failed) > 0 {
		return report, &execErr
	}
	if err := ctx.Err(); err != nil && len(report.Skipped()) > 0 {
		return report, err
	}
	return report, nil
}

func (x *execution) worker(ctx context.Context) {
	for ns := range x.ready {
		id := ns.node.ID

		if err := x.stopCause(ctx); err != nil {
			if ns.state.CompareAndSwap(int32(Pending), int32(Skipped)) {
				ns.err = fmt.Errorf("%w: %w", ErrSkipped, err)
				x.logger.Debug("not scheduling node", slog.String("node", id), slog.String("reason", err.Error()))
				x.finish(id)
				x.skipDescendants(ns)
			}
			continue
		}
		if !ns.state.CompareAndSwap(int32(Pending), int32(Running)) {
			continue
		}

		start := time.Now()
		err := x.fn(ctx, ns.node)
		ns.duration = time.Since(start)

		if err != nil {
			ns.err = err
			ns.state.Store(int32(Failed))
			x.logger.Debug("node failed", slog.String("node", id), slog.String("error", err.Error()))
			if x.failFast {
				x.halted.Store(true)
			}
			x.finish(id)
			x.skipDescendants(ns)
			continue
		}

		ns.state.Store(int32(Succeeded))
		x.finish(id)
		for _, child := range x.graph.edges[id] {
			cs := x.nodes[child]
			if cs.remaining.Add(-1) == 0 {
				x.ready <- cs
			}
		}
	}
}

// ErrHalted is the cause recorded for nodes skipped by fail-fast.
var ErrHalted = errors.New("execution halted after failure")

func (x *execution) stopCause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if x.halted.Load() {
		return ErrHalted
	}
	return nil
}

// skipDescendants marks every pending node downstream of ns as skipped.
func (x *execution) skipDescendants(ns *nodeState) {
	for _, child := range x.graph.edges[ns.node.ID] {
		cs := x.nodes[child]
		if cs.state.CompareAndSwap(int32(Pending), int32(Skipped)) {
			cs.err = fmt.Errorf("%w: upstream %q did not succeed", ErrSkipped, ns.node.ID)
			x.finish(child)
			x.skipDescendants(cs)
		}
	}
}

func (x *execution) finish(id string) {
	x.mu.Lock()
	x.order = append(x.order, id)
	x.mu.Unlock()
	x.wg.Done()
}
