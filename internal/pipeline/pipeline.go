package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapgate/internal/dag"
	"github.com/leapstack-labs/leapgate/internal/quality"
	"github.com/leapstack-labs/leapgate/internal/rules"
	"github.com/leapstack-labs/leapgate/internal/source"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// Task ids of the fixed graph nodes. Rule nodes are CheckPrefix + rule id.
const (
	TaskCreateStaging   = "create_staging"
	TaskLoadStaging     = "load_staging"
	TaskCreatePublished = "create_published"
	TaskPromote         = "promote"
	CheckPrefix         = "dq."
)

// Config configures a Pipeline.
type Config struct {
	Definition *Definition
	Gateway    gateway.Gateway
	// Store records run history. Nil disables history.
	Store core.Store
	// Opener resolves the source. Nil selects local files, or S3 for s3:// paths.
	Opener source.Opener
	Logger *slog.Logger
}

// Pipeline is a compiled, ready-to-run definition.
type Pipeline struct {
	def       *Definition
	gw        gateway.Gateway
	store     core.Store
	opener    source.Opener
	location  source.Location
	logger    *slog.Logger
	checks    []*rules.Check
	predicate *rules.Scope

	stagingDDL   DDL
	publishedDDL DDL

	evaluator *quality.Evaluator
	promoter  *Promoter
}

// task is the payload of a graph node.
type task struct {
	kind  core.TaskKind
	check *rules.Check
	index int
}

// New validates the definition and compiles its rules against the gateway's
// dialect. Every problem is a *core.ConfigurationError.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Definition == nil {
		return nil, errors.New("pipeline: definition is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("pipeline: gateway is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	def := *cfg.Definition
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	d := cfg.Gateway.Dialect()
	staging := rules.Table{Name: def.Staging.Name, Columns: def.StagingColumns(), Dialect: d}
	checks, err := rules.CompileSet(def.Rules, staging)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		def:    &def,
		gw:     cfg.Gateway,
		store:  cfg.Store,
		opener: cfg.Opener,
		logger: logger.With(slog.String("pipeline", def.Name)),
		checks: checks,
	}

	if def.Predicate != "" {
		sc, err := rules.ParseScope(def.Predicate)
		if err != nil {
			return nil, &core.ConfigurationError{Field: "published.predicate", Reason: "invalid predicate", Err: err}
		}
		for _, c := range sc.Columns() {
			if !contains(staging.Columns, c) {
				return nil, core.NewConfigurationError("published.predicate", "predicate column %q is not declared on staging table %s", c, def.Staging.Name)
			}
		}
		p.predicate = sc
	}

	if p.stagingDDL, err = tableDDL(def.Staging, "staging.ddl_file", func() DDL {
		return StagingDDL(d, def.Staging.Name, def.Columns)
	}); err != nil {
		return nil, err
	}
	if p.publishedDDL, err = tableDDL(def.Published, "published.ddl_file", func() DDL {
		return PublishedDDL(d, def.Published.Name, def.Columns)
	}); err != nil {
		return nil, err
	}

	if p.location, err = source.ParseLocation(def.Source.Path); err != nil {
		return nil, err
	}
	if p.opener == nil {
		router := source.Router{Local: source.FileOpener{}}
		if p.location.IsRemote() {
			s3, err := source.NewS3Opener(def.Source.S3)
			if err != nil {
				return nil, err
			}
			router.Remote = s3
		}
		p.opener = router
	}

	p.evaluator = quality.New(quality.Config{
		Concurrency: def.Execution.Concurrency,
		Retries:     def.Execution.Retries,
		Backoff:     def.Execution.Backoff,
		Logger:      p.logger,
	})
	p.promoter = NewPromoter(cfg.Gateway, p.logger)
	return p, nil
}

func tableDDL(t Table, field string, generate func() DDL) (DDL, error) {
	if t.DDLFile != "" {
		return FileDDL(t.Name, t.DDLFile, field)
	}
	return generate(), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Definition returns the definition with defaults applied.
func (p *Pipeline) Definition() *Definition {
	return p.def
}

// Checks returns the compiled checks in evaluation order.
func (p *Pipeline) Checks() []*rules.Check {
	return p.checks
}

// CheckStaging evaluates every rule against the current contents of the
// staging table. Nothing is loaded or promoted and no run is recorded.
func (p *Pipeline) CheckStaging(ctx context.Context) ([]core.CheckResult, quality.Summary) {
	results := p.evaluator.Evaluate(ctx, p.checks, p.gw)
	return results, quality.Summarize(results)
}

// StagingDDL returns the DDL of the create_staging task.
func (p *Pipeline) StagingDDL() DDL { return p.stagingDDL }

// PublishedDDL returns the DDL of the create_published task.
func (p *Pipeline) PublishedDDL() DDL { return p.publishedDDL }

// PromotionPlan returns the plan the promote task executes.
func (p *Pipeline) PromotionPlan() PromotionPlan {
	return PromotionPlan{
		Staging:   p.def.Staging.Name,
		Published: p.def.Published.Name,
		Columns:   p.def.Columns,
		Predicate: p.predicate,
		Mode:      p.def.PublishMode,
		Lock:      p.def.Execution.LockPublished,
	}
}

// Graph builds the task graph:
//
//	create_staging -> load_staging -> dq.* -> create_published -> promote
//
// With no rules create_published hangs off load_staging directly. With
// ValidateOnly the graph ends at the rule nodes.
func (p *Pipeline) Graph(opts RunOptions) (*dag.Graph, error) {
	g := dag.NewGraph()
	add := func(id string, t *task, parents ...string) error {
		if err := g.AddNode(id, t); err != nil {
			return err
		}
		for _, parent := range parents {
			if err := g.AddEdge(parent, id); err != nil {
				return err
			}
		}
		return nil
	}

	if err := add(TaskCreateStaging, &task{kind: core.TaskKindCreateStaging}); err != nil {
		return nil, err
	}
	if err := add(TaskLoadStaging, &task{kind: core.TaskKindLoadStaging}, TaskCreateStaging); err != nil {
		return nil, err
	}

	gate := []string{TaskLoadStaging}
	if len(p.checks) > 0 {
		gate = gate[:0]
		for i, c := range p.checks {
			id := CheckPrefix + c.ID
			if err := add(id, &task{kind: core.TaskKindCheck, check: c, index: i}, TaskLoadStaging); err != nil {
				return nil, fmt.Errorf("rule %s: %w", c.ID, err)
			}
			gate = append(gate, id)
		}
	}
	if opts.ValidateOnly {
		return g, nil
	}

	if err := add(TaskCreatePublished, &task{kind: core.TaskKindCreatePublished}, gate...); err != nil {
		return nil, err
	}
	if err := add(TaskPromote, &task{kind: core.TaskKindPromote}, TaskCreatePublished); err != nil {
		return nil, err
	}
	return g, nil
}

// ProbeSource opens the source and validates its header without reading rows.
func (p *Pipeline) ProbeSource(ctx context.Context) error {
	r, err := p.openSource(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.location, err)
	}
	return r.Close()
}

func (p *Pipeline) openSource(ctx context.Context) (*source.Reader, error) {
	rc, err := p.opener.Open(ctx, p.location)
	if err != nil {
		return nil, err
	}
	return source.NewReader(rc, source.Options{
		Columns:     p.def.StagingColumns(),
		Delimiter:   p.def.Source.Delimiter,
		Encoding:    p.def.Source.Encoding,
		EmptyAsNull: p.def.Source.EmptyAsNull,
	})
}
