package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/leapgate/internal/rules"
	"github.com/leapstack-labs/leapgate/pkg/core"
	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// TxBeginner is the slice of a gateway the promoter needs.
type TxBeginner interface {
	Begin(ctx context.Context) (gateway.Tx, error)
	Dialect() *gateway.Dialect
}

// PromotionPlan describes one staging to published transfer.
type PromotionPlan struct {
	Staging   string
	Published string
	Columns   []Column
	// Predicate optionally restricts the promoted rows.
	Predicate *rules.Scope
	Mode      gateway.LoadMode
	// Lock takes the dialect's table lock first, when it has one.
	Lock bool
}

// PromotionResult summarises a committed promotion.
type PromotionResult struct {
	Table    string        `json:"table"`
	Rows     int64         `json:"rows"`
	Deleted  int64         `json:"deleted,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Promoter moves staged rows into a published table in one transaction.
// Promotions into the same table are serialised.
type Promoter struct {
	gw     TxBeginner
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPromoter creates a Promoter over gw.
func NewPromoter(gw TxBeginner, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Promoter{gw: gw, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (p *Promoter) tableLock(table string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[table]
	if !ok {
		l = &sync.Mutex{}
		p.locks[table] = l
	}
	return l
}

// Statements renders the statements Promote executes, in order, with the
// bind arguments of the final INSERT.
func (p *Promoter) Statements(plan PromotionPlan) ([]string, []any) {
	d := p.gw.Dialect()
	pub := d.QuoteQualified(plan.Published)

	var stmts []string
	if plan.Lock {
		if lock := d.LockStatement(pub); lock != "" {
			stmts = append(stmts, lock)
		}
	}
	if plan.Mode == gateway.LoadModeReplace {
		stmts = append(stmts, "DELETE FROM "+pub)
	}

	targets := make([]string, len(plan.Columns))
	exprs := make([]string, len(plan.Columns))
	for i, c := range plan.Columns {
		targets[i] = d.QuoteIdent(c.TargetName())
		exprs[i] = d.CastExpr(d.QuoteIdent(c.Name), c.Cast)
	}

	var args []any
	insert := "INSERT INTO " + pub + " (" + strings.Join(targets, ", ") + ") SELECT " +
		strings.Join(exprs, ", ") + " FROM " + d.QuoteQualified(plan.Staging)
	if plan.Predicate != nil {
		bind := func(v any) string {
			args = append(args, v)
			return d.FormatPlaceholder(len(args))
		}
		insert += " WHERE " + plan.Predicate.Render(d, bind)
	}
	return append(stmts, insert), args
}

// Promote runs the plan. On any error before COMMIT the transaction is rolled
// back and the published table is left as it was. The error is a
// *core.TransientError when a retry may succeed and a *core.PromotionError
// otherwise. A failed COMMIT is never transient: it wraps core.ErrCommitUnknown.
func (p *Promoter) Promote(ctx context.Context, plan PromotionPlan) (PromotionResult, error) {
	lock := p.tableLock(plan.Published)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	res := PromotionResult{Table: plan.Published}
	stmts, args := p.Statements(plan)

	fail := func(err error) (PromotionResult, error) {
		if core.IsTransient(err) {
			return PromotionResult{}, err
		}
		return PromotionResult{}, &core.PromotionError{Table: plan.Published, Err: err}
	}

	tx, err := p.gw.Begin(ctx)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	last := len(stmts) - 1
	for i, stmt := range stmts {
		var stmtArgs []any
		if i == last {
			stmtArgs = args
		}
		n, err := tx.Exec(ctx, stmt, stmtArgs...)
		if err != nil {
			p.logger.Warn("promotion rolled back", slog.String("table", plan.Published), slog.String("error", err.Error()))
			return fail(err)
		}
		switch {
		case i == last:
			res.Rows = n
		case strings.HasPrefix(stmt, "DELETE"):
			res.Deleted = n
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.Error("commit failed, published table state unknown",
			slog.String("table", plan.Published), slog.String("error", err.Error()))
		return PromotionResult{}, &core.PromotionError{
			Table: plan.Published,
			Err:   fmt.Errorf("%w: %s", core.ErrCommitUnknown, err),
		}
	}
	res.Duration = time.Since(start)

	p.logger.Info("promoted rows",
		slog.String("table", plan.Published),
		slog.Int64("rows", res.Rows),
		slog.Duration("duration", res.Duration))
	return res, nil
}
