package planner

import (
	"context"
	"time"

	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/observability"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/internal/statistics"
)

// DefaultFullScanThreshold is the selectivity at or above which reading the
// whole record type is preferred over an index.
const DefaultFullScanThreshold = 0.95

// Estimator estimates the fraction of a record type matching a filter.
// *statistics.Snapshot implements it.
type Estimator interface {
	Selectivity(c query.Component) float64
}

// ColumnEstimator additionally estimates a single comparison against a column
// key, e.g. "period@lower". The planner uses it to cost one-sided overlap
// scans; without it such scans are costed like the whole overlap.
type ColumnEstimator interface {
	Estimator
	ColumnSelectivity(column string, op query.Op, v any) float64
}

// Options configures a Planner.
type Options struct {
	// FullScanThreshold defaults to DefaultFullScanThreshold.
	FullScanThreshold float64

	// Defaults are used when Plan is given no estimator.
	Defaults statistics.Defaults

	Metrics *observability.PlannerMetrics
	Stats   *observability.QueryStats
	Logger  *logging.Logger
}

// Planner chooses plans. It holds no per-query state and is safe for
// concurrent use.
type Planner struct {
	opts    Options
	metrics *observability.PlannerMetrics
	stats   *observability.QueryStats
	logger  *logging.Logger
}

// New creates a planner.
func New(opts Options) *Planner {
	if opts.FullScanThreshold <= 0 || opts.FullScanThreshold > 1 {
		opts.FullScanThreshold = DefaultFullScanThreshold
	}
	p := &Planner{
		opts:    opts,
		metrics: opts.Metrics,
		stats:   opts.Stats,
		logger:  logging.OrNop(opts.Logger).WithComponent("planner"),
	}
	if p.metrics == nil {
		p.metrics = observability.NewPlannerMetrics()
	}
	if p.stats == nil {
		p.stats = observability.NewQueryStats(time.Hour)
	}
	return p
}

// Metrics returns the planner's counters.
func (p *Planner) Metrics() *observability.PlannerMetrics {
	return p.metrics
}

// QueryStats returns the predicate frequency tracker.
func (p *Planner) QueryStats() *observability.QueryStats {
	return p.stats
}

// accessPath is a candidate way to produce a superset of the matches.
type accessPath struct {
	plan     Plan
	cost     float64
	consumed map[int]bool // conjuncts the plan proves exactly
}

// Plan builds a plan for q against md. A nil est estimates from the
// configured defaults. It fails only for malformed queries and unknown record
// types; otherwise it falls back to a filtered full scan.
func (p *Planner) Plan(ctx context.Context, q *query.Query, md *metadata.MetaData, est Estimator) (Plan, error) {
	start := time.Now()
	plan, err := p.plan(q, md, est)
	elapsed := time.Since(start)
	if err != nil {
		p.metrics.RecordFailure()
		return nil, err
	}
	p.metrics.RecordPlan(plan.Kind(), isFullScan(plan), elapsed)
	p.logger.LogPlan(ctx, q.RecordType, plan.Kind(), plan.Cost(), elapsed)
	return plan, nil
}

func (p *Planner) plan(q *query.Query, md *metadata.MetaData, est Estimator) (Plan, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if _, err := md.RecordType(q.RecordType); err != nil {
		return nil, err
	}
	if est == nil {
		est = statistics.DefaultsOnly(q.RecordType, p.opts.Defaults)
	}
	p.observe(q.Filter)

	conjuncts := query.Conjuncts(q.Filter)
	indexes := candidates(md, q.RecordType)

	var paths []*accessPath
	for _, idx := range indexes {
		if ap := matchIndex(q.RecordType, idx, conjuncts, est); ap != nil {
			paths = append(paths, ap)
		}
	}
	for i, c := range conjuncts {
		if o, ok := c.(*query.Overlaps); ok {
			if ap := rewriteOverlaps(q.RecordType, i, o, indexes, est); ap != nil {
				paths = append(paths, ap)
			}
		}
	}

	var best *accessPath
	for _, ap := range paths {
		if best == nil || ap.cost < best.cost {
			best = ap
		}
	}

	if best == nil || best.cost >= p.opts.FullScanThreshold {
		scan := &FullScan{RecordType: q.RecordType}
		if q.Filter == nil {
			return scan, nil
		}
		return &Filter{Child: scan, Residual: q.Filter, Selectivity: est.Selectivity(q.Filter)}, nil
	}

	var residual []query.Component
	for i, c := range conjuncts {
		if !best.consumed[i] {
			residual = append(residual, c)
		}
	}
	if len(residual) == 0 {
		return best.plan, nil
	}
	return &Filter{
		Child:       best.plan,
		Residual:    query.Conjoin(residual),
		Selectivity: est.Selectivity(q.Filter),
	}, nil
}

// candidates lists the readable ordered indexes on a record type.
func candidates(md *metadata.MetaData, recordType string) []*metadata.Index {
	var out []*metadata.Index
	for _, idx := range md.IndexesForRecordType(recordType) {
		if idx.Kind.Scannable() && idx.Readable() {
			out = append(out, idx)
		}
	}
	return out
}

func (p *Planner) observe(c query.Component) {
	switch n := c.(type) {
	case *query.FieldPredicate:
		p.stats.RecordPredicate(n.Path(), string(n.Op))
	case *query.Overlaps:
		p.stats.RecordOverlaps(n.Path())
	case *query.And:
		for _, child := range n.Children {
			p.observe(child)
		}
	case *query.Or:
		for _, child := range n.Children {
			p.observe(child)
		}
	case *query.Not:
		p.observe(n.Child)
	}
}

func isFullScan(p Plan) bool {
	switch v := p.(type) {
	case *FullScan:
		return true
	case *Filter:
		return isFullScan(v.Child)
	}
	return false
}
