// Package executor runs plan trees against a record store. Cursors read
// lazily inside the caller's transaction and stop once the context is
// cancelled.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/internal/query/planner"
	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/internal/statistics"
)

// ExecutionStats contains query execution metrics.
type ExecutionStats struct {
	EntriesScanned  int64         `json:"entries_scanned"`
	RecordsLoaded   int64         `json:"records_loaded"`
	RecordsFiltered int64         `json:"records_filtered"`
	RecordsReturned int64         `json:"records_returned"`
	PlanTime        time.Duration `json:"plan_time_ns"`
	ExecTime        time.Duration `json:"exec_time_ns"`
}

// Result holds the records a query returned and how they were found.
type Result struct {
	Plan    planner.Plan
	Records []recordstore.StoredRecord
	Stats   ExecutionStats
}

// Config holds the executor's collaborators.
type Config struct {
	// Planner defaults to a planner with default options.
	Planner *planner.Planner

	// Statistics, when set, supplies estimates to the planner.
	Statistics *statistics.Manager

	Logger *logging.Logger
}

// Executor plans and runs queries over one record store.
type Executor struct {
	store      *recordstore.Store
	planner    *planner.Planner
	statistics *statistics.Manager
	logger     *logging.Logger
}

// New creates an executor.
func New(store *recordstore.Store, cfg Config) *Executor {
	p := cfg.Planner
	if p == nil {
		p = planner.New(planner.Options{Logger: cfg.Logger})
	}
	return &Executor{
		store:      store,
		planner:    p,
		statistics: cfg.Statistics,
		logger:     logging.OrNop(cfg.Logger).WithComponent("executor"),
	}
}

// Planner returns the executor's planner.
func (e *Executor) Planner() *planner.Planner {
	return e.planner
}

// Plan plans q against the store's current metadata.
func (e *Executor) Plan(ctx context.Context, q *query.Query) (planner.Plan, error) {
	var est planner.Estimator
	if e.statistics != nil && q != nil {
		est = e.statistics.Snapshot(ctx, q.RecordType)
	}
	return e.planner.Plan(ctx, q, e.store.MetaData(), est)
}

// Run plans q and collects its records in one snapshot read transaction.
func (e *Executor) Run(ctx context.Context, q *query.Query) (*Result, error) {
	start := time.Now()
	plan, err := e.Plan(ctx, q)
	if err != nil {
		return nil, err
	}
	res := &Result{Plan: plan}
	res.Stats.PlanTime = time.Since(start)

	execStart := time.Now()
	err = e.store.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		res.Records = res.Records[:0]
		cur, err := e.open(ctx, tx, plan, &res.Stats)
		if err != nil {
			return err
		}
		for cur.Next() {
			res.Records = append(res.Records, cur.Record())
			if q.Limit > 0 && len(res.Records) >= q.Limit {
				break
			}
		}
		return cur.Err()
	})
	res.Stats.ExecTime = time.Since(execStart)
	if err != nil {
		e.logger.WarnContext(ctx, "query failed", "record_type", q.RecordType, "plan", plan.Kind(), "error", err)
		return nil, err
	}
	res.Stats.RecordsReturned = int64(len(res.Records))
	e.logger.DebugContext(ctx, "query executed",
		"record_type", q.RecordType,
		"plan", plan.Kind(),
		"returned", res.Stats.RecordsReturned,
		"loaded", res.Stats.RecordsLoaded,
		"elapsed", res.Stats.ExecTime,
	)
	return res, nil
}

// Execute opens a cursor over the records plan produces. The cursor is only
// valid inside tx.
func (e *Executor) Execute(ctx context.Context, tx *kv.Transaction, plan planner.Plan) (Cursor, error) {
	return e.open(ctx, tx, plan, &ExecutionStats{})
}

func (e *Executor) open(ctx context.Context, tx *kv.Transaction, plan planner.Plan, stats *ExecutionStats) (Cursor, error) {
	switch p := plan.(type) {
	case *planner.FullScan:
		return &scanCursor{
			ctx:   ctx,
			cur:   e.store.ScanRecords(tx, p.RecordType, kv.RangeOptions{Snapshot: true}),
			stats: stats,
		}, nil

	case *planner.IndexScan:
		keys, err := openKeys(ctx, e.store, tx, p, stats)
		if err != nil {
			return nil, err
		}
		return &loadCursor{
			ctx:        ctx,
			store:      e.store,
			tx:         tx,
			recordType: p.RecordType,
			next: func() (keyspace.Tuple, bool) {
				if keys.Next() {
					return keys.pk, true
				}
				return nil, false
			},
			keyErr:  keys.Err,
			covered: p.Covered,
			stats:   stats,
		}, nil

	case *planner.Intersection:
		return e.intersect(ctx, tx, p, stats)

	case *planner.Filter:
		child, err := e.open(ctx, tx, p.Child, stats)
		if err != nil {
			return nil, err
		}
		return &filterCursor{child: child, residual: p.Residual, stats: stats}, nil
	}
	return nil, rlerrors.NewInternalError(fmt.Sprintf("executor: unsupported plan %T", plan), nil)
}

// intersect collects each child's primary keys into a bitmap over a shared
// dictionary, ANDs them and loads the survivors.
func (e *Executor) intersect(ctx context.Context, tx *kv.Transaction, p *planner.Intersection, stats *ExecutionStats) (Cursor, error) {
	scans := planner.Scans(p)
	if len(p.Children) == 0 || len(scans) == 0 {
		return nil, rlerrors.NewInternalError("executor: intersection without index scans", nil)
	}
	dict := newPKDictionary()
	var acc *roaring.Bitmap
	for i, child := range p.Children {
		bm := roaring.New()
		err := e.eachKey(ctx, tx, child, stats, func(pk keyspace.Tuple) error {
			if i == 0 {
				id, err := dict.assign(pk)
				if err != nil {
					return err
				}
				bm.Add(id)
			} else if id, ok := dict.lookup(pk); ok {
				bm.Add(id)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = bm
		} else {
			acc.And(bm)
		}
		if acc.IsEmpty() {
			break
		}
	}
	return &loadCursor{
		ctx:        ctx,
		store:      e.store,
		tx:         tx,
		recordType: scans[0].RecordType,
		next:       bitmapKeys(acc, dict),
		covered:    p.Covered,
		stats:      stats,
	}, nil
}

// eachKey calls fn with the primary key of every record plan produces,
// without loading records for index scans.
func (e *Executor) eachKey(ctx context.Context, tx *kv.Transaction, plan planner.Plan, stats *ExecutionStats, fn func(keyspace.Tuple) error) error {
	if scan, ok := plan.(*planner.IndexScan); ok {
		keys, err := openKeys(ctx, e.store, tx, scan, stats)
		if err != nil {
			return err
		}
		for keys.Next() {
			if err := fn(keys.pk); err != nil {
				return err
			}
		}
		return keys.Err()
	}
	cur, err := e.open(ctx, tx, plan, stats)
	if err != nil {
		return err
	}
	for cur.Next() {
		if err := fn(cur.Record().PrimaryKey); err != nil {
			return err
		}
	}
	return cur.Err()
}
