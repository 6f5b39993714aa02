package statistics

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyexpr"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/observability"
	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/pkg/types"
)

// Options configures a Manager.
type Options struct {
	Defaults Defaults

	// MaxAge bounds how old index statistics may be before estimates ignore
	// them. Zero keeps them forever.
	MaxAge time.Duration

	// TableBuckets is the histogram bucket count for table field statistics.
	TableBuckets int

	// FieldSampleSize bounds the values kept per field during table collection.
	FieldSampleSize int

	// ReadsPerSecond throttles sampling reads; zero disables throttling.
	ReadsPerSecond float64

	Metrics *observability.StatisticsMetrics
	Logger  *logging.Logger
}

// DefaultOptions returns the built-in options.
func DefaultOptions() Options {
	return Options{
		Defaults:        DefaultSelectivities(),
		MaxAge:          24 * time.Hour,
		TableBuckets:    32,
		FieldSampleSize: 4096,
	}
}

// Manager collects and serves statistics for one record store.
type Manager struct {
	store   *recordstore.Store
	sub     keyspace.Subspace
	opts    Options
	limiter *rate.Limiter
	metrics *observability.StatisticsMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewManager creates a manager persisting under sub.
func NewManager(store *recordstore.Store, sub keyspace.Subspace, opts Options) *Manager {
	def := DefaultOptions()
	opts.Defaults = opts.Defaults.orBuiltin()
	if opts.TableBuckets <= 0 {
		opts.TableBuckets = def.TableBuckets
	}
	if opts.FieldSampleSize <= 0 {
		opts.FieldSampleSize = def.FieldSampleSize
	}
	m := &Manager{
		store:   store,
		sub:     sub,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  logging.OrNop(opts.Logger).WithComponent("statistics"),
		now:     time.Now,
	}
	if m.metrics == nil {
		m.metrics = observability.NewStatisticsMetrics()
	}
	if opts.ReadsPerSecond > 0 {
		burst := int(math.Ceil(opts.ReadsPerSecond))
		m.limiter = rate.NewLimiter(rate.Limit(opts.ReadsPerSecond), burst)
	}
	return m
}

// Metrics returns the manager's counters.
func (m *Manager) Metrics() *observability.StatisticsMetrics {
	return m.metrics
}

func (m *Manager) throttle(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	return m.limiter.Wait(ctx)
}

// sampled decides deterministically whether a record takes part in a
// Bernoulli sample at the given rate.
func sampled(pk []byte, sampleRate float64) bool {
	if sampleRate >= 1 {
		return true
	}
	return float64(murmur3.Sum32(pk)) < sampleRate*float64(math.MaxUint32+1)
}

// column is one value the table collector tracks.
type column struct {
	key   string
	path  []string
	bound keyexpr.Bound
}

// columnsFor lists the leading column of every scannable index on the type
// plus the declared fields, without duplicates.
func columnsFor(md *metadata.MetaData, rt *metadata.RecordType) []column {
	seen := make(map[string]bool)
	var cols []column
	add := func(c column) {
		if c.key == "" || seen[c.key] {
			return
		}
		seen[c.key] = true
		cols = append(cols, c)
	}
	for _, idx := range md.IndexesForRecordType(rt.Name) {
		if !idx.Kind.Scannable() {
			continue
		}
		leaf := idx.Root.Columns()
		if len(leaf) == 0 || leaf[0].Kind == keyexpr.KindLiteral {
			continue
		}
		add(column{key: leaf[0].Key(), path: leaf[0].Path, bound: leaf[0].Bound})
	}
	for _, f := range rt.Fields {
		if f.Kind == types.FieldRange {
			add(column{key: keyexpr.ColumnKey([]string{f.Name}, keyexpr.BoundLower), path: []string{f.Name}, bound: keyexpr.BoundLower})
			add(column{key: keyexpr.ColumnKey([]string{f.Name}, keyexpr.BoundUpper), path: []string{f.Name}, bound: keyexpr.BoundUpper})
			continue
		}
		if f.Kind == types.FieldNested {
			continue
		}
		add(column{key: f.Name, path: []string{f.Name}})
	}
	return cols
}

// extract reads a column value. Absent, null and non-key values report false.
func (c column) extract(rec types.Record) (any, bool) {
	v, ok := keyexpr.ExtractPath(rec, c.path)
	if !ok || v == nil {
		return nil, false
	}
	if c.bound != "" {
		var r types.Range
		switch rv := v.(type) {
		case types.Range:
			r = rv
		case *types.Range:
			r = *rv
		default:
			return nil, false
		}
		if c.bound == keyexpr.BoundLower {
			v = r.Lower
		} else {
			v = r.Upper
		}
	}
	if !types.IsKeyValue(v) {
		return nil, false
	}
	return types.NormalizeValue(v), true
}

// CollectStatistics samples stored records of a type and persists table
// statistics. A sampleRate of 1 reads every record.
func (m *Manager) CollectStatistics(ctx context.Context, recordType string, sampleRate float64) (*TableStatistics, error) {
	start := m.now()
	stats, err := m.collectTable(ctx, recordType, sampleRate)
	var rows int64
	if stats != nil {
		rows = stats.SampledRows
	}
	m.metrics.RecordCollection(int(rows), err)
	m.logger.LogStatistics(ctx, recordType, int(rows), time.Since(start), err)
	return stats, err
}

func (m *Manager) collectTable(ctx context.Context, recordType string, sampleRate float64) (*TableStatistics, error) {
	if !(sampleRate > 0 && sampleRate <= 1) {
		return nil, rlerrors.NewInvalidArgument("sample rate must be in (0, 1], got %v", sampleRate)
	}
	md := m.store.MetaData()
	rt, err := md.RecordType(recordType)
	if err != nil {
		return nil, err
	}

	cols := columnsFor(md, rt)
	type acc struct {
		nonNull int64
		sample  *Reservoir
	}
	accs := make([]acc, len(cols))
	for i := range accs {
		accs[i].sample = NewReservoir(m.opts.FieldSampleSize, uint64(i)+1)
	}

	var rows, bytes int64
	err = m.store.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		cur := m.store.ScanRecords(tx, recordType, kv.RangeOptions{Snapshot: true})
		for cur.Next() {
			stored := cur.Record()
			pk, err := stored.PrimaryKey.Pack()
			if err != nil {
				return rlerrors.NewInternalError("statistics: unencodable primary key", err)
			}
			if !sampled(pk, sampleRate) {
				continue
			}
			if err := m.throttle(ctx); err != nil {
				return err
			}
			rows++
			bytes += int64(stored.Size)
			for i, c := range cols {
				if v, ok := c.extract(stored.Record); ok {
					accs[i].nonNull++
					accs[i].sample.Add(v)
				}
			}
		}
		return cur.Err()
	})
	if err != nil {
		return nil, err
	}

	stats := &TableStatistics{
		RecordType:        recordType,
		SampleRate:        sampleRate,
		SampledRows:       rows,
		EstimatedRowCount: int64(math.Round(float64(rows) / sampleRate)),
		Fields:            make(map[string]*FieldStatistics, len(cols)),
		CollectedAt:       m.now().UTC(),
		RunID:             uuid.NewString(),
	}
	if rows > 0 {
		stats.AvgPayloadBytes = float64(bytes) / float64(rows)
	}
	for i, c := range cols {
		h := BuildHistogram(accs[i].sample.Values(), m.opts.TableBuckets)
		stats.Fields[c.key] = &FieldStatistics{
			Key:       c.key,
			NonNull:   accs[i].nonNull,
			Distinct:  distinct(h),
			Histogram: h,
		}
	}

	if err := m.store.Database().Transact(ctx, func(tx *kv.Transaction) error {
		return m.writeTable(tx, stats)
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

func distinct(h *Histogram) int64 {
	var d int64
	for i, b := range h.Buckets {
		d += b.Distinct
		// a value split across adjacent buckets is counted once
		if i > 0 && types.Compare(h.Buckets[i-1].Upper, b.Lower) == 0 {
			d--
		}
	}
	return d
}

// CollectIndexStatistics reservoir-samples the leading column of an index's
// entries under indexSubspace and persists an equi-depth histogram.
func (m *Manager) CollectIndexStatistics(ctx context.Context, indexName string, indexSubspace keyspace.Subspace, bucketCount, reservoirSize int) (*IndexStatistics, error) {
	start := m.now()
	stats, err := m.collectIndex(ctx, indexName, indexSubspace, bucketCount, reservoirSize)
	var sampledEntries int64
	if stats != nil {
		sampledEntries = stats.SampledEntries
	}
	m.metrics.RecordCollection(int(sampledEntries), err)
	m.logger.LogStatistics(ctx, "index:"+indexName, int(sampledEntries), time.Since(start), err)
	return stats, err
}

func (m *Manager) collectIndex(ctx context.Context, indexName string, indexSubspace keyspace.Subspace, bucketCount, reservoirSize int) (*IndexStatistics, error) {
	if bucketCount <= 0 || reservoirSize <= 0 {
		return nil, rlerrors.NewInvalidArgument("bucket count and reservoir size must be positive, got %d and %d", bucketCount, reservoirSize)
	}
	idx, err := m.store.MetaData().Index(indexName)
	if err != nil {
		return nil, err
	}
	if !idx.Kind.Scannable() {
		return nil, rlerrors.NewInvalidArgument("index %s of kind %s has no ordered entries to sample", idx.Name, idx.Kind)
	}
	if !idx.Readable() {
		return nil, rlerrors.NewIndexNotReady(rlerrors.ErrCategoryStatistics, idx.Name, string(idx.State))
	}
	cols := idx.Root.Columns()
	if len(cols) == 0 {
		return nil, rlerrors.NewInvalidArgument("index %s has no key columns", idx.Name)
	}

	res := NewReservoir(reservoirSize, uint64(len(indexName))+1)
	err = m.store.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		begin, end := indexSubspace.Range()
		cur, err := m.store.ScanIndex(tx, idx, begin, end, kv.RangeOptions{Snapshot: true})
		if err != nil {
			return err
		}
		for cur.Next() {
			if err := m.throttle(ctx); err != nil {
				return err
			}
			res.Add(cur.Entry().Key[0])
		}
		return cur.Err()
	})
	if err != nil {
		return nil, err
	}

	stats := &IndexStatistics{
		Index:          idx.Name,
		Column:         cols[0].Key(),
		Boundary:       cols[0].Boundary,
		Entries:        res.Seen(),
		SampledEntries: int64(len(res.Values())),
		BucketCount:    bucketCount,
		Histogram:      BuildHistogram(res.Values(), bucketCount),
		CollectedAt:    m.now().UTC(),
		RunID:          uuid.NewString(),
	}
	if err := m.store.Database().Transact(ctx, func(tx *kv.Transaction) error {
		return m.writeIndex(tx, stats)
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

// CollectAll collects table statistics for several types concurrently. Runs
// are independent; the first failure cancels the rest.
func (m *Manager) CollectAll(ctx context.Context, recordTypes []string, sampleRate float64) (map[string]*TableStatistics, error) {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	out := make(map[string]*TableStatistics, len(recordTypes))
	for _, name := range recordTypes {
		g.Go(func() error {
			s, err := m.CollectStatistics(gctx, name, sampleRate)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// TableStatistics loads the persisted statistics of a record type.
func (m *Manager) TableStatistics(ctx context.Context, recordType string) (*TableStatistics, error) {
	var s *TableStatistics
	err := m.store.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		var err error
		s, err = m.readTable(tx, recordType)
		return err
	})
	return s, err
}

// IndexStatistics loads the persisted statistics of an index.
func (m *Manager) IndexStatistics(ctx context.Context, indexName string) (*IndexStatistics, error) {
	var s *IndexStatistics
	err := m.store.Database().ReadTransact(ctx, func(tx *kv.Transaction) error {
		var err error
		s, err = m.readIndex(tx, indexName)
		return err
	})
	return s, err
}
