package executor

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/internal/query/planner"
	"github.com/arkilian/recordlayer/internal/recordstore"
)

// Cursor streams the records a plan produces. Records are read lazily from
// the transaction the cursor was opened in.
type Cursor interface {
	Next() bool
	Record() recordstore.StoredRecord
	Err() error
}

// scanCursor adapts a full record scan.
type scanCursor struct {
	ctx   context.Context
	cur   *recordstore.RecordCursor
	stats *ExecutionStats
	err   error
}

func (c *scanCursor) Next() bool {
	if c.err != nil {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.cur.Next() {
		return false
	}
	c.stats.RecordsLoaded++
	return true
}

func (c *scanCursor) Record() recordstore.StoredRecord { return c.cur.Record() }

func (c *scanCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

// keyCursor yields the primary keys an index scan admits.
type keyCursor struct {
	ctx   context.Context
	scan  *planner.IndexScan
	cur   *recordstore.IndexCursor
	stats *ExecutionStats
	pk    keyspace.Tuple
	err   error
}

func openKeys(ctx context.Context, store *recordstore.Store, tx *kv.Transaction, scan *planner.IndexScan, stats *ExecutionStats) (*keyCursor, error) {
	begin, end, err := scan.Bounds.KeyRange(store.IndexSubspace(scan.Index.Name))
	if err != nil {
		return nil, rlerrors.NewInvalidArgument("index %s: unencodable scan bound: %v", scan.Index.Name, err)
	}
	cur, err := store.ScanIndex(tx, scan.Index, begin, end, kv.RangeOptions{Snapshot: true})
	if err != nil {
		return nil, err
	}
	return &keyCursor{ctx: ctx, scan: scan, cur: cur, stats: stats}, nil
}

func (c *keyCursor) Next() bool {
	for c.err == nil {
		if err := c.ctx.Err(); err != nil {
			c.err = err
			return false
		}
		if !c.cur.Next() {
			return false
		}
		c.stats.EntriesScanned++
		e := c.cur.Entry()
		if e.RecordType != c.scan.RecordType || !c.scan.Bounds.Admits(e.Key) {
			continue
		}
		c.pk = e.PrimaryKey
		return true
	}
	return false
}

func (c *keyCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

// loadCursor loads the records behind a sequence of primary keys and
// rechecks the predicate the keys were selected by.
type loadCursor struct {
	ctx        context.Context
	store      *recordstore.Store
	tx         *kv.Transaction
	recordType string
	next       func() (keyspace.Tuple, bool)
	keyErr     func() error
	covered    query.Component
	stats      *ExecutionStats
	current    recordstore.StoredRecord
	err        error
}

func (c *loadCursor) Next() bool {
	for c.err == nil {
		if err := c.ctx.Err(); err != nil {
			c.err = err
			return false
		}
		pk, ok := c.next()
		if !ok {
			return false
		}
		rec, err := c.store.LoadRecord(c.tx, c.recordType, pk)
		if err != nil {
			c.err = err
			return false
		}
		c.stats.RecordsLoaded++
		if c.covered != nil && !c.covered.Matches(rec.Record) {
			continue
		}
		c.current = *rec
		return true
	}
	return false
}

func (c *loadCursor) Record() recordstore.StoredRecord { return c.current }

func (c *loadCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if c.keyErr != nil {
		return c.keyErr()
	}
	return nil
}

// filterCursor drops records the residual rejects.
type filterCursor struct {
	child    Cursor
	residual query.Component
	stats    *ExecutionStats
}

func (c *filterCursor) Next() bool {
	for c.child.Next() {
		if c.residual.Matches(c.child.Record().Record) {
			return true
		}
		c.stats.RecordsFiltered++
	}
	return false
}

func (c *filterCursor) Record() recordstore.StoredRecord { return c.child.Record() }
func (c *filterCursor) Err() error                       { return c.child.Err() }

// pkDictionary assigns dense ids to packed primary keys so child results can
// be intersected as bitmaps.
type pkDictionary struct {
	ids  map[string]uint32
	keys []keyspace.Tuple
}

func newPKDictionary() *pkDictionary {
	return &pkDictionary{ids: make(map[string]uint32)}
}

func (d *pkDictionary) assign(pk keyspace.Tuple) (uint32, error) {
	packed, err := pk.Pack()
	if err != nil {
		return 0, rlerrors.NewInternalError("executor: unencodable primary key", err)
	}
	if id, ok := d.ids[string(packed)]; ok {
		return id, nil
	}
	id := uint32(len(d.keys))
	d.ids[string(packed)] = id
	d.keys = append(d.keys, pk)
	return id, nil
}

func (d *pkDictionary) lookup(pk keyspace.Tuple) (uint32, bool) {
	packed, err := pk.Pack()
	if err != nil {
		return 0, false
	}
	id, ok := d.ids[string(packed)]
	return id, ok
}

// bitmapKeys iterates the keys of a bitmap in id order.
func bitmapKeys(bm *roaring.Bitmap, d *pkDictionary) func() (keyspace.Tuple, bool) {
	it := bm.Iterator()
	return func() (keyspace.Tuple, bool) {
		if !it.HasNext() {
			return nil, false
		}
		return d.keys[it.Next()], true
	}
}
