// Package kv is the transactional ordered key-value store the record layer runs
// on. It is backed by a single bbolt bucket: read transactions are snapshot
// reads, and read-write transactions are serialised by bbolt's single writer.
package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
)

const defaultBucket = "recordlayer"

// Options configures a Database.
type Options struct {
	// Path is the bbolt file path
	Path string

	// Bucket is the bucket holding all keys (default "recordlayer")
	Bucket string

	// Timeout bounds every transaction; zero means no deadline
	Timeout time.Duration

	// NoSync skips fsync on commit (tests only)
	NoSync bool
}

// Database is a handle to the store.
type Database struct {
	db      *bolt.DB
	bucket  []byte
	timeout time.Duration
}

// Open opens or creates the store file.
func Open(opts Options) (*Database, error) {
	if opts.Path == "" {
		return nil, rlerrors.NewInvalidArgument("kv: path must not be empty")
	}
	bucket := opts.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, rlerrors.NewStorageError("kv: failed to create directory", err)
	}

	db, err := bolt.Open(opts.Path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, rlerrors.NewStorageError(fmt.Sprintf("kv: failed to open %s", opts.Path), err)
	}
	db.NoSync = opts.NoSync

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, rlerrors.NewStorageError("kv: failed to create bucket", err)
	}

	return &Database{db: db, bucket: []byte(bucket), timeout: opts.Timeout}, nil
}

// Close closes the store.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the backing file path.
func (d *Database) Path() string {
	return d.db.Path()
}

// Transact runs fn in a read-write transaction and commits it if fn returns
// nil. The transaction is rolled back when fn fails or ctx is done.
func (d *Database) Transact(ctx context.Context, fn func(tx *Transaction) error) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := d.db.Update(func(btx *bolt.Tx) error {
		tx := &Transaction{ctx: ctx, tx: btx, bucket: btx.Bucket(d.bucket), writable: true}
		if fnErr = fn(tx); fnErr != nil {
			return fnErr
		}
		// a cancelled context must not commit
		return ctx.Err()
	})
	return d.result(ctx, fnErr, err, "commit")
}

// ReadTransact runs fn in a read-only snapshot transaction.
func (d *Database) ReadTransact(ctx context.Context, fn func(tx *Transaction) error) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := d.db.View(func(btx *bolt.Tx) error {
		fnErr = fn(&Transaction{ctx: ctx, tx: btx, bucket: btx.Bucket(d.bucket)})
		return fnErr
	})
	return d.result(ctx, fnErr, err, "read")
}

func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return context.WithCancel(ctx)
}

// result passes callback and context errors through unchanged and reports
// anything raised by bbolt itself as a storage failure.
func (d *Database) result(ctx context.Context, fnErr, txErr error, op string) error {
	switch {
	case fnErr != nil:
		return fnErr
	case txErr == nil:
		return nil
	case ctx.Err() != nil && errors.Is(txErr, ctx.Err()):
		return txErr
	default:
		return rlerrors.NewStorageError(fmt.Sprintf("kv: %s failed", op), txErr)
	}
}

// Transaction is a store transaction. It is only valid inside the callback
// that received it.
type Transaction struct {
	ctx      context.Context
	tx       *bolt.Tx
	bucket   *bolt.Bucket
	writable bool
}

// Context returns the transaction's context.
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// Writable reports whether this is a read-write transaction.
func (t *Transaction) Writable() bool {
	return t.writable
}

// Get returns a copy of the value at key, or nil if absent.
func (t *Transaction) Get(key []byte) ([]byte, error) {
	if err := t.ctx.Err(); err != nil {
		return nil, err
	}
	return bytes.Clone(t.bucket.Get(key)), nil
}

// Set writes key = value.
func (t *Transaction) Set(key, value []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := t.bucket.Put(key, value); err != nil {
		return rlerrors.NewStorageError("kv: put failed", err)
	}
	return nil
}

// Clear deletes key.
func (t *Transaction) Clear(key []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := t.bucket.Delete(key); err != nil {
		return rlerrors.NewStorageError("kv: delete failed", err)
	}
	return nil
}

// ClearRange deletes every key in [begin, end).
func (t *Transaction) ClearRange(begin, end []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	c := t.bucket.Cursor()
	for k, _ := c.Seek(begin); k != nil && bytes.Compare(k, end) < 0; k, _ = c.Seek(begin) {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		if err := c.Delete(); err != nil {
			return rlerrors.NewStorageError("kv: range delete failed", err)
		}
	}
	return nil
}

// Add atomically adds delta to the little-endian int64 stored at key.
// An absent key counts as zero.
func (t *Transaction) Add(key []byte, delta int64) error {
	return t.mutate(key, func(cur int64, present bool) int64 { return cur + delta })
}

// Min atomically stores min(current, v).
func (t *Transaction) Min(key []byte, v int64) error {
	return t.mutate(key, func(cur int64, present bool) int64 {
		if !present || v < cur {
			return v
		}
		return cur
	})
}

// Max atomically stores max(current, v).
func (t *Transaction) Max(key []byte, v int64) error {
	return t.mutate(key, func(cur int64, present bool) int64 {
		if !present || v > cur {
			return v
		}
		return cur
	})
}

func (t *Transaction) mutate(key []byte, fn func(cur int64, present bool) int64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	raw := t.bucket.Get(key)
	cur, present := DecodeInt64(raw), raw != nil
	return t.Set(key, EncodeInt64(fn(cur, present)))
}

func (t *Transaction) checkWrite() error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	if !t.writable {
		return rlerrors.NewInvalidArgument("kv: write attempted in a read-only transaction")
	}
	return nil
}

// EncodeInt64 encodes v as 8 little-endian bytes.
func EncodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeInt64 decodes a little-endian int64; short input is zero-extended.
func DecodeInt64(b []byte) int64 {
	var buf [8]byte
	copy(buf[:], b)
	return int64(binary.LittleEndian.Uint64(buf[:]))
}
