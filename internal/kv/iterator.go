package kv

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// RangeOptions tunes GetRange.
type RangeOptions struct {
	// Limit caps the number of pairs returned; zero means unlimited
	Limit int

	// Reverse iterates from end towards begin
	Reverse bool

	// Snapshot marks the read as non-conflicting. Every bbolt read is already
	// a snapshot read, so it only documents intent.
	Snapshot bool
}

// KeyValue is one pair returned by a range read.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Iterator lazily walks [begin, end). Keys and values are copies and remain
// valid after the transaction ends.
type Iterator struct {
	tx      *Transaction
	cursor  *bolt.Cursor
	begin   []byte
	end     []byte
	opts    RangeOptions
	started bool
	done    bool
	count   int
	current KeyValue
	err     error
}

// GetRange returns an iterator over [begin, end).
func (t *Transaction) GetRange(begin, end []byte, opts RangeOptions) *Iterator {
	return &Iterator{
		tx:     t,
		cursor: t.bucket.Cursor(),
		begin:  begin,
		end:    end,
		opts:   opts,
	}
}

// Next advances the iterator. It returns false at the end of the range, when
// the limit is reached, or when the transaction context is done.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if err := it.tx.ctx.Err(); err != nil {
		it.err = err
		it.done = true
		return false
	}
	if it.opts.Limit > 0 && it.count >= it.opts.Limit {
		it.done = true
		return false
	}

	var k, v []byte
	if !it.started {
		it.started = true
		k, v = it.first()
	} else if it.opts.Reverse {
		k, v = it.cursor.Prev()
	} else {
		k, v = it.cursor.Next()
	}

	if k == nil || bytes.Compare(k, it.begin) < 0 || bytes.Compare(k, it.end) >= 0 {
		it.done = true
		return false
	}
	it.count++
	it.current = KeyValue{Key: bytes.Clone(k), Value: bytes.Clone(v)}
	return true
}

func (it *Iterator) first() ([]byte, []byte) {
	if !it.opts.Reverse {
		return it.cursor.Seek(it.begin)
	}
	k, _ := it.cursor.Seek(it.end)
	if k == nil {
		return it.cursor.Last()
	}
	// Seek lands on the first key >= end, step back into the range
	return it.cursor.Prev()
}

// Key returns the current key.
func (it *Iterator) Key() []byte {
	return it.current.Key
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	return it.current.Value
}

// Pair returns the current key-value pair.
func (it *Iterator) Pair() KeyValue {
	return it.current
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// All drains the iterator.
func (it *Iterator) All() ([]KeyValue, error) {
	var out []KeyValue
	for it.Next() {
		out = append(out, it.Pair())
	}
	return out, it.Err()
}
