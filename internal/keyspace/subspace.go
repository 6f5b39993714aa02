package keyspace

import (
	"bytes"
	"fmt"
)

// Subspace is a key prefix under which tuples are packed.
type Subspace struct {
	prefix []byte
}

// NewSubspace returns a subspace with a raw prefix.
func NewSubspace(prefix []byte) Subspace {
	return Subspace{prefix: bytes.Clone(prefix)}
}

// FromTuple returns a subspace whose prefix is the packed tuple.
func FromTuple(t Tuple) (Subspace, error) {
	p, err := t.Pack()
	if err != nil {
		return Subspace{}, err
	}
	return Subspace{prefix: p}, nil
}

// Bytes returns the raw prefix.
func (s Subspace) Bytes() []byte {
	return bytes.Clone(s.prefix)
}

// Sub returns a nested subspace.
func (s Subspace) Sub(elems ...any) (Subspace, error) {
	p, err := s.Pack(Tuple(elems))
	if err != nil {
		return Subspace{}, err
	}
	return Subspace{prefix: p}, nil
}

// MustSub is Sub for literal elements.
func (s Subspace) MustSub(elems ...any) Subspace {
	sub, err := s.Sub(elems...)
	if err != nil {
		panic(err)
	}
	return sub
}

// Pack returns prefix + packed tuple.
func (s Subspace) Pack(t Tuple) ([]byte, error) {
	body, err := t.Pack()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(s.prefix)+len(body))
	out = append(out, s.prefix...)
	return append(out, body...), nil
}

// Unpack strips the prefix and decodes the remainder.
func (s Subspace) Unpack(key []byte) (Tuple, error) {
	if !s.Contains(key) {
		return nil, fmt.Errorf("keyspace: key %x is outside subspace %x", key, s.prefix)
	}
	return Unpack(key[len(s.prefix):])
}

// Contains reports whether key lies inside the subspace.
func (s Subspace) Contains(key []byte) bool {
	return bytes.HasPrefix(key, s.prefix)
}

// Range returns [begin, end) covering every tuple packed in the subspace.
func (s Subspace) Range() (begin, end []byte) {
	return prefixRange(s.prefix)
}

// TupleRange returns [begin, end) covering every key that extends prefix + t.
func (s Subspace) TupleRange(t Tuple) (begin, end []byte, err error) {
	p, err := s.Pack(t)
	if err != nil {
		return nil, nil, err
	}
	begin, end = prefixRange(p)
	return begin, end, nil
}

func prefixRange(p []byte) (begin, end []byte) {
	begin = append(bytes.Clone(p), 0x00)
	end = append(bytes.Clone(p), 0xFF)
	return begin, end
}

// String renders the prefix in hex.
func (s Subspace) String() string {
	return fmt.Sprintf("Subspace(%x)", s.prefix)
}
