package keyspace

import (
	"context"
	"strings"
	"sync"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/kv"
)

// nodePrefix is reserved for directory bookkeeping; allocated prefixes are
// packed integers and never start with it.
var nodePrefix = []byte{0xFE}

type dirKey struct {
	layer string
	path  string
}

// DirectoryLayer allocates short prefixes for named paths. Allocations are
// persisted in the store and cached per (path, layer); the same path under a
// different layer tag is a different directory.
type DirectoryLayer struct {
	mu    sync.RWMutex
	cache map[dirKey]Subspace
	nodes Subspace
}

// NewDirectoryLayer returns a directory layer over the reserved node prefix.
func NewDirectoryLayer() *DirectoryLayer {
	return &DirectoryLayer{
		cache: make(map[dirKey]Subspace),
		nodes: NewSubspace(nodePrefix),
	}
}

// CreateOrOpen returns the subspace allocated to path under layer, allocating
// one on first use.
func (d *DirectoryLayer) CreateOrOpen(ctx context.Context, db *kv.Database, path []string, layer string) (Subspace, error) {
	if len(path) == 0 {
		return Subspace{}, rlerrors.NewInvalidArgument("directory path must not be empty")
	}
	key := dirKey{layer: layer, path: strings.Join(path, "\x00")}

	d.mu.RLock()
	sub, ok := d.cache[key]
	d.mu.RUnlock()
	if ok {
		return sub, nil
	}

	err := db.Transact(ctx, func(tx *kv.Transaction) error {
		var err error
		sub, err = d.allocate(tx, path, layer)
		return err
	})
	if err != nil {
		return Subspace{}, err
	}

	d.mu.Lock()
	d.cache[key] = sub
	d.mu.Unlock()
	return sub, nil
}

func (d *DirectoryLayer) allocate(tx *kv.Transaction, path []string, layer string) (Subspace, error) {
	elems := make(Tuple, 0, len(path)+2)
	elems = append(elems, "dir", layer)
	for _, p := range path {
		elems = append(elems, p)
	}
	nodeKey, err := d.nodes.Pack(elems)
	if err != nil {
		return Subspace{}, err
	}

	existing, err := tx.Get(nodeKey)
	if err != nil {
		return Subspace{}, err
	}
	if existing != nil {
		return NewSubspace(existing), nil
	}

	counterKey := d.nodes.MustSub("counter").Bytes()
	if err := tx.Add(counterKey, 1); err != nil {
		return Subspace{}, err
	}
	raw, err := tx.Get(counterKey)
	if err != nil {
		return Subspace{}, err
	}
	prefix, err := Tuple{kv.DecodeInt64(raw)}.Pack()
	if err != nil {
		return Subspace{}, err
	}
	if err := tx.Set(nodeKey, prefix); err != nil {
		return Subspace{}, err
	}
	return NewSubspace(prefix), nil
}
