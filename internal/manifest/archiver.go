package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/snappy"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/storage"
)

// Archiver copies adopted snapshots to object storage as snappy-compressed
// JSON at <prefix>/snapshots/v<version>.json.sz. Archived versions are
// immutable.
type Archiver struct {
	store  storage.ObjectStorage
	prefix string
}

// NewArchiver creates an archiver writing under prefix, which may be empty.
func NewArchiver(store storage.ObjectStorage, prefix string) *Archiver {
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// ObjectPath returns the object holding version.
func (a *Archiver) ObjectPath(version int) string {
	return path.Join(a.dir(), fmt.Sprintf("v%d.json.sz", version))
}

func (a *Archiver) dir() string {
	return path.Join(a.prefix, "snapshots")
}

// Archive uploads md. Re-archiving identical content is a no-op; different
// content under an archived version is an error.
func (a *Archiver) Archive(ctx context.Context, md *metadata.MetaData) (string, error) {
	raw, err := json.Marshal(md)
	if err != nil {
		return "", rlerrors.NewInternalError("manifest: failed to encode snapshot", err)
	}
	body := snappy.Encode(nil, raw)
	objectPath := a.ObjectPath(md.Version())

	err = a.store.PutIfAbsent(ctx, objectPath, body)
	if errors.Is(err, storage.ErrPreconditionFailed) {
		existing, getErr := a.store.Get(ctx, objectPath)
		if getErr != nil {
			return "", rlerrors.NewStorageError("manifest: failed to read archived snapshot", getErr)
		}
		if bytes.Equal(existing, body) {
			return objectPath, nil
		}
		return "", rlerrors.NewInvalidArgument("manifest: %s already holds a different snapshot", objectPath)
	}
	if err != nil {
		return "", rlerrors.NewStorageError("manifest: failed to archive snapshot", err)
	}
	return objectPath, nil
}

// Restore reads an archived version.
func (a *Archiver) Restore(ctx context.Context, version int) (*metadata.MetaData, error) {
	objectPath := a.ObjectPath(version)
	body, err := a.store.Get(ctx, objectPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, rlerrors.NewNotFound("archived snapshot", objectPath)
	}
	if err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to read archived snapshot", err)
	}
	raw, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, rlerrors.NewInternalError(fmt.Sprintf("manifest: %s is corrupt", objectPath), err)
	}
	md, err := metadata.Parse(raw)
	if err != nil {
		return nil, err
	}
	if md.Version() != version {
		return nil, rlerrors.NewInternalError(
			fmt.Sprintf("manifest: %s holds version %d", objectPath, md.Version()), nil)
	}
	return md, nil
}

// Versions lists archived versions in ascending order. Objects that do not
// follow the archive naming are ignored.
func (a *Archiver) Versions(ctx context.Context) ([]int, error) {
	objects, err := a.store.ListObjects(ctx, a.dir()+"/")
	if err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to list archived snapshots", err)
	}
	var versions []int
	for _, obj := range objects {
		name := path.Base(obj)
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json.sz") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json.sz"))
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}
