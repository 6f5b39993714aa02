package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/evolution"
	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/metadata"
)

// Catalog records every adopted metadata snapshot.
type Catalog interface {
	// Adopt validates md against the latest snapshot and, if it is a safe
	// evolution, makes it the latest.
	Adopt(ctx context.Context, md *metadata.MetaData, opts evolution.Options) (*Adoption, error)

	// Check validates md against the latest snapshot without adopting it.
	Check(ctx context.Context, md *metadata.MetaData, opts evolution.Options) (evolution.Result, error)

	// Latest returns the most recently adopted snapshot.
	Latest(ctx context.Context) (*SnapshotRecord, error)

	// Get returns the snapshot adopted as version.
	Get(ctx context.Context, version int) (*SnapshotRecord, error)

	// ListVersions lists adopted versions in ascending order.
	ListVersions(ctx context.Context) ([]VersionInfo, error)

	// FormerIndexes returns every tombstone ever recorded.
	FormerIndexes(ctx context.Context) ([]FormerIndexRecord, error)

	Close() error
}

// VersionInfo summarises one adopted snapshot.
type VersionInfo struct {
	Version     int       `json:"version"`
	RecordTypes int       `json:"record_types"`
	Indexes     int       `json:"indexes"`
	CreatedAt   time.Time `json:"created_at"`
}

// SnapshotRecord is an adopted snapshot with its catalog row.
type SnapshotRecord struct {
	VersionInfo
	MetaData *metadata.MetaData `json:"metadata"`
}

// FormerIndexRecord is a stored tombstone.
type FormerIndexRecord struct {
	metadata.FormerIndex
	RecordedAt time.Time `json:"recorded_at"`
}

// Adoption reports the outcome of Adopt.
type Adoption struct {
	// PreviousVersion is 0 when md is the first snapshot.
	PreviousVersion int `json:"previous_version"`
	Version         int `json:"version"`

	// Unchanged is set when md is identical to the latest snapshot.
	Unchanged bool `json:"unchanged"`

	// ArchivePath is the object the snapshot was archived to, if any.
	ArchivePath string `json:"archive_path,omitempty"`
}

// Options configures a SQLiteCatalog.
type Options struct {
	// Archiver, when set, receives every newly adopted snapshot.
	Archiver *Archiver

	Logger *logging.Logger
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Serializes adoptions

	archiver *Archiver
	logger   *logging.Logger
	now      func() time.Time
}

// NewCatalog opens (creating if needed) the catalog at dbPath.
func NewCatalog(dbPath string, opts Options) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, rlerrors.NewStorageError("manifest: failed to open read database", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &SQLiteCatalog{
		db:       db,
		readDB:   readDB,
		dbPath:   dbPath,
		archiver: opts.Archiver,
		logger:   logging.OrNop(opts.Logger).WithComponent("manifest"),
		now:      time.Now,
	}
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, rlerrors.NewStorageError("manifest: failed to initialize schema", err)
	}
	return c, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Adopt runs build-new/validate-against-latest/swap in one write
// transaction. A rejected snapshot leaves the catalog untouched.
func (c *SQLiteCatalog) Adopt(ctx context.Context, md *metadata.MetaData, opts evolution.Options) (*Adoption, error) {
	if md == nil {
		return nil, rlerrors.NewInvalidArgument("manifest: nil metadata")
	}
	encoded, err := json.Marshal(md)
	if err != nil {
		return nil, rlerrors.NewInternalError("manifest: failed to encode snapshot", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to begin transaction", err)
	}
	defer tx.Rollback()

	latest, latestJSON, err := latestSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	adoption := &Adoption{Version: md.Version()}
	if latest != nil {
		adoption.PreviousVersion = latest.Version()
		if latest.Version() == md.Version() {
			if latestJSON == string(encoded) {
				adoption.Unchanged = true
				return adoption, nil
			}
			err := rlerrors.NewInvalidArgument("manifest: metadata version %d is already adopted with different content", md.Version())
			c.logger.LogEvolution(ctx, latest.Version(), md.Version(), 0, err)
			return nil, err
		}
		res, err := evolution.Validate(latest, md, opts)
		if err != nil {
			c.logger.LogEvolution(ctx, latest.Version(), md.Version(), 0, err)
			return nil, err
		}
		if !res.Valid {
			err := evolution.ValidateAndThrow(latest, md, opts)
			c.logger.LogEvolution(ctx, latest.Version(), md.Version(), len(res.Errors), err)
			return nil, err
		}
	}
	if err := checkRetiredNames(ctx, tx, md); err != nil {
		c.logger.LogEvolution(ctx, adoption.PreviousVersion, md.Version(), 1, err)
		return nil, err
	}

	now := c.now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata_snapshots (version, snapshot_json, record_types, indexes, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		md.Version(), string(encoded), len(md.RecordTypes()), len(md.Indexes()), now.Unix(),
	); err != nil {
		return nil, rlerrors.NewStorageError(fmt.Sprintf("manifest: failed to insert snapshot v%d", md.Version()), err)
	}
	for _, f := range md.FormerIndexes() {
		var formerName *string
		if f.FormerName != "" {
			formerName = &f.FormerName
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO former_indexes (name, added_version, removed_version, former_name, recorded_at)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			f.Name, f.AddedVersion, f.RemovedVersion, formerName, now.Unix(),
		); err != nil {
			return nil, rlerrors.NewStorageError(fmt.Sprintf("manifest: failed to record former index %q", f.Name), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to commit adoption", err)
	}
	c.logger.LogEvolution(ctx, adoption.PreviousVersion, md.Version(), 0, nil)

	if c.archiver != nil {
		path, err := c.archiver.Archive(ctx, md)
		if err != nil {
			// Already committed; the archive can be rewritten later.
			c.logger.WarnContext(ctx, "snapshot archive failed", "version", md.Version(), "error", err)
		} else {
			adoption.ArchivePath = path
		}
	}
	return adoption, nil
}

// Check reports how md would fare against the latest snapshot. The first
// snapshot is always valid.
func (c *SQLiteCatalog) Check(ctx context.Context, md *metadata.MetaData, opts evolution.Options) (evolution.Result, error) {
	if md == nil {
		return evolution.Result{}, rlerrors.NewInvalidArgument("manifest: nil metadata")
	}
	latest, err := c.Latest(ctx)
	if err != nil {
		if errors.Is(err, rlerrors.ErrNotFound) {
			return evolution.Result{Valid: true}, nil
		}
		return evolution.Result{}, err
	}
	return evolution.Validate(latest.MetaData, md, opts)
}

// Latest returns the highest adopted version, or NOT_FOUND on an empty
// catalog.
func (c *SQLiteCatalog) Latest(ctx context.Context) (*SnapshotRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		`SELECT version, snapshot_json, record_types, indexes, created_at
		 FROM metadata_snapshots ORDER BY version DESC LIMIT 1`)
	rec, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rlerrors.NewNotFound("metadata snapshot", "latest")
	}
	return rec, err
}

// Get returns one adopted version.
func (c *SQLiteCatalog) Get(ctx context.Context, version int) (*SnapshotRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		`SELECT version, snapshot_json, record_types, indexes, created_at
		 FROM metadata_snapshots WHERE version = ?`, version)
	rec, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rlerrors.NewNotFound("metadata snapshot", fmt.Sprintf("v%d", version))
	}
	return rec, err
}

// ListVersions returns every adopted version ordered by version number.
func (c *SQLiteCatalog) ListVersions(ctx context.Context) ([]VersionInfo, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT version, record_types, indexes, created_at FROM metadata_snapshots ORDER BY version ASC`)
	if err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to list versions", err)
	}
	defer rows.Close()

	var out []VersionInfo
	for rows.Next() {
		var (
			info      VersionInfo
			createdAt int64
		)
		if err := rows.Scan(&info.Version, &info.RecordTypes, &info.Indexes, &createdAt); err != nil {
			return nil, rlerrors.NewStorageError("manifest: failed to scan version", err)
		}
		info.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to list versions", err)
	}
	return out, nil
}

// FormerIndexes returns the tombstones ordered by removal version, then name.
func (c *SQLiteCatalog) FormerIndexes(ctx context.Context) ([]FormerIndexRecord, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT name, added_version, removed_version, former_name, recorded_at
		 FROM former_indexes ORDER BY removed_version ASC, name ASC`)
	if err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to list former indexes", err)
	}
	defer rows.Close()

	var out []FormerIndexRecord
	for rows.Next() {
		var (
			rec        FormerIndexRecord
			formerName sql.NullString
			recordedAt int64
		)
		if err := rows.Scan(&rec.Name, &rec.AddedVersion, &rec.RemovedVersion, &formerName, &recordedAt); err != nil {
			return nil, rlerrors.NewStorageError("manifest: failed to scan former index", err)
		}
		rec.FormerName = formerName.String
		rec.RecordedAt = time.Unix(recordedAt, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, rlerrors.NewStorageError("manifest: failed to list former indexes", err)
	}
	return out, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	// Close read connection first, then write connection
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*SnapshotRecord, error) {
	var (
		rec       SnapshotRecord
		body      string
		createdAt int64
	)
	if err := row.Scan(&rec.Version, &body, &rec.RecordTypes, &rec.Indexes, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, rlerrors.NewStorageError("manifest: failed to read snapshot", err)
	}
	md, err := metadata.Parse([]byte(body))
	if err != nil {
		return nil, rlerrors.NewInternalError(fmt.Sprintf("manifest: stored snapshot v%d is corrupt", rec.Version), err)
	}
	rec.MetaData = md
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// latestSnapshot reads the latest snapshot inside tx. It returns nil when
// the catalog is empty.
func latestSnapshot(ctx context.Context, tx *sql.Tx) (*metadata.MetaData, string, error) {
	var body string
	err := tx.QueryRowContext(ctx,
		`SELECT snapshot_json FROM metadata_snapshots ORDER BY version DESC LIMIT 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", rlerrors.NewStorageError("manifest: failed to read latest snapshot", err)
	}
	md, err := metadata.Parse([]byte(body))
	if err != nil {
		return nil, "", rlerrors.NewInternalError("manifest: latest snapshot is corrupt", err)
	}
	return md, body, nil
}

// checkRetiredNames rejects indexes that reuse any recorded tombstone name,
// including tombstones the latest snapshot no longer lists.
func checkRetiredNames(ctx context.Context, tx *sql.Tx, md *metadata.MetaData) error {
	for _, idx := range md.Indexes() {
		var removed int
		err := tx.QueryRowContext(ctx,
			`SELECT removed_version FROM former_indexes WHERE name = ?`, idx.Name).Scan(&removed)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return rlerrors.NewStorageError("manifest: failed to check former indexes", err)
		}
		v := evolution.Violation{
			Kind:    evolution.FormerIndexConflict,
			Subject: idx.Name,
			Message: fmt.Sprintf("index name was retired in version %d", removed),
		}
		return rlerrors.New(rlerrors.ErrCategoryEvolution, rlerrors.CodeEvolutionValidationFailed, v.String()).
			WithDetails(map[string]interface{}{
				"kind":    string(v.Kind),
				"subject": v.Subject,
			})
	}
	return nil
}
