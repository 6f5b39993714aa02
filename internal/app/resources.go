package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/arkilian/recordlayer/internal/config"
	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/evolution"
	"github.com/arkilian/recordlayer/internal/keyspace"
	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/manifest"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/observability"
	"github.com/arkilian/recordlayer/internal/query/executor"
	"github.com/arkilian/recordlayer/internal/query/planner"
	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/internal/statistics"
	"github.com/arkilian/recordlayer/internal/storage"
)

// Directory layer tags of the kv store's top-level subspaces. Each is
// allocated under its own path and layer by the directory layer.
const (
	RecordsLayer    = "recordstore"
	StatisticsLayer = "statistics"
)

var (
	recordsPath    = []string{"recordlayer", "records"}
	statisticsPath = []string{"recordlayer", "statistics"}
)

// Resources are the components shared by the server and the CLI tools.
type Resources struct {
	DB         *kv.Database
	Directory  *keyspace.DirectoryLayer
	Catalog    manifest.Catalog
	Archiver   *manifest.Archiver
	Store      *recordstore.Store
	Statistics *statistics.Manager
	Executor   *executor.Executor
	QueryStats *observability.QueryStats
	Evolution  evolution.Options

	logger *logging.Logger
}

// OpenArchive builds the snapshot archiver named by cfg.Archive, or nil when
// archiving is off.
func OpenArchive(ctx context.Context, cfg *config.Config) (*manifest.Archiver, error) {
	var (
		store storage.ObjectStorage
		err   error
	)
	switch cfg.Archive.Type {
	case "", "none":
		return nil, nil
	case "local":
		store, err = storage.NewLocalStorage(cfg.Archive.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Archive.S3.Region != "" {
			s3Cfg.Region = cfg.Archive.S3.Region
		}
		s3Cfg.Endpoint = cfg.Archive.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Archive.S3.UsePathStyle
		store, err = storage.NewS3Storage(ctx, cfg.Archive.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Archive.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize archive storage: %w", err)
	}
	return manifest.NewArchiver(store, cfg.Archive.Prefix), nil
}

// Open opens the kv store and the manifest catalog, activates the latest
// adopted snapshot and builds the query stack over it. An empty catalog is
// seeded from cfg.Manifest.Bootstrap when set, otherwise the store starts
// with an empty version 0 snapshot.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Resources, error) {
	logger = logging.OrNop(logger)
	r := &Resources{
		Evolution: evolution.Options{AllowIndexRebuilds: cfg.Manifest.AllowIndexRebuilds},
		logger:    logger.WithComponent("app"),
	}

	var err error
	r.DB, err = kv.Open(kv.Options{
		Path:    cfg.Store.Path,
		Timeout: cfg.Store.TxTimeout,
		NoSync:  cfg.Store.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	r.Archiver, err = OpenArchive(ctx, cfg)
	if err != nil {
		r.Close()
		return nil, err
	}

	r.Catalog, err = manifest.NewCatalog(cfg.Manifest.Path, manifest.Options{
		Archiver: r.Archiver,
		Logger:   logger,
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open manifest catalog: %w", err)
	}

	md, err := r.activeMetaData(ctx, cfg.Manifest.Bootstrap)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.logger.Info("metadata active", "version", md.Version(),
		"record_types", len(md.RecordTypes()), "indexes", len(md.Indexes()))

	r.Directory = keyspace.NewDirectoryLayer()
	recordsSub, err := r.Directory.CreateOrOpen(ctx, r.DB, recordsPath, RecordsLayer)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open record subspace: %w", err)
	}
	statsSub, err := r.Directory.CreateOrOpen(ctx, r.DB, statisticsPath, StatisticsLayer)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open statistics subspace: %w", err)
	}

	r.Store = recordstore.New(r.DB, md, recordsSub, logger)
	if _, err := r.Store.Activate(ctx, md); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to build indexes: %w", err)
	}

	statsOpts := cfg.StatisticsOptions()
	statsOpts.Logger = logger
	r.Statistics = statistics.NewManager(r.Store, statsSub, statsOpts)

	r.QueryStats = observability.NewQueryStats(cfg.Planner.PredicateWindow)
	p := planner.New(planner.Options{
		FullScanThreshold: cfg.Planner.FullScanThreshold,
		Defaults:          cfg.Statistics.Defaults,
		Stats:             r.QueryStats,
		Logger:            logger,
	})
	r.Executor = executor.New(r.Store, executor.Config{
		Planner:    p,
		Statistics: r.Statistics,
		Logger:     logger,
	})
	return r, nil
}

func (r *Resources) activeMetaData(ctx context.Context, bootstrap string) (*metadata.MetaData, error) {
	latest, err := r.Catalog.Latest(ctx)
	if err == nil {
		return latest.MetaData, nil
	}
	if !errors.Is(err, rlerrors.ErrNotFound) {
		return nil, err
	}
	if bootstrap == "" {
		return metadata.NewBuilder().Build()
	}

	md, err := LoadMetaDataFile(bootstrap)
	if err != nil {
		return nil, err
	}
	if _, err := r.Catalog.Adopt(ctx, md, r.Evolution); err != nil {
		return nil, fmt.Errorf("failed to adopt bootstrap metadata: %w", err)
	}
	r.logger.Info("bootstrap metadata adopted", "path", bootstrap, "version", md.Version())
	return md, nil
}

// LoadMetaDataFile reads a JSON metadata snapshot from disk.
func LoadMetaDataFile(path string) (*metadata.MetaData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	md, err := metadata.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return md, nil
}

// Adopt records md in the catalog and makes it the store's active metadata.
func (r *Resources) Adopt(ctx context.Context, md *metadata.MetaData) (*manifest.Adoption, error) {
	adoption, err := r.Catalog.Adopt(ctx, md, r.Evolution)
	if err != nil {
		return nil, err
	}
	if _, err := r.Store.Activate(ctx, md); err != nil {
		return nil, err
	}
	return adoption, nil
}

// RecordTypeNames lists the active record types.
func (r *Resources) RecordTypeNames() []string {
	var names []string
	for _, rt := range r.Store.MetaData().RecordTypes() {
		names = append(names, rt.Name)
	}
	return names
}

// Close releases the catalog and the kv store.
func (r *Resources) Close() error {
	var errs []error
	if r.Catalog != nil {
		errs = append(errs, r.Catalog.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}
