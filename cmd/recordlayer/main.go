// Package main implements the recordlayer server binary: the HTTP record,
// query, statistics and metadata API plus a gRPC health endpoint.
package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/arkilian/recordlayer/internal/app"
	"github.com/arkilian/recordlayer/internal/config"
	"github.com/arkilian/recordlayer/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		grpcAddr    string
		bootstrap   string
		logLevel    string
		showVersion bool
	)

	flag.StringVarP(&configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address")
	flag.StringVar(&bootstrap, "bootstrap", "", "Metadata JSON adopted when the catalog is empty")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `recordlayer - record store with metadata evolution and cost-based planning

Usage: recordlayer [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  recordlayer --data-dir /data/recordlayer --bootstrap schema.json
  recordlayer --config /etc/recordlayer/config.yaml

Environment Variables:
  RECORDLAYER_DATA_DIR        Base directory for data files
  RECORDLAYER_HTTP_ADDR       HTTP listen address
  RECORDLAYER_GRPC_ADDR       gRPC listen address
  RECORDLAYER_ARCHIVE_TYPE    Snapshot archive (none, local, s3)
  RECORDLAYER_LOG_LEVEL       Log level
`)
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("recordlayer version %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if bootstrap != "" {
		cfg.Manifest.Bootstrap = bootstrap
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting recordlayer", "version", version, "commit", commit, "data_dir", cfg.DataDir)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		logger.Error("failed to start application", "error", err)
		os.Exit(1)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
