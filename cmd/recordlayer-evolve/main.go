// Package main implements recordlayer-evolve, which checks and adopts
// metadata snapshots against the manifest catalog and reads the snapshot
// archive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/arkilian/recordlayer/internal/app"
	"github.com/arkilian/recordlayer/internal/config"
	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/evolution"
	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/manifest"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitConfig   = 2
	ExitRejected = 3
	ExitFailure  = 4
)

type globals struct {
	configFile string
	dataDir    string
	rebuilds   bool
	jsonOut    bool
}

func main() {
	var g globals
	fs := flag.NewFlagSet("recordlayer-evolve", flag.ExitOnError)
	fs.StringVarP(&g.configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&g.dataDir, "data-dir", "", "Base directory for all data files")
	fs.BoolVar(&g.rebuilds, "allow-index-rebuilds", false, "Accept index format changes that force a rebuild")
	fs.BoolVar(&g.jsonOut, "json", false, "Output as JSON")
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: recordlayer-evolve [options] <command> [args]

Commands:
  validate <file>     Check a metadata snapshot against the latest adopted one
  adopt <file>        Validate and record a metadata snapshot
  list                List adopted versions and retired index names
  show <version>      Print an adopted snapshot
  restore <version>   Print a snapshot read from the archive

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(ExitUsage)
	}
	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(ExitUsage)
	}

	cfg, err := config.Load(g.configFile)
	if err != nil {
		fail(ExitConfig, "failed to load configuration: %v", err)
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	cfg.Resolve()
	if g.rebuilds {
		cfg.Manifest.AllowIndexRebuilds = true
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fail(ExitConfig, "%v", err)
	}

	ctx := context.Background()
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	archiver, err := app.OpenArchive(ctx, cfg)
	if err != nil {
		fail(ExitConfig, "%v", err)
	}
	catalog, err := manifest.NewCatalog(cfg.Manifest.Path, manifest.Options{Archiver: archiver, Logger: logger})
	if err != nil {
		fail(ExitFailure, "failed to open manifest catalog: %v", err)
	}
	defer catalog.Close()

	opts := evolution.Options{AllowIndexRebuilds: cfg.Manifest.AllowIndexRebuilds}
	cmd, rest := args[0], args[1:]
	code := ExitOK
	switch cmd {
	case "validate":
		code = runValidate(ctx, catalog, opts, rest, g.jsonOut)
	case "adopt":
		code = runAdopt(ctx, catalog, opts, rest, g.jsonOut)
	case "list":
		code = runList(ctx, catalog, g.jsonOut)
	case "show":
		code = runShow(ctx, rest, func(v int) (any, error) {
			rec, err := catalog.Get(ctx, v)
			if err != nil {
				return nil, err
			}
			return rec.MetaData, nil
		})
	case "restore":
		if archiver == nil {
			fail(ExitConfig, "archive.type is none")
		}
		code = runShow(ctx, rest, func(v int) (any, error) {
			return archiver.Restore(ctx, v)
		})
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		fs.Usage()
		code = ExitUsage
	}
	if code != ExitOK {
		catalog.Close()
		os.Exit(code)
	}
}

func runValidate(ctx context.Context, catalog manifest.Catalog, opts evolution.Options, args []string, jsonOut bool) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: recordlayer-evolve validate <file>")
		return ExitUsage
	}
	md, err := app.LoadMetaDataFile(args[0])
	if err != nil {
		return report(err)
	}
	res, err := catalog.Check(ctx, md, opts)
	if err != nil {
		return report(err)
	}
	if jsonOut {
		printJSON(res)
	} else if res.Valid {
		fmt.Printf("version %d is a valid evolution\n", md.Version())
	} else {
		fmt.Printf("version %d is rejected:\n", md.Version())
		for _, v := range res.Errors {
			fmt.Printf("  %s\n", v)
		}
	}
	if !res.Valid {
		return ExitRejected
	}
	return ExitOK
}

func runAdopt(ctx context.Context, catalog manifest.Catalog, opts evolution.Options, args []string, jsonOut bool) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: recordlayer-evolve adopt <file>")
		return ExitUsage
	}
	md, err := app.LoadMetaDataFile(args[0])
	if err != nil {
		return report(err)
	}
	adoption, err := catalog.Adopt(ctx, md, opts)
	if err != nil {
		return report(err)
	}
	switch {
	case jsonOut:
		printJSON(adoption)
	case adoption.Unchanged:
		fmt.Printf("version %d already adopted\n", adoption.Version)
	default:
		fmt.Printf("adopted version %d (previous %d)\n", adoption.Version, adoption.PreviousVersion)
		if adoption.ArchivePath != "" {
			fmt.Printf("archived to %s\n", adoption.ArchivePath)
		}
	}
	return ExitOK
}

func runList(ctx context.Context, catalog manifest.Catalog, jsonOut bool) int {
	versions, err := catalog.ListVersions(ctx)
	if err != nil {
		return report(err)
	}
	formers, err := catalog.FormerIndexes(ctx)
	if err != nil {
		return report(err)
	}
	if jsonOut {
		printJSON(map[string]any{"versions": versions, "former_indexes": formers})
		return ExitOK
	}
	fmt.Printf("%-8s %-13s %-8s %s\n", "VERSION", "RECORD TYPES", "INDEXES", "ADOPTED")
	for _, v := range versions {
		fmt.Printf("%-8d %-13d %-8d %s\n", v.Version, v.RecordTypes, v.Indexes, v.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if len(formers) > 0 {
		fmt.Println("\nRetired index names:")
		for _, f := range formers {
			fmt.Printf("  %s (added %d, removed %d)\n", f.Name, f.AddedVersion, f.RemovedVersion)
		}
	}
	return ExitOK
}

func runShow(ctx context.Context, args []string, load func(int) (any, error)) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: version argument required")
		return ExitUsage
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid version %q\n", args[0])
		return ExitUsage
	}
	out, err := load(v)
	if err != nil {
		return report(err)
	}
	printJSON(out)
	return ExitOK
}

func report(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, rlerrors.ErrEvolutionValidationFailed) || errors.Is(err, rlerrors.ErrVersionDecreased) {
		return ExitRejected
	}
	return ExitFailure
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(code)
}
