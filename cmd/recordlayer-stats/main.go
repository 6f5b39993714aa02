// Package main implements recordlayer-stats, an offline tool that collects
// and inspects planner statistics and explains query plans. It opens the
// record store directly, so the server must not be running.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/arkilian/recordlayer/internal/app"
	"github.com/arkilian/recordlayer/internal/config"
	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/query/parser"
	"github.com/arkilian/recordlayer/internal/query/planner"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitConfig  = 2
	ExitFailure = 4
)

func main() {
	var (
		configFile string
		dataDir    string
		jsonOut    bool
	)
	fs := flag.NewFlagSet("recordlayer-stats", flag.ExitOnError)
	fs.StringVarP(&configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: recordlayer-stats [options] <command> [args]

Commands:
  collect [--type T] [--rate R] [--index I]...   Collect statistics
  show <record type>                             Print stored table statistics
  explain <query>                                Print the plan chosen for a query

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

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(ExitConfig)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitConfig)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitConfig)
	}

	ctx := context.Background()
	res, err := app.Open(ctx, cfg, logging.New(cfg.Log.Level, cfg.Log.Format))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}

	var code int
	switch args[0] {
	case "collect":
		code = runCollect(ctx, res, cfg, args[1:], jsonOut)
	case "show":
		code = runShow(ctx, res, args[1:], jsonOut)
	case "explain":
		code = runExplain(ctx, res, args[1:], jsonOut)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		fs.Usage()
		code = ExitUsage
	}
	if err := res.Close(); err != nil && code == ExitOK {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = ExitFailure
	}
	os.Exit(code)
}

func runCollect(ctx context.Context, res *app.Resources, cfg *config.Config, args []string, jsonOut bool) int {
	fs := flag.NewFlagSet("collect", flag.ContinueOnError)
	recordType := fs.String("type", "", "Record type to collect (default: all)")
	rate := fs.Float64("rate", cfg.Statistics.SampleRate, "Sample rate in (0, 1]")
	indexes := fs.StringSlice("index", nil, "Index to collect after the tables (repeatable)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	names := res.RecordTypeNames()
	if *recordType != "" {
		names = []string{*recordType}
	}
	tables, err := res.Statistics.CollectAll(ctx, names, *rate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}

	out := map[string]any{"tables": tables}
	var indexStats []any
	for _, name := range *indexes {
		is, err := res.Statistics.CollectIndexStatistics(ctx, name, res.Store.IndexSubspace(name),
			cfg.Statistics.Buckets, cfg.Statistics.ReservoirSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: index %s: %v\n", name, err)
			return ExitFailure
		}
		indexStats = append(indexStats, is)
		if !jsonOut {
			fmt.Printf("index %-24s entries=%d sampled=%d buckets=%d\n", is.Index, is.Entries, is.SampledEntries, is.BucketCount)
		}
	}
	out["indexes"] = indexStats

	if jsonOut {
		printJSON(out)
		return ExitOK
	}
	sort.Strings(names)
	for _, name := range names {
		ts := tables[name]
		if ts == nil {
			continue
		}
		fmt.Printf("table %-24s sampled=%d estimated_rows=%d fields=%d\n", name, ts.SampledRows, ts.EstimatedRowCount, len(ts.Fields))
	}
	return ExitOK
}

func runShow(ctx context.Context, res *app.Resources, args []string, jsonOut bool) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: recordlayer-stats show <record type>")
		return ExitUsage
	}
	ts, err := res.Statistics.TableStatistics(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	if jsonOut {
		printJSON(ts)
		return ExitOK
	}
	fmt.Printf("%s: sampled %d of ~%d rows at rate %g, collected %s\n",
		ts.RecordType, ts.SampledRows, ts.EstimatedRowCount, ts.SampleRate, ts.CollectedAt.Format("2006-01-02 15:04:05"))
	keys := make([]string, 0, len(ts.Fields))
	for k := range ts.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := ts.Fields[k]
		fmt.Printf("  %-32s non_null=%-8d distinct=%-8d null_fraction=%.3f\n",
			k, f.NonNull, f.Distinct, f.NullFraction(ts.SampledRows))
	}
	return ExitOK
}

func runExplain(ctx context.Context, res *app.Resources, args []string, jsonOut bool) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: recordlayer-stats explain <query>")
		return ExitUsage
	}
	q, err := parser.Parse(strings.Join(args, " "))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitUsage
	}
	plan, err := res.Executor.Plan(ctx, q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	if jsonOut {
		printJSON(planner.Describe(plan))
		return ExitOK
	}
	fmt.Println(plan.Explain())
	return ExitOK
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
