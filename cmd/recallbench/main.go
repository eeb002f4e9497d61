// recallbench measures retrieval quality over synthetic corpora:
// per-channel isolation, reciprocal-rank fusion, cross-encoder
// reranking, and distance-threshold sensitivity across corpus scales.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"recallbench/internal/config"
	"recallbench/internal/corpus"
	"recallbench/internal/experiment"
	"recallbench/internal/inference"
	"recallbench/internal/report"
)

const version = "0.1.0"

func main() {
	log.SetOutput(os.Stderr)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "seed":
		runSeed(os.Args[2:])
	case "channels":
		runChannels(os.Args[2:])
	case "fuse":
		runFuse(os.Args[2:])
	case "rerank":
		runRerank(os.Args[2:])
	case "sweep":
		runSweep(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "version":
		fmt.Printf("recallbench v%s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// commonFlags are shared by every corpus-building command.
type commonFlags struct {
	configFile *string
	results    *string
	store      *string
	seed       *int64
	parquet    *bool
	verbose    *bool
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configFile: fs.String("config", "", "YAML config file overlaid on the environment"),
		results:    fs.String("results", "", "Results directory (default ./results)"),
		store:      fs.String("store", "", "Store backend: sqlite or postgres"),
		seed:       fs.Int64("seed", 0, "Random seed for corpus shuffling"),
		parquet:    fs.Bool("parquet", false, "Also write distance records as Parquet"),
		verbose:    fs.Bool("v", false, "Verbose logging with timestamps"),
	}
}

// loadConfig resolves configuration with flags winning over the config
// file, the file over the environment, and the environment over
// defaults.
func loadConfig(cf *commonFlags) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	if *cf.configFile != "" {
		if err := cfg.LoadFile(*cf.configFile); err != nil {
			fatal(err)
		}
	}
	if *cf.results != "" {
		cfg.Output.ResultsDir = *cf.results
	}
	if *cf.store != "" {
		cfg.Store.Backend = *cf.store
	}
	if *cf.seed != 0 {
		cfg.Corpus.RandomSeed = *cf.seed
	}
	if *cf.parquet {
		cfg.Output.Parquet = true
	}
	if cfg.Output.NoColor {
		color.NoColor = true
	}
	if *cf.verbose {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		log.SetFlags(0)
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildRunner wires the inference stack and background cache into an
// experiment runner. A cache that fails to open degrades to corpus
// shortfalls rather than blocking the run.
func buildRunner(cfg *config.Config) (*experiment.Runner, func()) {
	client := inference.NewClient(
		inference.WithBaseURL(cfg.Inference.BaseURL),
		inference.WithAPIKey(cfg.Inference.APIKey),
		inference.WithEmbedModel(cfg.Inference.EmbedModel),
		inference.WithGenModel(cfg.Inference.GenModel),
		inference.WithDimension(cfg.Inference.EmbedDimension),
		inference.WithEmbedTimeout(cfg.Inference.EmbedTimeout),
		inference.WithGenTimeout(cfg.Inference.GenTimeout),
	)
	rc := inference.DefaultRetryConfig()
	if cfg.Inference.MaxRetries > 0 {
		rc.MaxAttempts = cfg.Inference.MaxRetries
	}
	svc := inference.NewStack(client, rc, inference.DefaultBreakerConfig())

	var cache *corpus.Cache
	if dir, err := cfg.ResolveCacheDir(); err != nil {
		log.Printf("[main] warn: background cache disabled: %v", err)
	} else if cache, err = corpus.OpenCache(dir, svc); err != nil {
		log.Printf("[main] warn: background cache disabled: %v", err)
		cache = nil
	}
	cleanup := func() {
		if cache != nil {
			if err := cache.Close(); err != nil {
				log.Printf("[main] closing cache: %v", err)
			}
		}
	}
	return experiment.NewRunner(cfg, svc, cache), cleanup
}

func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	size := fs.Int("size", 100, "Corpus size to build")
	paraphrase := fs.Int("paraphrase", 0, "Paraphrase multiplier M (inserts M-1 generated variants per seed)")
	fromDir := fs.String("from-dir", "", "Mix *.txt/*.md files under this directory into the corpus")
	cf := registerCommon(fs)
	fs.Parse(args)

	cfg := loadConfig(cf)
	if *paraphrase > 0 {
		cfg.Corpus.ParaphraseMultiplier = *paraphrase
	}
	if *fromDir != "" {
		cfg.Corpus.SeedDir = *fromDir
	}

	ctx, stop := signalContext()
	defer stop()
	runner, cleanup := buildRunner(cfg)
	defer cleanup()

	sum, err := runner.RunSeed(ctx, *size)
	if err != nil {
		fatal(err)
	}
	report.Render(os.Stdout, sum)
}

func runChannels(args []string) {
	fs := flag.NewFlagSet("channels", flag.ExitOnError)
	size := fs.Int("size", 100, "Corpus size to build")
	cf := registerCommon(fs)
	fs.Parse(args)
	cfg := loadConfig(cf)

	ctx, stop := signalContext()
	defer stop()
	runner, cleanup := buildRunner(cfg)
	defer cleanup()

	sum, err := runner.RunChannels(ctx, *size)
	if err != nil {
		fatal(err)
	}
	report.Render(os.Stdout, sum)
}

func runFuse(args []string) {
	fs := flag.NewFlagSet("fuse", flag.ExitOnError)
	size := fs.Int("size", 100, "Corpus size to build")
	rrfK := fs.Int("rrf-k", 0, "Reciprocal-rank-fusion smoothing constant (default 60)")
	top := fs.Int("top", 0, "Fused ranking length (default 10)")
	cf := registerCommon(fs)
	fs.Parse(args)

	cfg := loadConfig(cf)
	if *rrfK > 0 {
		cfg.Eval.RRFK = *rrfK
	}
	if *top > 0 {
		cfg.Eval.FuseTop = *top
	}

	ctx, stop := signalContext()
	defer stop()
	runner, cleanup := buildRunner(cfg)
	defer cleanup()

	sum, err := runner.RunFuse(ctx, *size)
	if err != nil {
		fatal(err)
	}
	report.Render(os.Stdout, sum)
}

func runRerank(args []string) {
	fs := flag.NewFlagSet("rerank", flag.ExitOnError)
	size := fs.Int("size", 100, "Corpus size to build")
	candidates := fs.Int("candidates", 0, "Fused candidates judged per query (default 20)")
	top := fs.Int("top", 0, "Reranked output length (default 10)")
	cf := registerCommon(fs)
	fs.Parse(args)

	cfg := loadConfig(cf)
	if *candidates > 0 {
		cfg.Eval.RerankCandidates = *candidates
	}
	if *top > 0 {
		cfg.Eval.RerankTop = *top
	}

	ctx, stop := signalContext()
	defer stop()
	runner, cleanup := buildRunner(cfg)
	defer cleanup()

	sum, err := runner.RunRerank(ctx, *size)
	if err != nil {
		fatal(err)
	}
	report.Render(os.Stdout, sum)
}

func runSweep(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	scalesFlag := fs.String("scales", "", "Comma-separated corpus scales (default 10,100,1000,10000)")
	size := fs.Int("size", 0, "Single-scale shorthand for --scales N")
	cf := registerCommon(fs)
	fs.Parse(args)

	cfg := loadConfig(cf)
	var scales []int
	if *size > 0 {
		scales = []int{*size}
	}
	if *scalesFlag != "" {
		scales = nil
		for _, part := range strings.Split(*scalesFlag, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 1 {
				fatal(fmt.Errorf("invalid scale %q", part))
			}
			scales = append(scales, n)
		}
	}

	ctx, stop := signalContext()
	defer stop()
	runner, cleanup := buildRunner(cfg)
	defer cleanup()

	sum, err := runner.RunSweep(ctx, scales)
	if err != nil {
		fatal(err)
	}
	report.Render(os.Stdout, sum)
}

func runReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	results := fs.String("results", "results", "Results directory to re-render")
	fs.Parse(args)
	log.SetFlags(0)

	if err := report.Regenerate(*results); err != nil {
		fatal(err)
	}
	runs, err := report.ListRuns(*results)
	if err != nil {
		fatal(err)
	}
	if len(runs) == 0 {
		fmt.Println("no completed runs found")
		return
	}

	latest := runs[len(runs)-1]
	var sum report.RunSummary
	if err := report.ReadJSON(filepath.Join(latest, report.SummaryJSON), &sum); err != nil {
		fatal(err)
	}
	report.Render(os.Stdout, &sum)
	fmt.Printf("\nindex: %s\n", filepath.Join(*results, report.IndexMD))
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	results := fs.String("results", "results", "Results directory to watch")
	debounce := fs.Duration("debounce", report.DefaultDebounce, "Delay before re-rendering after a change")
	fs.Parse(args)
	log.SetFlags(0)

	ctx, stop := signalContext()
	defer stop()
	if err := report.Watch(ctx, *results, *debounce); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`recallbench - retrieval quality harness for synthetic corpora

Usage:
  recallbench <command> [options]

Commands:
  seed      Build a corpus and report final counts
  channels  Evaluate each retrieval channel in isolation
  fuse      Compare reciprocal-rank fusion against single channels
  rerank    Compare cross-encoder reranking against plain fusion
  sweep     Measure distance-threshold sensitivity across corpus scales
  report    Re-render summaries and the index from a results directory
  watch     Watch a results directory and re-render on change
  version   Print version
  help      Show this help

Common Options:
  --config <file>    YAML config file overlaid on the environment
  --results <dir>    Results directory (default ./results)
  --store <backend>  sqlite (default) or postgres
  --seed <n>         Random seed for corpus shuffling
  --parquet          Also write distance records as Parquet
  -v                 Verbose logging

Command Options:
  seed:     --size N --paraphrase M --from-dir <path>
  channels: --size N
  fuse:     --size N --rrf-k K --top N
  rerank:   --size N --candidates M --top N
  sweep:    --scales 10,100,1000,10000 | --size N
  report:   --results <dir>
  watch:    --results <dir> --debounce <duration>

Examples:
  # Compare fusion against single channels on a 1000-entry corpus
  recallbench fuse --size 1000

  # Full sensitivity sweep with Parquet output
  recallbench sweep --scales 10,100,1000,10000 --parquet

  # Keep the results index fresh while a sweep runs elsewhere
  recallbench watch --results ./results`)
}
