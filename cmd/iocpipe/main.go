// Package main provides the iocpipe batch runner: read a candidate
// indicator file, enrich with live progress, index every result, and
// print a run summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/config"
	"github.com/tnguyen-sec/iocpipe/internal/enrich"
	"github.com/tnguyen-sec/iocpipe/internal/model"
	"github.com/tnguyen-sec/iocpipe/internal/observability"
	"github.com/tnguyen-sec/iocpipe/internal/pipeline"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	inputPath := flag.String("input", "", "Path to candidate indicators JSON file")
	limit := flag.Int("limit", 0, "Max indicators to enrich (0 = all)")
	concurrency := flag.Int("concurrency", 0, "Override configured concurrency")
	skipWhois := flag.Bool("skip-whois", false, "Skip the WHOIS step")
	skipExternal := flag.Bool("skip-external", false, "Skip external reputation lookups")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("iocpipe %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}
	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: iocpipe -input indicators.json [-config configs/config.yaml]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *limit > 0 {
		cfg.Pipeline.Limit = *limit
	}
	if *concurrency > 0 {
		cfg.Pipeline.Concurrency = *concurrency
	}
	if *skipWhois {
		cfg.Pipeline.SkipWhois = true
	}
	if *skipExternal {
		cfg.Pipeline.SkipExternal = true
	}

	telemetry, err := observability.New(observability.Config{
		ServiceName:    "iocpipe",
		ServiceVersion: Version,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		MetricsEnabled: false,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.Logger()
	defer telemetry.Shutdown(context.Background())

	if err := run(cfg, *inputPath, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, inputPath string, logger *zap.Logger) error {
	candidates, err := loadCandidates(inputPath, logger)
	if err != nil {
		return err
	}
	logger.Info("loaded candidates",
		zap.Int("count", len(candidates)),
		zap.String("input", inputPath))

	var journal *enrich.Journal
	if cfg.Journal.Enabled {
		journal, err = enrich.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Build(ctx, cfg, journal, logger, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	progress := make(chan enrich.Event, 64)
	var printer sync.WaitGroup
	printer.Add(1)
	go func() {
		defer printer.Done()
		for ev := range progress {
			fmt.Printf("[%3d/%d] %-40s %-12s %s\n", ev.Index, ev.Total, ev.ID, ev.Step, ev.Status)
		}
	}()

	started := time.Now()
	results, runErr := p.Orchestrator.Run(ctx, candidates, progress)
	printer.Wait()
	if runErr != nil && runErr != context.Canceled {
		return runErr
	}

	now := time.Now().UTC()
	var docs []*model.Document
	var created int
	for _, res := range results {
		doc, isNew, err := p.Indexer.Upsert(ctx, res.Indicator, res.Bundle, now)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", res.Indicator.Key(), err)
		}
		if isNew {
			created++
		}
		docs = append(docs, doc)
	}

	printSummary(docs, created, time.Since(started))
	if runErr == context.Canceled {
		fmt.Println("run interrupted; partial results indexed")
	}
	return nil
}

func printSummary(docs []*model.Document, created int, elapsed time.Duration) {
	buckets := map[model.RiskBucket]int{}
	var sum int
	for _, doc := range docs {
		buckets[doc.RiskBucket]++
		sum += doc.Confidence
	}

	fmt.Println()
	fmt.Printf("enriched %d indicators in %s (%d new)\n", len(docs), elapsed.Round(time.Millisecond), created)
	if len(docs) == 0 {
		return
	}

	fmt.Printf("buckets: high=%d medium=%d low=%d\n",
		buckets[model.RiskHigh], buckets[model.RiskMedium], buckets[model.RiskLow])
	fmt.Printf("average score: %.1f\n", float64(sum)/float64(len(docs)))

	top := make([]*model.Document, len(docs))
	copy(top, docs)
	sort.Slice(top, func(i, j int) bool { return top[i].Confidence > top[j].Confidence })
	if len(top) > 5 {
		top = top[:5]
	}
	fmt.Println("top scores:")
	for _, doc := range top {
		fmt.Printf("  %3d  %-8s %s\n", doc.Confidence, doc.RiskBucket, doc.ID)
	}
}

// loadCandidates parses the input file and drops records that lack a
// type or value; a malformed record is logged, never indexed.
func loadCandidates(path string, logger *zap.Logger) ([]model.Indicator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	var raw []model.Indicator
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing input: %w", err)
	}

	candidates := raw[:0]
	for i, ind := range raw {
		if ind.Type == "" || strings.TrimSpace(ind.Value) == "" {
			logger.Warn("skipping malformed candidate",
				zap.Int("record", i),
				zap.String("type", string(ind.Type)),
				zap.String("value", ind.Value))
			continue
		}
		candidates = append(candidates, ind)
	}
	return candidates, nil
}
