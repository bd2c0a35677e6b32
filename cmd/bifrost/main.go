// Package main provides the Bifrost CLI entry point.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/bifrost/pkg/bifrost"
	"github.com/orneryd/bifrost/pkg/config"
	"github.com/orneryd/bifrost/pkg/logging"
	"github.com/orneryd/bifrost/pkg/query"
	"github.com/orneryd/bifrost/pkg/registry"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

var (
	configPath string

	benchQueries  int
	benchWorkers  int
	benchKeySpace int
	benchLatency  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bifrost",
		Short: "Bifrost - Memory-aware database access layer",
		Long: `Bifrost wraps database connections and query functions with a
TTL result cache, heap-pressure gating and per-query statistics.

Features:
  • Single-flight result caching with TTL expiry
  • Heap sampling with pressure-driven cache eviction
  • Per-query latency and hit-rate statistics
  • Performance analysis with actionable recommendations`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to bifrost.yaml (default: auto-detect)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Bifrost v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic cached workload and print statistics",
		Long: `Run a synthetic workload against a stub query source: concurrent
workers issue cacheable lookups over a bounded key space, then the
statistics snapshot and performance analysis are printed.`,
		RunE: runBench,
	}
	benchCmd.Flags().IntVar(&benchQueries, "queries", 10000, "Total queries to issue")
	benchCmd.Flags().IntVar(&benchWorkers, "workers", 8, "Concurrent workers")
	benchCmd.Flags().IntVar(&benchKeySpace, "keyspace", 100, "Distinct argument values")
	benchCmd.Flags().DurationVar(&benchLatency, "latency", 2*time.Millisecond, "Simulated backend latency per miss")
	rootCmd.AddCommand(benchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.Init(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync() }()

	mgr, err := bifrost.New(cfg, bifrost.WithLogger(log))
	if err != nil {
		return err
	}
	defer mgr.Close()

	if _, err := mgr.RegisterConnection("bench", struct{}{}, registry.Metadata{
		Backend:   registry.BackendRelational,
		IsPrimary: true,
	}); err != nil {
		return err
	}

	latency := benchLatency
	lookup := mgr.OptimizeQuery(func(ctx context.Context, args ...any) (any, error) {
		time.Sleep(latency)
		return fmt.Sprintf("row-%v", args[0]), nil
	}, query.Options{
		Name:        "benchLookup",
		Eligibility: query.CacheAlways(),
	})

	fmt.Printf("Running %d queries across %d workers (keyspace %d)...\n",
		benchQueries, benchWorkers, benchKeySpace)
	start := time.Now()

	var wg sync.WaitGroup
	perWorker := benchQueries / benchWorkers
	for w := 0; w < benchWorkers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				if _, err := lookup(context.Background(), rng.Intn(benchKeySpace)); err != nil {
					log.Warn("bench query failed")
					return
				}
			}
		}(int64(w))
	}
	wg.Wait()
	elapsed := time.Since(start)

	stats := mgr.GetStatistics()
	fmt.Printf("\nCompleted in %s\n\n", elapsed.Round(time.Millisecond))
	fmt.Println("Queries:")
	for _, rec := range stats.Queries {
		fmt.Printf("  %-16s calls=%-6d hits=%-6d misses=%-6d errors=%-4d avg=%.1fms max=%dms hit-rate=%.0f%%\n",
			rec.Name, rec.Calls, rec.CacheHits, rec.CacheMisses, rec.Errors,
			rec.AvgLatencyMs(), rec.MaxLatencyMs, rec.HitRate()*100)
	}
	fmt.Printf("\nCache: entries=%d size~%s hits=%d misses=%d evictions=%d\n",
		stats.Cache.EntryCount,
		config.FormatMemorySize(stats.Cache.TotalSizeEstimateBytes),
		stats.Cache.Hits, stats.Cache.Misses, stats.Cache.Evictions)
	fmt.Printf("Memory: heap=%.1fMB ratio=%.0f%% degraded=%t\n",
		stats.Memory.HeapUsedMB, stats.Memory.HeapUsedRatio*100, stats.Memory.Degraded)

	report := mgr.AnalyzeQueryPerformance()
	if len(report.Issues) == 0 {
		fmt.Println("\nAnalysis: no issues detected")
		return nil
	}
	fmt.Println("\nAnalysis:")
	for i, issue := range report.Issues {
		fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Type, issue.Message)
		fmt.Printf("    -> %s\n", report.Recommendations[i].Action)
	}
	return nil
}
