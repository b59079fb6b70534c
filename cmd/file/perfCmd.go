package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf [url]",
		Short:   "Performance testing tool for root:// servers",
		Long:    "Runs ping, stat and read benchmarks against a file. The url must point to a readable file.",
		Args:    cobra.ExactArgs(1),
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfBlockSize  = 4096
	perfSkip       = make([]string, 0)

	// latency of every single operation, keyed by benchmark name
	perfTimers = gometrics.NewRegistry()
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", "Benchmarks to skip (comma separated - e.g. ping,stat)")
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, "Number of threads to use for the benchmark")
	key = "block-size"
	perfTestCmd.Flags().Int(key, 4096, "Size of a single read in bytes")
	key = "csv"
	perfTestCmd.Flags().String(key, "", "Optional path to save benchmark results as CSV")
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfBlockSize = viper.GetInt("block-size")
	if perfBlockSize <= 0 {
		return fmt.Errorf("block-size must be positive")
	}
	if skip := viper.GetString("skip"); skip != "" {
		perfSkip = strings.Split(skip, ",")
	}

	return nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	url := args[0]

	fmt.Println("Performance testing tool for root:// servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Printf("Block size: %d\n", perfBlockSize)
	fmt.Println()

	// the read benchmarks share one open file per worker, the size decides the offsets
	info, err := xrdClient.Stat(ctx, url)
	if err != nil {
		return fmt.Errorf("perf target %s: %w", url, err)
	}
	if info.IsDir() || info.Size == 0 {
		return fmt.Errorf("perf target %s must be a non empty file", url)
	}

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	results["ping"] = benchmark("ping", func(ctx context.Context) (func() error, func()) {
		return func() error {
			_, err := xrdClient.Ping(ctx, url)
			return err
		}, nil
	})

	results["stat"] = benchmark("stat", func(ctx context.Context) (func() error, func()) {
		return func() error {
			_, err := xrdClient.Stat(ctx, url)
			return err
		}, nil
	})

	results["read-seq"] = benchmark("read-seq", func(ctx context.Context) (func() error, func()) {
		f, err := xrdClient.Open(ctx, url)
		if err != nil {
			return func() error { return err }, nil
		}
		buf := make([]byte, perfBlockSize)
		var off int64
		return func() error {
			if off >= f.Size() {
				off = 0
			}
			n, err := f.ReadAtContext(ctx, buf, off)
			off += int64(n)
			if n > 0 {
				return nil
			}
			return err
		}, func() { _ = f.Close() }
	})

	results["read-random"] = benchmark("read-random", func(ctx context.Context) (func() error, func()) {
		f, err := xrdClient.Open(ctx, url)
		if err != nil {
			return func() error { return err }, nil
		}
		buf := make([]byte, perfBlockSize)
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		return func() error {
			n, err := f.ReadAtContext(ctx, buf, rnd.Int63n(f.Size()))
			if n > 0 {
				return nil
			}
			return err
		}, func() { _ = f.Close() }
	})

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// benchmark runs newOp's operations in parallel. newOp is called once per
// worker goroutine and returns the operation that worker repeats plus an
// optional cleanup.
func benchmark(name string, newOp func(ctx context.Context) (func() error, func())) testing.BenchmarkResult {
	if shouldSkip(name) {
		return testing.BenchmarkResult{}
	}

	timer := gometrics.GetOrRegisterTimer(name, perfTimers)

	result := testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			op, done := newOp(context.Background())
			if done != nil {
				defer done()
			}
			for pb.Next() {
				start := time.Now()
				if err := op(); err != nil {
					log.Printf("(%s) - error: %v\n", name, err)
				}
				timer.UpdateSince(start)
			}
		})
	})

	printResult(name, result, timer)
	return result
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

func printResult(name string, result testing.BenchmarkResult, timer gometrics.Timer) {
	if result.N == 0 {
		fmt.Printf("%-12s: skipped\n", name)
		return
	}
	ps := timer.Percentiles([]float64{0.5, 0.99})
	fmt.Printf("%-12s: %10d ops %12d ns/op %10.0f ops/s   p50 %-10s p99 %-10s\n",
		name,
		result.N,
		result.NsPerOp(),
		float64(result.N)/result.T.Seconds(),
		time.Duration(ps[0]).Round(time.Microsecond),
		time.Duration(ps[1]).Round(time.Microsecond),
	)
}

func writeResultsToCSV(path string, results map[string]testing.BenchmarkResult, conf *common.ClientConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"benchmark", "ops", "ns_per_op", "ops_per_sec", "p50_ns", "p99_ns", "threads", "block_size", "cache_size", "read_ahead"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, name := range []string{"ping", "stat", "read-seq", "read-random"} {
		result, ok := results[name]
		if !ok || result.N == 0 {
			continue
		}
		ps := gometrics.GetOrRegisterTimer(name, perfTimers).Percentiles([]float64{0.5, 0.99})
		row := []string{
			name,
			strconv.Itoa(result.N),
			strconv.FormatInt(result.NsPerOp(), 10),
			strconv.FormatFloat(float64(result.N)/result.T.Seconds(), 'f', 2, 64),
			strconv.FormatFloat(ps[0], 'f', 0, 64),
			strconv.FormatFloat(ps[1], 'f', 0, 64),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfBlockSize),
			strconv.FormatInt(conf.Cache.CapacityBytes, 10),
			strconv.FormatInt(conf.Cache.ReadAheadBytes, 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}
