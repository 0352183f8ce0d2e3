package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/minicache"
)

type OperationType string

const (
	CacheHit     OperationType = "cache-hit"
	DynamicValue OperationType = "dynamic-value"
	CacheMiss    OperationType = "cache-miss"
	CASCounter   OperationType = "cas-counter"
	Delete       OperationType = "delete"
	All          OperationType = "all"
)

type BenchmarkResult struct {
	Operation    OperationType
	Duration     time.Duration
	TotalOps     int64
	Successes    int64
	Failures     int64
	AvgLatency   time.Duration
	OpsPerSecond float64
	Correctness  bool
	ErrorMessage string
}

func main() {
	var (
		operation   = flag.String("operation", "all", "Operation type: cache-hit, dynamic-value, cache-miss, cas-counter, delete, or all")
		duration    = flag.Duration("duration", 5*time.Second, "Duration to run benchmarks")
		concurrency = flag.Int("concurrency", 1, "Number of concurrent workers")
		servers     = flag.String("servers", "localhost:11211", "Comma-separated list of minicache servers")
	)
	flag.Parse()

	fmt.Printf("minicache Benchmark Tool\n")
	fmt.Printf("========================\n")
	fmt.Printf("Operation: %s\n", *operation)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Servers: %s\n", *servers)
	fmt.Println()

	client, err := minicache.NewClient(minicache.NewStaticServers(strings.Split(*servers, ",")...), minicache.Config{
		MaxSize: int32(max(*concurrency, 1)),
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	fmt.Print("Testing connection...")
	if _, err := client.Get(context.Background(), "test-connection-key"); err != nil {
		fmt.Printf(" failed: %v\n", err)
		fmt.Printf("Make sure minicached is running on %s\n", *servers)
		return
	}
	fmt.Println(" success!")
	fmt.Println()

	b := &bench{client: client, duration: *duration, concurrency: *concurrency}

	if OperationType(*operation) == All {
		for _, op := range []OperationType{CacheHit, DynamicValue, CacheMiss, CASCounter, Delete} {
			fmt.Printf("\n--- Running %s benchmark ---\n", op)
			printResult(b.run(op))
			time.Sleep(500 * time.Millisecond)
		}
	} else {
		printResult(b.run(OperationType(*operation)))
	}

	stats := client.Stats()
	fmt.Printf("\nClient totals: gets=%d hits=%d sets=%d cas=%d conflicts=%d errors=%d\n",
		stats.Gets, stats.GetHits, stats.Sets, stats.CAS, stats.CASConflicts, stats.Errors)
}

type bench struct {
	client      *minicache.Client
	duration    time.Duration
	concurrency int
}

// opFunc performs one operation for a worker and its sequence number.
// It returns false when the operation failed.
type opFunc func(ctx context.Context, workerID, seq int, result *BenchmarkResult) bool

func (b *bench) run(operation OperationType) *BenchmarkResult {
	ctx := context.Background()

	switch operation {
	case CacheHit:
		return b.runCacheHit(ctx)
	case DynamicValue:
		return b.runWorkers(ctx, DynamicValue, func(ctx context.Context, workerID, seq int, result *BenchmarkResult) bool {
			key := fmt.Sprintf("dynamic-key-%d-%d", workerID, seq)
			value := []byte(fmt.Sprintf("dynamic-value-%d-%d", workerID, seq))

			if err := b.client.Set(ctx, minicache.Item{Key: key, Value: value, TTL: time.Hour}); err != nil {
				return false
			}
			item, err := b.client.Get(ctx, key)
			if err != nil {
				return false
			}
			if string(item.Value) != string(value) {
				result.fail("Value mismatch")
			}
			return true
		})
	case CacheMiss:
		return b.runWorkers(ctx, CacheMiss, func(ctx context.Context, workerID, seq int, result *BenchmarkResult) bool {
			item, err := b.client.Get(ctx, fmt.Sprintf("nonexistent-key-%d-%d", workerID, seq))
			if err != nil {
				return false
			}
			if item.Found {
				result.fail("Expected cache miss but got value")
				return false
			}
			return true
		})
	case CASCounter:
		return b.runCASCounter(ctx)
	case Delete:
		return b.runWorkers(ctx, Delete, func(ctx context.Context, workerID, seq int, result *BenchmarkResult) bool {
			key := fmt.Sprintf("delete-key-%d-%d", workerID, seq)
			if err := b.client.Set(ctx, minicache.Item{Key: key, Value: []byte("v")}); err != nil {
				return false
			}
			if err := b.client.Delete(ctx, key); err != nil {
				return false
			}
			item, err := b.client.Get(ctx, key)
			if err != nil {
				return false
			}
			if item.Found {
				result.fail("Key still present after delete")
			}
			return true
		})
	default:
		return &BenchmarkResult{
			Operation:    operation,
			ErrorMessage: fmt.Sprintf("Unknown operation: %s", operation),
		}
	}
}

// Cache-hit: 1 set then gets only
func (b *bench) runCacheHit(ctx context.Context) *BenchmarkResult {
	key := "cache-hit-key"
	value := []byte("cache-hit-value")

	fmt.Printf("Setting up initial value for cache-hit test...\n")
	if err := b.client.Set(ctx, minicache.Item{Key: key, Value: value, TTL: time.Hour}); err != nil {
		return &BenchmarkResult{
			Operation:    CacheHit,
			ErrorMessage: fmt.Sprintf("Failed to set initial value: %v", err),
		}
	}

	return b.runWorkers(ctx, CacheHit, func(ctx context.Context, _, _ int, result *BenchmarkResult) bool {
		item, err := b.client.Get(ctx, key)
		if err != nil || !item.Found {
			return false
		}
		if string(item.Value) != string(value) {
			result.fail("Value mismatch")
		}
		return true
	})
}

// CAS counter: every worker increments one shared counter with gets + cas.
// The final value must equal the number of successful swaps.
func (b *bench) runCASCounter(ctx context.Context) *BenchmarkResult {
	key := "cas-counter-key"

	if err := b.client.Set(ctx, minicache.Item{Key: key, Value: []byte("0"), TTL: time.Hour}); err != nil {
		return &BenchmarkResult{
			Operation:    CASCounter,
			ErrorMessage: fmt.Sprintf("Failed to initialize counter: %v", err),
		}
	}

	var swaps atomic.Int64

	result := b.runWorkers(ctx, CASCounter, func(ctx context.Context, _, _ int, result *BenchmarkResult) bool {
		item, err := b.client.Gets(ctx, key)
		if err != nil || !item.Found {
			return false
		}
		n, err := strconv.ParseInt(string(item.Value), 10, 64)
		if err != nil {
			result.fail("Counter is not a number")
			return false
		}

		item.Value = strconv.AppendInt(nil, n+1, 10)
		err = b.client.CompareAndSwap(ctx, item)
		if errors.Is(err, minicache.ErrCASConflict) {
			return true // Lost the race, not a failure
		}
		if err != nil {
			return false
		}
		swaps.Add(1)
		return true
	})

	item, err := b.client.Get(ctx, key)
	if err != nil {
		result.fail(fmt.Sprintf("Failed to read counter: %v", err))
		return result
	}
	if string(item.Value) != strconv.FormatInt(swaps.Load(), 10) {
		result.fail(fmt.Sprintf("Counter is %s, expected %d", item.Value, swaps.Load()))
	}

	return result
}

func (b *bench) runWorkers(ctx context.Context, operation OperationType, op opFunc) *BenchmarkResult {
	fmt.Printf("Starting %s benchmark with %d workers for %v...\n", operation, b.concurrency, b.duration)

	result := &BenchmarkResult{Operation: operation, Correctness: true}
	var totalOps, successes, failures, totalLatency atomic.Int64

	startTime := time.Now()
	var wg sync.WaitGroup

	for i := range b.concurrency {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for seq := 0; time.Since(startTime) < b.duration; seq++ {
				opStart := time.Now()
				ok := op(ctx, workerID, seq, result)
				totalLatency.Add(int64(time.Since(opStart)))
				totalOps.Add(1)

				if ok {
					successes.Add(1)
				} else {
					failures.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()

	result.Duration = time.Since(startTime)
	result.TotalOps = totalOps.Load()
	result.Successes = successes.Load()
	result.Failures = failures.Load()

	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(totalLatency.Load() / result.TotalOps)
		result.OpsPerSecond = float64(result.TotalOps) / result.Duration.Seconds()
	}

	return result
}

var resultMu sync.Mutex

func (r *BenchmarkResult) fail(msg string) {
	resultMu.Lock()
	defer resultMu.Unlock()
	r.Correctness = false
	r.ErrorMessage = msg
}

func printResult(result *BenchmarkResult) {
	resultMu.Lock()
	defer resultMu.Unlock()

	fmt.Printf("Operation: %s\n", result.Operation)
	fmt.Printf("Duration: %v\n", result.Duration)
	fmt.Printf("Total Operations: %d\n", result.TotalOps)
	fmt.Printf("Successes: %d\n", result.Successes)
	fmt.Printf("Failures: %d\n", result.Failures)
	fmt.Printf("Average Latency: %v\n", result.AvgLatency)
	fmt.Printf("Operations/sec: %.2f\n", result.OpsPerSecond)
	fmt.Printf("Correctness: %t\n", result.Correctness)
	if result.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", result.ErrorMessage)
	}
}
