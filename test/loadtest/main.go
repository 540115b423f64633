// Package main is a load test harness for the gateway's read paths. It
// drives GET /v1/quote with random recipient counts (and, optionally,
// GET /health) against a running gateway and reports throughput, latency
// percentiles, and error rate. It never submits payouts.
//
// Usage:
//
//	go run ./test/loadtest \
//	  -base-url http://localhost:3000 \
//	  -concurrency 8 \
//	  -duration 30s \
//	  -max-recipients 1000 \
//	  -token USDC \
//	  -health-every 10
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type stats struct {
	requests    atomic.Int64
	errors      atomic.Int64
	latenciesMu sync.Mutex
	latenciesNs []int64
}

func (s *stats) record(d time.Duration, err error) {
	s.requests.Add(1)
	if err != nil {
		s.errors.Add(1)
	}
	s.latenciesMu.Lock()
	s.latenciesNs = append(s.latenciesNs, d.Nanoseconds())
	s.latenciesMu.Unlock()
}

func main() {
	var (
		baseURL       = flag.String("base-url", "http://localhost:3000", "Gateway base URL")
		concurrency   = flag.Int("concurrency", 8, "Number of parallel workers")
		duration      = flag.Duration("duration", 30*time.Second, "Test duration")
		maxRecipients = flag.Int("max-recipients", 1000, "Upper bound for random recipient counts")
		token         = flag.String("token", "", "Token symbol for quotes (empty quotes SOL)")
		rps           = flag.Float64("rps", 0, "Global request rate cap (0 = unlimited)")
		healthEvery   = flag.Int("health-every", 0, "Check /health every N requests per worker (0 = never)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("load test configuration",
		"base_url", *baseURL,
		"concurrency", *concurrency,
		"duration", *duration,
		"max_recipients", *maxRecipients,
		"token", *token,
		"rps", *rps,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, *duration)
	defer cancelRun()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if *rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(*rps), max(1, int(*rps)))
	}

	client := &http.Client{Timeout: 10 * time.Second}
	quotes := &stats{}
	health := &stats{}

	start := time.Now()
	g, gCtx := errgroup.WithContext(ctx)
	for w := 0; w < *concurrency; w++ {
		g.Go(func() error {
			for i := 1; ; i++ {
				if err := limiter.Wait(gCtx); err != nil {
					return nil
				}
				n := 1 + rand.IntN(max(1, *maxRecipients))
				began := time.Now()
				err := fetchQuote(gCtx, client, *baseURL, n, *token)
				if gCtx.Err() != nil {
					return nil
				}
				quotes.record(time.Since(began), err)
				if err != nil {
					logger.Debug("quote failed", "worker", w, "error", err)
				}

				if *healthEvery > 0 && i%*healthEvery == 0 {
					began = time.Now()
					err = checkHealth(gCtx, client, *baseURL+"/health")
					if gCtx.Err() != nil {
						return nil
					}
					health.record(time.Since(began), err)
				}
			}
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	fmt.Println("=== Load Test Results ===")
	fmt.Printf("Duration:       %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Workers:        %d\n", *concurrency)
	report("GET /v1/quote", quotes, elapsed)
	if *healthEvery > 0 {
		report("GET /health", health, elapsed)
	}

	if quotes.errors.Load() > 0 {
		os.Exit(1)
	}
}

func report(name string, s *stats, elapsed time.Duration) {
	s.latenciesMu.Lock()
	sorted := append([]int64(nil), s.latenciesNs...)
	s.latenciesMu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	requests := s.requests.Load()
	errs := s.errors.Load()
	var errorRate float64
	if requests > 0 {
		errorRate = float64(errs) / float64(requests) * 100
	}

	fmt.Printf("\n%s\n", name)
	fmt.Printf("  Requests:     %d\n", requests)
	fmt.Printf("  Req/sec:      %.2f\n", float64(requests)/elapsed.Seconds())
	fmt.Printf("  p50:          %s\n", formatNanos(percentile(sorted, 50)))
	fmt.Printf("  p95:          %s\n", formatNanos(percentile(sorted, 95)))
	fmt.Printf("  p99:          %s\n", formatNanos(percentile(sorted, 99)))
	fmt.Printf("  Errors:       %d\n", errs)
	fmt.Printf("  Error rate:   %.2f%%\n", errorRate)
}

// fetchQuote requests a quote and checks the projection is self-consistent.
func fetchQuote(ctx context.Context, client *http.Client, baseURL string, recipients int, token string) error {
	url := fmt.Sprintf("%s/v1/quote?recipients=%d", baseURL, recipients)
	if token != "" {
		url += "&token=" + token
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote: status %d", resp.StatusCode)
	}

	var q model.Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return fmt.Errorf("quote: decode: %w", err)
	}
	return checkQuote(q, recipients)
}

func checkQuote(q model.Quote, requested int) error {
	if q.Recipients != requested {
		return fmt.Errorf("quote: recipients %d, requested %d", q.Recipients, requested)
	}
	if q.Transactions < 1 || q.TransactionsUpperBound < q.Transactions {
		return fmt.Errorf("quote: inconsistent transaction counts %d/%d", q.Transactions, q.TransactionsUpperBound)
	}
	if q.MaxPerTransaction < 1 || q.Transactions*q.MaxPerTransaction < requested {
		return fmt.Errorf("quote: %d transactions of %d cannot carry %d recipients", q.Transactions, q.MaxPerTransaction, requested)
	}
	return nil
}

func checkHealth(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return nil
}

// percentile returns the value at the given percentile from a sorted slice.
func percentile(sorted []int64, pct float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func formatNanos(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fus", float64(d.Microseconds()))
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
