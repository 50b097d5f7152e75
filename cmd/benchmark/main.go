package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	voters      int
	asset       string
	amount      uint64
)

// Metrics
var (
	totalRequests uint64
	created       uint64
	votes         uint64
	processed     uint64
	conflicts     uint64 // 409: duplicate votes, quorum or delay not met
	failOther     uint64
)

func main() {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Drive create/vote/process cycles against a running vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Printf("Starting Benchmark | Workers: %d | Voters: %d | Duration: %s", concurrency, voters, duration)

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()

			start := time.Now()
			g, ctx := errgroup.WithContext(ctx)
			for i := 0; i < concurrency; i++ {
				g.Go(func() error { return worker(ctx) })
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return printResults(time.Since(start))
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flags.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flags.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flags.IntVar(&voters, "voters", 3, "Number of seeded voters (voter-1..voter-N) that approve each request")
	flags.StringVar(&asset, "asset", "USDC", "Asset to withdraw")
	flags.Uint64Var(&amount, "amount", 1, "Amount per withdrawal")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// worker runs full withdrawal cycles until ctx expires. Request errors are
// counted, not returned.
func worker(ctx context.Context) error {
	client := &http.Client{Timeout: 5 * time.Second}

	for ctx.Err() == nil {
		var w struct {
			ID uint64 `json:"id"`
		}
		status := call(ctx, client, "POST", "/api/v1/withdrawals", "voter-1",
			map[string]interface{}{"to": "bench-recipient", "asset": asset, "amount": amount}, &w)
		if status != http.StatusCreated {
			continue
		}
		atomic.AddUint64(&created, 1)

		for v := 1; v <= voters; v++ {
			path := fmt.Sprintf("/api/v1/withdrawals/%d/votes", w.ID)
			if call(ctx, client, "POST", path, fmt.Sprintf("voter-%d", v), map[string]bool{"approve": true}, nil) == http.StatusOK {
				atomic.AddUint64(&votes, 1)
			}
		}

		path := fmt.Sprintf("/api/v1/withdrawals/%d/process", w.ID)
		if call(ctx, client, "POST", path, "voter-1", nil, nil) == http.StatusOK {
			atomic.AddUint64(&processed, 1)
		}
	}
	return nil
}

func call(ctx context.Context, client *http.Client, method, path, principal string, payload, out interface{}) int {
	var body bytes.Buffer
	if payload != nil {
		json.NewEncoder(&body).Encode(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL+path, &body)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Principal", principal)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			atomic.AddUint64(&failOther, 1)
		}
		return 0
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch {
	case resp.StatusCode == http.StatusConflict:
		atomic.AddUint64(&conflicts, 1)
	case resp.StatusCode >= 400:
		atomic.AddUint64(&failOther, 1)
	case out != nil:
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func printResults(d time.Duration) error {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]interface{}{
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_rps":     float64(total) / d.Seconds(),
		"requests_created":   atomic.LoadUint64(&created),
		"votes_cast":         atomic.LoadUint64(&votes),
		"requests_processed": atomic.LoadUint64(&processed),
		"conflicts":          atomic.LoadUint64(&conflicts),
		"errors":             atomic.LoadUint64(&failOther),
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	// Also save to file
	file, err := os.Create("results_withdrawals.json")
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
