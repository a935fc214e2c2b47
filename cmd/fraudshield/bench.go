package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/fraudshield/fraudshield/internal/app"
)

func newBenchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure detector latency",
	}

	var (
		n     int
		input string
	)
	phishing := &cobra.Command{
		Use:   "phishing",
		Short: "Benchmark the phishing detector on a fixed input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				n = 1
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				ctx := cmd.Context()
				run := func() { a.Detector.Phishing(ctx, input) }
				s := benchmark(ctx, run, 5, n)
				fmt.Fprintf(cmd.OutOrStdout(), "bench: n=%d avg_ms=%.3f p50_ms=%.3f p95_ms=%.3f simulation=%t\n",
					s.n, s.avgMs, s.p50Ms, s.p95Ms, a.Detector.Simulating())
				return nil
			})
		},
	}
	phishing.Flags().IntVarP(&n, "iterations", "n", 200, "number of timed iterations")
	phishing.Flags().StringVar(&input, "input", "URGENT!!!! Verify your account at http://192.168.0.1/login", "text to score")
	cmd.AddCommand(phishing)
	return cmd
}

type benchStats struct {
	n                   int
	avgMs, p50Ms, p95Ms float64
}

// benchmark runs fn warmup times untimed, then n timed times.
func benchmark(ctx context.Context, fn func(), warmup, n int) benchStats {
	for i := 0; i < warmup && ctx.Err() == nil; i++ {
		fn()
	}
	durations := make([]time.Duration, 0, n)
	for i := 0; i < n && ctx.Err() == nil; i++ {
		start := time.Now()
		fn()
		durations = append(durations, time.Since(start))
	}
	if len(durations) == 0 {
		return benchStats{}
	}
	slices.Sort(durations)

	var total time.Duration
	for _, d := range durations {
		total += d
	}
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return benchStats{
		n:     len(durations),
		avgMs: ms(total) / float64(len(durations)),
		p50Ms: ms(durations[len(durations)/2]),
		p95Ms: ms(durations[int(float64(len(durations))*0.95)]),
	}
}
