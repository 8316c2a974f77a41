package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/quotelink/client"
	"github.com/jonwraymond/quotelink/health"
)

type statsReport struct {
	Stats  client.PerformanceStats `json:"stats"`
	Health health.HealthResponse   `json:"health"`
}

func newStatsCmd(a *app) *cobra.Command {
	var repeat int
	cmd := &cobra.Command{
		Use:   "stats [path]...",
		Short: "Request paths and report cache, retry and health counters",
		Long: `stats requests each path the given number of times, then prints the client's
performance counters and the health of the circuit breaker, cache and push
channel. With no paths it reports the counters of a fresh client.`,
		Example: `  quotectl stats /stocks/AAPL /sectors --repeat 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			for _, path := range args {
				for range repeat {
					if _, err := a.client.Request(ctx, client.RequestConfig{Path: path}, client.RequestOptions{}); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
						break
					}
				}
			}

			report := statsReport{
				Stats:  a.client.PerformanceStats(),
				Health: health.NewHealthResponse(a.aggregator().CheckAll(ctx)),
			}
			if a.output == "json" {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return printStats(cmd, report)
		},
	}
	cmd.Flags().IntVar(&repeat, "repeat", 2, "requests per path")
	return cmd
}

// aggregator registers the client's checkers.
func (a *app) aggregator() *health.Aggregator {
	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 2 * time.Second})
	for name, checker := range a.client.HealthCheckers() {
		agg.Register(name, checker)
	}
	return agg
}

func printStats(cmd *cobra.Command, r statsReport) error {
	s := r.Stats
	w := newTable(cmd.OutOrStdout())
	row(w, "requests", s.Requests)
	row(w, "cache hits", s.CacheHits)
	row(w, "cache misses", s.CacheMisses)
	row(w, "cache hit rate", fmt.Sprintf("%.1f%%", s.CacheHitRate*100))
	row(w, "deduplicated", s.Deduplicated)
	row(w, "retries", s.Retries)
	row(w, "soft failures", s.SoftFailures)
	row(w, "revalidations", s.Revalidations)
	row(w, "not modified", s.NotModified)
	row(w, "errors", s.Errors)
	row(w, "average latency", s.AverageLatency)
	row(w, "circuit", s.Circuit)
	if s.Cache != nil {
		row(w, "cache entries", s.Cache.Entries)
	}
	if s.Push != nil {
		row(w, "push", s.Push.State)
		row(w, "subscriptions", s.Subscriptions)
	}

	names := make([]string, 0, len(r.Health.Checks))
	for name := range r.Health.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		row(w, "health "+name, r.Health.Checks[name].Status)
	}
	row(w, "status", r.Health.Status)
	return w.Flush()
}

