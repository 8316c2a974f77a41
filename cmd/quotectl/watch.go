package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/quotelink/market"
	"github.com/jonwraymond/quotelink/push"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		duration time.Duration
		count    int
		listen   string
	)
	cmd := &cobra.Command{
		Use:   "watch <symbol>...",
		Short: "Stream live price updates until interrupted",
		Long: `watch subscribes to live prices for each symbol over the push channel and
prints every update. Connection changes are reported on stderr; the channel
reconnects on its own and restores the subscriptions. With --listen the
health endpoints report the push channel while watching.`,
		Example: `  quotectl watch AAPL MSFT --duration 1m`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			ctx, stopAll := context.WithCancel(ctx)
			defer stopAll()

			if listen != "" {
				if err := a.serveOps(ctx, listen); err != nil {
					return err
				}
			}

			stderr := cmd.ErrOrStderr()
			off := a.client.OnConnectionStatusChange(func(st push.ConnectionStatus) {
				if st.Err != nil {
					fmt.Fprintf(stderr, "push: %s (%v)\n", st.State, st.Err)
					return
				}
				fmt.Fprintf(stderr, "push: %s\n", st.State)
			})
			defer off()

			var (
				mu   sync.Mutex
				seen int
				out  = cmd.OutOrStdout()
			)
			stop, err := a.market.WatchPrices(ctx, func(_ context.Context, u market.PriceUpdate) error {
				mu.Lock()
				defer mu.Unlock()
				if count > 0 && seen >= count {
					return nil
				}
				seen++
				if a.output == "json" {
					_ = writeJSON(out, u)
				} else {
					fmt.Fprintf(out, "%s  %-8s %12s %10s %12d\n",
						u.Time.UTC().Format(time.RFC3339), u.Symbol, u.Price.StringFixed(2), u.Change.StringFixed(2), u.Volume)
				}
				if count > 0 && seen == count {
					stopAll()
				}
				return nil
			}, args...)
			if err != nil {
				return err
			}
			defer stop()

			// A count reached during the initial replay cancels ctx; that is
			// not a connect failure.
			if err := a.client.Connect(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many updates (0 is unlimited)")
	cmd.Flags().StringVar(&listen, "listen", "", "serve /healthz, /readyz, /health and /metrics on this address")
	return cmd
}
