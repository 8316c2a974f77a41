package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/quotelink/market"
)

func newStocksCmd(a *app) *cobra.Command {
	var f market.ListFilter
	cmd := &cobra.Command{
		Use:   "stocks",
		Short: "List stocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.market.ListStocks(cmd.Context(), f)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return writeJSON(cmd.OutOrStdout(), page)
			}
			w := newTable(cmd.OutOrStdout())
			row(w, "SYMBOL", "NAME", "EXCHANGE", "SECTOR", "PRICE", "CHANGE%")
			for _, s := range page.Items {
				row(w, s.Symbol, s.Name, s.Exchange, s.Sector, s.Price.StringFixed(2), s.ChangePct.StringFixed(2))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			more := ""
			if page.HasMore() {
				more = fmt.Sprintf(", next: --page %d", page.Page+1)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "page %d, %d of %d%s\n", page.Page, len(page.Items), page.Total, more)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Sector, "sector", "", "filter by sector")
	cmd.Flags().StringVar(&f.Exchange, "exchange", "", "filter by exchange")
	cmd.Flags().StringVar(&f.Search, "search", "", "match symbol or name")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.PageSize, "page-size", 0, "items per page (server default when 0)")
	return cmd
}

func newPricesCmd(a *app) *cobra.Command {
	var from, to, interval string
	cmd := &cobra.Command{
		Use:     "prices <symbol>",
		Short:   "Show price history for a symbol",
		Example: `  quotectl prices AAPL --from 2024-01-01 --to 2024-01-31 --interval 1d`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := market.PriceQuery{Interval: interval}
			var err error
			if q.From, err = parseTime(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if q.To, err = parseTime(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			series, err := a.market.Prices(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return writeJSON(cmd.OutOrStdout(), series)
			}
			w := newTable(cmd.OutOrStdout())
			row(w, "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
			for _, b := range series.Bars {
				row(w, b.Time.UTC().Format(time.RFC3339), b.Open.StringFixed(2), b.High.StringFixed(2),
					b.Low.StringFixed(2), b.Close.StringFixed(2), b.Volume)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&interval, "interval", "1d", "bar width, e.g. 1m, 1h, 1d")
	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
