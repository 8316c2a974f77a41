package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/quotelink/client"
)

func newGetCmd(a *app) *cobra.Command {
	var (
		query   []string
		noCache bool
		stale   bool
		noRetry bool
	)
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Fetch a raw API path and print its JSON body",
		Example: `  quotectl get /stocks/AAPL
  quotectl get /stocks --query sector=Technology --query page_size=10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseQuery(query)
			if err != nil {
				return err
			}
			resp, err := a.client.Request(cmd.Context(),
				client.RequestConfig{Path: args[0], Query: q},
				client.RequestOptions{SkipCache: noCache, ServeStaleOnError: stale, NoRetry: noRetry},
			)
			if err != nil {
				return err
			}
			if resp.Stale {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: serving stale response: %v\n", resp.RefreshErr)
			}
			return printBody(cmd, resp.Body)
		},
	}
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVar(&stale, "stale", false, "serve an expired cached response if the refresh fails")
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "make a single attempt")
	return cmd
}

func parseQuery(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --query %q: want key=value", p)
		}
		q.Add(k, v)
	}
	return q, nil
}

// printBody indents JSON bodies and writes anything else as is.
func printBody(cmd *cobra.Command, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, err = cmd.OutOrStdout().Write(body)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(cmd.OutOrStdout())
	return err
}
