// Command quotectl queries an equity price API through the quotelink
// client.
//
// Usage:
//
//	quotectl --base-url https://api.example.com/v1 stocks --sector Technology
//	quotectl --config quotelink.yaml prices AAPL --from 2024-01-01
//	quotectl --config quotelink.yaml watch AAPL MSFT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
