package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/quotelink/client"
	"github.com/jonwraymond/quotelink/config"
	"github.com/jonwraymond/quotelink/market"
	"github.com/jonwraymond/quotelink/observe"
)

// app holds what the subcommands share. It is built in PersistentPreRunE
// and torn down by run.
type app struct {
	configPath string
	dotenv     string
	baseURL    string
	token      string
	pushURL    string
	verbose    bool
	output     string

	cfg      *config.Config
	logger   observe.Logger
	observer observe.Observer
	client   *client.Client
	market   *market.Service
	closers  []func(context.Context) error
}

// run executes the command line in args and always releases what setup
// built, including when the command fails.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.teardown(ctx))
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "quotectl",
		Short: "Query an equity price API with caching, retries and live prices",
		Long: `quotectl talks to a REST price API and its push channel through the quotelink
client: responses are cached and shared between identical requests, failures
are retried with classified backoff, and live prices survive reconnects.

Settings come from --config (YAML), then flags. QUOTELINK_BASE_URL,
QUOTELINK_TOKEN and QUOTELINK_PUSH_URL are read when no config file is given.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "YAML config file")
	f.StringVar(&a.dotenv, "env-file", ".env", "dotenv file loaded before the config (skipped when missing)")
	f.StringVar(&a.baseURL, "base-url", "", "REST base URL (overrides config)")
	f.StringVar(&a.token, "token", "", "bearer token or secretref (overrides config)")
	f.StringVar(&a.pushURL, "push-url", "", "push channel URL (overrides config)")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging to stderr")
	f.StringVarP(&a.output, "output", "o", "table", "output format: table or json")

	root.AddCommand(
		newGetCmd(a),
		newStocksCmd(a),
		newPricesCmd(a),
		newWatchCmd(a),
		newStatsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.output != "table" && a.output != "json" {
		return errors.New("--output must be table or json")
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := a.buildLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger

	resolver, err := cfg.Resolver()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return resolver.Close() })

	opts := []client.Option{client.WithLogger(logger)}
	if cfg.Observe.Tracing.Enabled || cfg.Observe.Metrics.Enabled {
		obs, err := observe.NewObserver(cmd.Context(), cfg.Observe)
		if err != nil {
			return err
		}
		a.observer = obs
		a.closers = append(a.closers, obs.Shutdown)
		opts = []client.Option{client.WithObserver(obs)}
	}
	if rc, rdb := cfg.RedisCache(); rc != nil {
		opts = append(opts, client.WithCache(rc))
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	cc := cfg.ClientConfig(resolver)
	if t := cfg.PushTransport(cc.Credentials); t != nil {
		opts = append(opts, client.WithPushTransport(t))
	}

	c, err := client.New(cc, opts...)
	if err != nil {
		return err
	}
	a.client = c
	a.market = market.NewService(c, market.ServiceConfig{Logger: logger})
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	var dotenv []string
	if a.dotenv != "" {
		dotenv = []string{a.dotenv}
	}

	var cfg *config.Config
	if a.configPath != "" {
		var err error
		if cfg, err = config.Load(a.configPath, config.WithDotenv(false, dotenv...)); err != nil {
			return nil, err
		}
	} else {
		for _, p := range dotenv {
			if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", p, err)
			}
		}
		cfg = config.Default()
		cfg.Client.BaseURL = os.Getenv("QUOTELINK_BASE_URL")
		cfg.Client.Token = os.Getenv("QUOTELINK_TOKEN")
		cfg.Push.URL = os.Getenv("QUOTELINK_PUSH_URL")
	}

	if a.baseURL != "" {
		cfg.Client.BaseURL = a.baseURL
	}
	if a.token != "" {
		cfg.Client.Token = a.token
	}
	if a.pushURL != "" {
		cfg.Push.URL = a.pushURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) buildLogger(stderr io.Writer) (observe.Logger, error) {
	if a.verbose {
		return observe.NewLoggerWithWriter("debug", stderr), nil
	}
	if !a.cfg.Observe.Logging.Enabled {
		return observe.NopLogger(), nil
	}
	logger, closer, err := observe.NewLoggerFromConfig(a.cfg.Observe.Logging)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, func(context.Context) error { return closer.Close() })
	}
	return logger, nil
}

func (a *app) teardown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close(ctx))
		a.client = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
