// Copyright 2025 The gp-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli implements the gpjob command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gpservices/gp-go/gpclient"
	"github.com/gpservices/gp-go/internal/ledger"
	"github.com/gpservices/gp-go/log"
	"github.com/gpservices/gp-go/metrics"
)

// Version is reported by --version and sent in the User-Agent header.
var Version = "dev"

type rootOptions struct {
	configFile   string
	portalURL    string
	token        string
	dsn          string
	metricsAddr  string
	logLevel     string
	pollInterval time.Duration
}

// BuildCLI returns the gpjob root command.
func BuildCLI() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "gpjob",
		Short: "Run ArcGIS geoprocessing tasks as asynchronous jobs",
		Long: `gpjob submits geoprocessing tasks, follows the jobs until they finish
and prints their results. Job activity can be exposed as Prometheus
metrics and recorded in a MySQL ledger.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "gpjob.yaml", "config file path")
	flags.StringVar(&opts.portalURL, "portal", "", "portal URL, overrides portal.url")
	flags.StringVar(&opts.token, "token", "", "portal token, overrides portal.token")
	flags.StringVar(&opts.dsn, "db", "", "MySQL DSN of the job ledger, overrides ledger.dsn")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, overrides metrics.addr")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level, overrides log.level")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 0, "job status poll interval, overrides poll_interval")

	rootCmd.AddCommand(buildInfoCommand(opts))
	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildEstimateCommand(opts))
	rootCmd.AddCommand(buildBatchCommand(opts))
	rootCmd.AddCommand(buildHistoryCommand(opts))

	return rootCmd
}

// env holds what commands share for the duration of a single invocation.
type env struct {
	cfg       *Config
	conn      *gpclient.HTTPConnection
	observers []gpclient.JobObserver
	ledger    *ledger.Ledger
	out       io.Writer
	closers   []func(context.Context)
}

func (o *rootOptions) config() (*Config, error) {
	cfg, err := loadConfig(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.portalURL != "" {
		cfg.Portal.URL = o.portalURL
	}
	if o.token != "" {
		cfg.Portal.Token = o.token
	}
	if o.dsn != "" {
		cfg.Ledger.DSN = o.dsn
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.pollInterval != 0 {
		cfg.PollInterval = o.pollInterval
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setup loads the configuration and starts the optional metrics endpoint and ledger.
// The returned env must be closed.
func (o *rootOptions) setup(cmd *cobra.Command) (context.Context, *env, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	ctx := log.AttachLogger(cmd.Context(), logger)

	e := &env{cfg: cfg, out: cmd.OutOrStdout()}
	e.conn = newConnection(cfg)

	if cfg.Metrics.Addr != "" {
		collector, err := e.serveMetrics(ctx, cfg.Metrics.Addr)
		if err != nil {
			e.close(ctx)
			return nil, nil, err
		}
		e.observers = append(e.observers, collector)
	}

	if cfg.Ledger.DSN != "" {
		db, err := ledger.Open(ctx, cfg.Ledger.DSN)
		if err != nil {
			e.close(ctx)
			return nil, nil, err
		}
		e.closers = append(e.closers, func(ctx context.Context) {
			if err := db.Close(); err != nil {
				log.Error(ctx, "failed to close ledger", err)
			}
		})
		e.ledger = ledger.New(db)
		if err := e.ledger.Migrate(ctx); err != nil {
			e.close(ctx)
			return nil, nil, err
		}
		e.observers = append(e.observers, e.ledger)
	}
	return ctx, e, nil
}

func newConnection(cfg *Config) *gpclient.HTTPConnection {
	client := &http.Client{Timeout: cfg.HTTP.Timeout}
	opts := []gpclient.ConnectionOption{
		gpclient.WithHTTPClient(client),
		gpclient.WithCallInterceptors(
			&gpclient.HeaderInterceptor{Header: http.Header{"User-Agent": []string{"gpjob/" + Version}}},
			gpclient.LoggingInterceptor{},
		),
	}
	if cfg.Portal.Referer != "" {
		opts = append(opts, gpclient.WithReferer(cfg.Portal.Referer))
	}
	switch {
	case cfg.Portal.Token != "":
		opts = append(opts, gpclient.WithTokenSource(gpclient.StaticToken(cfg.Portal.Token)))
	case cfg.Portal.Username != "":
		ts := gpclient.NewPasswordTokenSource(cfg.Portal.URL, cfg.Portal.Username, cfg.Portal.Password, cfg.Portal.Referer, client)
		opts = append(opts, gpclient.WithTokenSource(ts))
	}
	return gpclient.NewConnection(cfg.Portal.URL, opts...)
}

func (e *env) serveMetrics(ctx context.Context, addr string) (*metrics.Collector, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "metrics server stopped", err)
		}
	}()
	log.Info(ctx, "serving metrics", "addr", listener.Addr().String())

	e.closers = append(e.closers, func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "failed to stop metrics server", err)
		}
	})
	return collector, nil
}

func (e *env) close(ctx context.Context) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i](ctx)
	}
	e.closers = nil
}

// connect returns an async client for the geoprocessing service at serviceURL.
func (e *env) connect(ctx context.Context, serviceURL string) (*gpclient.AsyncService, error) {
	svc, err := gpclient.Connect(ctx, serviceURL, e.conn)
	if err != nil {
		return nil, err
	}
	return gpclient.NewAsyncService(svc,
		gpclient.WithPollInterval(e.cfg.PollInterval),
		gpclient.WithObservers(e.observers...),
	), nil
}
