package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/podushkina/asynctask/internal/api"
	"github.com/podushkina/asynctask/internal/config"
	"github.com/podushkina/asynctask/internal/handlers"
	"github.com/podushkina/asynctask/internal/mcpserver"
	"github.com/podushkina/asynctask/internal/metrics"
	"github.com/podushkina/asynctask/internal/reaper"
	"github.com/podushkina/asynctask/internal/service"
	"github.com/podushkina/asynctask/internal/store"
	"github.com/podushkina/asynctask/internal/waiter"
	"github.com/podushkina/asynctask/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		transport  string
	)

	cmd := &cobra.Command{
		Use:   "asynctask",
		Short: "Asynchronous task server",
		Long: `asynctask accepts units of work, returns a task id immediately and answers
status queries with a bounded wait. It speaks MCP over stdio or JSON over HTTP.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Transport = transport
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", os.Getenv("ASYNCTASK_CONFIG"), "Path to a YAML config file")
	cmd.Flags().StringVar(&transport, "transport", "", "Transport to serve: stdio or http (overrides config)")
	return cmd
}

func run(cfg *config.Config) error {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.WithField("backend", cfg.StoreBackend).Info("task store ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	executor := worker.NewExecutor(st, handlers.Reverse, m, logger)
	w := waiter.New(st, cfg.PollInterval, cfg.PollBudget, m, logger)
	svc := service.New(st, executor, w, cfg.DefaultDelay, cfg.DefaultTimeout, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := reaper.New(st, cfg.CompletedRetention, cfg.OtherRetention, cfg.SweepInterval, m, logger)
	reaperDone := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(reaperDone)
	}()

	switch cfg.Transport {
	case config.TransportHTTP:
		err = serveHTTP(ctx, cfg, api.NewRouter(api.NewHandler(svc, logger), m, reg), logger)
	default:
		err = mcpserver.New(svc, cfg.DefaultDelay, cfg.DefaultTimeout, logger).Serve(ctx, os.Stdin, os.Stdout)
	}
	if err != nil {
		logger.WithError(err).Error("transport stopped")
	}

	stop()
	<-reaperDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("abandoned running tasks on shutdown")
	}

	logger.Info("server stopped")
	return err
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		s, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.MaxTasks, cfg.RecordTTL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return s, nil
	default:
		return store.NewMemory(cfg.MaxTasks), nil
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, handler http.Handler, logger logrus.FieldLogger) error {
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PollBudget + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.ServerPort).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
