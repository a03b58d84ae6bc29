package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cvdflow/config"
	"cvdflow/internal/dashboard"
	"cvdflow/internal/metrics"
	"cvdflow/internal/stream"
	"cvdflow/logger"
	"cvdflow/reader/upstox"
	"cvdflow/writer"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Stream configured instruments and serve the chart dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (writer.HistoryStore, error) {
	switch cfg.Backend {
	case config.HistoryBackendRedis:
		return writer.NewRedisStore(ctx, writer.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.TTL,
		})
	default:
		return writer.NewMemoryStore(cfg.TTL), nil
	}
}

func serve(parent context.Context, cfg *config.Config, log *logger.Log) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	log.WithEnv("APP_ENV", "LOG_LEVEL").WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting cvdflow")

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.App.Name)
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.App.Name+"-system")
		if err := metrics.CreateDashboard(ctx); err != nil {
			log.WithComponent("cloudwatch").WithError(err).Warn("failed to create dashboard")
		}
	}
	if cfg.Metrics.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}
	if cfg.Metrics.Prometheus {
		metrics.Init()
	}

	history, err := openHistory(ctx, cfg.History)
	if err != nil {
		log.WithComponent("main").WithError(err).Error("failed to open history store")
		return err
	}
	defer history.Close()
	log.WithComponent("main").WithFields(logger.Fields{
		"backend": cfg.History.Backend,
		"ttl":     cfg.History.TTL.String(),
	}).Info("history store ready")

	client := upstox.NewClient(cfg.Upstox)
	manager := stream.NewManager(stream.UpstoxDialer(client), history, stream.ManagerConfig{
		Supervisor: stream.Config{
			BaseDelay:       cfg.Stream.ReconnectBaseDelay,
			MaxDelay:        cfg.Stream.ReconnectMaxDelay,
			MaxDecodeErrors: cfg.Stream.MaxDecodeErrors,
		},
		StopWhenIdle: cfg.Stream.StopWhenIdle,
	})
	if err := manager.Start(ctx, cfg.Stream.Instruments); err != nil {
		log.WithComponent("main").WithError(err).Error("failed to start streams")
		return err
	}

	srv, err := dashboard.NewServer(cfg.Server, dashboard.Deps{
		Streams:    manager,
		History:    history,
		Candles:    client,
		Prometheus: cfg.Metrics.Prometheus,
	}, log)
	if err != nil {
		manager.Stop()
		return err
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverErr <- srv.Run(ctx, cfg.App.Name)
	}()

	log.WithComponent("main").WithFields(logger.Fields{
		"instruments": len(cfg.Stream.Instruments),
		"address":     srv.Address(),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	case runErr = <-serverErr:
		log.WithComponent("main").WithError(runErr).Error("http server failed")
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		manager.Stop()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		log.Warn("graceful shutdown timeout exceeded")
		if runErr == nil {
			runErr = errors.New("graceful shutdown timed out")
		}
	}

	log.Info("cvdflow stopped")
	return runErr
}
