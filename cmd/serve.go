package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/buyeewatch/buyee-watcher/internal/api"
	"github.com/buyeewatch/buyee-watcher/internal/clock/system"
	"github.com/buyeewatch/buyee-watcher/internal/crawler"
	"github.com/buyeewatch/buyee-watcher/internal/dispatcher"
	"github.com/buyeewatch/buyee-watcher/internal/id/uuid"
	"github.com/buyeewatch/buyee-watcher/internal/progress"
	"github.com/buyeewatch/buyee-watcher/internal/progress/sinks"
	queuememory "github.com/buyeewatch/buyee-watcher/internal/queue/memory"
	"github.com/buyeewatch/buyee-watcher/internal/schedule"
)

// newServeCmd creates the 'serve' subcommand: the long-running mode with the
// HTTP API and the cron scheduler.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the watcher service with HTTP API and cron scheduler",
		Long: `Starts the watcher as a long-running service. Crawl runs fire on the
configured cron schedule and can also be submitted manually through the
HTTP API. The service exposes health, readiness, and Prometheus metrics
endpoints.`,

		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	svcCfg := appInstance.GetConfig()

	ccfg, err := crawler.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load crawler config: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{}, sinks.NewLogSink(logger), promSink)

	queue := queuememory.NewQueue(svcCfg.Worker.QueueDepth)
	workers, cleanup, err := buildWorkers(queue, appInstance, ccfg, hub, svcCfg.Worker.Count)
	if err != nil {
		return err
	}
	dispatch := dispatcher.New(queue, workers)

	server := api.NewServer(
		appInstance.GetDatabase(),
		dispatch,
		uuid.NewGenerator(),
		system.New(),
		svcCfg,
		logger,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sched *schedule.Scheduler
	if svcCfg.Schedule.Enabled {
		sched, err = schedule.New(svcCfg.Schedule.Spec, server, logger)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", svcCfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", svcCfg.Server.Port))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler stop", zap.Error(err))
		}
	}
	queue.Close()
	cleanup(shutdownCtx)
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
