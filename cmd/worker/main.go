package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acrenaud/trustrag/internal/bootstrap"
	"github.com/acrenaud/trustrag/internal/config"
	"github.com/acrenaud/trustrag/internal/core/domain"
	"github.com/acrenaud/trustrag/internal/observability/logging"
	"github.com/acrenaud/trustrag/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.WorkerMetricsPort,
		Handler:      workerMetrics.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker subscribed", "subject", cfg.NATSDecisionsSubject)
	err = app.Queue.SubscribeDecisions(ctx, func(handlerCtx context.Context, record domain.DecisionRecord) error {
		workerMetrics.ObserveQueueLag(serviceName, time.Since(record.CreatedAt))
		workerMetrics.StartDecision()
		start := time.Now()

		persistCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()
		saveErr := app.DecisionRepo.SaveDecision(persistCtx, record)
		workerMetrics.FinishDecision(serviceName, time.Since(start), saveErr)
		return saveErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
