package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/insurelane/docpipe/internal/bootstrap"
	"github.com/insurelane/docpipe/internal/config"
	"github.com/insurelane/docpipe/internal/core/domain"
	"github.com/insurelane/docpipe/internal/observability/logging"
)

const stageTimeout = 5 * time.Minute

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: app.WorkerMetrics.Handler(),
	}
	go func() {
		slog.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	var wg sync.WaitGroup

	runConsumer(ctx, &wg, "intake", func(ctx context.Context) error {
		return app.Queue.ConsumeIntake(ctx, instrument(app, "intake", app.IngestUC.Handle))
	})
	runConsumer(ctx, &wg, "ocr", func(ctx context.Context) error {
		return app.Queue.ConsumeOCRTasks(ctx, instrument(app, "ocr", app.OCRUC.Handle))
	})
	runConsumer(ctx, &wg, "classify", func(ctx context.Context) error {
		return app.Queue.ConsumeClassifyTasks(ctx, instrument(app, "classify", app.ClassifyUC.Handle))
	})

	if app.MailPoll != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.MailPoll.Run(ctx, cfg.MailPollInterval())
		}()
	}

	<-ctx.Done()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

func runConsumer(ctx context.Context, wg *sync.WaitGroup, stage string, consume func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("consumer starting", "stage", stage)
		if err := consume(ctx); err != nil {
			slog.Error("consumer stopped", "stage", stage, "error", err)
		}
	}()
}

// instrument wraps a stage handler with a per-task timeout and task
// metrics. Malformed-payload dead letters never reach the handler; those
// are counted by the queue adapter's OnDeadLetter hook alone.
func instrument[T any](app *bootstrap.App, stage string, handle func(context.Context, T) error) func(context.Context, T) error {
	return func(ctx context.Context, task T) error {
		taskCtx, cancel := context.WithTimeout(ctx, stageTimeout)
		defer cancel()

		app.WorkerMetrics.StartTask(stage)
		start := time.Now()
		err := handle(taskCtx, task)
		status := "completed"
		switch {
		case domain.IsKind(err, domain.ErrPermanent):
			status = "dead_letter"
		case err != nil:
			status = "abandoned"
		}
		app.WorkerMetrics.FinishTask("worker", stage, status, time.Since(start))
		return err
	}
}
