package bootstrap

import (
	"context"
	"fmt"

	"github.com/insurelane/docpipe/internal/config"
	"github.com/insurelane/docpipe/internal/core/ports"
	"github.com/insurelane/docpipe/internal/core/usecase"
	"github.com/insurelane/docpipe/internal/infrastructure/extractor"
	"github.com/insurelane/docpipe/internal/infrastructure/llm/openai"
	"github.com/insurelane/docpipe/internal/infrastructure/mailbox"
	"github.com/insurelane/docpipe/internal/infrastructure/mailparse"
	"github.com/insurelane/docpipe/internal/infrastructure/ocr"
	"github.com/insurelane/docpipe/internal/infrastructure/queue/nats"
	"github.com/insurelane/docpipe/internal/infrastructure/repository/postgres"
	"github.com/insurelane/docpipe/internal/infrastructure/resilience"
	"github.com/insurelane/docpipe/internal/infrastructure/storage/localfs"
	"github.com/insurelane/docpipe/internal/observability/metrics"
)

// App holds the wired pipeline. The API binary uses Submit and Reader;
// the worker binary uses Queue plus the three stage use cases.
type App struct {
	Config config.Config

	Queue  *nats.Queue
	Submit ports.IntakeSubmitter
	Reader ports.UnitReader

	IngestUC   *usecase.IngestUseCase
	OCRUC      *usecase.OCRUseCase
	ClassifyUC *usecase.ClassifyUseCase
	MailPoll   *usecase.MailPollUseCase

	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	units := postgres.NewUnitRepository(db)
	if err := units.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	results := postgres.NewResultRepository(db)
	reader := postgres.NewReader(units, results)

	blobs, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init blob storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	workerMetrics := metrics.NewWorkerMetrics("worker")

	queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Subjects{
		Intake:   cfg.NATSIntakeSubject,
		OCR:      cfg.NATSOCRSubject,
		Classify: cfg.NATSClassifySubject,
	}, nats.Options{
		MaxDeliver:         cfg.NATSMaxDeliver,
		ResilienceExecutor: executor,
		OnDeadLetter: func(subject string) {
			workerMetrics.RecordDeadLetter("worker", subject)
		},
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init task queue: %w", err)
	}

	var remote extractor.RemoteOCR
	if cfg.OCRServiceURL != "" {
		remote = ocr.New(cfg.OCRServiceURL,
			ocr.WithTimeout(cfg.OCRTimeout()),
			ocr.WithResilience(executor),
		)
	}
	extract := extractor.New(remote)

	llmClient := openai.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel,
		openai.WithTimeout(cfg.LLMTimeout()),
		openai.WithResilience(executor),
	)
	classifier := openai.NewClassifier(llmClient)

	submitUC := usecase.NewSubmitUseCase(blobs, queue, mailparse.New())
	ingestUC := usecase.NewIngestUseCase(units, queue)
	ocrUC := usecase.NewOCRUseCase(units, results, blobs, extract, queue)
	classifyUC := usecase.NewClassifyUseCase(units, results, classifier)

	var mailPoll *usecase.MailPollUseCase
	if cfg.MailboxDir != "" {
		dropDir, err := mailbox.New(cfg.MailboxDir)
		if err != nil {
			queue.Close()
			_ = db.Close()
			return nil, fmt.Errorf("init mailbox: %w", err)
		}
		mailPoll = usecase.NewMailPollUseCase(dropDir, submitUC)
	}

	return &App{
		Config: cfg,

		Queue:  queue,
		Submit: submitUC,
		Reader: reader,

		IngestUC:   ingestUC,
		OCRUC:      ocrUC,
		ClassifyUC: classifyUC,
		MailPoll:   mailPoll,

		WorkerMetrics: workerMetrics,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
