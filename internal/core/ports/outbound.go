package ports

import (
	"context"
	"io"

	"github.com/insurelane/docpipe/internal/core/domain"
)

// UnitRepository persists master and child processing records. Upserts are
// keyed deterministically so redelivered messages converge on one record.
type UnitRepository interface {
	UpsertUnit(ctx context.Context, unit *domain.ProcessingUnit) error
	GetUnit(ctx context.Context, id string) (*domain.ProcessingUnit, error)
	// TransitionUnit conditionally moves a unit to the target status. It
	// reports false without error when no allowed source status matched,
	// which covers both lost races and redelivered no-ops.
	TransitionUnit(ctx context.Context, id string, to domain.UnitStatus, lastError string) (bool, error)

	UpsertAttachment(ctx context.Context, att *domain.AttachmentUnit) error
	GetAttachment(ctx context.Context, id string) (*domain.AttachmentUnit, error)
	ListAttachments(ctx context.Context, unitID string) ([]domain.AttachmentUnit, error)
	SetAttachmentOCROutcome(ctx context.Context, id string, status domain.AttachmentStatus, confidence float64) error
	SetAttachmentClassification(ctx context.Context, id string, docType domain.DocumentType, confidence float64) error
	// CountNonTerminalAttachments drives the parent aggregation check.
	CountNonTerminalAttachments(ctx context.Context, unitID string) (int, error)
}

// ResultRepository persists per-attachment OCR and classification results.
type ResultRepository interface {
	UpsertOCRResult(ctx context.Context, res *domain.OCRResult) error
	UpsertClassification(ctx context.Context, res *domain.ClassificationResult) error
	ListOCRResults(ctx context.Context, unitID string) ([]domain.OCRResult, error)
	ListClassifications(ctx context.Context, unitID string) ([]domain.ClassificationResult, error)
}

// BlobStore stores source documents once and serves them by URI thereafter.
type BlobStore interface {
	Put(ctx context.Context, name string, data io.Reader) (string, error)
	Get(ctx context.Context, uri string) (io.ReadCloser, error)
}

// TaskQueue is the durable at-least-once transport between stages. A
// handler's returned error kind drives the complete/abandon/dead-letter
// decision inside the adapter.
type TaskQueue interface {
	PublishIntake(ctx context.Context, msg domain.IntakeMessage) error
	PublishOCRTask(ctx context.Context, task domain.OCRTask) error
	PublishClassifyTask(ctx context.Context, task domain.ClassifyTask) error

	ConsumeIntake(ctx context.Context, handler func(context.Context, domain.IntakeMessage) error) error
	ConsumeOCRTasks(ctx context.Context, handler func(context.Context, domain.OCRTask) error) error
	ConsumeClassifyTasks(ctx context.Context, handler func(context.Context, domain.ClassifyTask) error) error
}

// TextExtractor is the OCR capability seam. It never fails: extraction
// errors surface as an empty Extraction so the stage can record a terminal
// failed result.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, data []byte) domain.Extraction
}

// DocumentClassifier is the AI classification capability seam.
type DocumentClassifier interface {
	Classify(ctx context.Context, text string) (*domain.ClassificationResult, error)
}

// EmailParser turns a raw RFC 5322 message into structured metadata and
// attachment payloads.
type EmailParser interface {
	Parse(r io.Reader) (*domain.ParsedEmail, error)
}

// InboundEmail is one unread raw email from the mailbox collaborator.
type InboundEmail struct {
	Name string
	Body io.ReadCloser
}

// EmailSource abstracts the mailbox (IMAP or drop directory) the poller
// drains.
type EmailSource interface {
	FetchUnread(ctx context.Context) ([]InboundEmail, error)
	MarkProcessed(ctx context.Context, name string) error
}
