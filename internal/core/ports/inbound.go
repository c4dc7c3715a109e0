package ports

import (
	"context"
	"io"

	"github.com/insurelane/docpipe/internal/core/domain"
)

// IntakeSubmitter is the inbound contract for turning raw inputs (an
// uploaded file, a raw RFC 5322 email) into intake messages.
type IntakeSubmitter interface {
	SubmitFile(ctx context.Context, filename string, size int64, body io.Reader) (string, error)
	SubmitEmail(ctx context.Context, raw io.Reader) (string, error)
}

// IntakeCoordinator consumes intake messages and fans work out to the OCR
// stage.
type IntakeCoordinator interface {
	Handle(ctx context.Context, msg domain.IntakeMessage) error
}

// OCRStage consumes OCR tasks.
type OCRStage interface {
	Handle(ctx context.Context, task domain.OCRTask) error
}

// ClassifyStage consumes classification tasks.
type ClassifyStage interface {
	Handle(ctx context.Context, task domain.ClassifyTask) error
}

// UnitReader is the read model behind the status API.
type UnitReader interface {
	GetUnit(ctx context.Context, id string) (*domain.ProcessingUnit, error)
	ListAttachments(ctx context.Context, unitID string) ([]domain.AttachmentUnit, error)
	ListOCRResults(ctx context.Context, unitID string) ([]domain.OCRResult, error)
	ListClassifications(ctx context.Context, unitID string) ([]domain.ClassificationResult, error)
}
