package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/insurelane/docpipe/internal/core/domain"
	"github.com/insurelane/docpipe/internal/core/ports"
)

// ClassifierTextCap bounds the text sent to the classification model,
// keeping the prompt inside the model context window.
const ClassifierTextCap = 8000

// ClassifyUseCase is the final stage: it classifies extracted text,
// persists the result, and runs the parent aggregation check. A failing
// classifier is recorded as UNCLASSIFIED and acknowledged; only
// persistence faults trigger redelivery.
type ClassifyUseCase struct {
	units      ports.UnitRepository
	results    ports.ResultRepository
	classifier ports.DocumentClassifier
}

func NewClassifyUseCase(
	units ports.UnitRepository,
	results ports.ResultRepository,
	classifier ports.DocumentClassifier,
) *ClassifyUseCase {
	return &ClassifyUseCase{
		units:      units,
		results:    results,
		classifier: classifier,
	}
}

func (uc *ClassifyUseCase) Handle(ctx context.Context, task domain.ClassifyTask) error {
	if _, err := uc.units.GetUnit(ctx, task.ProcessingID); err != nil {
		if domain.IsKind(err, domain.ErrUnitNotFound) {
			slog.Error("classify task for unknown unit", "unit_id", task.ProcessingID, "attachment_id", task.AttachmentID)
			return domain.WrapError(domain.ErrPermanent, "classify stage", err)
		}
		return fmt.Errorf("load unit %s: %w", task.ProcessingID, err)
	}

	text := domain.TruncateText(task.ExtractedText, ClassifierTextCap)

	res, err := uc.classifier.Classify(ctx, text)
	if err != nil {
		// Terminal-but-recorded: model timeouts, malformed output and
		// quota errors all land here. The message is acknowledged; the
		// queue's redelivery budget is not spent on capability faults.
		slog.Warn("classification failed, recording unclassified",
			"unit_id", task.ProcessingID,
			"attachment_id", task.AttachmentID,
			"error", err,
		)
		res = &domain.ClassificationResult{
			DocumentType: domain.TypeUnclassified,
			Confidence:   0,
			Entities:     []domain.Entity{},
			Risk:         domain.RiskUnknown,
			Priority:     domain.PriorityLow,
		}
	}
	res.UnitID = task.ProcessingID
	res.AttachmentID = task.AttachmentID
	res.FileURI = task.FileURI
	res.CreatedAt = time.Now().UTC()
	if res.Entities == nil {
		res.Entities = []domain.Entity{}
	}

	if err := uc.results.UpsertClassification(ctx, res); err != nil {
		return fmt.Errorf("upsert classification %s: %w", task.AttachmentID, err)
	}
	if err := uc.units.SetAttachmentClassification(ctx, task.AttachmentID, res.DocumentType, res.Confidence); err != nil {
		return fmt.Errorf("mark attachment %s classified: %w", task.AttachmentID, err)
	}

	slog.Info("document classified",
		"unit_id", task.ProcessingID,
		"attachment_id", task.AttachmentID,
		"document_type", res.DocumentType,
		"confidence", res.Confidence,
	)
	return completeUnitIfDone(ctx, uc.units, task.ProcessingID)
}
