package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/insurelane/docpipe/internal/core/domain"
	"github.com/insurelane/docpipe/internal/core/ports"
)

// OCRUseCase is the text-extraction stage. It downloads the attachment
// blob, runs extraction, persists the result, and either hands the text to
// the classification stage or terminates the attachment as failed. A
// failed extraction is a recorded business outcome, never a redelivery.
type OCRUseCase struct {
	units     ports.UnitRepository
	results   ports.ResultRepository
	blobs     ports.BlobStore
	extractor ports.TextExtractor
	queue     ports.TaskQueue
}

func NewOCRUseCase(
	units ports.UnitRepository,
	results ports.ResultRepository,
	blobs ports.BlobStore,
	extractor ports.TextExtractor,
	queue ports.TaskQueue,
) *OCRUseCase {
	return &OCRUseCase{
		units:     units,
		results:   results,
		blobs:     blobs,
		extractor: extractor,
		queue:     queue,
	}
}

func (uc *OCRUseCase) Handle(ctx context.Context, task domain.OCRTask) error {
	// A task referencing a unit that was never written means the parent
	// write ordering was violated upstream. Retry cannot repair that.
	if _, err := uc.units.GetUnit(ctx, task.ProcessingID); err != nil {
		if domain.IsKind(err, domain.ErrUnitNotFound) {
			slog.Error("ocr task for unknown unit", "unit_id", task.ProcessingID, "attachment_id", task.AttachmentID)
			return domain.WrapError(domain.ErrPermanent, "ocr stage", err)
		}
		return fmt.Errorf("load unit %s: %w", task.ProcessingID, err)
	}

	data, err := uc.download(ctx, task.FileURI)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "download blob", err)
	}

	extraction := uc.extractor.Extract(ctx, task.Filename, data)

	res := &domain.OCRResult{
		UnitID:         task.ProcessingID,
		AttachmentID:   task.AttachmentID,
		FileURI:        task.FileURI,
		ExtractedText:  extraction.Text,
		Confidence:     extraction.Confidence,
		PageCount:      extraction.PageCount,
		ProcessingTime: extraction.Elapsed,
		Status:         domain.ResultCompleted,
		CreatedAt:      time.Now().UTC(),
	}
	if extraction.Empty() {
		res.Status = domain.ResultFailed
	}
	if err := uc.results.UpsertOCRResult(ctx, res); err != nil {
		return fmt.Errorf("upsert ocr result %s: %w", task.AttachmentID, err)
	}

	if extraction.Empty() {
		// Nothing to classify: the attachment terminates here without
		// blocking siblings or the parent's eventual completion.
		if err := uc.units.SetAttachmentOCROutcome(ctx, task.AttachmentID, domain.AttachmentOCRFailed, 0); err != nil {
			return fmt.Errorf("mark attachment %s ocr_failed: %w", task.AttachmentID, err)
		}
		slog.Warn("no text extracted", "unit_id", task.ProcessingID, "attachment_id", task.AttachmentID, "filename", task.Filename)
		return completeUnitIfDone(ctx, uc.units, task.ProcessingID)
	}

	if err := uc.units.SetAttachmentOCROutcome(ctx, task.AttachmentID, domain.AttachmentClassifyPending, extraction.Confidence); err != nil {
		return fmt.Errorf("mark attachment %s classify_pending: %w", task.AttachmentID, err)
	}

	next := domain.ClassifyTask{
		ProcessingID:  task.ProcessingID,
		AttachmentID:  task.AttachmentID,
		FileURI:       task.FileURI,
		ExtractedText: domain.TruncateText(extraction.Text, domain.ClassifyTextCap),
		Action:        domain.ActionClassifyDocument,
	}
	if err := uc.queue.PublishClassifyTask(ctx, next); err != nil {
		return fmt.Errorf("publish classify task %s: %w", task.AttachmentID, err)
	}

	slog.Info("ocr completed",
		"unit_id", task.ProcessingID,
		"attachment_id", task.AttachmentID,
		"pages", extraction.PageCount,
		"confidence", extraction.Confidence,
		"elapsed_ms", extraction.Elapsed.Milliseconds(),
	)
	return nil
}

func (uc *OCRUseCase) download(ctx context.Context, uri string) ([]byte, error) {
	reader, err := uc.blobs.Get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", uri, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", uri, err)
	}
	return data, nil
}

// completeUnitIfDone is the aggregation point shared by the OCR and
// classification stages: whichever worker observes, after its own write,
// that no sibling is still in flight moves the parent to completed. The
// conditional transition in the repository guarantees exactly one of two
// racing workers wins.
func completeUnitIfDone(ctx context.Context, units ports.UnitRepository, unitID string) error {
	remaining, err := units.CountNonTerminalAttachments(ctx, unitID)
	if err != nil {
		return fmt.Errorf("count pending attachments for %s: %w", unitID, err)
	}
	if remaining > 0 {
		return nil
	}

	// Zero in-flight siblings is not sufficient: an intake redelivery may
	// still be writing sibling rows. Completion requires every declared
	// attachment to exist and be terminal.
	unit, err := units.GetUnit(ctx, unitID)
	if err != nil {
		return fmt.Errorf("load unit %s: %w", unitID, err)
	}
	attachments, err := units.ListAttachments(ctx, unitID)
	if err != nil {
		return fmt.Errorf("list attachments for %s: %w", unitID, err)
	}
	if len(attachments) < unit.AttachmentCount {
		return nil
	}

	moved, err := units.TransitionUnit(ctx, unitID, domain.UnitCompleted, "")
	if err != nil {
		return fmt.Errorf("complete unit %s: %w", unitID, err)
	}
	if moved {
		slog.Info("unit completed", "unit_id", unitID)
	}
	return nil
}
