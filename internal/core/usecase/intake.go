package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/insurelane/docpipe/internal/core/domain"
	"github.com/insurelane/docpipe/internal/core/ports"
)

// IngestUseCase is the ingestion coordinator: it consumes intake messages,
// persists master and child records, and fans attachment work out to the
// OCR stage. Every write is an idempotent upsert, so redelivery of the
// same intake converges on one unit and one set of attachments.
type IngestUseCase struct {
	units ports.UnitRepository
	queue ports.TaskQueue
}

func NewIngestUseCase(units ports.UnitRepository, queue ports.TaskQueue) *IngestUseCase {
	return &IngestUseCase{units: units, queue: queue}
}

func (uc *IngestUseCase) Handle(ctx context.Context, msg domain.IntakeMessage) error {
	switch msg.SourceType {
	case domain.SourceEmail:
		return uc.handleEmail(ctx, msg)
	case domain.SourceFile:
		return uc.handleFile(ctx, msg)
	default:
		return domain.WrapError(domain.ErrPermanent, "intake", fmt.Errorf("unknown source_type %q", msg.SourceType))
	}
}

func (uc *IngestUseCase) handleEmail(ctx context.Context, msg domain.IntakeMessage) error {
	unitID := msg.ProcessingID
	email := msg.Email
	if email == nil {
		email = &domain.IntakeEmail{}
	}
	if email.ID != "" {
		unitID = email.ID
	}
	if unitID == "" {
		return domain.WrapError(domain.ErrPermanent, "email intake", errors.New("unit id cannot be resolved"))
	}

	now := time.Now().UTC()
	unit := &domain.ProcessingUnit{
		ID:              unitID,
		SourceType:      domain.SourceEmail,
		Status:          domain.UnitProcessing,
		EmailFrom:       email.From,
		EmailTo:         email.To,
		EmailCC:         email.CC,
		EmailSubject:    email.Subject,
		EmailBody:       email.Body,
		EmailDate:       parseEmailDate(email.Date, email.Time),
		EmailBlobURI:    email.EmailURI,
		AttachmentCount: len(msg.Attachments),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := uc.units.UpsertUnit(ctx, unit); err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}

	// An email without attachments carries nothing to OCR.
	if len(msg.Attachments) == 0 {
		return uc.transition(ctx, unitID, domain.UnitCompleted, "")
	}

	// All child rows are written before the first task goes out: a worker
	// may drain a task immediately, and the parent aggregation check must
	// see every sibling it will be racing against.
	tasks := make([]domain.OCRTask, 0, len(msg.Attachments))
	for i, att := range msg.Attachments {
		seq := i + 1
		filename := att.Filename
		if filename == "" {
			filename = fmt.Sprintf("attachment_%d", seq)
		}
		child := &domain.AttachmentUnit{
			ID:        domain.AttachmentID(unitID, seq),
			UnitID:    unitID,
			Seq:       seq,
			Filename:  filename,
			BlobURI:   att.URI,
			Status:    domain.AttachmentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := uc.units.UpsertAttachment(ctx, child); err != nil {
			return fmt.Errorf("upsert attachment %s: %w", child.ID, err)
		}
		tasks = append(tasks, domain.OCRTask{
			ProcessingID: unitID,
			AttachmentID: child.ID,
			FileURI:      att.URI,
			Filename:     filename,
			Action:       domain.ActionExtractText,
		})
	}

	// One publish per attachment so a single failure does not block
	// siblings on retry.
	for _, task := range tasks {
		if err := uc.queue.PublishOCRTask(ctx, task); err != nil {
			return fmt.Errorf("publish ocr task for %s: %w", task.AttachmentID, err)
		}
	}

	if err := uc.transition(ctx, unitID, domain.UnitOCRPending, ""); err != nil {
		return err
	}
	slog.Info("email intake fanned out",
		"unit_id", unitID,
		"attachments", len(msg.Attachments),
	)
	return nil
}

func (uc *IngestUseCase) handleFile(ctx context.Context, msg domain.IntakeMessage) error {
	unitID := msg.ProcessingID
	meta := msg.FileMetadata
	if meta == nil {
		meta = &domain.FileMetadata{}
	}
	filename := meta.Filename
	if filename == "" {
		filename = "unknown"
	}

	now := time.Now().UTC()
	unit := &domain.ProcessingUnit{
		ID:              unitID,
		SourceType:      domain.SourceFile,
		Status:          domain.UnitProcessing,
		Filename:        filename,
		FileURI:         msg.FileURI,
		FileSize:        meta.Size,
		AttachmentCount: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := uc.units.UpsertUnit(ctx, unit); err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}

	// Missing blob reference is a caller contract violation, not a
	// transient fault: record it on the unit and dead-letter the message.
	if msg.FileURI == "" {
		cause := errors.New("file_uri is required")
		if err := uc.transition(ctx, unitID, domain.UnitFailed, "file intake without file_uri"); err != nil {
			cause = errors.Join(cause, err)
		}
		return domain.WrapError(domain.ErrPermanent, "file intake", cause)
	}

	// A single synthetic attachment keeps the downstream stages symmetric
	// with the email case.
	child := &domain.AttachmentUnit{
		ID:        domain.AttachmentID(unitID, 1),
		UnitID:    unitID,
		Seq:       1,
		Filename:  filename,
		BlobURI:   msg.FileURI,
		Status:    domain.AttachmentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.units.UpsertAttachment(ctx, child); err != nil {
		return fmt.Errorf("upsert attachment %s: %w", child.ID, err)
	}

	task := domain.OCRTask{
		ProcessingID: unitID,
		AttachmentID: child.ID,
		FileURI:      msg.FileURI,
		Filename:     filename,
		Action:       domain.ActionExtractText,
	}
	if err := uc.queue.PublishOCRTask(ctx, task); err != nil {
		return fmt.Errorf("publish ocr task for %s: %w", child.ID, err)
	}

	return uc.transition(ctx, unitID, domain.UnitOCRPending, "")
}

// transition applies a status change and logs, rather than fails, when the
// unit was not in an allowed source state. Redelivered messages routinely
// hit this path after the first delivery already advanced the unit.
func (uc *IngestUseCase) transition(ctx context.Context, unitID string, to domain.UnitStatus, lastError string) error {
	moved, err := uc.units.TransitionUnit(ctx, unitID, to, lastError)
	if err != nil {
		return fmt.Errorf("transition unit %s to %s: %w", unitID, to, err)
	}
	if !moved {
		slog.Warn("unit transition skipped", "unit_id", unitID, "to", to)
	}
	return nil
}

// parseEmailDate combines the intake message's date and time fields,
// accepting the formats the producers emit. A zero time is fine; the
// field is informational.
func parseEmailDate(date, clock string) time.Time {
	if date == "" {
		return time.Time{}
	}
	candidate := date
	if clock != "" {
		candidate = date + " " + clock
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006-01-02",
		time.RFC3339,
		time.RFC1123Z,
	} {
		if ts, err := time.Parse(layout, candidate); err == nil {
			return ts
		}
	}
	return time.Time{}
}
