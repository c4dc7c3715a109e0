package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/insurelane/docpipe/internal/core/domain"
)

func emailIntakeMessage(attachments int) domain.IntakeMessage {
	msg := domain.IntakeMessage{
		ProcessingID: "PROC_20260830_101500_abcd1234",
		SourceType:   domain.SourceEmail,
		Email: &domain.IntakeEmail{
			ID:      "msg-42",
			From:    "broker@example.com",
			To:      []string{"claims@example.com"},
			Subject: "Policy renewal",
			Body:    "see attached",
			Date:    "2026-08-30",
			Time:    "10:15:00",
		},
	}
	for i := 0; i < attachments; i++ {
		msg.Attachments = append(msg.Attachments, domain.IntakeAttachment{
			URI:      "fake://msg-42/attachment",
			Filename: "policy.pdf",
		})
	}
	return msg
}

func TestIngestEmailFansOutAttachments(t *testing.T) {
	repo := newUnitRepoFake()
	queue := &queueFake{}
	uc := NewIngestUseCase(repo, queue)

	if err := uc.Handle(context.Background(), emailIntakeMessage(3)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	unit, ok := repo.units["msg-42"]
	if !ok {
		t.Fatal("expected unit keyed by email id")
	}
	if unit.Status != domain.UnitOCRPending {
		t.Fatalf("unit status = %s, want %s", unit.Status, domain.UnitOCRPending)
	}
	if unit.AttachmentCount != 3 {
		t.Fatalf("attachment count = %d, want 3", unit.AttachmentCount)
	}
	if len(repo.attachments) != 3 {
		t.Fatalf("attachments persisted = %d, want 3", len(repo.attachments))
	}
	if len(queue.ocrTasks) != 3 {
		t.Fatalf("ocr tasks published = %d, want 3", len(queue.ocrTasks))
	}
	for i, task := range queue.ocrTasks {
		wantID := domain.AttachmentID("msg-42", i+1)
		if task.AttachmentID != wantID {
			t.Errorf("task %d attachment id = %s, want %s", i, task.AttachmentID, wantID)
		}
		if task.Action != domain.ActionExtractText {
			t.Errorf("task %d action = %s", i, task.Action)
		}
	}
}

func TestIngestEmailRedeliveryConverges(t *testing.T) {
	repo := newUnitRepoFake()
	queue := &queueFake{}
	uc := NewIngestUseCase(repo, queue)

	msg := emailIntakeMessage(2)
	for i := 0; i < 2; i++ {
		if err := uc.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle #%d: %v", i+1, err)
		}
	}

	if len(repo.units) != 1 {
		t.Fatalf("units = %d, want 1", len(repo.units))
	}
	if len(repo.attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(repo.attachments))
	}
	if got := repo.units["msg-42"].Status; got != domain.UnitOCRPending {
		t.Fatalf("unit status after redelivery = %s, want %s", got, domain.UnitOCRPending)
	}
}

func TestIngestEmailWithoutAttachmentsCompletes(t *testing.T) {
	repo := newUnitRepoFake()
	queue := &queueFake{}
	uc := NewIngestUseCase(repo, queue)

	if err := uc.Handle(context.Background(), emailIntakeMessage(0)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := repo.units["msg-42"].Status; got != domain.UnitCompleted {
		t.Fatalf("unit status = %s, want %s", got, domain.UnitCompleted)
	}
	if len(queue.ocrTasks) != 0 {
		t.Fatalf("expected no ocr tasks, got %d", len(queue.ocrTasks))
	}
}

func TestIngestFileCreatesSyntheticAttachment(t *testing.T) {
	repo := newUnitRepoFake()
	queue := &queueFake{}
	uc := NewIngestUseCase(repo, queue)

	msg := domain.IntakeMessage{
		ProcessingID: "PROC_20260830_110000_beef0001",
		SourceType:   domain.SourceFile,
		FileURI:      "fake://uploads/contract.docx",
		FileMetadata: &domain.FileMetadata{Filename: "contract.docx", Size: 2048},
	}
	if err := uc.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	unit := repo.units[msg.ProcessingID]
	if unit == nil || unit.Status != domain.UnitOCRPending {
		t.Fatalf("unit = %+v, want ocr_pending", unit)
	}
	wantAttID := domain.AttachmentID(msg.ProcessingID, 1)
	if _, ok := repo.attachments[wantAttID]; !ok {
		t.Fatalf("expected synthetic attachment %s", wantAttID)
	}
	if len(queue.ocrTasks) != 1 || queue.ocrTasks[0].FileURI != msg.FileURI {
		t.Fatalf("ocr tasks = %+v", queue.ocrTasks)
	}
}

func TestIngestFileWithoutURIDeadLetters(t *testing.T) {
	repo := newUnitRepoFake()
	queue := &queueFake{}
	uc := NewIngestUseCase(repo, queue)

	msg := domain.IntakeMessage{
		ProcessingID: "PROC_20260830_110500_beef0002",
		SourceType:   domain.SourceFile,
		FileMetadata: &domain.FileMetadata{Filename: "contract.docx"},
	}
	err := uc.Handle(context.Background(), msg)
	if !domain.IsKind(err, domain.ErrPermanent) {
		t.Fatalf("err = %v, want permanent", err)
	}

	unit := repo.units[msg.ProcessingID]
	if unit == nil || unit.Status != domain.UnitFailed {
		t.Fatalf("unit = %+v, want failed", unit)
	}
	if unit.LastError == "" {
		t.Fatal("expected failure reason on unit")
	}
	if len(queue.ocrTasks) != 0 {
		t.Fatalf("expected no ocr tasks, got %d", len(queue.ocrTasks))
	}
}

func TestIngestPublishFailureRedelivers(t *testing.T) {
	repo := newUnitRepoFake()
	queue := &queueFake{publishErr: errors.New("broker down")}
	uc := NewIngestUseCase(repo, queue)

	err := uc.Handle(context.Background(), emailIntakeMessage(1))
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsKind(err, domain.ErrPermanent) {
		t.Fatalf("publish failure must stay retriable, got %v", err)
	}
	// The unit must not advance past processing when fan-out failed.
	if got := repo.units["msg-42"].Status; got != domain.UnitProcessing {
		t.Fatalf("unit status = %s, want %s", got, domain.UnitProcessing)
	}
}

func TestIngestUnknownSourceTypeDeadLetters(t *testing.T) {
	uc := NewIngestUseCase(newUnitRepoFake(), &queueFake{})

	err := uc.Handle(context.Background(), domain.IntakeMessage{
		ProcessingID: "PROC_x",
		SourceType:   "carrier_pigeon",
	})
	if !domain.IsKind(err, domain.ErrPermanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

// A fast worker can drain an attachment's task while the coordinator is
// still fanning out. All sibling rows must already exist by then, so the
// aggregation check never sees a partial fan-out and completes the parent
// while a sibling is pending.
func TestIngestFanOutWritesAllSiblingsBeforePublishing(t *testing.T) {
	repo := newUnitRepoFake()
	queue := &queueFake{}
	ingest := NewIngestUseCase(repo, queue)

	blobs := newBlobFake()
	blobs.blobs["fake://msg-42/attachment"] = []byte("scanned page")
	results := &resultRepoFake{}
	ocr := NewOCRUseCase(repo, results, blobs, &extractorFake{}, queue)

	firstTask := domain.AttachmentID("msg-42", 1)
	queue.onPublishOCR = func(task domain.OCRTask) {
		if task.AttachmentID != firstTask {
			return
		}
		// Empty extraction terminates the attachment immediately, which
		// runs the parent aggregation check mid-fan-out.
		if err := ocr.Handle(context.Background(), task); err != nil {
			t.Fatalf("interleaved ocr Handle: %v", err)
		}
	}

	if err := ingest.Handle(context.Background(), emailIntakeMessage(2)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if repo.completedMoves != 0 {
		t.Fatalf("completed moves = %d, parent completed with a pending sibling", repo.completedMoves)
	}
	if got := repo.attachments[domain.AttachmentID("msg-42", 2)].Status; got != domain.AttachmentPending {
		t.Fatalf("sibling status = %s, want %s", got, domain.AttachmentPending)
	}
	if got := repo.units["msg-42"].Status; got != domain.UnitOCRPending {
		t.Fatalf("unit status = %s, want %s", got, domain.UnitOCRPending)
	}

	// The remaining sibling still drives the unit to completion.
	queue.onPublishOCR = nil
	if err := ocr.Handle(context.Background(), queue.ocrTasks[1]); err != nil {
		t.Fatalf("Handle sibling: %v", err)
	}
	if got := repo.units["msg-42"].Status; got != domain.UnitCompleted {
		t.Fatalf("unit status = %s, want %s", got, domain.UnitCompleted)
	}
	if repo.completedMoves != 1 {
		t.Fatalf("completed moves = %d, want 1", repo.completedMoves)
	}
}

func TestIngestFileWithoutURISurfacesFailedTransition(t *testing.T) {
	repo := newUnitRepoFake()
	repo.transitionErr = errors.New("connection reset")
	uc := NewIngestUseCase(repo, &queueFake{})

	msg := domain.IntakeMessage{
		ProcessingID: "PROC_20260830_110500_beef0003",
		SourceType:   domain.SourceFile,
		FileMetadata: &domain.FileMetadata{Filename: "contract.docx"},
	}
	err := uc.Handle(context.Background(), msg)
	if !domain.IsKind(err, domain.ErrPermanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v, want the failed transition joined in", err)
	}
}

func TestIngestFileSetsAttachmentCount(t *testing.T) {
	repo := newUnitRepoFake()
	queue := &queueFake{}
	uc := NewIngestUseCase(repo, queue)

	msg := domain.IntakeMessage{
		ProcessingID: "PROC_20260830_113000_beef0004",
		SourceType:   domain.SourceFile,
		FileURI:      "fake://uploads/contract.docx",
		FileMetadata: &domain.FileMetadata{Filename: "contract.docx"},
	}
	if err := uc.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := repo.units[msg.ProcessingID].AttachmentCount; got != 1 {
		t.Fatalf("attachment count = %d, want 1", got)
	}
}
