package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/insurelane/docpipe/internal/core/domain"
)

func classifyTask(unitID string, seq int) domain.ClassifyTask {
	return domain.ClassifyTask{
		ProcessingID:  unitID,
		AttachmentID:  domain.AttachmentID(unitID, seq),
		FileURI:       "fake://" + unitID + "/doc.pdf",
		ExtractedText: "this certificate of insurance confirms coverage",
		Action:        domain.ActionClassifyDocument,
	}
}

func TestClassifyRecordsResultAndCompletesUnit(t *testing.T) {
	repo := newUnitRepoFake()
	seedUnitWithAttachments(repo, "unit-1", 1)
	repo.attachments[domain.AttachmentID("unit-1", 1)].Status = domain.AttachmentClassifyPending
	results := &resultRepoFake{}
	classifier := &classifierFake{result: &domain.ClassificationResult{
		DocumentType: domain.TypeCertificate,
		Confidence:   0.93,
		Entities:     []domain.Entity{{Type: "policy_number", Value: "PL-1001", Confidence: 0.9}},
		Risk:         domain.RiskLow,
		Priority:     domain.PriorityMedium,
	}}
	uc := NewClassifyUseCase(repo, results, classifier)

	if err := uc.Handle(context.Background(), classifyTask("unit-1", 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(results.classifications) != 1 {
		t.Fatalf("classifications = %d, want 1", len(results.classifications))
	}
	res := results.classifications[0]
	if res.DocumentType != domain.TypeCertificate || res.UnitID != "unit-1" {
		t.Fatalf("result = %+v", res)
	}
	att := repo.attachments[domain.AttachmentID("unit-1", 1)]
	if att.Status != domain.AttachmentClassified || att.ClassificationType != string(domain.TypeCertificate) {
		t.Fatalf("attachment = %+v", att)
	}
	if got := repo.units["unit-1"].Status; got != domain.UnitCompleted {
		t.Fatalf("unit status = %s, want %s", got, domain.UnitCompleted)
	}
}

func TestClassifyFailureRecordsUnclassified(t *testing.T) {
	repo := newUnitRepoFake()
	seedUnitWithAttachments(repo, "unit-2", 1)
	results := &resultRepoFake{}
	classifier := &classifierFake{err: errors.New("model timeout")}
	uc := NewClassifyUseCase(repo, results, classifier)

	// Capability failure is a recorded outcome, not a redelivery.
	if err := uc.Handle(context.Background(), classifyTask("unit-2", 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	res := results.classifications[0]
	if res.DocumentType != domain.TypeUnclassified || res.Confidence != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Entities == nil {
		t.Fatal("entities must be an empty slice, not nil")
	}
	if res.Risk != domain.RiskUnknown {
		t.Fatalf("risk = %s, want %s", res.Risk, domain.RiskUnknown)
	}
	if got := repo.units["unit-2"].Status; got != domain.UnitCompleted {
		t.Fatalf("unit status = %s, want %s", got, domain.UnitCompleted)
	}
}

func TestClassifyWaitsForSiblings(t *testing.T) {
	repo := newUnitRepoFake()
	seedUnitWithAttachments(repo, "unit-3", 2)
	classifier := &classifierFake{result: &domain.ClassificationResult{DocumentType: domain.TypeContract, Confidence: 0.8}}
	uc := NewClassifyUseCase(repo, &resultRepoFake{}, classifier)

	if err := uc.Handle(context.Background(), classifyTask("unit-3", 1)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if got := repo.units["unit-3"].Status; got != domain.UnitOCRPending {
		t.Fatalf("unit status = %s, want %s while sibling pending", got, domain.UnitOCRPending)
	}
}

func TestClassifyLastSiblingCompletesUnitOnce(t *testing.T) {
	repo := newUnitRepoFake()
	seedUnitWithAttachments(repo, "unit-4", 2)
	// The first attachment already terminated in the OCR stage.
	repo.attachments[domain.AttachmentID("unit-4", 1)].Status = domain.AttachmentOCRFailed
	classifier := &classifierFake{result: &domain.ClassificationResult{DocumentType: domain.TypeClaimRequest, Confidence: 0.85}}
	uc := NewClassifyUseCase(repo, &resultRepoFake{}, classifier)

	if err := uc.Handle(context.Background(), classifyTask("unit-4", 2)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	// Redelivery of the same task must not complete the unit twice.
	if err := uc.Handle(context.Background(), classifyTask("unit-4", 2)); err != nil {
		t.Fatalf("redelivered Handle: %v", err)
	}

	if got := repo.units["unit-4"].Status; got != domain.UnitCompleted {
		t.Fatalf("unit status = %s, want %s", got, domain.UnitCompleted)
	}
	if repo.completedMoves != 1 {
		t.Fatalf("completed transitions = %d, want exactly 1", repo.completedMoves)
	}
}

func TestClassifyPersistenceFailureRedelivers(t *testing.T) {
	repo := newUnitRepoFake()
	seedUnitWithAttachments(repo, "unit-5", 1)
	results := &resultRepoFake{classErr: errors.New("connection reset")}
	classifier := &classifierFake{result: &domain.ClassificationResult{DocumentType: domain.TypeRFP, Confidence: 0.7}}
	uc := NewClassifyUseCase(repo, results, classifier)

	err := uc.Handle(context.Background(), classifyTask("unit-5", 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsKind(err, domain.ErrPermanent) {
		t.Fatalf("persistence failure must stay retriable, got %v", err)
	}
	att := repo.attachments[domain.AttachmentID("unit-5", 1)]
	if att.Status == domain.AttachmentClassified {
		t.Fatal("attachment must not be marked classified when the result write failed")
	}
}

func TestClassifyUnknownUnitDeadLetters(t *testing.T) {
	classifier := &classifierFake{result: &domain.ClassificationResult{DocumentType: domain.TypeRequest}}
	uc := NewClassifyUseCase(newUnitRepoFake(), &resultRepoFake{}, classifier)

	err := uc.Handle(context.Background(), classifyTask("ghost", 1))
	if !domain.IsKind(err, domain.ErrPermanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
}
