package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"

	"github.com/insurelane/docpipe/internal/core/domain"
)

type transitionCall struct {
	unitID string
	to     domain.UnitStatus
}

type unitRepoFake struct {
	units       map[string]*domain.ProcessingUnit
	attachments map[string]*domain.AttachmentUnit

	transitions    []transitionCall
	completedMoves int

	upsertUnitErr error
	upsertAttErr  error
	getUnitErr    error
	transitionErr error
}

func newUnitRepoFake() *unitRepoFake {
	return &unitRepoFake{
		units:       make(map[string]*domain.ProcessingUnit),
		attachments: make(map[string]*domain.AttachmentUnit),
	}
}

func (f *unitRepoFake) UpsertUnit(_ context.Context, unit *domain.ProcessingUnit) error {
	if f.upsertUnitErr != nil {
		return f.upsertUnitErr
	}
	if existing, ok := f.units[unit.ID]; ok {
		// Metadata refresh only; status never regresses on re-upsert.
		unit.Status = existing.Status
	}
	copyUnit := *unit
	f.units[unit.ID] = &copyUnit
	return nil
}

func (f *unitRepoFake) GetUnit(_ context.Context, id string) (*domain.ProcessingUnit, error) {
	if f.getUnitErr != nil {
		return nil, f.getUnitErr
	}
	unit, ok := f.units[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnitNotFound, "get unit", errors.New(id))
	}
	copyUnit := *unit
	return &copyUnit, nil
}

func (f *unitRepoFake) TransitionUnit(_ context.Context, id string, to domain.UnitStatus, lastError string) (bool, error) {
	if f.transitionErr != nil {
		return false, f.transitionErr
	}
	f.transitions = append(f.transitions, transitionCall{unitID: id, to: to})
	unit, ok := f.units[id]
	if !ok {
		return false, nil
	}
	if !slices.Contains(domain.AllowedFrom(to), unit.Status) {
		return false, nil
	}
	unit.Status = to
	unit.LastError = lastError
	if to == domain.UnitCompleted {
		f.completedMoves++
	}
	return true, nil
}

func (f *unitRepoFake) UpsertAttachment(_ context.Context, att *domain.AttachmentUnit) error {
	if f.upsertAttErr != nil {
		return f.upsertAttErr
	}
	if existing, ok := f.attachments[att.ID]; ok {
		att.Status = existing.Status
	}
	copyAtt := *att
	f.attachments[att.ID] = &copyAtt
	return nil
}

func (f *unitRepoFake) GetAttachment(_ context.Context, id string) (*domain.AttachmentUnit, error) {
	att, ok := f.attachments[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrUnitNotFound, "get attachment", errors.New(id))
	}
	copyAtt := *att
	return &copyAtt, nil
}

func (f *unitRepoFake) ListAttachments(_ context.Context, unitID string) ([]domain.AttachmentUnit, error) {
	var out []domain.AttachmentUnit
	for _, att := range f.attachments {
		if att.UnitID == unitID {
			out = append(out, *att)
		}
	}
	slices.SortFunc(out, func(a, b domain.AttachmentUnit) int { return a.Seq - b.Seq })
	return out, nil
}

func (f *unitRepoFake) SetAttachmentOCROutcome(_ context.Context, id string, status domain.AttachmentStatus, confidence float64) error {
	att, ok := f.attachments[id]
	if !ok {
		return domain.WrapError(domain.ErrUnitNotFound, "set ocr outcome", errors.New(id))
	}
	att.Status = status
	att.OCRConfidence = confidence
	return nil
}

func (f *unitRepoFake) SetAttachmentClassification(_ context.Context, id string, docType domain.DocumentType, confidence float64) error {
	att, ok := f.attachments[id]
	if !ok {
		return domain.WrapError(domain.ErrUnitNotFound, "set classification", errors.New(id))
	}
	att.Status = domain.AttachmentClassified
	att.ClassificationType = string(docType)
	att.ClassificationConfidence = confidence
	return nil
}

func (f *unitRepoFake) CountNonTerminalAttachments(_ context.Context, unitID string) (int, error) {
	count := 0
	for _, att := range f.attachments {
		if att.UnitID == unitID && !att.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

type queueFake struct {
	intakes    []domain.IntakeMessage
	ocrTasks   []domain.OCRTask
	classTasks []domain.ClassifyTask

	publishErr error

	// onPublishOCR, when set, runs synchronously on every published OCR
	// task. Tests use it to interleave a consumer with the publisher.
	onPublishOCR func(domain.OCRTask)
}

func (f *queueFake) PublishIntake(_ context.Context, msg domain.IntakeMessage) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.intakes = append(f.intakes, msg)
	return nil
}

func (f *queueFake) PublishOCRTask(_ context.Context, task domain.OCRTask) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.ocrTasks = append(f.ocrTasks, task)
	if f.onPublishOCR != nil {
		f.onPublishOCR(task)
	}
	return nil
}

func (f *queueFake) PublishClassifyTask(_ context.Context, task domain.ClassifyTask) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.classTasks = append(f.classTasks, task)
	return nil
}

func (f *queueFake) ConsumeIntake(context.Context, func(context.Context, domain.IntakeMessage) error) error {
	return nil
}

func (f *queueFake) ConsumeOCRTasks(context.Context, func(context.Context, domain.OCRTask) error) error {
	return nil
}

func (f *queueFake) ConsumeClassifyTasks(context.Context, func(context.Context, domain.ClassifyTask) error) error {
	return nil
}

type resultRepoFake struct {
	ocrResults      []domain.OCRResult
	classifications []domain.ClassificationResult

	ocrErr   error
	classErr error
}

func (f *resultRepoFake) UpsertOCRResult(_ context.Context, res *domain.OCRResult) error {
	if f.ocrErr != nil {
		return f.ocrErr
	}
	f.ocrResults = append(f.ocrResults, *res)
	return nil
}

func (f *resultRepoFake) UpsertClassification(_ context.Context, res *domain.ClassificationResult) error {
	if f.classErr != nil {
		return f.classErr
	}
	f.classifications = append(f.classifications, *res)
	return nil
}

func (f *resultRepoFake) ListOCRResults(context.Context, string) ([]domain.OCRResult, error) {
	return f.ocrResults, nil
}

func (f *resultRepoFake) ListClassifications(context.Context, string) ([]domain.ClassificationResult, error) {
	return f.classifications, nil
}

type blobFake struct {
	blobs  map[string][]byte
	getErr error
	putErr error
}

func newBlobFake() *blobFake {
	return &blobFake{blobs: make(map[string][]byte)}
}

func (f *blobFake) Put(_ context.Context, name string, data io.Reader) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	uri := "fake://" + name
	f.blobs[uri] = raw
	return uri, nil
}

func (f *blobFake) Get(_ context.Context, uri string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	raw, ok := f.blobs[uri]
	if !ok {
		return nil, errors.New("blob not found: " + uri)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type extractorFake struct {
	extraction domain.Extraction
}

func (f *extractorFake) Extract(context.Context, string, []byte) domain.Extraction {
	return f.extraction
}

type classifierFake struct {
	result *domain.ClassificationResult
	err    error
}

func (f *classifierFake) Classify(context.Context, string) (*domain.ClassificationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	copyRes := *f.result
	return &copyRes, nil
}
