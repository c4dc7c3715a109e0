package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/insurelane/docpipe/internal/core/domain"
)

// ResultRepository persists per-attachment stage outcomes, keyed by
// (unit id, attachment id) so re-attempts overwrite rather than multiply.
type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

func (r *ResultRepository) UpsertOCRResult(ctx context.Context, res *domain.OCRResult) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ocr_results (
	unit_id, attachment_id, file_uri, extracted_text, confidence, page_count, processing_ms, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (unit_id, attachment_id) DO UPDATE SET
	file_uri = EXCLUDED.file_uri,
	extracted_text = EXCLUDED.extracted_text,
	confidence = EXCLUDED.confidence,
	page_count = EXCLUDED.page_count,
	processing_ms = EXCLUDED.processing_ms,
	status = EXCLUDED.status,
	created_at = EXCLUDED.created_at
`,
		res.UnitID, res.AttachmentID, res.FileURI, res.ExtractedText, res.Confidence,
		res.PageCount, res.ProcessingTime.Milliseconds(), string(res.Status), res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert ocr result: %w", err)
	}
	return nil
}

func (r *ResultRepository) UpsertClassification(ctx context.Context, res *domain.ClassificationResult) error {
	entities := res.Entities
	if entities == nil {
		entities = []domain.Entity{}
	}
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO classification_results (
	unit_id, attachment_id, file_uri, document_type, confidence, entities, risk, priority, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (unit_id, attachment_id) DO UPDATE SET
	file_uri = EXCLUDED.file_uri,
	document_type = EXCLUDED.document_type,
	confidence = EXCLUDED.confidence,
	entities = EXCLUDED.entities,
	risk = EXCLUDED.risk,
	priority = EXCLUDED.priority,
	created_at = EXCLUDED.created_at
`,
		res.UnitID, res.AttachmentID, res.FileURI, string(res.DocumentType), res.Confidence,
		entitiesJSON, string(res.Risk), string(res.Priority), res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert classification result: %w", err)
	}
	return nil
}

func (r *ResultRepository) ListOCRResults(ctx context.Context, unitID string) ([]domain.OCRResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT unit_id, attachment_id, file_uri, extracted_text, confidence, page_count, processing_ms, status, created_at
FROM ocr_results
WHERE unit_id = $1
ORDER BY attachment_id
`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query ocr results: %w", err)
	}
	defer rows.Close()

	var out []domain.OCRResult
	for rows.Next() {
		var res domain.OCRResult
		var status string
		var processingMS int64
		err := rows.Scan(
			&res.UnitID, &res.AttachmentID, &res.FileURI, &res.ExtractedText, &res.Confidence,
			&res.PageCount, &processingMS, &status, &res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ocr result: %w", err)
		}
		res.Status = domain.ResultStatus(status)
		res.ProcessingTime = time.Duration(processingMS) * time.Millisecond
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ocr results: %w", err)
	}
	return out, nil
}

func (r *ResultRepository) ListClassifications(ctx context.Context, unitID string) ([]domain.ClassificationResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT unit_id, attachment_id, file_uri, document_type, confidence, entities, risk, priority, created_at
FROM classification_results
WHERE unit_id = $1
ORDER BY attachment_id
`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query classification results: %w", err)
	}
	defer rows.Close()

	var out []domain.ClassificationResult
	for rows.Next() {
		var res domain.ClassificationResult
		var docType, risk, priority string
		var entitiesRaw []byte
		err := rows.Scan(
			&res.UnitID, &res.AttachmentID, &res.FileURI, &docType, &res.Confidence,
			&entitiesRaw, &risk, &priority, &res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan classification result: %w", err)
		}
		if err := json.Unmarshal(entitiesRaw, &res.Entities); err != nil {
			return nil, fmt.Errorf("unmarshal entities: %w", err)
		}
		res.DocumentType = domain.DocumentType(docType)
		res.Risk = domain.RiskLevel(risk)
		res.Priority = domain.Priority(priority)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classification results: %w", err)
	}
	return out, nil
}
