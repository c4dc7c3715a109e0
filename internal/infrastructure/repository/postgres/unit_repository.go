package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/insurelane/docpipe/internal/core/domain"
)

// UnitRepository persists master and child processing records. Writes are
// idempotent upserts and conditional updates, so at-least-once consumers
// can replay them safely.
type UnitRepository struct {
	db *sql.DB
}

func NewUnitRepository(db *sql.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *UnitRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS processing_units (
	id TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	status TEXT NOT NULL,
	email_from TEXT NOT NULL DEFAULT '',
	email_to JSONB NOT NULL DEFAULT '[]'::jsonb,
	email_cc JSONB NOT NULL DEFAULT '[]'::jsonb,
	email_subject TEXT NOT NULL DEFAULT '',
	email_body TEXT NOT NULL DEFAULT '',
	email_date TIMESTAMPTZ,
	email_blob_uri TEXT NOT NULL DEFAULT '',
	attachment_count INTEGER NOT NULL DEFAULT 0,
	filename TEXT NOT NULL DEFAULT '',
	file_uri TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attachment_units (
	id TEXT PRIMARY KEY,
	unit_id TEXT NOT NULL REFERENCES processing_units(id),
	seq INTEGER NOT NULL,
	filename TEXT NOT NULL,
	blob_uri TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	ocr_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	classification_type TEXT NOT NULL DEFAULT '',
	classification_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_units_status ON processing_units(status);
CREATE INDEX IF NOT EXISTS idx_attachment_units_unit_id ON attachment_units(unit_id);
CREATE INDEX IF NOT EXISTS idx_attachment_units_status ON attachment_units(unit_id, status);

CREATE TABLE IF NOT EXISTS ocr_results (
	unit_id TEXT NOT NULL,
	attachment_id TEXT NOT NULL,
	file_uri TEXT NOT NULL DEFAULT '',
	extracted_text TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	page_count INTEGER NOT NULL DEFAULT 0,
	processing_ms BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (unit_id, attachment_id)
);

CREATE TABLE IF NOT EXISTS classification_results (
	unit_id TEXT NOT NULL,
	attachment_id TEXT NOT NULL,
	file_uri TEXT NOT NULL DEFAULT '',
	document_type TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	entities JSONB NOT NULL DEFAULT '[]'::jsonb,
	risk TEXT NOT NULL DEFAULT 'UNKNOWN',
	priority TEXT NOT NULL DEFAULT 'LOW',
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (unit_id, attachment_id)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// UpsertUnit inserts the unit or refreshes its metadata. Status is only
// written on insert: redelivered intakes must not regress a unit that a
// later stage already advanced.
func (r *UnitRepository) UpsertUnit(ctx context.Context, unit *domain.ProcessingUnit) error {
	toJSON, err := json.Marshal(emptyIfNil(unit.EmailTo))
	if err != nil {
		return fmt.Errorf("marshal email_to: %w", err)
	}
	ccJSON, err := json.Marshal(emptyIfNil(unit.EmailCC))
	if err != nil {
		return fmt.Errorf("marshal email_cc: %w", err)
	}

	var emailDate any
	if !unit.EmailDate.IsZero() {
		emailDate = unit.EmailDate
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO processing_units (
	id, source_type, status, email_from, email_to, email_cc, email_subject, email_body, email_date,
	email_blob_uri, attachment_count, filename, file_uri, file_size, last_error, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
	email_from = EXCLUDED.email_from,
	email_to = EXCLUDED.email_to,
	email_cc = EXCLUDED.email_cc,
	email_subject = EXCLUDED.email_subject,
	email_body = EXCLUDED.email_body,
	email_date = EXCLUDED.email_date,
	email_blob_uri = EXCLUDED.email_blob_uri,
	attachment_count = EXCLUDED.attachment_count,
	filename = EXCLUDED.filename,
	file_uri = EXCLUDED.file_uri,
	file_size = EXCLUDED.file_size,
	updated_at = EXCLUDED.updated_at
`,
		unit.ID, string(unit.SourceType), string(unit.Status), unit.EmailFrom, toJSON, ccJSON,
		unit.EmailSubject, unit.EmailBody, emailDate, unit.EmailBlobURI, unit.AttachmentCount,
		unit.Filename, unit.FileURI, unit.FileSize, unit.LastError, unit.CreatedAt, unit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert processing unit: %w", err)
	}
	return nil
}

func (r *UnitRepository) GetUnit(ctx context.Context, id string) (*domain.ProcessingUnit, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, source_type, status, email_from, email_to, email_cc, email_subject, email_body, email_date,
	email_blob_uri, attachment_count, filename, file_uri, file_size, last_error, created_at, updated_at
FROM processing_units
WHERE id = $1
`, id)

	var unit domain.ProcessingUnit
	var sourceType, status string
	var toRaw, ccRaw []byte
	var emailDate sql.NullTime

	err := row.Scan(
		&unit.ID, &sourceType, &status, &unit.EmailFrom, &toRaw, &ccRaw, &unit.EmailSubject,
		&unit.EmailBody, &emailDate, &unit.EmailBlobURI, &unit.AttachmentCount,
		&unit.Filename, &unit.FileURI, &unit.FileSize, &unit.LastError, &unit.CreatedAt, &unit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUnitNotFound, "get unit", errors.New(id))
		}
		return nil, fmt.Errorf("scan processing unit: %w", err)
	}

	if err := json.Unmarshal(toRaw, &unit.EmailTo); err != nil {
		return nil, fmt.Errorf("unmarshal email_to: %w", err)
	}
	if err := json.Unmarshal(ccRaw, &unit.EmailCC); err != nil {
		return nil, fmt.Errorf("unmarshal email_cc: %w", err)
	}
	unit.SourceType = domain.SourceType(sourceType)
	unit.Status = domain.UnitStatus(status)
	if emailDate.Valid {
		unit.EmailDate = emailDate.Time
	}
	return &unit, nil
}

// TransitionUnit is the state machine's write path: a conditional update
// that only matches when the row holds an allowed source status. Zero
// rows affected means the transition did not apply, which the caller
// treats as a no-op, not an error. Two workers racing to complete the
// same unit therefore cannot both win.
func (r *UnitRepository) TransitionUnit(ctx context.Context, id string, to domain.UnitStatus, lastError string) (bool, error) {
	allowed := domain.AllowedFrom(to)
	if len(allowed) == 0 {
		return false, fmt.Errorf("no allowed transitions into %q", to)
	}

	args := []any{id, string(to), lastError, time.Now().UTC()}
	placeholders := make([]string, 0, len(allowed))
	for _, status := range allowed {
		args = append(args, string(status))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(`
UPDATE processing_units
SET status = $2, last_error = $3, updated_at = $4
WHERE id = $1 AND status IN (%s)
`, strings.Join(placeholders, ","))

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition processing unit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpsertAttachment inserts the child record or refreshes its metadata.
// Like units, status is only written on insert.
func (r *UnitRepository) UpsertAttachment(ctx context.Context, att *domain.AttachmentUnit) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO attachment_units (
	id, unit_id, seq, filename, blob_uri, status, ocr_confidence, classification_type, classification_confidence, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
	filename = EXCLUDED.filename,
	blob_uri = EXCLUDED.blob_uri,
	updated_at = EXCLUDED.updated_at
`,
		att.ID, att.UnitID, att.Seq, att.Filename, att.BlobURI, string(att.Status),
		att.OCRConfidence, att.ClassificationType, att.ClassificationConfidence, att.CreatedAt, att.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert attachment unit: %w", err)
	}
	return nil
}

func (r *UnitRepository) GetAttachment(ctx context.Context, id string) (*domain.AttachmentUnit, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, unit_id, seq, filename, blob_uri, status, ocr_confidence, classification_type, classification_confidence, created_at, updated_at
FROM attachment_units
WHERE id = $1
`, id)

	att, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUnitNotFound, "get attachment", errors.New(id))
		}
		return nil, fmt.Errorf("scan attachment unit: %w", err)
	}
	return att, nil
}

func (r *UnitRepository) ListAttachments(ctx context.Context, unitID string) ([]domain.AttachmentUnit, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, unit_id, seq, filename, blob_uri, status, ocr_confidence, classification_type, classification_confidence, created_at, updated_at
FROM attachment_units
WHERE unit_id = $1
ORDER BY seq
`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query attachment units: %w", err)
	}
	defer rows.Close()

	var out []domain.AttachmentUnit
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment unit: %w", err)
		}
		out = append(out, *att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachment units: %w", err)
	}
	return out, nil
}

func (r *UnitRepository) SetAttachmentOCROutcome(ctx context.Context, id string, status domain.AttachmentStatus, confidence float64) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE attachment_units
SET status = $2, ocr_confidence = $3, updated_at = $4
WHERE id = $1
`, id, string(status), confidence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set attachment ocr outcome: %w", err)
	}
	return requireAttachmentRow(res, id)
}

func (r *UnitRepository) SetAttachmentClassification(ctx context.Context, id string, docType domain.DocumentType, confidence float64) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE attachment_units
SET status = $2, classification_type = $3, classification_confidence = $4, updated_at = $5
WHERE id = $1
`, id, string(domain.AttachmentClassified), string(docType), confidence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set attachment classification: %w", err)
	}
	return requireAttachmentRow(res, id)
}

func (r *UnitRepository) CountNonTerminalAttachments(ctx context.Context, unitID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM attachment_units
WHERE unit_id = $1 AND status NOT IN ($2, $3)
`, unitID, string(domain.AttachmentOCRFailed), string(domain.AttachmentClassified))

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count non-terminal attachments: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row rowScanner) (*domain.AttachmentUnit, error) {
	var att domain.AttachmentUnit
	var status string
	err := row.Scan(
		&att.ID, &att.UnitID, &att.Seq, &att.Filename, &att.BlobURI, &status,
		&att.OCRConfidence, &att.ClassificationType, &att.ClassificationConfidence,
		&att.CreatedAt, &att.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	att.Status = domain.AttachmentStatus(status)
	return &att, nil
}

func requireAttachmentRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrUnitNotFound, "update attachment", errors.New(id))
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
