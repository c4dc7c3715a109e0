package domain

import (
	"fmt"
	"time"
)

type SourceType string

const (
	SourceEmail SourceType = "email"
	SourceFile  SourceType = "file"
)

type UnitStatus string

const (
	UnitPending    UnitStatus = "pending"
	UnitProcessing UnitStatus = "processing"
	UnitOCRPending UnitStatus = "ocr_pending"
	UnitCompleted  UnitStatus = "completed"
	UnitFailed     UnitStatus = "failed"
)

// unitTransitions lists the allowed source statuses per target status.
// Terminal statuses never appear as sources; a conditional update that
// matches zero rows is a logged anomaly, not an error.
var unitTransitions = map[UnitStatus][]UnitStatus{
	UnitProcessing: {UnitPending},
	UnitOCRPending: {UnitProcessing},
	UnitCompleted:  {UnitProcessing, UnitOCRPending},
	UnitFailed:     {UnitPending, UnitProcessing, UnitOCRPending},
}

// AllowedFrom returns the statuses a unit may hold immediately before
// moving to the given target status.
func AllowedFrom(to UnitStatus) []UnitStatus {
	return unitTransitions[to]
}

func (s UnitStatus) Terminal() bool {
	return s == UnitCompleted || s == UnitFailed
}

// ProcessingUnit is the master record for one logical intake, either a
// single email (with zero or more attachments) or one directly uploaded
// file. Its status is the single source of truth for pipeline progress.
type ProcessingUnit struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"source_type"`
	Status     UnitStatus `json:"status"`

	// Email-sourced metadata.
	EmailFrom       string    `json:"email_from,omitempty"`
	EmailTo         []string  `json:"email_to,omitempty"`
	EmailCC         []string  `json:"email_cc,omitempty"`
	EmailSubject    string    `json:"email_subject,omitempty"`
	EmailBody       string    `json:"email_body,omitempty"`
	EmailDate       time.Time `json:"email_date,omitempty"`
	EmailBlobURI    string    `json:"email_blob_uri,omitempty"`
	AttachmentCount int       `json:"attachment_count"`

	// File-sourced metadata.
	Filename string `json:"filename,omitempty"`
	FileURI  string `json:"file_uri,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`

	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AttachmentStatus string

const (
	AttachmentPending         AttachmentStatus = "pending"
	AttachmentClassifyPending AttachmentStatus = "classify_pending"
	AttachmentOCRFailed       AttachmentStatus = "ocr_failed"
	AttachmentClassified      AttachmentStatus = "classified"
)

func (s AttachmentStatus) Terminal() bool {
	return s == AttachmentOCRFailed || s == AttachmentClassified
}

// AttachmentUnit is one file belonging to a ProcessingUnit. Its ID is
// derived from (unit id, sequence number) so redelivered intake messages
// upsert the same record instead of duplicating it.
type AttachmentUnit struct {
	ID       string           `json:"id"`
	UnitID   string           `json:"unit_id"`
	Seq      int              `json:"seq"`
	Filename string           `json:"filename"`
	BlobURI  string           `json:"blob_uri"`
	Status   AttachmentStatus `json:"status"`

	OCRConfidence            float64 `json:"ocr_confidence,omitempty"`
	ClassificationType       string  `json:"classification_type,omitempty"`
	ClassificationConfidence float64 `json:"classification_confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttachmentID derives the deterministic child key for an attachment.
// seq is 1-based, matching arrival order within the email.
func AttachmentID(unitID string, seq int) string {
	return fmt.Sprintf("%s-%d", unitID, seq)
}
