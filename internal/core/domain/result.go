package domain

import (
	"strings"
	"time"
)

type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
)

// OCRResult is one text-extraction outcome for an attachment. Re-attempts
// upsert by (unit id, attachment id), so the row always reflects the most
// recent attempt.
type OCRResult struct {
	UnitID         string        `json:"unit_id"`
	AttachmentID   string        `json:"attachment_id"`
	FileURI        string        `json:"file_uri"`
	ExtractedText  string        `json:"extracted_text"`
	Confidence     float64       `json:"confidence"`
	PageCount      int           `json:"page_count"`
	ProcessingTime time.Duration `json:"processing_time"`
	Status         ResultStatus  `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

type DocumentType string

const (
	TypePolicyDocument    DocumentType = "POLICY_DOCUMENT"
	TypeCertificate       DocumentType = "CERTIFICATE_OF_INSURANCE"
	TypeContract          DocumentType = "CONTRACT"
	TypeClaimRequest      DocumentType = "CLAIM_REQUEST"
	TypeRFP               DocumentType = "RFP"
	TypeRequest           DocumentType = "REQUEST"
	TypeUnclassified      DocumentType = "UNCLASSIFIED"
)

var knownDocumentTypes = map[DocumentType]struct{}{
	TypePolicyDocument: {},
	TypeCertificate:    {},
	TypeContract:       {},
	TypeClaimRequest:   {},
	TypeRFP:            {},
	TypeRequest:        {},
	TypeUnclassified:   {},
}

// NormalizeDocumentType maps arbitrary model output onto the closed type
// enumeration. Anything unrecognized becomes UNCLASSIFIED.
func NormalizeDocumentType(raw string) DocumentType {
	dt := DocumentType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := knownDocumentTypes[dt]; ok {
		return dt
	}
	return TypeUnclassified
}

type RiskLevel string

const (
	RiskHigh    RiskLevel = "HIGH"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskLow     RiskLevel = "LOW"
	RiskUnknown RiskLevel = "UNKNOWN"
)

func NormalizeRisk(raw string) RiskLevel {
	switch RiskLevel(strings.ToUpper(strings.TrimSpace(raw))) {
	case RiskHigh:
		return RiskHigh
	case RiskMedium:
		return RiskMedium
	case RiskLow:
		return RiskLow
	default:
		return RiskUnknown
	}
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func NormalizePriority(raw string) Priority {
	switch Priority(strings.ToUpper(strings.TrimSpace(raw))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Entity is one value the classifier pulled out of the document text
// (policy numbers, claim amounts, names, dates).
type Entity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ClassificationResult is one classification outcome for an attachment,
// upserted by (unit id, attachment id) like OCRResult.
type ClassificationResult struct {
	UnitID       string       `json:"unit_id"`
	AttachmentID string       `json:"attachment_id"`
	FileURI      string       `json:"file_uri"`
	DocumentType DocumentType `json:"document_type"`
	Confidence   float64      `json:"confidence"`
	Entities     []Entity     `json:"entities"`
	Risk         RiskLevel    `json:"risk"`
	Priority     Priority     `json:"priority"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Extraction is what the text-extraction capability hands back. A failed
// extraction is represented as the zero text/confidence/pages value rather
// than an error, so the OCR stage always has something to persist.
type Extraction struct {
	Text       string
	Confidence float64
	PageCount  int
	Elapsed    time.Duration
}

func (e Extraction) Empty() bool {
	return strings.TrimSpace(e.Text) == ""
}
