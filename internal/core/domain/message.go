package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Message contracts between pipeline stages. The field set is the durable
// contract; the queue's on-wire encoding is JSON. Bodies are validated at
// the consumption boundary and dead-lettered when malformed, so missing
// fields never reach stage logic.

// ClassifyTextCap bounds the extracted text carried on a classification
// task message.
const ClassifyTextCap = 10000

// IntakeEmail is the email branch of an intake message.
type IntakeEmail struct {
	ID       string   `json:"id"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	CC       []string `json:"cc"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	Date     string   `json:"date"`
	Time     string   `json:"time"`
	EmailURI string   `json:"email_uri"`
}

// IntakeAttachment references one already-uploaded attachment blob.
type IntakeAttachment struct {
	URI      string `json:"uri"`
	Filename string `json:"filename"`
}

type FileMetadata struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
}

// IntakeMessage is the producer-to-coordinator contract, tagged by
// SourceType with either the email or the file branch populated.
type IntakeMessage struct {
	ProcessingID string             `json:"processing_id"`
	SourceType   SourceType         `json:"source_type"`
	Email        *IntakeEmail       `json:"email,omitempty"`
	Attachments  []IntakeAttachment `json:"attachments,omitempty"`
	FileURI      string             `json:"file_uri,omitempty"`
	FileMetadata *FileMetadata      `json:"file_metadata,omitempty"`
}

// Validate rejects bodies that cannot be dispatched at all. Branch-level
// contract checks (missing file URI and the like) belong to the
// coordinator, which can record them against the unit.
func (m IntakeMessage) Validate() error {
	if m.ProcessingID == "" {
		return WrapError(ErrPermanent, "validate intake", errors.New("processing_id is required"))
	}
	switch m.SourceType {
	case SourceEmail, SourceFile:
		return nil
	default:
		return WrapError(ErrPermanent, "validate intake", fmt.Errorf("unknown source_type %q", m.SourceType))
	}
}

// OCRTask tells the OCR stage which blob to extract.
type OCRTask struct {
	ProcessingID string `json:"processing_id"`
	AttachmentID string `json:"attachment_id"`
	FileURI      string `json:"file_uri"`
	Filename     string `json:"filename"`
	Action       string `json:"action"`
}

const ActionExtractText = "extract_text"

func (t OCRTask) Validate() error {
	if t.ProcessingID == "" || t.AttachmentID == "" || t.FileURI == "" {
		return WrapError(ErrPermanent, "validate ocr task", errors.New("processing_id, attachment_id and file_uri are required"))
	}
	return nil
}

// ClassifyTask carries size-capped extracted text to the classifier stage.
type ClassifyTask struct {
	ProcessingID  string `json:"processing_id"`
	AttachmentID  string `json:"attachment_id"`
	FileURI       string `json:"file_uri"`
	ExtractedText string `json:"extracted_text"`
	Action        string `json:"action"`
}

const ActionClassifyDocument = "classify_document"

func (t ClassifyTask) Validate() error {
	if t.ProcessingID == "" || t.AttachmentID == "" {
		return WrapError(ErrPermanent, "validate classify task", errors.New("processing_id and attachment_id are required"))
	}
	return nil
}

// DecodeMessage unmarshals a queue body into the given message type and
// runs its validation. Both failure modes are permanent: redelivering a
// malformed body cannot fix it.
func DecodeMessage[T interface{ Validate() error }](body []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, WrapError(ErrPermanent, "decode message", err)
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	return msg, nil
}

// TruncateText caps s at max bytes without splitting a UTF-8 sequence.
func TruncateText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
