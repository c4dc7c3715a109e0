package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insurelane/docpipe/internal/core/domain"
	"github.com/insurelane/docpipe/internal/core/ports"
)

// SubmitUseCase turns raw inputs into intake messages: it uploads blobs
// once and publishes a message referencing them, leaving all record
// writes to the ingestion coordinator.
type SubmitUseCase struct {
	blobs  ports.BlobStore
	queue  ports.TaskQueue
	parser ports.EmailParser
}

func NewSubmitUseCase(blobs ports.BlobStore, queue ports.TaskQueue, parser ports.EmailParser) *SubmitUseCase {
	return &SubmitUseCase{blobs: blobs, queue: queue, parser: parser}
}

func (uc *SubmitUseCase) SubmitFile(ctx context.Context, filename string, size int64, body io.Reader) (string, error) {
	if filename == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "submit file", fmt.Errorf("filename is required"))
	}
	processingID := NewProcessingID()

	uri, err := uc.blobs.Put(ctx, processingID+"/"+sanitizeFilename(filename), body)
	if err != nil {
		return "", fmt.Errorf("store file blob: %w", err)
	}

	msg := domain.IntakeMessage{
		ProcessingID: processingID,
		SourceType:   domain.SourceFile,
		FileURI:      uri,
		FileMetadata: &domain.FileMetadata{Filename: filename, Size: size},
	}
	if err := uc.queue.PublishIntake(ctx, msg); err != nil {
		return "", fmt.Errorf("publish file intake: %w", err)
	}
	return processingID, nil
}

func (uc *SubmitUseCase) SubmitEmail(ctx context.Context, raw io.Reader) (string, error) {
	var buf strings.Builder
	if _, err := io.Copy(&buf, raw); err != nil {
		return "", fmt.Errorf("read email body: %w", err)
	}
	rawEmail := buf.String()

	parsed, err := uc.parser.Parse(strings.NewReader(rawEmail))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "parse email", err)
	}

	processingID := NewProcessingID()

	emailURI, err := uc.blobs.Put(ctx, processingID+"/raw.eml", strings.NewReader(rawEmail))
	if err != nil {
		return "", fmt.Errorf("store raw email blob: %w", err)
	}

	attachments := make([]domain.IntakeAttachment, 0, len(parsed.Attachments))
	for i, att := range parsed.Attachments {
		name := att.Filename
		if name == "" {
			name = fmt.Sprintf("attachment_%d", i+1)
		}
		uri, err := uc.blobs.Put(ctx, fmt.Sprintf("%s/%d_%s", processingID, i+1, sanitizeFilename(name)), strings.NewReader(string(att.Data)))
		if err != nil {
			return "", fmt.Errorf("store attachment blob %q: %w", name, err)
		}
		attachments = append(attachments, domain.IntakeAttachment{URI: uri, Filename: name})
	}

	email := &domain.IntakeEmail{
		ID:       emailUnitID(parsed.MessageID, rawEmail),
		From:     parsed.From,
		To:       parsed.To,
		CC:       parsed.CC,
		Subject:  parsed.Subject,
		Body:     parsed.Body,
		EmailURI: emailURI,
	}
	if !parsed.Date.IsZero() {
		email.Date = parsed.Date.UTC().Format("2006-01-02")
		email.Time = parsed.Date.UTC().Format("15:04:05")
	}

	msg := domain.IntakeMessage{
		ProcessingID: processingID,
		SourceType:   domain.SourceEmail,
		Email:        email,
		Attachments:  attachments,
	}
	if err := uc.queue.PublishIntake(ctx, msg); err != nil {
		return "", fmt.Errorf("publish email intake: %w", err)
	}
	return processingID, nil
}

// NewProcessingID generates a correlation id with a sortable timestamp
// prefix, e.g. PROC_20260830_141503_a1b2c3d4.
func NewProcessingID() string {
	return fmt.Sprintf("PROC_%s_%s",
		time.Now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8],
	)
}

// emailUnitID turns an RFC 5322 Message-ID into a storable unit id. An
// email without a Message-ID gets a digest of the raw message instead, so
// re-submitting the same .eml converges on the same unit.
func emailUnitID(messageID, raw string) string {
	id := strings.TrimSpace(messageID)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	if id != "" {
		return id
	}
	sum := sha256.Sum256([]byte(raw))
	return "email-" + hex.EncodeToString(sum[:8])
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
