package extractor

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/insurelane/docpipe/internal/core/domain"
)

// Confidence is ordinal, not probabilistic: native text beats a PDF text
// layer, which beats remote OCR.
const (
	confidenceNative   = 1.0
	confidencePDFLayer = 0.9
	confidenceRemote   = 0.8
)

// RemoteOCR recognizes text in formats that carry none natively.
type RemoteOCR interface {
	Recognize(ctx context.Context, filename string, data []byte) (string, int, error)
}

// Extractor dispatches on file extension and always returns an
// Extraction: parser and remote failures surface as the empty value so
// the OCR stage records a terminal failed result instead of retrying.
type Extractor struct {
	remote RemoteOCR
}

func New(remote RemoteOCR) *Extractor {
	return &Extractor{remote: remote}
}

func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) domain.Extraction {
	start := time.Now()
	text, confidence, pages := e.extract(ctx, filename, data)

	text = strings.TrimSpace(text)
	if text == "" {
		confidence = 0
	}
	return domain.Extraction{
		Text:       text,
		Confidence: confidence,
		PageCount:  pages,
		Elapsed:    time.Since(start),
	}
}

func (e *Extractor) extract(ctx context.Context, filename string, data []byte) (string, float64, int) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".csv":
		return plainText(data), confidenceNative, 1
	case ".pdf":
		text, pages, err := pdfText(data)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, confidencePDFLayer, pages
		}
		if err != nil {
			slog.Warn("pdf text layer unreadable, falling back to remote ocr", "filename", filename, "error", err)
		}
		// No text layer usually means a scanned document.
		return e.recognizeRemote(ctx, filename, data)
	case ".docx":
		text, err := docxText(data)
		if err != nil {
			slog.Warn("docx extraction failed", "filename", filename, "error", err)
			return "", 0, 0
		}
		return text, confidenceNative, 1
	case ".xlsx":
		text, sheets, err := xlsxText(data)
		if err != nil {
			slog.Warn("xlsx extraction failed", "filename", filename, "error", err)
			return "", 0, 0
		}
		return text, confidenceNative, sheets
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".heic":
		return e.recognizeRemote(ctx, filename, data)
	default:
		// Unknown extension: accept it when it happens to be text.
		if utf8.Valid(data) {
			return string(data), confidenceNative, 1
		}
		return e.recognizeRemote(ctx, filename, data)
	}
}

func (e *Extractor) recognizeRemote(ctx context.Context, filename string, data []byte) (string, float64, int) {
	if e.remote == nil {
		slog.Warn("no remote ocr configured", "filename", filename)
		return "", 0, 0
	}
	text, pages, err := e.remote.Recognize(ctx, filename, data)
	if err != nil {
		slog.Warn("remote ocr failed", "filename", filename, "error", err)
		return "", 0, 0
	}
	return text, confidenceRemote, pages
}

func plainText(data []byte) string {
	if !utf8.Valid(data) {
		return ""
	}
	return string(data)
}
