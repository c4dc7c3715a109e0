package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/insurelane/docpipe/internal/core/domain"
	"github.com/insurelane/docpipe/internal/core/ports"
	"github.com/insurelane/docpipe/internal/observability/metrics"
)

// maxUploadBytes bounds a single intake request body.
const maxUploadBytes = 50 << 20

type Router struct {
	submit  ports.IntakeSubmitter
	reader  ports.UnitReader
	metrics *metrics.HTTPServerMetrics
	limiter *rate.Limiter
}

type Options struct {
	Metrics        *metrics.HTTPServerMetrics
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(submit ports.IntakeSubmitter, reader ports.UnitReader, options Options) *Router {
	rt := &Router{
		submit:  submit,
		reader:  reader,
		metrics: options.Metrics,
	}
	if options.RateLimitRPS > 0 {
		burst := options.RateLimitBurst
		if burst <= 0 {
			burst = int(options.RateLimitRPS)
		}
		rt.limiter = rate.NewLimiter(rate.Limit(options.RateLimitRPS), burst)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/intake/files", rt.submitFile)
	mux.HandleFunc("/v1/intake/emails", rt.submitEmail)
	mux.HandleFunc("/v1/units/", rt.getUnit)

	var handler http.Handler = mux
	handler = rateLimitMiddleware(rt.limiter, handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) submitFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	processingID, err := rt.submit.SubmitFile(r.Context(), fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordIntake("api", string(domain.SourceFile))
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"processing_id": processingID,
		"status":        "accepted",
	})
}

func (rt *Router) submitEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	defer body.Close()

	processingID, err := rt.submit.SubmitEmail(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordIntake("api", string(domain.SourceEmail))
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"processing_id": processingID,
		"status":        "accepted",
	})
}

type unitStatusResponse struct {
	Unit            *domain.ProcessingUnit        `json:"unit"`
	Attachments     []domain.AttachmentUnit       `json:"attachments"`
	OCRResults      []domain.OCRResult            `json:"ocr_results"`
	Classifications []domain.ClassificationResult `json:"classifications"`
}

func (rt *Router) getUnit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/units/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unit id is required"})
		return
	}

	unit, err := rt.reader.GetUnit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	attachments, err := rt.reader.ListAttachments(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	ocrResults, err := rt.reader.ListOCRResults(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	classifications, err := rt.reader.ListClassifications(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, unitStatusResponse{
		Unit:            unit,
		Attachments:     emptyIfNilAttachments(attachments),
		OCRResults:      emptyIfNilOCR(ocrResults),
		Classifications: emptyIfNilClassifications(classifications),
	})
}

func emptyIfNilAttachments(in []domain.AttachmentUnit) []domain.AttachmentUnit {
	if in == nil {
		return []domain.AttachmentUnit{}
	}
	return in
}

func emptyIfNilOCR(in []domain.OCRResult) []domain.OCRResult {
	if in == nil {
		return []domain.OCRResult{}
	}
	return in
}

func emptyIfNilClassifications(in []domain.ClassificationResult) []domain.ClassificationResult {
	if in == nil {
		return []domain.ClassificationResult{}
	}
	return in
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
