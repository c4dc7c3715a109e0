package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/insurelane/docpipe/internal/core/ports"
)

// MailPollUseCase drains the mailbox collaborator on an interval and
// submits every unread email into the pipeline. Failures on one email
// never block the rest of the batch; an email is only marked processed
// after its intake message was published.
type MailPollUseCase struct {
	source ports.EmailSource
	submit ports.IntakeSubmitter
}

func NewMailPollUseCase(source ports.EmailSource, submit ports.IntakeSubmitter) *MailPollUseCase {
	return &MailPollUseCase{source: source, submit: submit}
}

// Run blocks until ctx is cancelled, polling every interval.
func (uc *MailPollUseCase) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		uc.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (uc *MailPollUseCase) drain(ctx context.Context) {
	emails, err := uc.source.FetchUnread(ctx)
	if err != nil {
		slog.Error("mailbox fetch failed", "error", err)
		return
	}

	for _, mail := range emails {
		processingID, err := uc.submit.SubmitEmail(ctx, mail.Body)
		_ = mail.Body.Close()
		if err != nil {
			slog.Error("email intake failed", "email", mail.Name, "error", err)
			continue
		}
		if err := uc.source.MarkProcessed(ctx, mail.Name); err != nil {
			// Re-submission after a missed mark is safe: the unit id is
			// derived from the Message-ID, or a digest of the raw message
			// when it has none, and the writes are upserts.
			slog.Warn("mark processed failed", "email", mail.Name, "error", err)
		}
		slog.Info("email submitted from mailbox", "email", mail.Name, "processing_id", processingID)
	}
}
