package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/insurelane/docpipe/internal/core/domain"
	"github.com/insurelane/docpipe/internal/infrastructure/resilience"
)

// Subjects names the three pipeline stages on the wire. Each subject is
// backed by its own work-queue stream.
type Subjects struct {
	Intake   string
	OCR      string
	Classify string
}

// Queue is the JetStream-backed task queue. Consumption is at-least-once
// with explicit acks: a nil handler error acks, a permanent error
// terminates delivery (dead-letter), anything else naks for redelivery
// up to MaxDeliver.
type Queue struct {
	conn         *nats.Conn
	js           nats.JetStreamContext
	subjects     Subjects
	maxDeliver   int
	executor     *resilience.Executor
	onDeadLetter func(subject string)
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	MaxDeliver           int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor

	// OnDeadLetter is invoked whenever a message is terminated, either
	// because its body was malformed or its handler failed permanently.
	OnDeadLetter func(subject string)
}

func New(url string, subjects Subjects) (*Queue, error) {
	return NewWithOptions(url, subjects, Options{})
}

func NewWithOptions(url string, subjects Subjects, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	maxDeliver := options.MaxDeliver
	if maxDeliver <= 0 {
		maxDeliver = 5
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docpipe"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	q := &Queue{
		conn:         conn,
		js:           js,
		subjects:     subjects,
		maxDeliver:   maxDeliver,
		executor:     options.ResilienceExecutor,
		onDeadLetter: options.OnDeadLetter,
	}
	for _, subject := range []string{subjects.Intake, subjects.OCR, subjects.Classify} {
		if err := q.ensureStream(subject); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return q, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// ensureStream creates the work-queue stream for a subject if it does not
// exist yet. Existing streams are left untouched so operators can tune
// retention out of band.
func (q *Queue) ensureStream(subject string) error {
	name := streamName(subject)
	_, err := q.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

func streamName(subject string) string {
	return strings.ToUpper(strings.ReplaceAll(subject, ".", "_"))
}

func (q *Queue) PublishIntake(ctx context.Context, msg domain.IntakeMessage) error {
	return q.publish(ctx, q.subjects.Intake, msg)
}

func (q *Queue) PublishOCRTask(ctx context.Context, task domain.OCRTask) error {
	return q.publish(ctx, q.subjects.OCR, task)
}

func (q *Queue) PublishClassifyTask(ctx context.Context, task domain.ClassifyTask) error {
	return q.publish(ctx, q.subjects.Classify, task)
}

func (q *Queue) publish(ctx context.Context, subject string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.WrapError(domain.ErrPermanent, "encode message", err)
	}

	call := func(callCtx context.Context) error {
		if _, err := q.js.Publish(subject, body, nats.Context(callCtx)); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", subject, err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (q *Queue) ConsumeIntake(ctx context.Context, handler func(context.Context, domain.IntakeMessage) error) error {
	return consume(ctx, q, q.subjects.Intake, "intake-workers", handler)
}

func (q *Queue) ConsumeOCRTasks(ctx context.Context, handler func(context.Context, domain.OCRTask) error) error {
	return consume(ctx, q, q.subjects.OCR, "ocr-workers", handler)
}

func (q *Queue) ConsumeClassifyTasks(ctx context.Context, handler func(context.Context, domain.ClassifyTask) error) error {
	return consume(ctx, q, q.subjects.Classify, "classify-workers", handler)
}

// consume blocks until ctx is cancelled. The queue group doubles as the
// durable consumer name, so restarts resume from the last ack.
func consume[T interface{ Validate() error }](
	ctx context.Context,
	q *Queue,
	subject, group string,
	handler func(context.Context, T) error,
) error {
	sub, err := q.js.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		decoded, err := domain.DecodeMessage[T](msg.Data)
		if err != nil {
			slog.Error("malformed message terminated", "subject", subject, "error", err)
			q.terminate(msg, subject)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		switch err := handler(handlerCtx, decoded); {
		case err == nil:
			if err := msg.Ack(); err != nil {
				slog.Warn("ack failed", "subject", subject, "error", err)
			}
		case domain.IsKind(err, domain.ErrPermanent):
			slog.Error("message failed permanently", "subject", subject, "error", err)
			q.terminate(msg, subject)
		default:
			slog.Warn("message abandoned for redelivery", "subject", subject, "error", err)
			if err := msg.Nak(); err != nil {
				slog.Warn("nak failed", "subject", subject, "error", err)
			}
		}
	}, nats.ManualAck(), nats.AckExplicit(), nats.MaxDeliver(q.maxDeliver))
	if err != nil {
		return fmt.Errorf("jetstream subscribe %s: %w", subject, err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) terminate(msg *nats.Msg, subject string) {
	if err := msg.Term(); err != nil {
		slog.Warn("term failed", "subject", subject, "error", err)
	}
	if q.onDeadLetter != nil {
		q.onDeadLetter(subject)
	}
}
