// Package notify delivers notification events decided by the dispatch core.
//
// The core only decides that something happened and what to say; a Sink
// decides how it reaches people. Delivery is best-effort: BestEffort wraps a
// Sink so a failed delivery is logged and counted but never returned to the
// workflow that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ashita-ai/turno/internal/model"
	"github.com/ashita-ai/turno/internal/telemetry"
)

// Sink delivers one notification.
type Sink interface {
	Notify(ctx context.Context, n model.Notification) error
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink { return &LogSink{logger: logger} }

// Notify implements Sink.
func (s *LogSink) Notify(_ context.Context, n model.Notification) error {
	attrs := []any{"kind", n.Kind, "ticket_id", n.TicketID, "title", n.Title, "body", n.Body}
	if n.RecipientID != nil {
		attrs = append(attrs, "recipient_id", *n.RecipientID)
	}
	s.logger.Info("notification", attrs...)
	return nil
}

// WebhookSink POSTs each notification as JSON to a fixed URL.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a WebhookSink with a 5s request timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify implements Sink.
func (s *WebhookSink) Notify(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: webhook status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// Publisher sends a payload on a named channel. storage.DB satisfies it with
// Postgres NOTIFY.
type Publisher interface {
	Notify(ctx context.Context, channel, payload string) error
}

// ChannelNotifications is the Postgres channel notifications are published on.
const ChannelNotifications = "turno_notifications"

// PGSink publishes notifications with pg_notify so any LISTENing process
// (a desk display, a browser bridge) can pick them up.
type PGSink struct {
	pub Publisher
}

// NewPGSink creates a PGSink.
func NewPGSink(pub Publisher) *PGSink { return &PGSink{pub: pub} }

// Notify implements Sink.
func (s *PGSink) Notify(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal pg payload: %w", err)
	}
	if err := s.pub.Notify(ctx, ChannelNotifications, string(payload)); err != nil {
		return fmt.Errorf("notify: pg publish: %w", err)
	}
	return nil
}

// Multi sends to every sink and joins their errors.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every notification.
type Nop struct{}

// Notify implements Sink.
func (Nop) Notify(context.Context, model.Notification) error { return nil }

const deliveryTimeout = 5 * time.Second

// BestEffort wraps a Sink so failures never reach the caller.
type BestEffort struct {
	sink     Sink
	logger   *slog.Logger
	failures metric.Int64Counter
}

// NewBestEffort wraps sink. A nil sink behaves like Nop.
func NewBestEffort(sink Sink, logger *slog.Logger) *BestEffort {
	if sink == nil {
		sink = Nop{}
	}
	failures, _ := telemetry.Meter("turno/notify").Int64Counter("turno.notify.failures",
		metric.WithDescription("Notifications that could not be delivered"),
	)
	return &BestEffort{sink: sink, logger: logger, failures: failures}
}

// Send delivers n. It runs detached from the caller's cancellation, since the
// workflow that produced n has already committed.
func (b *BestEffort) Send(ctx context.Context, n model.Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	if err := b.sink.Notify(sendCtx, n); err != nil {
		if b.failures != nil {
			b.failures.Add(sendCtx, 1, metric.WithAttributes(attribute.String("kind", string(n.Kind))))
		}
		b.logger.Warn("notify: delivery failed",
			"kind", n.Kind, "ticket_id", n.TicketID, "error", err)
	}
}
