package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	otelx "github.com/md-rashed-zaman/voicebook/libs/otel"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/callplatform"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/email"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

// Task is one analysed call handed off by the webhook.
type Task struct {
	TenantID string
	CallID   string
	Trace    otelx.TraceContext
}

type CallFetcher interface {
	FetchCall(ctx context.Context, callID string) (callplatform.Call, error)
}

type CallLogStore interface {
	Insert(ctx context.Context, l model.CallLog) (string, error)
}

type TenantStore interface {
	Get(ctx context.Context, id string) (model.Tenant, error)
}

type Processor struct {
	calls   CallFetcher
	logs    CallLogStore
	tenants TenantStore
	mailer  email.Sender
	from    string
	events  events.Publisher
	logger  *slog.Logger
	now     func() time.Time
}

func NewProcessor(calls CallFetcher, logs CallLogStore, tenants TenantStore, mailer email.Sender, from string, publisher events.Publisher, logger *slog.Logger) *Processor {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Processor{
		calls:   calls,
		logs:    logs,
		tenants: tenants,
		mailer:  mailer,
		from:    from,
		events:  publisher,
		logger:  logger,
		now:     time.Now,
	}
}

// Process fetches the call, logs it and emails the tenant a summary.
func (p *Processor) Process(ctx context.Context, task Task) error {
	call, err := p.calls.FetchCall(ctx, task.CallID)
	if err != nil {
		return fmt.Errorf("fetch call: %w", err)
	}
	intent := Classify(call.Summary, call.Transcript)

	logID, err := p.logs.Insert(ctx, model.CallLog{
		TenantID:     task.TenantID,
		CallID:       call.ID,
		FromNumber:   call.FromNumber,
		Intent:       string(intent),
		Summary:      call.Summary,
		Transcript:   call.Transcript,
		RecordingURL: call.RecordingURL,
	})
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	if err := p.events.Publish(ctx, events.CallProcessed, task.TenantID, events.CallEvent{
		TenantID:   task.TenantID,
		CallID:     call.ID,
		Intent:     string(intent),
		CallLogID:  logID,
		OccurredAt: p.now().UTC(),
	}); err != nil {
		p.logger.Warn("call event publish failed", "call_id", call.ID, "err", err)
	}

	tenant, err := p.tenants.Get(ctx, task.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	if strings.TrimSpace(tenant.NotifyEmail) == "" {
		p.logger.Info("call logged without notification (no notify email)", "tenant_id", task.TenantID, "call_id", call.ID)
		return nil
	}

	html, err := renderSummary(summaryData{
		TenantName:   tenant.Name,
		Intent:       intent,
		FromNumber:   call.FromNumber,
		Duration:     formatDuration(call.Duration),
		ReceivedAt:   p.now().UTC().Format(time.RFC1123),
		Summary:      call.Summary,
		RecordingURL: call.RecordingURL,
		Transcript:   call.Transcript,
	})
	if err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	msgID, err := p.mailer.Send(ctx, email.Message{
		From:    p.from,
		To:      tenant.NotifyEmail,
		Subject: fmt.Sprintf("Call summary (%s) from %s", intent, fallback(call.FromNumber, "unknown caller")),
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("send summary: %w", err)
	}
	p.logger.Info("call processed", "tenant_id", task.TenantID, "call_id", call.ID, "intent", intent, "message_id", msgID)
	return nil
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
