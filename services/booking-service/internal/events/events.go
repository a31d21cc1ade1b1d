package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/voicebook/libs/kafkax"
)

const (
	AppointmentBooked      = "appointment.booked.v1"
	AppointmentCancelled   = "appointment.cancelled.v1"
	AppointmentRescheduled = "appointment.rescheduled.v1"
	CallProcessed          = "call.processed.v1"
)

// Publisher emits domain events keyed by tenant. Publishing is best effort for callers.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

type Noop struct{}

func (Noop) Publish(context.Context, string, string, any) error { return nil }

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaWriter builds a writer whose topic is taken from each message.
func NewKafkaWriter(brokers string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(kafkax.SplitBrokers(brokers)...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
	}
}

func NewKafkaPublisher(writer MessageWriter, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{writer: writer, timeout: timeout}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	msg := kafkax.NewMessage(ctx, kafkax.EventMeta{EventID: uuid.NewString(), EventType: eventType}, key, body)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

type AppointmentEvent struct {
	AppointmentID         string    `json:"appointment_id"`
	TenantID              string    `json:"tenant_id"`
	StartTime             time.Time `json:"start_time"`
	EndTime               time.Time `json:"end_time"`
	Timezone              string    `json:"timezone"`
	ExternalEventID       string    `json:"external_event_id,omitempty"`
	PreviousAppointmentID string    `json:"previous_appointment_id,omitempty"`
	CustomerEmail         string    `json:"customer_email,omitempty"`
	CustomerPhone         string    `json:"customer_phone,omitempty"`
	OccurredAt            time.Time `json:"occurred_at"`
}

type CallEvent struct {
	TenantID   string    `json:"tenant_id"`
	CallID     string    `json:"call_id"`
	Intent     string    `json:"intent"`
	CallLogID  string    `json:"call_log_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
