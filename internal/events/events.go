// Package events publishes report notifications to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/intel-radar/backend/internal/models"
)

// ReportGenerated is the event type header value.
const ReportGenerated = "report.generated"

// ReportEvent summarizes a stored report for downstream consumers.
type ReportEvent struct {
	ReportID          int64     `json:"report_id"`
	Topic             string    `json:"topic"`
	Confidence        float64   `json:"confidence"`
	GeneratedAt       time.Time `json:"generated_at"`
	NumSources        int       `json:"num_sources"`
	NumContradictions int       `json:"num_contradictions"`
}

// NewReportEvent builds the event for a persisted report.
func NewReportEvent(r models.Report) ReportEvent {
	return ReportEvent{
		ReportID:          r.ID,
		Topic:             r.Payload.Topic,
		Confidence:        r.Confidence,
		GeneratedAt:       r.GeneratedAt.UTC(),
		NumSources:        r.Payload.Metadata.NumSources,
		NumContradictions: r.Payload.Metadata.NumContradictions,
	}
}

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends report events.
type Publisher interface {
	PublishReport(ctx context.Context, ev ReportEvent) error
	Close() error
}

// KafkaPublisher writes report events to a topic.
type KafkaPublisher struct {
	w Writer
}

// NewKafka creates a publisher for brokers and topic.
func NewKafka(brokers []string, topic string) *KafkaPublisher {
	return NewPublisher(kafka.NewWriter(kafka.WriterConfig{
		Brokers:     brokers,
		Topic:       topic,
		MaxAttempts: 3,
	}))
}

// NewPublisher wraps an existing writer.
func NewPublisher(w Writer) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

// PublishReport encodes ev as JSON keyed by the report id.
func (p *KafkaPublisher) PublishReport(ctx context.Context, ev ReportEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode report event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.ReportID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ReportGenerated)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish report event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Nop drops every event.
type Nop struct{}

func (Nop) PublishReport(context.Context, ReportEvent) error { return nil }

func (Nop) Close() error { return nil }
