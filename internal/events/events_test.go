package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/intel-radar/backend/internal/events"
	"github.com/DeafMist/intel-radar/backend/internal/models"
)

type stubWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishReport(t *testing.T) {
	generated := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	report := models.Report{
		ID:          12,
		Confidence:  0.49,
		GeneratedAt: generated,
		Payload: models.ReportPayload{
			Topic:    "EV battery supply chain",
			Metadata: models.ReportMetadata{NumSources: 3, NumContradictions: 1},
		},
	}

	w := &stubWriter{}
	p := events.NewPublisher(w)
	require.NoError(t, p.PublishReport(context.Background(), events.NewReportEvent(report)))
	require.NoError(t, p.Close())
	require.True(t, w.closed)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, "12", string(msg.Key))
	require.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte(events.ReportGenerated)}}, msg.Headers)

	var got events.ReportEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, events.ReportEvent{
		ReportID:          12,
		Topic:             "EV battery supply chain",
		Confidence:        0.49,
		GeneratedAt:       generated,
		NumSources:        3,
		NumContradictions: 1,
	}, got)
}

func TestPublishReportError(t *testing.T) {
	p := events.NewPublisher(&stubWriter{err: errors.New("leader not available")})
	err := p.PublishReport(context.Background(), events.ReportEvent{ReportID: 1})
	require.ErrorContains(t, err, "leader not available")
}

func TestNop(t *testing.T) {
	var p events.Publisher = events.Nop{}
	require.NoError(t, p.PublishReport(context.Background(), events.ReportEvent{}))
	require.NoError(t, p.Close())
}
