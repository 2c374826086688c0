package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/DeafMist/intel-radar/backend/internal/dedupe"
	"github.com/DeafMist/intel-radar/backend/internal/logger"
	"github.com/DeafMist/intel-radar/backend/internal/models"
	"github.com/DeafMist/intel-radar/backend/internal/processing"
	"github.com/DeafMist/intel-radar/backend/internal/store"
)

// rawDocument is the message published by external collectors.
type rawDocument struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	Body        string `json:"body"`
	SourceType  string `json:"source_type"`
	PublishedAt string `json:"published_at"`
	Timestamp   string `json:"timestamp"`
}

type documentStore interface {
	InsertRawDocument(ctx context.Context, doc models.RawDocument) (int64, bool, error)
}

const maxBodyLength = 50_000

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}
	defer st.Close()

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
		slog.String("database", cfg.DatabasePath),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, st, cache, cfg, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				if ctx.Err() != nil {
					return
				}
				// Leave the offset uncommitted so the message is redelivered after a restart.
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// sendToDLQ copies msg with error context to the dead letter topic, retrying
// with exponential backoff. It reports whether the write succeeded.
func sendToDLQ(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := range 5 {
		dlqErr := w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}

	log.Error("DLQ write exhausted retries",
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return false
}

// processMessage validates one collector message and stores it as a raw document.
// Recently seen URLs are skipped without touching the store.
func processMessage(ctx context.Context, log *slog.Logger, st documentStore, cache *dedupe.Cache, cfg *config.Worker, msg kafka.Message) error {
	var payload rawDocument
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	url := strings.TrimSpace(payload.URL)
	if url == "" {
		urls := processing.ExtractURLs(payload.Text + " " + payload.Body)
		if len(urls) == 0 {
			return errors.New("document has no url")
		}
		url = urls[0]
	}

	if cache.IsSeen(url) {
		log.Debug("duplicate document", slog.String("url", url))
		return nil
	}

	text := strings.TrimSpace(payload.Body)
	if text == "" {
		text = strings.TrimSpace(payload.Text)
	}
	text = processing.StripHTML(text)

	title := strings.TrimSpace(payload.Title)
	if title == "" && text == "" {
		return errors.New("empty payload")
	}
	if title == "" {
		title = processing.GenerateTitleFromText(text, cfg.TitleMaxWords)
	}

	body := title
	if text != "" {
		body = title + "\n\n" + text
	}

	sourceType := strings.TrimSpace(payload.SourceType)
	if sourceType == "" {
		sourceType = "unknown"
	}

	doc := models.RawDocument{
		URL:         url,
		Title:       title,
		Body:        processing.Truncate(body, maxBodyLength),
		SourceType:  models.SourceType(sourceType),
		PublishedAt: publishedAt(payload),
		FetchedAt:   time.Now().UTC(),
	}

	id, inserted, err := st.InsertRawDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	cache.MarkSeen(url)

	if inserted {
		log.Info("stored document", slog.Int64("id", id), slog.String("title", doc.Title))
	} else {
		log.Debug("document already stored", slog.Int64("id", id), slog.String("url", url))
	}
	return nil
}

// publishedAt normalizes a parsable timestamp to RFC 3339 and passes anything else through.
func publishedAt(p rawDocument) string {
	raw := strings.TrimSpace(p.PublishedAt)
	if raw == "" {
		raw = strings.TrimSpace(p.Timestamp)
	}
	if ts, ok := processing.ParseTimestamp(raw); ok {
		return ts.Format(time.RFC3339)
	}
	return raw
}
