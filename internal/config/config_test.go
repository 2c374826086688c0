package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DeafMist/intel-radar/backend/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkerDefaults(t *testing.T) {
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("KAFKA_TOPIC", "")
	t.Setenv("KAFKA_CONSUMER_GROUP", "")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "data/intelligence.db", cfg.DatabasePath)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "raw_documents", cfg.KafkaTopic)
	require.Equal(t, "intel-worker", cfg.KafkaConsumer)
	require.Equal(t, 12, cfg.TitleMaxWords)
}

func TestLoadWorkerOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/intel.db")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092, broker-b:29093")
	t.Setenv("KAFKA_TOPIC", "custom_topic")
	t.Setenv("KAFKA_CONSUMER_GROUP", "custom-group")
	t.Setenv("WORKER_DEDUPE_CAPACITY", "5")
	t.Setenv("WORKER_DEDUPE_TTL", "48h")
	t.Setenv("WORKER_BATCH_SIZE", "3")
	t.Setenv("WORKER_COMMIT_INTERVAL", "5s")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)

	require.Equal(t, "/tmp/intel.db", cfg.DatabasePath)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.KafkaBrokers)
	require.Equal(t, "custom_topic", cfg.KafkaTopic)
	require.Equal(t, "custom-group", cfg.KafkaConsumer)
	require.Equal(t, 5, cfg.DedupeCapacity)
	require.Equal(t, 48*time.Hour, cfg.DedupeTTL)
	require.Equal(t, 3, cfg.BatchSize)
	require.Equal(t, 5*time.Second, cfg.CommitInterval)
}

func TestLoadWorkerRejectsBadBatch(t *testing.T) {
	t.Setenv("WORKER_BATCH_SIZE", "0")
	_, err := config.LoadWorker()
	require.Error(t, err)
}

func TestLoadAPI(t *testing.T) {
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_PAGE_SIZE", "15")
	t.Setenv("API_MAX_PAGE_SIZE", "200")
	t.Setenv("ELASTICSEARCH_ADDR", "http://api-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "api-index")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 15, cfg.DefaultPage)
	require.Equal(t, 200, cfg.MaxPage)
	require.Equal(t, "http://api-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "api-index", cfg.ElasticsearchIndex)
}

func TestLoadAPISearchOptional(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "")
	t.Setenv("ELASTICSEARCH_INDEX", "")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Empty(t, cfg.ElasticsearchAddr)
	require.Equal(t, "intel_documents", cfg.ElasticsearchIndex)
}

func TestLoadRetention(t *testing.T) {
	t.Setenv("ELASTICSEARCH_ADDR", "http://ret-es:9200")
	t.Setenv("ELASTICSEARCH_INDEX", "ret-index")
	t.Setenv("RETENTION_CRON", "12h")
	t.Setenv("RETENTION_MAX_AGE", "36h")
	t.Setenv("RETENTION_BATCH_SIZE", "123")

	cfg, err := config.LoadRetention()
	require.NoError(t, err)

	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, 36*time.Hour, cfg.MaxAge)
	require.Equal(t, 123, cfg.BatchSize)
	require.Equal(t, "http://ret-es:9200", cfg.ElasticsearchAddr)
	require.Equal(t, "ret-index", cfg.ElasticsearchIndex)
}

func TestLoadPaths(t *testing.T) {
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("STATUS_FILE", "")
	require.Equal(t, config.Paths{DatabasePath: "data/intelligence.db", StatusFile: "data/run_status.json"}, config.LoadPaths())

	t.Setenv("DATABASE_PATH", "/var/lib/intel.db")
	require.Equal(t, "/var/lib/intel.db", config.LoadPaths().DatabasePath)
}

func clearPipelineEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TOPIC", "TOPIC_DESCRIPTION", "TIME_WINDOW_DAYS", "REPORT_SECTIONS", "RSS_FEEDS",
		"SOURCE_HN", "SOURCE_NEWS_API", "MAX_DOCS_PER_RUN", "EXTRACT_MAX_DOCS", "EXTRACT_CONCURRENCY",
		"MAX_CONTRADICTION_PAIRS", "MAX_CONTEXT_DOCS", "ORACLE_PROVIDER", "ORACLE_TIMEOUT", "ORACLE_RPM",
		"TRACK_STATUS_FILE", "STATUS_FILE", "ELASTICSEARCH_ADDR", "KAFKA_BROKERS", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("TOPIC_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadPipelineRequiresExplicitTopicFile(t *testing.T) {
	clearPipelineEnv(t)

	_, err := config.LoadPipeline()
	require.Error(t, err)
}

func TestLoadPipelineDefaults(t *testing.T) {
	clearPipelineEnv(t)
	t.Setenv("TOPIC_CONFIG", "")

	cfg, err := config.LoadPipeline()
	require.NoError(t, err)

	require.Equal(t, "Market Intelligence", cfg.Topic)
	require.Equal(t, 30, cfg.TimeWindowDays)
	require.Equal(t, config.DefaultSections, cfg.Sections)
	require.Equal(t, 50, cfg.ExtractMaxDocs)
	require.Equal(t, 1, cfg.ExtractConcurrency)
	require.Equal(t, 5, cfg.MaxContradictionPairs)
	require.Equal(t, 20, cfg.MaxContextDocs)
	require.Equal(t, "openai", cfg.Oracle.Provider)
	require.Equal(t, 60*time.Second, cfg.Oracle.Timeout)
	require.Equal(t, "data/run_status.json", cfg.StatusFile)
	require.Empty(t, cfg.ElasticsearchAddr)
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, 50, cfg.EffectiveExtractLimit())
}

func TestLoadPipelineTopicFileAndEnvPrecedence(t *testing.T) {
	clearPipelineEnv(t)

	path := filepath.Join(t.TempDir(), "topic.yaml")
	yaml := `
topic: EV battery supply chain
report:
  time_window_days: 14
  sections: [executive_summary, risks, appendix_citations]
sources:
  rss_feeds:
    - https://example.com/feed.xml
  hn: false
  news_api: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("TOPIC_CONFIG", path)
	t.Setenv("TIME_WINDOW_DAYS", "7")
	t.Setenv("MAX_DOCS_PER_RUN", "10")
	t.Setenv("TRACK_STATUS_FILE", "0")

	cfg, err := config.LoadPipeline()
	require.NoError(t, err)

	require.Equal(t, "EV battery supply chain", cfg.Topic)
	require.Equal(t, 7, cfg.TimeWindowDays, "environment wins over the topic file")
	require.Equal(t, []string{"executive_summary", "risks", "appendix_citations"}, cfg.Sections)
	require.Equal(t, []string{"https://example.com/feed.xml"}, cfg.Sources.RSSFeeds)
	require.False(t, cfg.Sources.HackerNews)
	require.True(t, cfg.Sources.NewsAPI)
	require.Empty(t, cfg.StatusFile)
	require.Equal(t, 10, cfg.EffectiveExtractLimit())
}

func TestLoadPipelineValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "window", key: "TIME_WINDOW_DAYS", value: "0"},
		{name: "concurrency", key: "EXTRACT_CONCURRENCY", value: "0"},
		{name: "pairs", key: "MAX_CONTRADICTION_PAIRS", value: "-1"},
		{name: "context", key: "MAX_CONTEXT_DOCS", value: "0"},
		{name: "provider", key: "ORACLE_PROVIDER", value: "carrier-pigeon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearPipelineEnv(t)
			t.Setenv("TOPIC_CONFIG", "")
			t.Setenv(tt.key, tt.value)

			_, err := config.LoadPipeline()
			require.Error(t, err)
		})
	}
}
