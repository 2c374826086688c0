package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSections is the report layout used when neither the topic file nor REPORT_SECTIONS sets one.
var DefaultSections = []string{
	"executive_summary",
	"market",
	"regulation",
	"technology",
	"risks",
	"opportunities",
	"appendix_citations",
}

const (
	defaultTopic            = "Market Intelligence"
	defaultTopicDescription = "Market, technical, and regulatory landscape for the chosen topic."
	defaultTopicConfig      = "config/topic_config.yaml"
)

// Sources selects which collectors the ingest stage runs.
type Sources struct {
	RSSFeeds          []string
	FeedLimit         int
	HackerNews        bool
	HNLimit           int
	HNBaseURL         string
	HNRequestInterval time.Duration
	NewsAPI           bool
	NewsAPIKey        string
	NewsAPILimit      int
	NewsAPIURL        string
	FetchTimeout      time.Duration
}

// Oracle configures the text generation backend.
type Oracle struct {
	Provider          string
	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	GeminiKey         string
	GeminiModel       string
	Timeout           time.Duration
	RequestsPerMinute int
}

// Pipeline holds everything a single report run reads at start-up.
type Pipeline struct {
	Common
	DatabasePath          string
	Topic                 string
	TopicDescription      string
	TimeWindowDays        int
	Sections              []string
	Sources               Sources
	MaxDocsPerRun         int
	ExtractMaxDocs        int
	ExtractConcurrency    int
	TrackProgress         bool
	MaxContradictionPairs int
	MaxContextDocs        int
	Oracle                Oracle
	StatusFile            string
	SamplesDir            string
	KafkaBrokers          []string
	ReportsTopic          string
	KeywordLimit          int
	KeywordMinLength      int
}

// topicFile mirrors the optional YAML topic configuration.
type topicFile struct {
	Topic       string `yaml:"topic"`
	Description string `yaml:"description"`
	Report      struct {
		TimeWindowDays int      `yaml:"time_window_days"`
		Sections       []string `yaml:"sections"`
	} `yaml:"report"`
	Sources struct {
		RSSFeeds []string `yaml:"rss_feeds"`
		HN       *bool    `yaml:"hn"`
		NewsAPI  *bool    `yaml:"news_api"`
	} `yaml:"sources"`
}

// loadTopicFile parses a YAML topic file. A missing file yields an empty configuration.
func loadTopicFile(path string, required bool) (topicFile, error) {
	var tf topicFile
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return tf, nil
		}
		return tf, fmt.Errorf("read topic config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return tf, fmt.Errorf("parse topic config %s: %w", path, err)
	}
	return tf, nil
}

// LoadPipeline builds a Pipeline config from the topic file and environment variables.
// Environment variables win over the file.
func LoadPipeline() (*Pipeline, error) {
	path, explicit := os.LookupEnv("TOPIC_CONFIG")
	if !explicit || path == "" {
		path, explicit = defaultTopicConfig, false
	}
	tf, err := loadTopicFile(path, explicit)
	if err != nil {
		return nil, err
	}

	windowDays := 30
	if tf.Report.TimeWindowDays != 0 {
		windowDays = tf.Report.TimeWindowDays
	}
	sections := DefaultSections
	if len(tf.Report.Sections) > 0 {
		sections = tf.Report.Sections
	}
	if raw := getEnv("REPORT_SECTIONS", ""); raw != "" {
		sections = splitAndTrim(raw)
	}
	feeds := tf.Sources.RSSFeeds
	if raw := getEnv("RSS_FEEDS", ""); raw != "" {
		feeds = splitAndTrim(raw)
	}
	hn := true
	if tf.Sources.HN != nil {
		hn = *tf.Sources.HN
	}
	newsAPI := true
	if tf.Sources.NewsAPI != nil {
		newsAPI = *tf.Sources.NewsAPI
	}

	c := &Pipeline{
		Common: Common{
			ElasticsearchAddr:  getEnv("ELASTICSEARCH_ADDR", ""),
			ElasticsearchIndex: getEnv("ELASTICSEARCH_INDEX", defaultSearchIndex),
		},
		DatabasePath:     getEnv("DATABASE_PATH", defaultDatabasePath),
		Topic:            strings.TrimSpace(getEnv("TOPIC", firstNonEmpty(tf.Topic, defaultTopic))),
		TopicDescription: getEnv("TOPIC_DESCRIPTION", firstNonEmpty(tf.Description, defaultTopicDescription)),
		TimeWindowDays:   getInt("TIME_WINDOW_DAYS", windowDays),
		Sections:         sections,
		Sources: Sources{
			RSSFeeds:          feeds,
			FeedLimit:         getInt("RSS_LIMIT_PER_FEED", 10),
			HackerNews:        getBool("SOURCE_HN", hn),
			HNLimit:           getInt("HN_LIMIT", 25),
			HNBaseURL:         getEnv("HN_BASE_URL", "https://hacker-news.firebaseio.com/v0"),
			HNRequestInterval: getDuration("HN_REQUEST_INTERVAL", "100ms"),
			NewsAPI:           getBool("SOURCE_NEWS_API", newsAPI),
			NewsAPIKey:        getEnv("NEWS_API_KEY", ""),
			NewsAPILimit:      getInt("NEWS_API_LIMIT", 20),
			NewsAPIURL:        getEnv("NEWS_API_URL", "https://newsapi.org/v2/everything"),
			FetchTimeout:      getDuration("FETCH_TIMEOUT", "15s"),
		},
		MaxDocsPerRun:         getInt("MAX_DOCS_PER_RUN", 0),
		ExtractMaxDocs:        getInt("EXTRACT_MAX_DOCS", 50),
		ExtractConcurrency:    getInt("EXTRACT_CONCURRENCY", 1),
		TrackProgress:         getBool("TRACK_PROGRESS", false),
		MaxContradictionPairs: getInt("MAX_CONTRADICTION_PAIRS", 5),
		MaxContextDocs:        getInt("MAX_CONTEXT_DOCS", 20),
		Oracle: Oracle{
			Provider:          strings.ToLower(getEnv("ORACLE_PROVIDER", "openai")),
			OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			GeminiKey:         getEnv("GEMINI_API_KEY", ""),
			GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout:           getDuration("ORACLE_TIMEOUT", "60s"),
			RequestsPerMinute: getInt("ORACLE_RPM", 60),
		},
		SamplesDir:       getEnv("SAMPLES_DIR", "samples"),
		KafkaBrokers:     splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		ReportsTopic:     getEnv("REPORTS_TOPIC", "intel_reports"),
		KeywordLimit:     getInt("SEARCH_KEYWORD_LIMIT", 8),
		KeywordMinLength: getInt("SEARCH_KEYWORD_MIN_LEN", 4),
	}
	if getBool("TRACK_STATUS_FILE", true) {
		c.StatusFile = getEnv("STATUS_FILE", defaultStatusFile)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the invariants the pipeline stages rely on.
func (c *Pipeline) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("TOPIC cannot be empty")
	}
	if c.TimeWindowDays <= 0 {
		return fmt.Errorf("TIME_WINDOW_DAYS must be positive")
	}
	if len(c.Sections) == 0 {
		return fmt.Errorf("REPORT_SECTIONS must contain at least one section")
	}
	if c.MaxDocsPerRun < 0 {
		return fmt.Errorf("MAX_DOCS_PER_RUN cannot be negative")
	}
	if c.ExtractMaxDocs < 0 {
		return fmt.Errorf("EXTRACT_MAX_DOCS cannot be negative")
	}
	if c.ExtractConcurrency <= 0 {
		return fmt.Errorf("EXTRACT_CONCURRENCY must be positive")
	}
	if c.MaxContradictionPairs < 0 {
		return fmt.Errorf("MAX_CONTRADICTION_PAIRS cannot be negative")
	}
	if c.MaxContextDocs <= 0 {
		return fmt.Errorf("MAX_CONTEXT_DOCS must be positive")
	}
	switch c.Oracle.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("ORACLE_PROVIDER must be openai or gemini, got %q", c.Oracle.Provider)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be positive")
	}
	if c.Oracle.RequestsPerMinute < 0 {
		return fmt.Errorf("ORACLE_RPM cannot be negative")
	}
	if c.KeywordLimit <= 0 {
		return fmt.Errorf("SEARCH_KEYWORD_LIMIT must be positive")
	}
	if c.KeywordMinLength < 0 {
		return fmt.Errorf("SEARCH_KEYWORD_MIN_LEN cannot be negative")
	}
	return nil
}

// EffectiveExtractLimit returns the extraction cap: EXTRACT_MAX_DOCS, or MAX_DOCS_PER_RUN when that is set.
func (c *Pipeline) EffectiveExtractLimit() int {
	if c.MaxDocsPerRun > 0 {
		return c.MaxDocsPerRun
	}
	return c.ExtractMaxDocs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
