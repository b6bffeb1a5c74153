package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Corpus source kinds.
const (
	CorpusDir      = "dir"
	CorpusPostgres = "postgres"
	CorpusS3       = "s3"
)

type Config struct {
	Port             string        `envconfig:"PORT" default:"8080"`
	Debug            bool          `envconfig:"DEBUG" default:"false"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	APIKeys          []string      `envconfig:"API_KEYS"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	CorpusSource string `envconfig:"CORPUS_SOURCE" default:"dir"`
	CorpusDir    string `envconfig:"CORPUS_DIR" default:"./corpus"`
	CorpusWatch  bool   `envconfig:"CORPUS_WATCH" default:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"agentkb-corpus"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3CorpusKey string `envconfig:"S3_CORPUS_KEY" default:"corpus/chunks.jsonl"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	ChatModel           string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	RedisURL string `envconfig:"REDIS_URL"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	ClassifierVocabulary string `envconfig:"CLASSIFIER_VOCABULARY"`

	QualityThreshold   float64       `envconfig:"QUALITY_THRESHOLD" default:"0.35"`
	ExcellentThreshold float64       `envconfig:"EXCELLENT_THRESHOLD" default:"0.5"`
	MinScore           float64       `envconfig:"MIN_SCORE" default:"0.3"`
	TopK               int           `envconfig:"TOP_K" default:"3"`
	VectorCacheTTL     time.Duration `envconfig:"VECTOR_CACHE_TTL" default:"60s"`
	LexicalTTL         time.Duration `envconfig:"LEXICAL_TTL" default:"60s"`
	ResponseCacheTTL   time.Duration `envconfig:"RESPONSE_CACHE_TTL" default:"300s"`
	ResponseCacheSize  int           `envconfig:"RESPONSE_CACHE_SIZE" default:"1000"`
	MaxTurns           int           `envconfig:"MAX_TURNS" default:"10"`
	SessionTTL         time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	LLMTimeout         time.Duration `envconfig:"LLM_TIMEOUT" default:"10s"`
	EmbeddingTimeout   time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"2s"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	EmbedConcurrency   int           `envconfig:"EMBED_CONCURRENCY" default:"4"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("AGENTKB", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.CorpusSource {
	case CorpusDir:
		if strings.TrimSpace(c.CorpusDir) == "" {
			errs = append(errs, errors.New("CORPUS_DIR is required for the dir corpus source"))
		}
	case CorpusPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres corpus source"))
		}
	case CorpusS3:
		if !c.HasS3() {
			errs = append(errs, errors.New("S3_ENDPOINT, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required for the s3 corpus source"))
		}
	default:
		errs = append(errs, fmt.Errorf("CORPUS_SOURCE must be one of dir, postgres, s3, got %q", c.CorpusSource))
	}

	if !inUnitRange(c.MinScore) || !inUnitRange(c.QualityThreshold) || !inUnitRange(c.ExcellentThreshold) {
		errs = append(errs, errors.New("score thresholds must be within [0, 1]"))
	}
	if c.MinScore > c.QualityThreshold || c.QualityThreshold > c.ExcellentThreshold {
		errs = append(errs, fmt.Errorf("thresholds must satisfy MIN_SCORE <= QUALITY_THRESHOLD <= EXCELLENT_THRESHOLD, got %.2f, %.2f, %.2f",
			c.MinScore, c.QualityThreshold, c.ExcellentThreshold))
	}
	if c.TopK < 3 || c.TopK > 7 {
		errs = append(errs, fmt.Errorf("TOP_K must be between 3 and 7, got %d", c.TopK))
	}
	if c.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("MAX_TURNS must be positive, got %d", c.MaxTurns))
	}
	if c.ResponseCacheSize < 1 {
		errs = append(errs, fmt.Errorf("RESPONSE_CACHE_SIZE must be positive, got %d", c.ResponseCacheSize))
	}
	if c.EmbedConcurrency < 1 {
		errs = append(errs, fmt.Errorf("EMBED_CONCURRENCY must be positive, got %d", c.EmbedConcurrency))
	}
	for name, d := range map[string]time.Duration{
		"VECTOR_CACHE_TTL":   c.VectorCacheTTL,
		"LEXICAL_TTL":        c.LexicalTTL,
		"RESPONSE_CACHE_TTL": c.ResponseCacheTTL,
		"LLM_TIMEOUT":        c.LLMTimeout,
		"EMBEDDING_TIMEOUT":  c.EmbeddingTimeout,
		"HTTP_WRITE_TIMEOUT": c.HTTPWriteTimeout,
		"SWEEP_INTERVAL":     c.SweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.LLMTimeout >= c.HTTPWriteTimeout {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT (%s) must be shorter than HTTP_WRITE_TIMEOUT (%s)", c.LLMTimeout, c.HTTPWriteTimeout))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}

func (c *Config) HasAuth() bool {
	return len(c.APIKeys) > 0
}
