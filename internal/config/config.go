// Package config resolves runtime settings from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/item-identify/internal/embedding"
	"github.com/fpang/item-identify/internal/identify"
	"github.com/fpang/item-identify/internal/vision"
)

// DefaultGeminiKeyParam is the SSM parameter holding the Gemini API key.
const DefaultGeminiKeyParam = "/item-identify/prod/gemini-api-key"

// Config holds every setting the binaries read.
type Config struct {
	SessionsTable string
	CacheTable    string

	ClusterARN string
	SecretARN  string
	Database   string

	EmbeddingModel      string
	EmbeddingDimensions int
	GeminiModel         string
	GeminiAPIKey        string
	GeminiKeyParam      string

	FeedbackEventBus string
	ImageBucket      string
	RulesPath        string

	Timeouts        identify.Timeouts
	EmbedRPS        float64
	OCRRPS          float64
	MemoryCacheSize int

	// OriginVerifySecret, when set, is required in the
	// x-origin-verify header of every API request.
	OriginVerifySecret string

	// InLambda is true inside the Lambda runtime. Outside it a missing
	// sessions table selects the in-process store.
	InLambda bool
}

// EnvOrDefault returns the named variable, or def when it is empty.
func EnvOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// Load reads the environment. Malformed numbers and durations are errors;
// missing required values are reported by Validate.
func Load() (Config, error) {
	var errs []error
	intVar := func(name string, def int) int {
		v := os.Getenv(name)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return def
		}
		return n
	}
	floatVar := func(name string, def float64) float64 {
		v := os.Getenv(name)
		if v == "" {
			return def
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return def
		}
		return f
	}
	durationVar := func(name string, def time.Duration) time.Duration {
		v := os.Getenv(name)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return def
		}
		return d
	}

	def := identify.DefaultTimeouts()
	cfg := Config{
		SessionsTable:       os.Getenv("IDENTIFY_SESSIONS_TABLE"),
		CacheTable:          os.Getenv("IDENTIFY_CACHE_TABLE"),
		ClusterARN:          os.Getenv("AURORA_CLUSTER_ARN"),
		SecretARN:           os.Getenv("AURORA_SECRET_ARN"),
		Database:            EnvOrDefault("AURORA_DATABASE_NAME", "item_library"),
		EmbeddingModel:      EnvOrDefault("BEDROCK_EMBEDDING_MODEL_ID", embedding.DefaultModelID),
		EmbeddingDimensions: intVar("EMBEDDING_DIMENSIONS", embedding.DefaultDimensions),
		GeminiModel:         EnvOrDefault("GEMINI_MODEL", vision.DefaultModel),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiKeyParam:      EnvOrDefault("SSM_API_KEY_PARAM", DefaultGeminiKeyParam),
		FeedbackEventBus:    os.Getenv("FEEDBACK_EVENT_BUS"),
		ImageBucket:         os.Getenv("IMAGE_BUCKET_NAME"),
		RulesPath:           os.Getenv("DISAMBIGUATION_RULES_PATH"),
		Timeouts: identify.Timeouts{
			Embed: durationVar("EMBED_TIMEOUT", def.Embed),
			Index: durationVar("INDEX_TIMEOUT", def.Index),
			OCR:   durationVar("OCR_TIMEOUT", def.OCR),
		},
		EmbedRPS:           floatVar("EMBED_RPS", 5),
		OCRRPS:             floatVar("OCR_RPS", 2),
		MemoryCacheSize:    intVar("MEMORY_CACHE_SIZE", 1024),
		OriginVerifySecret: os.Getenv("ORIGIN_VERIFY_SECRET"),
		InLambda:           os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "",
	}
	return cfg, errors.Join(errs...)
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	var missing []string
	if c.SessionsTable == "" && c.InLambda {
		missing = append(missing, "IDENTIFY_SESSIONS_TABLE")
	}
	if c.ClusterARN == "" {
		missing = append(missing, "AURORA_CLUSTER_ARN")
	}
	if c.SecretARN == "" {
		missing = append(missing, "AURORA_SECRET_ARN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	switch c.EmbeddingDimensions {
	case 256, 384, 1024:
	default:
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be 256, 384 or 1024, got %d", c.EmbeddingDimensions)
	}
	if c.MemoryCacheSize < 0 {
		return fmt.Errorf("MEMORY_CACHE_SIZE must not be negative")
	}
	return nil
}

// OCREnabled reports whether a Gemini key is available or can be fetched.
func (c Config) OCREnabled() bool {
	return c.GeminiAPIKey != "" || c.GeminiKeyParam != ""
}
