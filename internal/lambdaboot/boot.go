// Package lambdaboot wires the identification service from configuration.
// Every binary (API Lambda, direct-invoke Lambda, CLI) starts through Build
// so they share one composition of clients and stores.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/cache"
	"github.com/fpang/item-identify/internal/catalog"
	"github.com/fpang/item-identify/internal/config"
	"github.com/fpang/item-identify/internal/disambig"
	"github.com/fpang/item-identify/internal/embedding"
	"github.com/fpang/item-identify/internal/feedback"
	"github.com/fpang/item-identify/internal/identify"
	"github.com/fpang/item-identify/internal/imagesource"
	"github.com/fpang/item-identify/internal/logging"
	"github.com/fpang/item-identify/internal/match"
	"github.com/fpang/item-identify/internal/store"
	"github.com/fpang/item-identify/internal/vision"
)

// GetParameterAPI is the subset of the SSM client used here.
type GetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Components are the wired services a binary serves.
type Components struct {
	Identify *identify.Service
	Feedback *feedback.Recorder
	Sessions store.SessionStore
	Loader   *imagesource.Loader
	Rules    *disambig.RuleTable
	// OCR is false when no Gemini key could be loaded; text-confirmation
	// categories are then always blocked.
	OCR bool
}

// LoadAWS loads the default AWS configuration.
func LoadAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg, nil
}

// LoadGeminiKey fills cfg.GeminiAPIKey from SSM Parameter Store when it was
// not set in the environment.
func LoadGeminiKey(ctx context.Context, client GetParameterAPI, cfg *config.Config) error {
	if cfg.GeminiAPIKey != "" || cfg.GeminiKeyParam == "" {
		return nil
	}
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(cfg.GeminiKeyParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read SSM parameter %s: %w", cfg.GeminiKeyParam, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return fmt.Errorf("SSM parameter %s is empty", cfg.GeminiKeyParam)
	}
	cfg.GeminiAPIKey = aws.ToString(result.Parameter.Value)
	log.Debug().Str("param", cfg.GeminiKeyParam).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return nil
}

// LoadRules returns the rule table at path, or the embedded table when path
// is empty.
func LoadRules(path string) (*disambig.RuleTable, error) {
	if path == "" {
		return disambig.DefaultRules(), nil
	}
	return disambig.LoadRulesFile(path)
}

// NewCache builds the result cache: an in-process LRU in front of the
// DynamoDB cache table when one is configured.
func NewCache(cfg config.Config, ddb cache.DynamoAPI) cache.ResultCache {
	var local, shared cache.ResultCache
	if cfg.MemoryCacheSize > 0 {
		local = cache.NewMemoryCache(cfg.MemoryCacheSize)
	}
	if cfg.CacheTable != "" && ddb != nil {
		shared = cache.NewDynamoCache(ddb, cfg.CacheTable)
	}
	switch {
	case local != nil && shared != nil:
		return &cache.Tiered{Local: local, Shared: shared}
	case local != nil:
		return local
	case shared != nil:
		return shared
	default:
		return cache.Noop{}
	}
}

// Build creates every client and service from cfg. A failure to load the
// Gemini key disables OCR instead of failing startup.
func Build(ctx context.Context, cfg config.Config, awsCfg aws.Config) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules, err := LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}

	ddb := dynamodb.NewFromConfig(awsCfg)
	var sessions store.SessionStore
	if cfg.SessionsTable != "" {
		sessions = store.NewDynamoStore(ddb, cfg.SessionsTable)
	} else {
		log.Warn().Msg("IDENTIFY_SESSIONS_TABLE not set, sessions are kept in memory")
		sessions = store.NewMemoryStore()
	}

	embedder, err := embedding.NewTitanClient(bedrockruntime.NewFromConfig(awsCfg), cfg.EmbeddingModel, cfg.EmbeddingDimensions, cfg.EmbedRPS)
	if err != nil {
		return nil, err
	}
	index := catalog.NewDataAPIIndex(rdsdata.NewFromConfig(awsCfg), cfg.ClusterARN, cfg.SecretARN, cfg.Database)

	var signals vision.SignalExtractor
	if err := LoadGeminiKey(ctx, ssm.NewFromConfig(awsCfg), &cfg); err != nil {
		log.Warn().Err(err).Msg("Gemini API key unavailable, OCR disabled")
	}
	if cfg.GeminiAPIKey != "" {
		client, err := vision.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create Gemini client: %w", err)
		}
		signals = vision.NewGeminiExtractor(client.Models, cfg.GeminiModel, cfg.OCRRPS)
	}

	engine := match.NewEngine(match.DefaultPolicy())
	svc := identify.New(identify.Deps{
		Embedder: embedder,
		Index:    index,
		Signals:  signals,
		Sessions: sessions,
		Cache:    NewCache(cfg, ddb),
		Engine:   engine,
		Resolver: disambig.NewResolver(engine, rules, disambig.DefaultConfig()),
		Timeouts: cfg.Timeouts,
	})

	var sink feedback.EventSink
	if cfg.FeedbackEventBus != "" {
		sink = feedback.NewEventBridgeSink(eventbridge.NewFromConfig(awsCfg), cfg.FeedbackEventBus)
	}

	return &Components{
		Identify: svc,
		Feedback: feedback.NewRecorder(sessions, sink),
		Sessions: sessions,
		Loader:   imagesource.NewLoader(s3.NewFromConfig(awsCfg), cfg.ImageBucket),
		Rules:    rules,
		OCR:      signals != nil,
	}, nil
}

// StartupLog describes the wiring of a binary for its cold-start event.
func StartupLog(name string, cfg config.Config, c *Components, initStart time.Time) *logging.StartupLogger {
	l := logging.NewStartupLogger(name).
		DynamoTable("sessions", cfg.SessionsTable).
		Index("cluster", cfg.ClusterARN).
		Index("database", cfg.Database).
		Model("embedding", cfg.EmbeddingModel).
		Config("embeddingDimensions", fmt.Sprint(cfg.EmbeddingDimensions)).
		Config("memoryCacheSize", fmt.Sprint(cfg.MemoryCacheSize)).
		Feature("originVerify", cfg.OriginVerifySecret != "").
		Feature("feedbackEvents", cfg.FeedbackEventBus != "").
		InitDuration(time.Since(initStart))
	if cfg.CacheTable != "" {
		l.DynamoTable("cache", cfg.CacheTable)
	}
	if cfg.GeminiKeyParam != "" {
		l.SSMParam("geminiApiKey", cfg.GeminiKeyParam)
	}
	if c != nil {
		l.Feature("ocr", c.OCR).Config("disambiguationRules", fmt.Sprint(len(c.Rules.Rules())))
		if c.OCR {
			l.Model("vision", cfg.GeminiModel)
		}
	}
	return l
}
