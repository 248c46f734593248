// Package vision reads printed brand and model text from a scan photo with a
// Gemini vision model.
package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/fpang/item-identify/internal/assets"
	"github.com/fpang/item-identify/internal/disambig"
	"github.com/fpang/item-identify/internal/imagesource"
)

// DefaultModel is used when GEMINI_MODEL is not set.
const DefaultModel = "gemini-2.5-flash"

// ErrSignalExtraction marks a failed or unparseable OCR call. Callers treat
// it as "no signal": the scan is blocked or the visual decision stands.
var ErrSignalExtraction = errors.New("signal extraction failed")

// Hints carries optional context for one extraction.
type Hints struct {
	Category string
	Capture  map[string]string
}

// SignalExtractor reads brand/model signals from an image.
type SignalExtractor interface {
	ExtractSignals(ctx context.Context, img imagesource.Image, hints Hints) (*disambig.Signals, error)
}

// ContentGenerator is satisfied by (*genai.Client).Models.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor implements SignalExtractor with a Gemini vision model.
type GeminiExtractor struct {
	models  ContentGenerator
	model   string
	limiter *rate.Limiter
}

var _ SignalExtractor = (*GeminiExtractor)(nil)

// NewGeminiClient creates a Gemini API client for the given key.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewGeminiExtractor wraps models. rps <= 0 disables throttling.
func NewGeminiExtractor(models ContentGenerator, model string, rps float64) *GeminiExtractor {
	if model == "" {
		model = DefaultModel
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return &GeminiExtractor{models: models, model: model, limiter: limiter}
}

func (g *GeminiExtractor) ExtractSignals(ctx context.Context, img imagesource.Image, hints Hints) (*disambig.Signals, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", ErrSignalExtraction, err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.SignalSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}
	prompt := assets.RenderSignalPrompt(assets.SignalPromptData{
		Category:       hints.Category,
		CaptureContext: imagesource.Describe(hints.Capture),
	})
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
		{Text: prompt},
	}

	callStart := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{{Role: "user", Parts: parts}}, config)
	duration := time.Since(callStart)
	if err != nil {
		log.Warn().
			Err(err).
			Str("model", g.model).
			Str("failure", string(ClassifyError(err))).
			Dur("duration", duration).
			Msg("Gemini signal extraction failed")
		return nil, fmt.Errorf("%w: generate content: %w", ErrSignalExtraction, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrSignalExtraction)
	}

	signals, err := ParseSignals(resp.Text())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignalExtraction, err)
	}

	log.Debug().
		Str("model", g.model).
		Str("brand", signals.Brand).
		Str("modelLine", signals.Model).
		Bool("confident", signals.Confident).
		Dur("duration", duration).
		Msg("Signals extracted")
	return signals, nil
}
