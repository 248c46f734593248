// Package embedding turns a scan photo into a fixed-length vector using the
// Bedrock Titan multimodal embedding model.
package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fpang/item-identify/internal/imagesource"
)

// DefaultModelID is the Bedrock multimodal embedding model.
const DefaultModelID = "amazon.titan-embed-image-v1"

// DefaultDimensions is the vector length requested from the model. The
// catalog index must be built with the same value.
const DefaultDimensions = 1024

// ErrEmbeddingFailure marks errors from the embedding provider or an image
// it cannot accept. The scan is aborted and can be retried.
var ErrEmbeddingFailure = errors.New("embedding failure")

// Embedding is the vector for one image plus the hash of the bytes it was
// computed from.
type Embedding struct {
	Vector      []float32
	ContentHash string
}

// Embedder produces image embeddings. Identical bytes produce identical
// vectors and hashes.
type Embedder interface {
	Embed(ctx context.Context, img imagesource.Image) (Embedding, error)
}

// InvokeModelAPI is the subset of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type titanImageRequest struct {
	InputImage      string               `json:"inputImage"`
	EmbeddingConfig titanEmbeddingConfig `json:"embeddingConfig"`
}

type titanEmbeddingConfig struct {
	OutputEmbeddingLength int `json:"outputEmbeddingLength"`
}

type titanImageResponse struct {
	Embedding []float64 `json:"embedding"`
	Message   string    `json:"message,omitempty"`
}

// TitanClient implements Embedder over Bedrock InvokeModel. Calls are
// throttled by a token bucket shared by all goroutines using the client.
type TitanClient struct {
	client     InvokeModelAPI
	modelID    string
	dimensions int
	limiter    *rate.Limiter
}

var _ Embedder = (*TitanClient)(nil)

// NewTitanClient creates a TitanClient. rps <= 0 disables throttling.
func NewTitanClient(client InvokeModelAPI, modelID string, dimensions int, rps float64) (*TitanClient, error) {
	if modelID == "" {
		modelID = DefaultModelID
	}
	if dimensions == 0 {
		dimensions = DefaultDimensions
	}
	switch dimensions {
	case 256, 384, 1024:
	default:
		return nil, fmt.Errorf("unsupported embedding dimensions %d (want 256, 384 or 1024)", dimensions)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &TitanClient{
		client:     client,
		modelID:    modelID,
		dimensions: dimensions,
		limiter:    limiter,
	}, nil
}

// Dimensions returns the vector length produced by the client.
func (c *TitanClient) Dimensions() int { return c.dimensions }

func (c *TitanClient) Embed(ctx context.Context, img imagesource.Image) (Embedding, error) {
	start := time.Now()

	prepared, err := Prepare(img)
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}

	body, err := json.Marshal(titanImageRequest{
		InputImage:      base64.StdEncoding.EncodeToString(prepared),
		EmbeddingConfig: titanEmbeddingConfig{OutputEmbeddingLength: c.dimensions},
	})
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: marshal request: %w", ErrEmbeddingFailure, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Embedding{}, fmt.Errorf("%w: rate limiter: %w", ErrEmbeddingFailure, err)
	}

	result, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		log.Error().Err(err).Str("modelId", c.modelID).Msg("Bedrock InvokeModel failed")
		return Embedding{}, fmt.Errorf("%w: InvokeModel: %w", ErrEmbeddingFailure, err)
	}

	var resp titanImageResponse
	if err := json.Unmarshal(result.Body, &resp); err != nil {
		return Embedding{}, fmt.Errorf("%w: decode response: %w", ErrEmbeddingFailure, err)
	}
	if len(resp.Embedding) != c.dimensions {
		return Embedding{}, fmt.Errorf("%w: got %d dimensions, want %d (%s)",
			ErrEmbeddingFailure, len(resp.Embedding), c.dimensions, resp.Message)
	}

	vector := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vector[i] = float32(v)
	}

	log.Debug().
		Str("modelId", c.modelID).
		Int("inputBytes", len(img.Data)).
		Int("sentBytes", len(prepared)).
		Dur("duration", time.Since(start)).
		Msg("Image embedding generated")

	return Embedding{Vector: vector, ContentHash: img.Hash()}, nil
}
