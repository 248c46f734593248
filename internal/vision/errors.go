package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// FailureKind classifies a Gemini call failure.
type FailureKind string

const (
	FailureInvalidKey FailureKind = "invalid_key"
	FailureQuota      FailureKind = "quota"
	FailureNetwork    FailureKind = "network"
	FailureUnknown    FailureKind = "unknown"
)

// KeyError is returned by ValidateKey.
type KeyError struct {
	Kind FailureKind
	Err  error
}

func (e *KeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gemini key check failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gemini key check failed (%s)", e.Kind)
}

func (e *KeyError) Unwrap() error { return e.Err }

// ClassifyError maps a Gemini error to a FailureKind using the API status
// code when present and the message otherwise.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return ""
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyStatus(apiErrPtr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "api key not valid", "invalid api key", "api_key_invalid", "permission denied"):
		return FailureInvalidKey
	case containsAny(msg, "quota", "resource exhausted", "rate limit"):
		return FailureQuota
	case containsAny(msg, "connection", "network", "timeout", "dial", "no such host", "unreachable"):
		return FailureNetwork
	default:
		return FailureUnknown
	}
}

func classifyStatus(code int) FailureKind {
	switch {
	case code == 400, code == 401, code == 403:
		return FailureInvalidKey
	case code == 429:
		return FailureQuota
	case code >= 500:
		return FailureNetwork
	default:
		return FailureUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ValidateKey makes a minimal request to confirm the key behind models
// works. It returns a *KeyError on failure.
func ValidateKey(ctx context.Context, models ContentGenerator, model string) error {
	if model == "" {
		model = DefaultModel
	}
	start := time.Now()
	resp, err := models.GenerateContent(ctx, model, genai.Text("hi"), nil)
	if err != nil {
		kind := ClassifyError(err)
		log.Error().Err(err).Str("failure", string(kind)).Msg("Gemini API key validation failed")
		return &KeyError{Kind: kind, Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return &KeyError{Kind: FailureUnknown, Err: errors.New("empty response")}
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("Gemini API key validated")
	return nil
}
