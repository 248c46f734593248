// Package api is the HTTP surface of the identification service. It is
// served behind API Gateway through the Lambda HTTP adapter, or directly
// with net/http for local runs.
//
// Endpoints:
//
//	GET  /api/health                      health check
//	POST /api/identify                    scan an image
//	GET  /api/sessions/{id}               read a stored session and its feedback
//	POST /api/sessions/{id}/feedback      record the user's final choice
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/embedding"
	"github.com/fpang/item-identify/internal/feedback"
	"github.com/fpang/item-identify/internal/identify"
	"github.com/fpang/item-identify/internal/imagesource"
	"github.com/fpang/item-identify/internal/store"
)

// maxIdentifyBody allows a base64-encoded image of MaxImageBytes plus the
// surrounding JSON.
const maxIdentifyBody = imagesource.MaxImageBytes*4/3 + 64*1024

const maxFeedbackBody = 16 * 1024

var errBadSource = errors.New("invalid image source")

type Identifier interface {
	Identify(ctx context.Context, req identify.Request) (identify.Result, error)
}

type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, req feedback.Request) (*store.Feedback, error)
}

type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*store.MatchSession, error)
	GetFeedback(ctx context.Context, sessionID string) (*store.Feedback, error)
}

type ImageLoader interface {
	Load(ctx context.Context, ref string) (imagesource.Image, error)
	FromS3Key(ctx context.Context, key string) (imagesource.Image, error)
}

// Options configure a Server.
type Options struct {
	Identifier   Identifier
	Feedback     FeedbackRecorder
	Sessions     SessionReader
	Loader       ImageLoader
	OriginSecret string
	// MetricsOutput receives request metrics. Nil means stdout.
	MetricsOutput io.Writer
}

// Server holds the handlers.
type Server struct {
	identifier   Identifier
	feedback     FeedbackRecorder
	sessions     SessionReader
	loader       ImageLoader
	originSecret string
	metricsOut   io.Writer
}

func NewServer(opts Options) *Server {
	return &Server{
		identifier:   opts.Identifier,
		feedback:     opts.Feedback,
		sessions:     opts.Sessions,
		loader:       opts.Loader,
		originSecret: opts.OriginSecret,
		metricsOut:   opts.MetricsOutput,
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/identify", s.handleIdentify)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/feedback", s.handleFeedback)
	return s.withMetrics(withOriginVerify(s.originSecret, mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "item-identify",
	})
}

// IdentifyRequest is the POST /api/identify body. Exactly one image source
// is required.
type IdentifyRequest struct {
	ImageKey    string `json:"imageKey,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	Category    string `json:"category,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

func (s *Server) loadImage(ctx context.Context, req IdentifyRequest) (imagesource.Image, error) {
	sources := 0
	for _, v := range []string{req.ImageKey, req.ImageURL, req.ImageBase64} {
		if v != "" {
			sources++
		}
	}
	if sources != 1 {
		return imagesource.Image{}, fmt.Errorf("%w: exactly one of imageKey, imageUrl or imageBase64 is required", errBadSource)
	}
	switch {
	case req.ImageBase64 != "":
		return imagesource.FromBase64(req.ImageBase64)
	case req.ImageURL != "":
		if !strings.HasPrefix(req.ImageURL, "https://") {
			return imagesource.Image{}, fmt.Errorf("%w: imageUrl must be https", errBadSource)
		}
		return s.loader.Load(ctx, req.ImageURL)
	default:
		if strings.Contains(req.ImageKey, "..") || strings.HasPrefix(req.ImageKey, "/") {
			return imagesource.Image{}, fmt.Errorf("%w: imageKey must be a relative key", errBadSource)
		}
		return s.loader.FromS3Key(ctx, req.ImageKey)
	}
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req IdentifyRequest
	if err := decodeBody(w, r, maxIdentifyBody, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	img, err := s.loadImage(r.Context(), req)
	if err != nil {
		if errors.Is(err, errBadSource) || errors.Is(err, imagesource.ErrInvalidImage) {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpError(w, http.StatusBadGateway, "failed to fetch image", err.Error())
		return
	}

	res, err := s.identifier.Identify(r.Context(), identify.Request{
		Image:    img,
		Category: req.Category,
		UserID:   req.UserID,
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, res)
	case errors.Is(err, identify.ErrInvalidRequest):
		httpError(w, http.StatusBadRequest, "image is required")
	case errors.Is(err, embedding.ErrEmbeddingFailure):
		w.Header().Set("Retry-After", "2")
		httpError(w, http.StatusServiceUnavailable, "embedding service unavailable, retry the scan", err.Error())
	default:
		httpError(w, http.StatusInternalServerError, "identification failed", err.Error())
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		httpError(w, http.StatusBadRequest, "invalid session id: must be a UUID")
		return "", false
	}
	return id, true
}

// SessionResponse is the GET /api/sessions/{id} body.
type SessionResponse struct {
	*store.MatchSession
	Feedback *store.Feedback `json:"feedback,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	session, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load session", err.Error())
		return
	}
	if session == nil {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	fb, err := s.sessions.GetFeedback(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("Failed to load session feedback")
	}
	respondJSON(w, http.StatusOK, SessionResponse{MatchSession: session, Feedback: fb})
}

// FeedbackRequest is the POST /api/sessions/{id}/feedback body.
type FeedbackRequest struct {
	ChosenFamilyID string `json:"chosenFamilyId"`
	UserID         string `json:"userId,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var body FeedbackRequest
	if err := decodeBody(w, r, maxFeedbackBody, &body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fb, err := s.feedback.RecordFeedback(r.Context(), feedback.Request{
		SessionID:      id,
		ChosenFamilyID: body.ChosenFamilyID,
		UserID:         body.UserID,
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, fb)
	case errors.Is(err, feedback.ErrInvalidFeedback):
		httpError(w, http.StatusBadRequest, "chosenFamilyId is required")
	case errors.Is(err, store.ErrSessionNotFound):
		httpError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrFeedbackExists):
		httpError(w, http.StatusConflict, "feedback already recorded for this session")
	default:
		httpError(w, http.StatusInternalServerError, "failed to record feedback", err.Error())
	}
}
