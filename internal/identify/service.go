// Package identify runs one scan end to end: session and cache lookup,
// embedding, similarity search, the decision policy, printed-text
// disambiguation and persistence.
package identify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/item-identify/internal/cache"
	"github.com/fpang/item-identify/internal/catalog"
	"github.com/fpang/item-identify/internal/category"
	"github.com/fpang/item-identify/internal/disambig"
	"github.com/fpang/item-identify/internal/embedding"
	"github.com/fpang/item-identify/internal/imagesource"
	"github.com/fpang/item-identify/internal/match"
	"github.com/fpang/item-identify/internal/metrics"
	"github.com/fpang/item-identify/internal/store"
	"github.com/fpang/item-identify/internal/vision"
)

// ErrInvalidRequest is returned for a scan without image data.
var ErrInvalidRequest = errors.New("invalid identify request")

// Request is one scan.
type Request struct {
	Image imagesource.Image
	// Category is a hint; empty or "all" searches every category.
	Category string
	UserID   string
}

// Timeouts bound each external call.
type Timeouts struct {
	Embed time.Duration
	Index time.Duration
	OCR   time.Duration
}

// DefaultTimeouts returns the production limits.
func DefaultTimeouts() Timeouts {
	return Timeouts{Embed: 20 * time.Second, Index: 8 * time.Second, OCR: 25 * time.Second}
}

// Deps wires a Service. Signals and Cache are optional.
type Deps struct {
	Embedder embedding.Embedder
	Index    catalog.Index
	Signals  vision.SignalExtractor
	Sessions store.SessionStore
	Cache    cache.ResultCache
	Engine   *match.Engine
	Resolver *disambig.Resolver
	Timeouts Timeouts
	// MetricsOutput receives one EMF line per scan. Nil means stdout.
	MetricsOutput io.Writer
}

// Service is safe for concurrent use; each Identify call is independent.
type Service struct {
	embedder embedding.Embedder
	index    catalog.Index
	signals  vision.SignalExtractor
	sessions store.SessionStore
	cache    cache.ResultCache
	engine   *match.Engine
	resolver *disambig.Resolver
	timeouts Timeouts
	metrics  io.Writer
	now      func() time.Time
}

// New creates a Service. Missing engine, resolver and timeouts fall back to
// the defaults.
func New(d Deps) *Service {
	if d.Engine == nil {
		d.Engine = match.NewEngine(match.DefaultPolicy())
	}
	if d.Resolver == nil {
		d.Resolver = disambig.NewResolver(d.Engine, disambig.DefaultRules(), disambig.DefaultConfig())
	}
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	def := DefaultTimeouts()
	if d.Timeouts.Embed <= 0 {
		d.Timeouts.Embed = def.Embed
	}
	if d.Timeouts.Index <= 0 {
		d.Timeouts.Index = def.Index
	}
	if d.Timeouts.OCR <= 0 {
		d.Timeouts.OCR = def.OCR
	}
	return &Service{
		embedder: d.Embedder,
		index:    d.Index,
		signals:  d.Signals,
		sessions: d.Sessions,
		cache:    d.Cache,
		engine:   d.Engine,
		resolver: d.Resolver,
		timeouts: d.Timeouts,
		metrics:  d.MetricsOutput,
		now:      time.Now,
	}
}

func (s *Service) recorder() *metrics.Recorder {
	rec := metrics.New(metrics.Namespace)
	if s.metrics != nil {
		rec.WithWriter(s.metrics)
	}
	return rec
}

// Identify returns the decision for a scan. The only error besides
// ErrInvalidRequest is a wrapped embedding.ErrEmbeddingFailure, which the
// caller may retry. Index, OCR, cache and session lookup failures degrade
// the result instead of failing it.
func (s *Service) Identify(ctx context.Context, req Request) (Result, error) {
	start := s.now()
	if len(req.Image.Data) == 0 {
		return Result{}, fmt.Errorf("%w: image is required", ErrInvalidRequest)
	}

	cat := category.Normalize(req.Category)
	hash := req.Image.Hash()
	key := store.ScanKey{UserID: req.UserID, Category: cat, ImageHash: hash}
	rec := s.recorder().Dimension("Category", cat).Property("imageHash", hash)
	defer rec.Flush()

	res, err := s.identify(ctx, req, key, rec)
	if err != nil {
		rec.Dimension("Decision", "error").Add(metrics.EmbedFailures, 1)
		return Result{}, err
	}

	rec.Dimension("Decision", string(res.Decision.Kind())).
		Since(metrics.ScanLatency, start).
		Metric(metrics.CandidateCount, float64(len(res.Decision.Details().TopMatches)), metrics.UnitCount).
		Property("sessionId", res.SessionID)

	log.Info().
		Str("sessionId", res.SessionID).
		Str("category", cat).
		Str("decision", string(res.Decision.Kind())).
		Float64("bestScore", res.Decision.Details().BestScore).
		Float64("scoreGap", res.Decision.Details().ScoreGap).
		Bool("cached", res.Cached).
		Bool("reused", res.Reused).
		Dur("duration", time.Since(start)).
		Msg("Scan identified")
	return res, nil
}

func (s *Service) identify(ctx context.Context, req Request, key store.ScanKey, rec *metrics.Recorder) (Result, error) {
	base := Result{Category: key.Category, ImageHash: key.ImageHash}

	existing, err := s.sessions.ResolveSession(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("scanKey", key.String()).Msg("Session lookup failed, computing fresh result")
	}
	if existing != nil {
		if d, err := existing.Result(); err == nil {
			rec.Add(metrics.SessionReused, 1)
			base.SessionID, base.Decision, base.Reused = existing.ID, d, true
			return base, nil
		}
		log.Warn().Str("sessionId", existing.ID).Msg("Stored session has an unreadable decision, recomputing")
	}

	capture := imagesource.Capture(req.Image)
	cacheKey := cache.NewKey(key.ImageHash, key.Category)

	if data, _, ok := s.cache.Get(ctx, cacheKey); ok {
		d, dis, err := decodeScan(data)
		if err == nil && match.Final(d) {
			rec.Metric(metrics.CacheHit, 1, metrics.UnitCount)
			base.Decision, base.Disambiguation, base.Cached = d, dis, true
			return s.persist(ctx, base, key, capture)
		}
		log.Warn().Err(err).Str("cacheKey", cacheKey.String()).Msg("Discarding unusable cache entry")
	}
	rec.Metric(metrics.CacheHit, 0, metrics.UnitCount)

	d, dis, err := s.compute(ctx, req.Image, key.Category, capture, rec)
	if err != nil {
		return Result{}, err
	}
	base.Decision, base.Disambiguation = d, dis

	if !match.Final(d) {
		return base, nil
	}

	res, err := s.persist(ctx, base, key, capture)
	if err != nil {
		return Result{}, err
	}
	if data, err := encodeScan(d, dis); err == nil {
		s.cache.Set(ctx, cacheKey, data, s.now().Add(cacheTTL(key.Category, d)))
	} else {
		log.Warn().Err(err).Msg("Failed to encode scan for cache")
	}
	return res, nil
}

// persist creates the session for a final result. When another scan of the
// same key won the race its session is returned instead. A store failure
// degrades to an unsaved result.
func (s *Service) persist(ctx context.Context, res Result, key store.ScanKey, capture map[string]string) (Result, error) {
	stored, created, err := s.sessions.CreateSession(ctx, &store.MatchSession{
		UserID:    key.UserID,
		Category:  key.Category,
		ImageHash: key.ImageHash,
		Decision:  match.Wrap(res.Decision),
		Capture:   capture,
	})
	if err != nil {
		log.Error().Err(err).Str("scanKey", key.String()).Msg("Failed to persist match session")
		return res, nil
	}
	res.SessionID = stored.ID
	if !created {
		res.Reused, res.Cached = true, false
		d, err := stored.Result()
		if err != nil {
			log.Error().Err(err).Str("sessionId", stored.ID).Msg("Stored session decision unreadable, returning computed decision")
			return res, nil
		}
		res.Decision, res.Disambiguation = d, nil
	}
	return res, nil
}

// cacheTTL uses the requested category's tier, or the tier of the top
// candidate's category for scans across all categories.
func cacheTTL(cat string, d match.Decision) time.Duration {
	if cat == category.All {
		if top, ok := d.Details().TopMatches.Top(); ok {
			return category.CacheTTL(top.Category)
		}
	}
	return category.CacheTTL(cat)
}
