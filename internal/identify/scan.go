package identify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/item-identify/internal/category"
	"github.com/fpang/item-identify/internal/disambig"
	"github.com/fpang/item-identify/internal/embedding"
	"github.com/fpang/item-identify/internal/imagesource"
	"github.com/fpang/item-identify/internal/match"
	"github.com/fpang/item-identify/internal/metrics"
	"github.com/fpang/item-identify/internal/vision"
)

// signalResult is the outcome of one OCR call.
type signalResult struct {
	signals *disambig.Signals
	err     error
}

// categorySearch holds what one category contributed to a scan.
type categorySearch struct {
	hits  []match.ImageHit
	count int
}

// compute runs the uncached path. Embedding and, for categories that ask
// for it, OCR start together; the OCR result is only consulted if
// disambiguation is needed.
func (s *Service) compute(ctx context.Context, img imagesource.Image, cat string, capture map[string]string, rec *metrics.Recorder) (match.Decision, *disambig.Result, error) {
	profile, _ := category.Lookup(cat)
	speculative := cat != category.All && profile.SpeculativeOCR && s.signals != nil

	var (
		emb embedding.Embedding
		sig *signalResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, s.timeouts.Embed)
		defer cancel()
		start := time.Now()
		var err error
		emb, err = s.embedder.Embed(callCtx, img)
		rec.Since(metrics.EmbedLatency, start)
		if err != nil {
			if errors.Is(err, embedding.ErrEmbeddingFailure) {
				return fmt.Errorf("embed %s: %w", img.Hash(), err)
			}
			return fmt.Errorf("%w: embed %s: %w", embedding.ErrEmbeddingFailure, img.Hash(), err)
		}
		return nil
	})
	if speculative {
		g.Go(func() error {
			r := s.extractSignals(gctx, img, cat, capture, rec)
			sig = &r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("category", cat).Msg("Embedding failed, scan aborted")
		return nil, nil, err
	}

	categories := s.searchCategories(ctx, cat)
	searches := s.search(ctx, categories, emb.Vector, rec)

	var hits []match.ImageHit
	for _, c := range categories {
		hits = append(hits, searches[c].hits...)
	}
	candidates := match.Aggregate(hits)
	count := s.libraryCount(cat, candidates, searches)

	visual := s.engine.Decide(candidates, count)
	if !s.resolver.Needs(cat, visual) {
		return visual, nil, nil
	}

	if sig == nil {
		hintCat := cat
		if top, ok := visual.Details().TopMatches.Top(); ok && cat == category.All {
			hintCat = top.Category
		}
		r := s.extractSignals(ctx, img, hintCat, capture, rec)
		sig = &r
	}

	res := s.resolver.Resolve(disambig.Input{
		Category:          cat,
		Candidates:        candidates,
		Visual:            visual,
		LibraryImageCount: count,
		Signals:           sig.signals,
		SignalErr:         sig.err,
	})
	if res.State == disambig.StateSkipped {
		return res.Decision, nil, nil
	}
	log.Debug().
		Str("state", string(res.State)).
		Str("brand", res.Brand).
		Str("visualDecision", string(visual.Kind())).
		Str("decision", string(res.Decision.Kind())).
		Msg("Disambiguation applied")
	return res.Decision, &res, nil
}

func (s *Service) extractSignals(ctx context.Context, img imagesource.Image, cat string, capture map[string]string, rec *metrics.Recorder) signalResult {
	if s.signals == nil {
		return signalResult{err: fmt.Errorf("%w: no extractor configured", vision.ErrSignalExtraction)}
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeouts.OCR)
	defer cancel()
	start := time.Now()
	signals, err := s.signals.ExtractSignals(callCtx, img, vision.Hints{Category: cat, Capture: capture})
	rec.Since(metrics.OCRLatency, start)
	if err != nil {
		log.Warn().Err(err).Str("category", cat).Msg("Signal extraction failed")
	}
	return signalResult{signals: signals, err: err}
}

// searchCategories expands "all" into the categories present in the index.
func (s *Service) searchCategories(ctx context.Context, cat string) []string {
	if cat != category.All {
		return []string{cat}
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeouts.Index)
	defer cancel()
	cats, err := s.index.Categories(callCtx)
	if err != nil || len(cats) == 0 {
		log.Warn().Err(err).Msg("Category listing unavailable, searching known categories")
		return category.Known()
	}
	return cats
}

// search queries every category concurrently. A failed search or count
// contributes no hits; a failed count is treated as a library that has not
// reached the full band.
func (s *Service) search(ctx context.Context, categories []string, vector []float32, rec *metrics.Recorder) map[string]categorySearch {
	var (
		mu  sync.Mutex
		out = make(map[string]categorySearch, len(categories))
		wg  sync.WaitGroup
	)
	start := time.Now()
	for _, c := range categories {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, s.timeouts.Index)
			defer cancel()

			var res categorySearch
			hits, err := s.index.Search(callCtx, c, vector, match.MaxHits)
			if err != nil {
				rec.Add(metrics.IndexErrors, 1)
				log.Warn().Err(err).Str("category", c).Msg("Similarity search failed, category skipped")
			} else {
				res.hits = hits
			}

			count, err := s.index.CategoryImageCount(callCtx, c)
			if err != nil {
				rec.Add(metrics.IndexErrors, 1)
				log.Warn().Err(err).Str("category", c).Msg("Image count unavailable, assuming limited library")
				count = s.engine.Policy().LibraryBuildingThreshold
			}
			res.count = count

			mu.Lock()
			out[c] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	rec.Since(metrics.IndexLatency, start)
	return out
}

// libraryCount picks the image count the policy gates on: the requested
// category, or for "all" scans the category of the top candidate. An "all"
// scan without candidates uses the largest library searched.
func (s *Service) libraryCount(cat string, candidates []match.Candidate, searches map[string]categorySearch) int {
	if cat != category.All {
		return searches[cat].count
	}
	if top, ok := match.Rank(candidates, 1).Top(); ok {
		if r, ok := searches[top.Category]; ok {
			return r.count
		}
	}
	best := 0
	for _, r := range searches {
		if r.count > best {
			best = r.count
		}
	}
	return best
}
