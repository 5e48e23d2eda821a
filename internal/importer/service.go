// Package importer turns a user-submitted URL into a recipe. Every import
// validates the URL afresh, serves cached recipes when available, and
// collapses concurrent imports of the same canonical URL into one fetch.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mealplanner/importer/internal/fetch"
	"github.com/mealplanner/importer/internal/metrics"
	"github.com/mealplanner/importer/internal/recipe"
	"github.com/mealplanner/importer/internal/ssrf"
)

const (
	// maxImages caps how many image URLs are validated and kept per recipe.
	maxImages = 10
	// imageChecks bounds concurrent image URL validations.
	imageChecks = 4
)

// Guard validates outbound URLs.
type Guard interface {
	Validate(ctx context.Context, rawURL string) ssrf.Result
}

// Fetcher retrieves a validated page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Metrics receives import events. *metrics.PrometheusMetrics implements it.
type Metrics interface {
	RecordValidation(outcome, category string)
	RecordImport(status string)
	ObserveFetchDuration(d time.Duration)
	RecordCacheOperation(operation, status string)
}

type nopMetrics struct{}

func (nopMetrics) RecordValidation(string, string)     {}
func (nopMetrics) RecordImport(string)                 {}
func (nopMetrics) ObserveFetchDuration(time.Duration)  {}
func (nopMetrics) RecordCacheOperation(string, string) {}

// Result is a successful import.
type Result struct {
	Recipe *recipe.Recipe
	// URL is the canonical form of the submitted URL.
	URL    string
	Cached bool
}

// Service imports recipes. It is safe for concurrent use.
type Service struct {
	guard   Guard
	fetcher Fetcher
	cache   *Cache
	metrics Metrics
	logger  *zap.Logger

	inflight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the recipe cache. A nil cache disables it.
func WithCache(c *Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func NewService(guard Guard, fetcher Fetcher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		guard:   guard,
		fetcher: fetcher,
		metrics: nopMetrics{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate runs the guard and records the verdict. It never consults the
// cache.
func (s *Service) Validate(ctx context.Context, rawURL string) ssrf.Result {
	res := s.guard.Validate(ctx, rawURL)
	if res.Valid {
		s.metrics.RecordValidation(metrics.OutcomeAllowed, "")
	} else {
		s.metrics.RecordValidation(metrics.OutcomeRejected, res.Category)
	}
	return res
}

// Import validates rawURL, then returns the cached recipe or fetches and
// extracts a fresh one. Errors match ErrURLRejected, ErrFetchFailed,
// ErrNoRecipe or the context error.
func (s *Service) Import(ctx context.Context, rawURL string) (*Result, error) {
	res := s.Validate(ctx, rawURL)
	if !res.Valid {
		s.metrics.RecordImport(metrics.ImportRejected)
		s.logger.Warn("Rejected recipe import URL",
			zap.String("url", rawURL),
			zap.String("rule", string(res.Rule)),
			zap.String("category", res.Category),
			zap.String("reason", res.Reason))
		return nil, rejected(rawURL, res)
	}
	canonical := res.URL.String()

	if r, ok := s.cache.Get(ctx, canonical); ok {
		// image hosts may have been re-pointed since the entry was stored
		r.Images = s.safeImages(ctx, r.Images)
		s.metrics.RecordImport(metrics.ImportCached)
		s.logger.Debug("Serving recipe from cache", zap.String("url", canonical))
		return &Result{Recipe: r, URL: canonical, Cached: true}, nil
	}

	// The shared import outlives any single waiter; the fetcher's own
	// timeout bounds it.
	ch := s.inflight.DoChan(canonical, func() (interface{}, error) {
		return s.importFresh(context.WithoutCancel(ctx), canonical)
	})

	select {
	case <-ctx.Done():
		s.metrics.RecordImport(metrics.ImportCanceled)
		return nil, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			s.metrics.RecordImport(importStatus(out.Err))
			return nil, out.Err
		}
		s.metrics.RecordImport(metrics.ImportSuccess)
		if out.Shared {
			s.logger.Debug("Joined in-flight import", zap.String("url", canonical))
		}
		r := *out.Val.(*recipe.Recipe)
		return &Result{Recipe: &r, URL: canonical}, nil
	}
}

func (s *Service) importFresh(ctx context.Context, canonical string) (*recipe.Recipe, error) {
	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, canonical)
	s.metrics.ObserveFetchDuration(time.Since(start))
	if err != nil {
		var blocked *fetch.BlockedError
		if errors.As(err, &blocked) {
			s.metrics.RecordValidation(metrics.OutcomeRejected, blocked.Result.Category)
			s.logger.Warn("Recipe page redirected to a blocked destination",
				zap.String("url", canonical),
				zap.String("target", blocked.URL),
				zap.String("reason", blocked.Result.Reason))
			return nil, rejected(blocked.URL, blocked.Result)
		}
		s.logger.Warn("Failed to fetch recipe page",
			zap.String("url", canonical),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	r, err := recipe.Extract(resp.Body, resp.ContentType, resp.FinalURL)
	if err != nil {
		s.logger.Info("No recipe found on page",
			zap.String("url", canonical),
			zap.String("final_url", resp.FinalURL),
			zap.String("content_type", resp.ContentType),
			zap.Error(err))
		return nil, err
	}

	r.Images = s.safeImages(ctx, r.Images)
	s.cache.Put(ctx, canonical, r)

	s.logger.Info("Imported recipe",
		zap.String("url", canonical),
		zap.String("name", r.Name),
		zap.Int("ingredients", len(r.Ingredients)),
		zap.Bool("partial", r.Partial),
		zap.Int("redirects", resp.Redirects))
	return r, nil
}

// safeImages keeps the image URLs the guard accepts, in their canonical
// form. Consumers re-host these images, so they get the same checks as the
// page itself.
func (s *Service) safeImages(ctx context.Context, images []string) []string {
	if len(images) == 0 {
		return images
	}
	if len(images) > maxImages {
		images = images[:maxImages]
	}

	verdicts := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageChecks)
	for i, img := range images {
		g.Go(func() error {
			res := s.guard.Validate(gctx, img)
			if !res.Valid {
				s.logger.Debug("Dropping unsafe image URL",
					zap.String("image", img),
					zap.String("reason", res.Reason))
				return nil
			}
			verdicts[i] = res.URL.String()
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]string, 0, len(images))
	for _, v := range verdicts {
		if v != "" {
			kept = append(kept, v)
		}
	}
	return kept
}

func importStatus(err error) string {
	switch {
	case errors.Is(err, ErrURLRejected):
		return metrics.ImportRejected
	case errors.Is(err, ErrNoRecipe):
		return metrics.ImportNoRecipe
	default:
		return metrics.ImportFailed
	}
}
