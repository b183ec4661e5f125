// Package translate fills the English job-title column through an external
// translation capability. Results share the classification cache format and
// the same retry policy.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jobpipe/internal/classify"
	"jobpipe/internal/config"
	"jobpipe/internal/logger"
	"jobpipe/internal/models"
	"jobpipe/pkg/fingerprint"
	"jobpipe/pkg/utils"
)

// ErrEmptyTranslation is wrapped in classify.ErrMalformedResponse when the
// translator answers with nothing.
var ErrEmptyTranslation = errors.New("empty translation")

// entryLabel is the cache key under which a translation is stored.
const entryLabel = "translation"

var stringHelper = utils.NewStringHelper()

// Translator is the external translation capability.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// TranslatorFunc adapts a function to the Translator interface.
type TranslatorFunc func(ctx context.Context, text string) (string, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Options tune the stage.
type Options struct {
	MaxChars          int
	Workers           int
	RequestsPerSecond float64
	Retry             config.RetryPolicy
}

// OptionsFromConfig builds Options from the translation and retry sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxChars:          cfg.Translation.MaxChars,
		Workers:           cfg.Translation.Workers,
		RequestsPerSecond: cfg.Translation.RequestsPerSecond,
		Retry:             cfg.Retry,
	}
}

// Stats counts stage activity across calls.
type Stats struct {
	Requests   int64
	Retries    int64
	CacheHits  int64
	Translated int64
	Failed     int64
}

// Stage translates job titles. It is not safe for concurrent TranslateAll
// calls.
type Stage struct {
	translator Translator
	cache      classify.Store
	opts       Options
	limiter    *rate.Limiter
	log        *logger.Logger
	now        func() time.Time

	requests   atomic.Int64
	retries    atomic.Int64
	cacheHits  atomic.Int64
	translated atomic.Int64
	failed     atomic.Int64
}

// NewStage creates a stage. A nil cache uses a classify.MemoryStore.
func NewStage(translator Translator, cache classify.Store, opts Options, log *logger.Logger) *Stage {
	if cache == nil {
		cache = classify.NewMemoryStore()
	}

	if log == nil {
		log = logger.Discard()
	}

	if opts.Workers < 1 {
		opts.Workers = 1
	}

	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Stage{
		translator: translator,
		cache:      cache,
		opts:       opts,
		limiter:    rate.NewLimiter(limit, 1),
		log:        log,
		now:        time.Now,
	}
}

// Stats returns a snapshot of the counters.
func (s *Stage) Stats() Stats {
	return Stats{
		Requests:   s.requests.Load(),
		Retries:    s.retries.Load(),
		CacheHits:  s.cacheHits.Load(),
		Translated: s.translated.Load(),
		Failed:     s.failed.Load(),
	}
}

// Flush persists the cache.
func (s *Stage) Flush(ctx context.Context) error {
	return s.cache.Flush(ctx)
}

// SourceOf returns the title text sent for translation.
func SourceOf(record *models.JobRecord, maxChars int) string {
	if stringHelper.IsMissing(record.Title) {
		return ""
	}

	return stringHelper.Truncate(stringHelper.NormalizeWhitespace(record.Title), maxChars)
}

type result struct {
	key  string
	text string
	err  error
}

// TranslateAll sets TitleTranslated on records. Cached titles are answered
// without a request and identical titles share one request. A title that
// cannot be translated keeps an empty column. When ctx is cancelled the
// titles translated so far are kept and ctx's error is returned.
func (s *Stage) TranslateAll(ctx context.Context, records []models.JobRecord) error {
	waiting := map[string][]int{}
	sources := map[string]string{}

	var order []string

	for i := range records {
		text := SourceOf(&records[i], s.opts.MaxChars)
		if text == "" {
			continue
		}

		key := fingerprint.Of(text)

		if entry, ok := s.cache.Get(key); ok && len(entry.Labels[entryLabel]) == 1 {
			s.cacheHits.Add(1)
			records[i].TitleTranslated = entry.Labels[entryLabel][0]

			continue
		}

		if _, seen := waiting[key]; !seen {
			order = append(order, key)
			sources[key] = text
		}

		waiting[key] = append(waiting[key], i)
	}

	if len(order) > 0 {
		s.log.Debug("translation planned", "records", len(records), "requests", len(order))
	}

	results := make(chan result)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	go func() {
		defer close(results)

		for _, key := range order {
			if ctx.Err() != nil {
				break
			}

			g.Go(func() error {
				text, err := s.request(gctx, sources[key])
				results <- result{key: key, text: text, err: err}

				return nil
			})
		}

		_ = g.Wait()
	}()

	// Only this goroutine writes to the cache and records.
	for res := range results {
		if res.err != nil {
			if ctx.Err() != nil {
				continue
			}

			s.failed.Add(int64(len(waiting[res.key])))
			s.log.Warn("title translation failed", "title", sources[res.key], "error", res.err)

			continue
		}

		for _, i := range waiting[res.key] {
			records[i].TitleTranslated = res.text
		}

		s.translated.Add(int64(len(waiting[res.key])))
		s.cache.Put(res.key, classify.Entry{
			Labels:    classify.Labels{entryLabel: {res.text}},
			UpdatedAt: s.now().UTC(),
		})
	}

	return ctx.Err()
}

// request translates one title with bounded exponential backoff.
func (s *Stage) request(ctx context.Context, text string) (string, error) {
	var attempt int

	op := func() (string, error) {
		attempt++
		if attempt > 1 {
			s.retries.Add(1)
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.Retry.GetTimeout())
		defer cancel()

		s.requests.Add(1)

		out, err := s.translator.Translate(callCtx, text)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}

			if classify.Retryable(err) {
				return "", err
			}

			return "", backoff.Permanent(err)
		}

		out = stringHelper.NormalizeWhitespace(strings.Trim(out, "\"' "))
		if out == "" {
			return "", fmt.Errorf("%w: %w", classify.ErrMalformedResponse, ErrEmptyTranslation)
		}

		return out, nil
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(classify.NewBackOff(s.opts.Retry)),
		backoff.WithMaxTries(uint(s.opts.Retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn("translation attempt failed", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("translate title after %d attempt(s): %w", attempt, err)
	}

	return out, nil
}
