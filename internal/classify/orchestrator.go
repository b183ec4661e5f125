package classify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jobpipe/internal/config"
	"jobpipe/internal/logger"
	"jobpipe/internal/models"
	"jobpipe/internal/reference"
	"jobpipe/pkg/fingerprint"
	"jobpipe/pkg/utils"
)

var stringHelper = utils.NewStringHelper()

// Options tune the orchestrator.
type Options struct {
	MaxChars          int
	BatchSize         int
	Workers           int
	RequestsPerSecond float64
	Retry             config.RetryPolicy
}

// OptionsFromConfig builds Options from the classification and retry sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxChars:          cfg.Classification.MaxChars,
		BatchSize:         cfg.Classification.BatchSize,
		Workers:           cfg.Classification.Workers,
		RequestsPerSecond: cfg.Classification.RequestsPerSecond,
		Retry:             cfg.Retry,
	}
}

// Outcome is the classification result of one record.
type Outcome struct {
	Index    int // position in the slice passed to ClassifyAll
	Labels   Labels
	Status   models.Status
	Fallback bool
	Err      error
}

// Stats counts orchestrator activity across calls.
type Stats struct {
	Requests  int64
	Retries   int64
	CacheHits int64
	Succeeded int64
	Failed    int64
	Fallbacks int64
}

// Orchestrator classifies records through a Classifier, consulting and
// filling a Store. It is not safe for concurrent ClassifyAll calls.
type Orchestrator struct {
	classifier Classifier
	cache      Store
	taxonomies []reference.Taxonomy
	opts       Options
	limiter    *rate.Limiter
	log        *logger.Logger
	now        func() time.Time

	requests  atomic.Int64
	retries   atomic.Int64
	cacheHits atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	fallbacks atomic.Int64
}

// NewOrchestrator creates an orchestrator. A nil cache uses a MemoryStore.
func NewOrchestrator(classifier Classifier, cache Store, taxonomies []reference.Taxonomy, opts Options, log *logger.Logger) *Orchestrator {
	if cache == nil {
		cache = NewMemoryStore()
	}

	if log == nil {
		log = logger.Discard()
	}

	if opts.BatchSize < 1 {
		opts.BatchSize = 1
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

	return &Orchestrator{
		classifier: classifier,
		cache:      cache,
		taxonomies: taxonomies,
		opts:       opts,
		limiter:    rate.NewLimiter(limit, 1),
		log:        log,
		now:        time.Now,
	}
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Requests:  o.requests.Load(),
		Retries:   o.retries.Load(),
		CacheHits: o.cacheHits.Load(),
		Succeeded: o.succeeded.Load(),
		Failed:    o.failed.Load(),
		Fallbacks: o.fallbacks.Load(),
	}
}

// Flush persists the cache.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.cache.Flush(ctx)
}

// TextOf returns the text sent for a record: the description, or the title
// when the description is missing, with whitespace collapsed and truncated to
// maxChars runes.
func TextOf(record *models.JobRecord, maxChars int) string {
	text := record.Description
	if stringHelper.IsMissing(text) {
		text = record.Title
	}

	if stringHelper.IsMissing(text) {
		return ""
	}

	return stringHelper.Truncate(stringHelper.NormalizeWhitespace(text), maxChars)
}

// batch is a group of distinct texts classified in one request.
type batch struct {
	keys  []string
	texts []string
}

// batchResult carries per-key outcomes back to the collector.
type batchResult struct {
	keys     []string
	labels   []Labels
	errs     []error
	fallback []bool
}

// ClassifyAll classifies records and returns one outcome per completed
// record, ordered by Index. Records whose text is cached are answered
// without a request; identical texts share one request. When ctx is
// cancelled the outcomes completed so far are returned with ctx's error.
func (o *Orchestrator) ClassifyAll(ctx context.Context, records []models.JobRecord) ([]Outcome, error) {
	outcomes := make([]*Outcome, len(records))
	waiting := map[string][]int{}

	var order []string

	for i := range records {
		text := TextOf(&records[i], o.opts.MaxChars)
		if text == "" {
			outcomes[i] = o.failure(i, ErrEmptyText)
			continue
		}

		key := fingerprint.Of(text)

		if entry, ok := o.cache.Get(key); ok {
			o.cacheHits.Add(1)
			outcomes[i] = &Outcome{Index: i, Labels: filterLabels(entry.Labels, o.taxonomies), Status: models.StatusCached}

			continue
		}

		if _, seen := waiting[key]; !seen {
			order = append(order, key)
		}

		waiting[key] = append(waiting[key], i)
	}

	batches := o.plan(order, waiting, records)
	if len(batches) > 0 {
		o.log.Debug("classification planned", "records", len(records), "requests", len(batches), "cached", o.cacheHits.Load())
	}

	results := make(chan batchResult)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)

	go func() {
		defer close(results)

		for _, b := range batches {
			if ctx.Err() != nil {
				break
			}

			g.Go(func() error {
				results <- o.runBatch(gctx, b)
				return nil
			})
		}

		_ = g.Wait()
	}()

	// Only this goroutine writes to the cache and outcomes.
	for res := range results {
		for j, key := range res.keys {
			err := res.errs[j]
			if err != nil && isCancellation(ctx, err) {
				continue
			}

			for _, i := range waiting[key] {
				if err != nil {
					outcomes[i] = o.failure(i, err)
					continue
				}

				o.succeeded.Add(1)
				outcomes[i] = &Outcome{Index: i, Labels: res.labels[j], Status: models.StatusOK, Fallback: res.fallback[j]}
			}

			if err == nil {
				o.cache.Put(key, Entry{Labels: res.labels[j], UpdatedAt: o.now().UTC()})
			}
		}
	}

	done := make([]Outcome, 0, len(records))

	for _, out := range outcomes {
		if out != nil {
			done = append(done, *out)
		}
	}

	if err := ctx.Err(); err != nil {
		return done, err
	}

	return done, nil
}

func (o *Orchestrator) plan(order []string, waiting map[string][]int, records []models.JobRecord) []batch {
	var batches []batch

	cur := batch{}

	for _, key := range order {
		first := waiting[key][0]
		cur.keys = append(cur.keys, key)
		cur.texts = append(cur.texts, TextOf(&records[first], o.opts.MaxChars))

		if len(cur.keys) == o.opts.BatchSize {
			batches = append(batches, cur)
			cur = batch{}
		}
	}

	if len(cur.keys) > 0 {
		batches = append(batches, cur)
	}

	return batches
}

func (o *Orchestrator) failure(i int, err error) *Outcome {
	o.failed.Add(1)

	return &Outcome{Index: i, Labels: emptyLabels(o.taxonomies), Status: models.StatusError, Err: err}
}

// runBatch classifies one batch. A batch of several texts whose replies stay
// malformed is retried one text at a time.
func (o *Orchestrator) runBatch(ctx context.Context, b batch) batchResult {
	res := batchResult{
		keys:     b.keys,
		labels:   make([]Labels, len(b.keys)),
		errs:     make([]error, len(b.keys)),
		fallback: make([]bool, len(b.keys)),
	}

	labels, raw, err := o.request(ctx, b.texts)
	if err == nil {
		for j := range labels {
			res.labels[j] = filterLabels(labels[j], o.taxonomies)
		}

		return res
	}

	switch {
	case errors.Is(err, ErrMalformedResponse) && len(b.texts) > 1 && ctx.Err() == nil:
		o.log.Warn("batch reply malformed, splitting", "size", len(b.texts), "error", err)

		for j := range b.texts {
			single := o.runBatch(ctx, batch{keys: b.keys[j : j+1], texts: b.texts[j : j+1]})
			res.labels[j], res.errs[j], res.fallback[j] = single.labels[0], single.errs[0], single.fallback[0]
		}
	case errors.Is(err, ErrMalformedResponse) && len(b.texts) == 1 && raw != "":
		recovered, ferr := DecodeFallback(raw, o.taxonomies)
		if ferr == nil {
			recovered = filterLabels(recovered, o.taxonomies)
		}

		if ferr != nil || !recovered.hasAny() {
			res.errs[0] = err
			break
		}

		o.fallbacks.Add(1)
		o.log.Warn("structured decode failed, used fallback", "labels", recovered)
		res.labels[0], res.fallback[0] = recovered, true
	default:
		for j := range res.errs {
			res.errs[j] = err
		}
	}

	return res
}

// request sends texts with bounded exponential backoff. It returns the last
// raw reply so a malformed answer can still be salvaged.
func (o *Orchestrator) request(ctx context.Context, texts []string) ([]Labels, string, error) {
	var (
		lastRaw string
		attempt int
	)

	req := Request{Texts: texts, Taxonomies: o.taxonomies}

	op := func() ([]Labels, error) {
		attempt++
		if attempt > 1 {
			o.retries.Add(1)
		}

		if err := o.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, o.opts.Retry.GetTimeout())
		defer cancel()

		o.requests.Add(1)

		raw, err := o.classifier.Classify(callCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}

			if Retryable(err) {
				return nil, err
			}

			return nil, backoff.Permanent(err)
		}

		lastRaw = raw

		return DecodeResponse(raw, len(texts), o.taxonomies)
	}

	labels, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(NewBackOff(o.opts.Retry)),
		backoff.WithMaxTries(uint(o.opts.Retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			o.log.Warn("classification attempt failed", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return nil, lastRaw, fmt.Errorf("classify %d text(s) after %d attempt(s): %w", len(texts), attempt, err)
	}

	return labels, lastRaw, nil
}

// NewBackOff builds the exponential schedule described by a retry policy.
// Attempts are bounded separately with backoff.WithMaxTries.
func NewBackOff(policy config.RetryPolicy) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(policy.InitialDelayMs) * time.Millisecond
	bo.RandomizationFactor = 0

	if policy.BackoffMultiplier >= 1 {
		bo.Multiplier = policy.BackoffMultiplier
	}

	if policy.MaxDelayMs > 0 {
		bo.MaxInterval = time.Duration(policy.MaxDelayMs) * time.Millisecond
	}

	return bo
}

// Retryable reports whether a failed external call may be attempted again.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, ctx.Err()))
}

// Apply copies outcomes onto the records they belong to.
func Apply(records []models.JobRecord, outcomes []Outcome) {
	for _, out := range outcomes {
		records[out.Index].Labels = out.Labels
		records[out.Index].Status = out.Status
	}
}
