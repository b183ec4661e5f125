// Package pipeline sequences the normalization stages, resumes interrupted
// runs from the checkpoint and commits output in durable chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jobpipe/internal/checkpoint"
	"jobpipe/internal/classify"
	"jobpipe/internal/config"
	"jobpipe/internal/dedup"
	"jobpipe/internal/logger"
	"jobpipe/internal/models"
	"jobpipe/internal/normalizer"
	"jobpipe/internal/reference"
	"jobpipe/internal/report"
	"jobpipe/internal/table"
	"jobpipe/internal/translate"
)

// ErrNoClassifier is returned when classification is enabled but no
// classifier was supplied.
var ErrNoClassifier = errors.New("classification enabled without a classifier")

// ErrNoTranslator is returned when translation is enabled but no translator
// was supplied.
var ErrNoTranslator = errors.New("translation enabled without a translator")

// Driver runs the pipeline described by a Config.
type Driver struct {
	cfg        *config.Config
	ref        *reference.Table
	log        *logger.Logger
	classifier classify.Classifier
	cache      classify.Store
	translator translate.Translator
	recorder   *report.Recorder
	skipLabels bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithClassifier sets the external classifier.
func WithClassifier(c classify.Classifier) Option {
	return func(d *Driver) { d.classifier = c }
}

// WithTranslator sets the external title translator.
func WithTranslator(t translate.Translator) Option {
	return func(d *Driver) { d.translator = t }
}

// WithCache supplies an open cache store instead of opening cfg.Cache.
// The caller keeps ownership.
func WithCache(store classify.Store) Option {
	return func(d *Driver) { d.cache = store }
}

// WithRecorder sets where run records are written.
func WithRecorder(r *report.Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithoutClassification runs every stage except classification; rows are
// written with empty labels and status unclassified.
func WithoutClassification() Option {
	return func(d *Driver) { d.skipLabels = true }
}

// New creates a driver.
func New(cfg *config.Config, ref *reference.Table, log *logger.Logger, opts ...Option) *Driver {
	d := &Driver{
		cfg:        cfg,
		ref:        ref,
		log:        log,
		recorder:   report.NewRecorder(cfg.Report.Dir),
		skipLabels: !cfg.Classification.Enabled,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// prepared is the deduplicated, resumable work of a run.
type prepared struct {
	schema  table.Schema
	pending []models.JobRecord
}

// Run executes the pipeline. On cancellation, completed outcomes are
// committed before Run returns the context error. The returned record is
// never nil.
func (d *Driver) Run(ctx context.Context) (*report.Record, error) {
	rec, err := d.recorder.Start(map[string]string{
		"input":  d.cfg.Pipeline.Input,
		"output": d.cfg.Pipeline.Output,
		"model":  d.model(),
	})
	if err != nil {
		return &report.Record{Status: report.StatusFailed, Error: err.Error()}, err
	}

	runErr := d.run(ctx, rec)

	if err := d.recorder.Finish(rec, runErr); err != nil {
		d.log.Warn("could not write run record", "error", err)
	}

	return rec, runErr
}

func (d *Driver) model() string {
	if d.skipLabels {
		return ""
	}

	return d.cfg.Classification.Model
}

func (d *Driver) run(ctx context.Context, rec *report.Record) error {
	if !d.skipLabels && d.classifier == nil {
		return ErrNoClassifier
	}

	if d.cfg.Translation.Enabled && d.translator == nil {
		return ErrNoTranslator
	}

	taxonomies, err := d.ref.Select(d.cfg.Classification.Taxonomies)
	if err != nil {
		return fmt.Errorf("select taxonomies: %w", err)
	}

	work, err := d.prepare(rec, taxonomies)
	if err != nil {
		return err
	}

	ids, truncated, err := table.Recover(d.cfg.Pipeline.Output)
	if err != nil {
		return err
	}

	if truncated {
		d.log.Warn("truncated incomplete trailing row", "output", d.cfg.Pipeline.Output)
	}

	state, err := checkpoint.Open(d.cfg.Pipeline.Checkpoint)
	if err != nil {
		return err
	}
	defer state.Close()

	added, stale, err := state.Reconcile(ids)
	if err != nil {
		return fmt.Errorf("reconcile checkpoint: %w", err)
	}

	if added > 0 || stale > 0 {
		d.log.Info("checkpoint reconciled with output", "added", added, "stale", stale)
	}

	pending := make([]models.JobRecord, 0, len(work.pending))
	for _, r := range work.pending {
		if !state.Contains(r.ID) {
			pending = append(pending, r)
		}
	}

	rec.Counts.AlreadyProcessed = len(work.pending) - len(pending)
	rec.Counts.Pending = len(pending)

	d.log.Info("resuming", "already_processed", rec.Counts.AlreadyProcessed, "pending", len(pending))

	if len(pending) == 0 {
		return nil
	}

	out, err := table.OpenWriter(d.cfg.Pipeline.Output, work.schema)
	if err != nil {
		return err
	}
	defer out.Close()

	var orch *classify.Orchestrator

	if !d.skipLabels {
		store := d.cache
		if store == nil {
			store, err = classify.OpenStore(ctx, d.cfg.Cache)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer store.Close()
		}

		orch = classify.NewOrchestrator(d.classifier, store, taxonomies, classify.OptionsFromConfig(d.cfg), d.log)
	}

	var tr *translate.Stage

	if d.cfg.Translation.Enabled {
		store, err := classify.OpenStore(ctx, d.cfg.Translation.Cache)
		if err != nil {
			return fmt.Errorf("open translation cache: %w", err)
		}
		defer store.Close()

		tr = translate.NewStage(d.translator, store, translate.OptionsFromConfig(d.cfg), d.log)
	}

	c := &committer{out: out, state: state, orch: orch, tr: tr, counts: &rec.Counts}

	err = d.process(ctx, pending, taxonomies, orch, tr, c)

	if tr != nil {
		s := tr.Stats()
		rec.Counts.Translated = int(s.Translated)
		rec.Counts.TranslationsCached = int(s.CacheHits)
		rec.Counts.TranslationsFailed = int(s.Failed)
		rec.Counts.TranslationRequests = int(s.Requests)
	}

	if orch != nil {
		s := orch.Stats()
		rec.Counts.Requests = int(s.Requests)
		rec.Counts.Retries = int(s.Retries)
		rec.Counts.Fallbacks = int(s.Fallbacks)
	}

	return err
}

// prepare reads, normalizes, filters and deduplicates the input.
func (d *Driver) prepare(rec *report.Record, taxonomies []reference.Taxonomy) (*prepared, error) {
	in, err := table.ReadFile(d.cfg.Pipeline.Input)
	if err != nil {
		return nil, err
	}

	rec.Counts.InputRows = len(in.Records) + in.Skipped
	rec.Counts.MalformedRows = in.Skipped

	if in.Skipped > 0 {
		d.log.Warn("skipped rows with wrong field count", "rows", in.Skipped)
	}

	records, stats := normalizer.NewProcessor(d.ref, d.log).Process(in.Records)
	rec.Counts.Invalid = stats.Invalid
	rec.Counts.IDsAssigned = stats.IDsAssigned
	rec.Counts.DatesParsed = stats.DatesParsed
	rec.Counts.DatesFailed = stats.DatesFailed
	rec.Counts.RegionsFilled = stats.RegionFilled
	rec.Counts.RegionsResolved = stats.Resolved

	records, rec.Counts.DateFiltered = FilterByDate(records, d.cfg.MinDate(), d.cfg.Filter.DropUndated)

	result := dedup.NewDetector(d.cfg.Dedup.Threshold, d.cfg.Dedup.BlockPrefix).Run(records)
	rec.Counts.ExactDuplicates = result.Exact
	rec.Counts.FuzzyDuplicates = result.Fuzzy

	records, rec.Counts.IDCollisions = EnforceUniqueIDs(result.Kept, d.log)

	d.log.Info("input prepared",
		"rows", rec.Counts.InputRows,
		"normalized", stats.Input-stats.Invalid,
		"before_min_date", rec.Counts.DateFiltered,
		"duplicates", result.Removed(),
		"unique", len(records),
	)

	names := make([]string, len(taxonomies))
	for i, tx := range taxonomies {
		names[i] = tx.Name
	}

	schema := table.NewSchema(in.Header, names, d.cfg.Translation.Enabled)

	return &prepared{schema: schema, pending: records}, nil
}

// process translates, classifies and commits pending records in chunks.
func (d *Driver) process(ctx context.Context, pending []models.JobRecord, taxonomies []reference.Taxonomy, orch *classify.Orchestrator, tr *translate.Stage, c *committer) error {
	chunkSize := d.cfg.Pipeline.FlushEvery
	start := time.Now()

	for lo := 0; lo < len(pending); lo += chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := pending[lo:min(lo+chunkSize, len(pending))]

		if tr != nil {
			if err := tr.TranslateAll(ctx, chunk); err != nil {
				// Keep the titles translated before cancellation.
				return errors.Join(err, tr.Flush(context.WithoutCancel(ctx)))
			}
		}

		var (
			completed []models.JobRecord
			runErr    error
		)

		if orch == nil {
			completed = markUnclassified(chunk, taxonomies)
		} else {
			var outcomes []classify.Outcome

			outcomes, runErr = orch.ClassifyAll(ctx, chunk)
			classify.Apply(chunk, outcomes)

			completed = make([]models.JobRecord, 0, len(outcomes))
			for _, o := range outcomes {
				completed = append(completed, chunk[o.Index])
			}
		}

		if err := c.commit(ctx, completed); err != nil {
			return errors.Join(runErr, err)
		}

		if runErr != nil {
			d.log.Warn("run interrupted, completed records saved", "written", c.counts.Written)
			return runErr
		}

		if d.cfg.Logging.ShowProgress {
			d.log.Info("chunk committed",
				"done", lo+len(chunk),
				"total", len(pending),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
		}
	}

	return nil
}

func markUnclassified(chunk []models.JobRecord, taxonomies []reference.Taxonomy) []models.JobRecord {
	for i := range chunk {
		chunk[i].Status = models.StatusUnclassified
		chunk[i].Labels = make(map[string][]string, len(taxonomies))
	}

	return chunk
}

// committer makes a chunk durable in order: output rows, cache, checkpoint.
type committer struct {
	out    *table.Writer
	state  *checkpoint.Store
	orch   *classify.Orchestrator
	tr     *translate.Stage
	counts *report.Counts
}

func (c *committer) commit(ctx context.Context, completed []models.JobRecord) error {
	if len(completed) == 0 {
		return nil
	}

	for i := range completed {
		if err := c.out.Write(&completed[i]); err != nil {
			return err
		}
	}

	if err := c.out.Flush(); err != nil {
		return err
	}

	if c.orch != nil {
		// Also runs after cancellation.
		if err := c.orch.Flush(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("flush cache: %w", err)
		}
	}

	if c.tr != nil {
		if err := c.tr.Flush(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("flush translation cache: %w", err)
		}
	}

	ids := make([]string, len(completed))
	for i := range completed {
		ids[i] = completed[i].ID
	}

	if err := c.state.Add(ids...); err != nil {
		return err
	}

	if err := c.state.Flush(); err != nil {
		return err
	}

	c.counts.Written += len(completed)

	for i := range completed {
		switch completed[i].Status {
		case models.StatusOK:
			c.counts.Classified++
		case models.StatusCached:
			c.counts.Cached++
		case models.StatusError:
			c.counts.Failed++
		case models.StatusUnclassified:
			c.counts.Unclassified++
		}
	}

	return nil
}
