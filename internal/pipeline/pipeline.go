// Package pipeline orchestrates one batch run: discover and read exports,
// normalize, merge, aggregate features, classify lifecycle stages, evaluate
// policy, and emit artifacts. Stages run sequentially over immutable
// snapshots; inside the data stages work fans out per shop with errgroup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/asinlab/shelfrun/internal/artifacts"
	"github.com/asinlab/shelfrun/internal/config"
	"github.com/asinlab/shelfrun/internal/domain"
	"github.com/asinlab/shelfrun/internal/features"
	"github.com/asinlab/shelfrun/internal/ingest"
	"github.com/asinlab/shelfrun/internal/lifecycle"
	"github.com/asinlab/shelfrun/internal/merge"
	"github.com/asinlab/shelfrun/internal/normalize"
	"github.com/asinlab/shelfrun/internal/persistence"
	"github.com/asinlab/shelfrun/internal/policy"
	"github.com/asinlab/shelfrun/internal/quality"
	"github.com/asinlab/shelfrun/internal/telemetry"
)

// Options configures one run.
type Options struct {
	InputDir    string
	PolicyPath  string
	OutDir      string
	From, To    time.Time // optional inclusive date filter, zero = unbounded
	Parallelism int
}

// Runner executes the pipeline.
type Runner struct {
	opts    Options
	log     zerolog.Logger
	metrics *telemetry.MetricsRegistry

	// optional persistence; nil repos skip the persist stage
	records  persistence.RecordsRepo
	timeline persistence.TimelineRepo
}

func NewRunner(opts Options, log zerolog.Logger) *Runner {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	return &Runner{opts: opts, log: log.With().Str("component", "pipeline").Logger()}
}

// WithMetrics attaches a metrics registry.
func (r *Runner) WithMetrics(m *telemetry.MetricsRegistry) *Runner {
	r.metrics = m
	return r
}

// WithPersistence attaches the optional repositories.
func (r *Runner) WithPersistence(rec persistence.RecordsRepo, tl persistence.TimelineRepo) *Runner {
	r.records, r.timeline = rec, tl
	return r
}

// RunResult carries everything one run produced.
type RunResult struct {
	Records   []domain.CanonicalRecord
	Series    []features.Series
	Timelines []domain.StageTimeline
	Policy    policy.Result
	Diags     *quality.Report
	Manifest  *artifacts.Manifest
}

// Run executes the full pipeline. Fatal conditions are a broken policy file
// and zero canonical records; everything else degrades into diagnostics.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	started := time.Now().UTC()
	diags := quality.NewReport()
	manifest := artifacts.NewManifest(started)
	manifest.PolicyPath = r.opts.PolicyPath

	pol, err := config.LoadPolicy(r.opts.PolicyPath, diags, r.log)
	if err != nil {
		return nil, err
	}

	ad, analysis, mapRows, err := r.ingestStage(ctx, diags, manifest)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := r.mergeStage(ctx, ad, analysis, mapRows, diags)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no canonical records produced, nothing to classify")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series, timelines, err := r.classifyStage(ctx, pol, records, diags)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	evaluator := policy.NewEvaluator(pol, r.log)
	result := evaluator.Evaluate(records, series, timelines)

	out := &RunResult{
		Records:   records,
		Series:    series,
		Timelines: timelines,
		Policy:    result,
		Diags:     diags,
		Manifest:  manifest,
	}

	r.observe(out)
	if err := r.persist(ctx, out); err != nil {
		return nil, err
	}
	if err := r.emit(out, started); err != nil {
		return nil, err
	}

	diags.Log(r.log)
	r.log.Info().
		Int("records", len(records)).
		Int("products", len(series)).
		Str("actions", result.Summary()).
		Dur("elapsed", time.Since(started)).
		Msg("run complete")
	return out, nil
}

// ingestStage discovers, reads, and normalizes every input file. Files with
// schema errors are skipped and reported; the run continues.
func (r *Runner) ingestStage(ctx context.Context, diags *quality.Report, manifest *artifacts.Manifest) (ad, analysis []normalize.Row, mapRows []normalize.MapRow, err error) {
	stageStart := time.Now()
	files, err := ingest.Discover(r.opts.InputDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("discover inputs: %w", err)
	}
	if len(files) == 0 {
		return nil, nil, nil, fmt.Errorf("no input files under %s", r.opts.InputDir)
	}

	reader := ingest.NewReader(r.log)
	norm := normalize.New(diags, r.log)

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)

	for _, f := range files {
		f := f
		if r.metrics != nil {
			r.metrics.FilesDiscovered.WithLabelValues(f.Kind.String()).Inc()
		}
		if err := manifest.AddInput(f.Path); err != nil {
			return nil, nil, nil, err
		}
		g.Go(func() error {
			recs, err := reader.Read(f)
			if err != nil {
				diags.Addf(quality.CodeFileSkipped, f.Path, "unreadable: %v", err)
				r.countSkip()
				return nil
			}
			if f.Kind == domain.ProductMap {
				rows, err := norm.NormalizeMap(recs)
				if err != nil {
					diags.Addf(quality.CodeFileSkipped, f.Path, "%v", err)
					r.countSkip()
					return nil
				}
				mu.Lock()
				mapRows = append(mapRows, rows...)
				mu.Unlock()
				return nil
			}
			rows, err := norm.NormalizeBatch(f.Kind, recs)
			if err != nil {
				var schemaErr *normalize.SchemaError
				if errors.As(err, &schemaErr) {
					diags.Addf(quality.CodeFileSkipped, f.Path, "%v", schemaErr)
					if r.metrics != nil {
						r.metrics.SchemaErrors.Inc()
					}
					r.countSkip()
					return nil
				}
				return err
			}
			if r.metrics != nil {
				r.metrics.RowsNormalized.WithLabelValues(f.Kind.String()).Add(float64(len(rows)))
			}
			mu.Lock()
			if f.Kind.IsAd() {
				ad = append(ad, rows...)
			} else {
				analysis = append(analysis, rows...)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	r.observeStage("ingest", stageStart)
	return ad, analysis, mapRows, nil
}

// mergeStage resolves ids and merges per shop in parallel, then restores the
// deterministic global order.
func (r *Runner) mergeStage(ctx context.Context, ad, analysis []normalize.Row, mapRows []normalize.MapRow, diags *quality.Report) ([]domain.CanonicalRecord, error) {
	stageStart := time.Now()
	resolver := merge.NewResolver(mapRows)
	merger := merge.New(resolver, diags, r.log)

	adByShop := groupRows(ad)
	analysisByShop := groupRows(analysis)
	shops := shopSet(adByShop, analysisByShop)

	var mu sync.Mutex
	var records []domain.CanonicalRecord
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for _, shop := range shops {
		shop := shop
		g.Go(func() error {
			recs := merger.Merge(adByShop[shop], analysisByShop[shop])
			mu.Lock()
			records = append(records, recs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records = r.filterDates(records)
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Shop != b.Shop {
			return a.Shop < b.Shop
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.Date.Before(b.Date)
	})

	if r.metrics != nil {
		r.metrics.RecordsMerged.Add(float64(len(records)))
		for _, rec := range records {
			if rec.Completeness == domain.Partial {
				r.metrics.PartialRecords.Inc()
			}
		}
	}
	r.observeStage("merge", stageStart)
	return records, nil
}

// classifyStage computes features and stage timelines, fanned out per shop.
func (r *Runner) classifyStage(ctx context.Context, pol *config.Policy, records []domain.CanonicalRecord, diags *quality.Report) ([]features.Series, []domain.StageTimeline, error) {
	stageStart := time.Now()
	featCfg := features.Config{
		RollDays:             pol.Windows.RollDays,
		MidWindowDays:        pol.Windows.MidWindowDays,
		LongWindowDays:       pol.Windows.LongWindowDays,
		NewCycleInactiveDays: pol.Cycles.NewCycleInactiveDays,
		NewCycleOOSDays:      pol.Cycles.NewCycleOOSDays,
	}

	byShop := make(map[string][]domain.CanonicalRecord)
	var shops []string
	for _, rec := range records {
		if _, ok := byShop[rec.Shop]; !ok {
			shops = append(shops, rec.Shop)
		}
		byShop[rec.Shop] = append(byShop[rec.Shop], rec)
	}
	sort.Strings(shops)

	var mu sync.Mutex
	var series []features.Series
	var timelines []domain.StageTimeline
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallelism)
	for _, shop := range shops {
		shop := shop
		g.Go(func() error {
			agg := features.NewAggregator(featCfg, diags, r.log)
			cls := lifecycle.NewClassifier(pol.Lifecycle, diags, r.log)
			s := agg.Aggregate(byShop[shop])
			tl := cls.ClassifyAll(s)
			mu.Lock()
			series = append(series, s...)
			timelines = append(timelines, tl...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(series, func(i, j int) bool {
		if series[i].Shop != series[j].Shop {
			return series[i].Shop < series[j].Shop
		}
		return series[i].ProductID < series[j].ProductID
	})
	sort.Slice(timelines, func(i, j int) bool {
		if timelines[i].Shop != timelines[j].Shop {
			return timelines[i].Shop < timelines[j].Shop
		}
		return timelines[i].ProductID < timelines[j].ProductID
	})
	r.observeStage("classify", stageStart)
	return series, timelines, nil
}

// persist upserts records and timelines when repositories are attached.
func (r *Runner) persist(ctx context.Context, out *RunResult) error {
	if r.records == nil && r.timeline == nil {
		return nil
	}
	stageStart := time.Now()
	if r.records != nil {
		if err := r.records.UpsertBatch(ctx, out.Records); err != nil {
			return fmt.Errorf("persist records: %w", err)
		}
	}
	if r.timeline != nil {
		for _, tl := range out.Timelines {
			if err := r.timeline.UpsertBatch(ctx, tl); err != nil {
				return fmt.Errorf("persist timeline %s/%s: %w", tl.Shop, tl.ProductID, err)
			}
		}
	}
	r.observeStage("persist", stageStart)
	return nil
}

// emit writes the JSONL artifacts and the manifest.
func (r *Runner) emit(out *RunResult, started time.Time) error {
	if r.opts.OutDir == "" {
		return nil
	}
	w := artifacts.NewWriter(r.opts.OutDir, r.log)
	if err := w.WriteCanonical(out.Records); err != nil {
		return err
	}
	if err := w.WriteTimelines(out.Timelines); err != nil {
		return err
	}
	if err := w.WriteActions(out.Policy); err != nil {
		return err
	}
	out.Manifest.SetCount("canonical_records", len(out.Records))
	out.Manifest.SetCount("products", len(out.Series))
	out.Manifest.SetCount("timeline_entries", timelineEntries(out.Timelines))
	out.Manifest.SetCount("actions", len(out.Policy.Actions))
	out.Manifest.SetCount("watchlist", len(out.Policy.Watchlist))
	out.Manifest.SetCount("diagnostics", out.Diags.Len())
	return w.WriteManifest(out.Manifest, time.Now().UTC())
}

// observe feeds the run's aggregate metrics.
func (r *Runner) observe(out *RunResult) {
	if r.metrics == nil {
		return
	}
	r.metrics.LastRunRecords.Set(float64(len(out.Records)))
	r.metrics.GapDays.Add(float64(out.Diags.Count(quality.CodeGapDay)))
	for _, tl := range out.Timelines {
		prev := ""
		for _, e := range tl.Entries {
			if e.Gap || e.InsufficientData {
				continue
			}
			cur := e.Stage.String()
			if prev != "" && prev != cur {
				r.metrics.StageTransitions.WithLabelValues(prev, cur).Inc()
			}
			prev = cur
		}
	}
	for _, a := range out.Policy.Actions {
		r.metrics.ActionsEmitted.WithLabelValues(string(a.Action), a.Priority.String()).Inc()
	}
}

func (r *Runner) observeStage(stage string, started time.Time) {
	if r.metrics != nil {
		r.metrics.RunDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	}
}

func (r *Runner) countSkip() {
	if r.metrics != nil {
		r.metrics.FilesSkipped.Inc()
	}
}

// filterDates drops records outside the configured window.
func (r *Runner) filterDates(records []domain.CanonicalRecord) []domain.CanonicalRecord {
	if r.opts.From.IsZero() && r.opts.To.IsZero() {
		return records
	}
	out := records[:0]
	for _, rec := range records {
		if !r.opts.From.IsZero() && rec.Date.Before(domain.Day(r.opts.From)) {
			continue
		}
		if !r.opts.To.IsZero() && rec.Date.After(domain.Day(r.opts.To)) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func groupRows(rows []normalize.Row) map[string][]normalize.Row {
	out := make(map[string][]normalize.Row)
	for _, row := range rows {
		out[row.Shop] = append(out[row.Shop], row)
	}
	return out
}

func shopSet(groups ...map[string][]normalize.Row) []string {
	seen := make(map[string]bool)
	var shops []string
	for _, g := range groups {
		for shop := range g {
			if !seen[shop] {
				seen[shop] = true
				shops = append(shops, shop)
			}
		}
	}
	sort.Strings(shops)
	return shops
}

func timelineEntries(tls []domain.StageTimeline) int {
	var n int
	for _, tl := range tls {
		n += len(tl.Entries)
	}
	return n
}
