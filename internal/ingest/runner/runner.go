package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/offsetsdb/offsetsdb/internal/clock"
	"github.com/offsetsdb/offsetsdb/internal/config"
	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	obsmetrics "github.com/offsetsdb/offsetsdb/internal/observability/metrics"
	"github.com/offsetsdb/offsetsdb/internal/providers/slack"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Source resolves manifests and fetches their files. The concrete
// fetcher satisfies it; tests substitute fakes.
type Source interface {
	domain.Fetcher
	LoadManifest(ctx context.Context, manifestURL string) (domain.Manifest, error)
	Discover(ctx context.Context, asOf time.Time) (domain.Manifest, error)
}

// Request describes one ingestion invocation.
type Request struct {
	// ManifestURL points at an explicit manifest document. Empty means
	// Entries (if any) or bucket discovery.
	ManifestURL string
	// Entries overrides manifest resolution entirely, e.g. files
	// submitted through the API.
	Entries []domain.Entry
	// DryRun stops after validation; the database is never written and
	// no run record is created.
	DryRun bool
}

// Summary is what one finished run reports back to its caller.
type Summary struct {
	Run       *domain.Run
	Result    *domain.LoadResult
	Validated map[domain.FileCategory]int64
}

// Runner drives one ingestion run end to end: migrate, lock, fetch,
// validate, load, record, notify. Exactly one run per environment may
// be in flight; overlap is rejected, never queued.
type Runner struct {
	db        *gorm.DB
	log       *zap.Logger
	clk       clock.Clock
	source    Source
	validator domain.Validator
	loader    domain.Loader
	migrator  domain.Migrator
	notifier  slack.Provider
	metrics   *obsmetrics.Ingest
	cfg       config.Config
	node      *snowflake.Node
}

func New(
	db *gorm.DB,
	log *zap.Logger,
	clk clock.Clock,
	source Source,
	validator domain.Validator,
	loader domain.Loader,
	migrator domain.Migrator,
	notifier slack.Provider,
	metrics *obsmetrics.Ingest,
	cfg config.Config,
) (*Runner, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &Runner{
		db:        db,
		log:       log.Named("ingest.runner"),
		clk:       clk,
		source:    source,
		validator: validator,
		loader:    loader,
		migrator:  migrator,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		node:      node,
	}, nil
}

// Execute performs one run. The returned Summary is valid whenever the
// run record was created, even on failure; the error carries the
// pipeline sentinel for the stage that failed.
func (r *Runner) Execute(ctx context.Context, req Request) (*Summary, error) {
	if r.cfg.Ingest.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Ingest.Timeout)
		defer cancel()
	}

	environment := string(r.cfg.Environment)
	holder := fmt.Sprintf("%s-%d", hostname(), os.Getpid())
	now := r.clk.Now()

	manifest, err := r.resolveManifest(ctx, req)
	if err != nil {
		r.markFiles(ctx, req.Entries, domain.FileStatusFailure, err)
		return nil, err
	}

	if req.DryRun {
		return r.dryRun(ctx, manifest)
	}

	// The lock row and the run record live in migrated tables, so the
	// schema has to exist before either is written.
	if r.migrator != nil {
		version, err := r.migrator.Apply(ctx)
		if err != nil {
			r.markFiles(ctx, manifest.Entries, domain.FileStatusFailure, err)
			return nil, err
		}
		r.log.Info("schema up to date", zap.Uint("version", version))
	}

	staleAfter := r.cfg.Ingest.Timeout
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	if err := acquireLock(ctx, r.db, environment, holder, now, staleAfter); err != nil {
		r.markFiles(ctx, manifest.Entries, domain.FileStatusFailure, err)
		return nil, err
	}
	defer func() {
		if err := releaseLock(context.WithoutCancel(ctx), r.db, environment, holder, r.clk.Now()); err != nil {
			r.log.Error("release lock", zap.Error(err))
		}
	}()

	run := &domain.Run{
		ID:          r.node.Generate(),
		Environment: environment,
		ManifestURL: req.ManifestURL,
		StartedAt:   now,
		Outcome:     domain.RunRunning,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		err = fmt.Errorf("create run record: %w", err)
		r.markFiles(ctx, manifest.Entries, domain.FileStatusFailure, err)
		return nil, err
	}

	summary := &Summary{Run: run}
	result, err := r.pipeline(ctx, manifest, summary)
	r.finalize(ctx, run, result, err)
	summary.Result = result

	r.metrics.IncRun(environment, string(run.Outcome))
	r.metrics.ObserveRunDuration(environment, run.Duration())

	if err != nil {
		r.notifyFailure(ctx, run, err)
		return summary, err
	}
	if run.Outcome == domain.RunPartial {
		r.notifyAnomalies(ctx, run, result.Anomalies)
	}

	r.log.Info("run finished",
		zap.String("run_id", run.ID.String()),
		zap.String("outcome", string(run.Outcome)),
		zap.Duration("duration", run.Duration()),
	)
	return summary, nil
}

func (r *Runner) pipeline(ctx context.Context, manifest domain.Manifest, summary *Summary) (*domain.LoadResult, error) {
	local, err := r.source.Fetch(ctx, manifest)
	if err != nil {
		r.markFiles(ctx, manifest.Entries, domain.FileStatusFailure, err)
		return nil, err
	}
	defer r.removeStaging(local)

	dataset, err := r.validator.Validate(ctx, local)
	if err != nil {
		r.markFiles(ctx, manifest.Entries, domain.FileStatusFailure, err)
		return nil, err
	}
	summary.Validated = datasetCounts(dataset)

	result, err := r.loader.Load(ctx, dataset)
	if err != nil {
		r.markFiles(ctx, manifest.Entries, domain.FileStatusFailure, err)
		return nil, err
	}

	r.markFiles(ctx, manifest.Entries, domain.FileStatusSuccess, nil)
	return result, nil
}

func (r *Runner) dryRun(ctx context.Context, manifest domain.Manifest) (*Summary, error) {
	local, err := r.source.Fetch(ctx, manifest)
	if err != nil {
		return nil, err
	}
	defer r.removeStaging(local)

	dataset, err := r.validator.Validate(ctx, local)
	if err != nil {
		return nil, err
	}
	r.log.Info("dry run passed validation")
	return &Summary{Validated: datasetCounts(dataset)}, nil
}

// removeStaging discards the fetcher's staging directory once the run
// no longer needs the downloaded files.
func (r *Runner) removeStaging(local *domain.LocalManifest) {
	if local == nil || local.StagingDir == "" {
		return
	}
	if err := os.RemoveAll(local.StagingDir); err != nil {
		r.log.Warn("remove staging dir", zap.String("dir", local.StagingDir), zap.Error(err))
	}
}

func (r *Runner) resolveManifest(ctx context.Context, req Request) (domain.Manifest, error) {
	switch {
	case len(req.Entries) > 0:
		return domain.Manifest{CreatedAt: r.clk.Now(), Entries: req.Entries}, nil
	case req.ManifestURL != "":
		return r.source.LoadManifest(ctx, req.ManifestURL)
	default:
		return r.source.Discover(ctx, r.clk.Now())
	}
}

// finalize closes out the run record exactly once. Row snapshots are
// stored as JSON maps so the audit trail survives schema evolution.
func (r *Runner) finalize(ctx context.Context, run *domain.Run, result *domain.LoadResult, runErr error) {
	finished := r.clk.Now()
	run.FinishedAt = &finished

	switch {
	case runErr != nil:
		run.Outcome = domain.RunFailed
		msg := runErr.Error()
		run.Error = &msg
	case result != nil && len(result.Anomalies) > 0:
		run.Outcome = domain.RunPartial
		msg := anomalyText(result.Anomalies)
		run.Error = &msg
	default:
		run.Outcome = domain.RunSuccess
	}

	if result != nil {
		run.RowsBefore = countsToJSON(result.RowsBefore)
		run.RowsAfter = countsToJSON(result.RowsAfter)
	}

	ctx = context.WithoutCancel(ctx)
	if err := r.db.WithContext(ctx).
		Model(&domain.Run{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"finished_at": run.FinishedAt,
			"outcome":     run.Outcome,
			"error":       run.Error,
			"rows_before": run.RowsBefore,
			"rows_after":  run.RowsAfter,
		}).Error; err != nil {
		r.log.Error("finalize run record", zap.Error(err))
	}
}

// markFiles updates the audit rows of API-submitted entries. Entries
// without a FileID were resolved by the pipeline itself and have no
// audit row.
func (r *Runner) markFiles(ctx context.Context, entries []domain.Entry, status domain.FileStatus, cause error) {
	ctx = context.WithoutCancel(ctx)
	for _, entry := range entries {
		if entry.FileID == 0 {
			continue
		}
		updates := map[string]any{"status": status, "error": nil}
		if cause != nil {
			msg := cause.Error()
			updates["error"] = &msg
		}
		if err := r.db.WithContext(ctx).
			Model(&domain.File{}).
			Where("id = ?", entry.FileID).
			Updates(updates).Error; err != nil {
			r.log.Error("update file status", zap.Int64("file_id", entry.FileID), zap.Error(err))
		}
	}
}

func (r *Runner) notifyFailure(ctx context.Context, run *domain.Run, cause error) {
	msg := fmt.Sprintf(":rotating_light: offsets-db ingestion failed on %s\nrun: %s\n%s",
		run.Environment, r.runLink(run), cause.Error())
	r.notify(ctx, msg)
}

func (r *Runner) notifyAnomalies(ctx context.Context, run *domain.Run, anomalies []domain.Anomaly) {
	msg := fmt.Sprintf(":warning: offsets-db ingestion committed with anomalies on %s\nrun: %s\n%s",
		run.Environment, r.runLink(run), anomalyText(anomalies))
	r.notify(ctx, msg)
}

func (r *Runner) notify(ctx context.Context, msg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.notifier.PostMessage(ctx, r.cfg.SlackChannel, msg); err != nil {
		r.log.Error("post notification", zap.Error(err))
	}
}

func (r *Runner) runLink(run *domain.Run) string {
	if r.cfg.RunDetailBaseURL == "" {
		return run.ID.String()
	}
	return strings.TrimSuffix(r.cfg.RunDetailBaseURL, "/") + "/" + run.ID.String()
}

func anomalyText(anomalies []domain.Anomaly) string {
	parts := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, "\n")
}

func datasetCounts(dataset *domain.Dataset) map[domain.FileCategory]int64 {
	counts := make(map[domain.FileCategory]int64, len(dataset.Categories))
	for _, category := range dataset.Categories {
		switch category {
		case domain.CategoryProjects:
			counts[category] = int64(len(dataset.Projects))
		case domain.CategoryCredits:
			counts[category] = int64(len(dataset.Credits))
		case domain.CategoryClips:
			counts[category] = int64(len(dataset.Clips))
		}
	}
	return counts
}

func countsToJSON(counts map[string]int64) datatypes.JSONMap {
	if counts == nil {
		return nil
	}
	out := make(datatypes.JSONMap, len(counts))
	for table, count := range counts {
		out[table] = count
	}
	return out
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "offsetsdb"
	}
	return name
}
