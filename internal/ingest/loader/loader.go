package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/offsetsdb/offsetsdb/internal/config"
	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	obsmetrics "github.com/offsetsdb/offsetsdb/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const insertBatchSize = 500

// tableSpec describes how one live table is rebuilt during a swap. The
// index names listed here are created on the fresh table and dropped
// from the previous generation right after the rename, so the two
// generations never fight over a name.
type tableSpec struct {
	name    string
	columns []string
	indexes []indexSpec
}

type indexSpec struct {
	name string
	ddl  string
}

var (
	projectsSpec = tableSpec{
		name: "projects",
		columns: []string{
			"project_id", "registry", "name", "proponent", "protocol", "category",
			"status", "country", "listed_at", "is_compliance", "retired", "issued",
			"project_url", "recorded_at",
		},
		indexes: []indexSpec{
			{"ux_projects_project_id", "CREATE UNIQUE INDEX ux_projects_project_id ON projects (project_id)"},
			{"ux_projects_registry_project_id", "CREATE UNIQUE INDEX ux_projects_registry_project_id ON projects (registry, project_id)"},
		},
	}

	creditsSpec = tableSpec{
		name: "credits",
		columns: []string{
			"id", "project_id", "quantity", "vintage", "transaction_date",
			"transaction_type", "retirement_beneficiary", "recorded_at",
		},
		indexes: []indexSpec{
			{"ux_credits_id", "CREATE UNIQUE INDEX ux_credits_id ON credits (id)"},
			{"ix_credits_project_id", "CREATE INDEX ix_credits_project_id ON credits (project_id)"},
		},
	}

	clipsSpec = tableSpec{
		name: "clips",
		columns: []string{
			"id", "date", "title", "url", "source", "tags", "notes", "type", "recorded_at",
		},
		indexes: []indexSpec{
			{"ux_clips_id", "CREATE UNIQUE INDEX ux_clips_id ON clips (id)"},
		},
	}

	clipProjectsSpec = tableSpec{
		name:    "clip_projects",
		columns: []string{"id", "clip_id", "project_id"},
		indexes: []indexSpec{
			{"ux_clip_projects_id", "CREATE UNIQUE INDEX ux_clip_projects_id ON clip_projects (id)"},
			{"ix_clip_projects_clip_id", "CREATE INDEX ix_clip_projects_clip_id ON clip_projects (clip_id)"},
			{"ix_clip_projects_project_id", "CREATE INDEX ix_clip_projects_project_id ON clip_projects (project_id)"},
		},
	}
)

// Loader applies a validated dataset to the live table set in a single
// transaction. Snapshot categories are built in a shadow table and
// swapped in atomically; the previous generation is kept as <table>_prev
// until the next successful swap. Credits can alternatively be merged
// in place with last-writer-wins semantics.
type Loader struct {
	db               *gorm.DB
	log              *zap.Logger
	metrics          *obsmetrics.Ingest
	creditMode       string
	anomalyThreshold float64
}

func New(db *gorm.DB, log *zap.Logger, metrics *obsmetrics.Ingest, cfg config.IngestConfig) *Loader {
	return &Loader{
		db:               db,
		log:              log.Named("ingest.loader"),
		metrics:          metrics,
		creditMode:       cfg.CreditMode,
		anomalyThreshold: cfg.AnomalyThreshold,
	}
}

// Load commits the dataset or leaves the live tables untouched. The
// returned anomalies are advisory; the caller decides how to surface
// them.
func (l *Loader) Load(ctx context.Context, dataset *domain.Dataset) (*domain.LoadResult, error) {
	result := &domain.LoadResult{
		RowsBefore: make(map[string]int64),
		RowsAfter:  make(map[string]int64),
		Loaded:     make(map[string]int64),
	}

	tables := l.affectedTables(dataset)
	for _, table := range tables {
		count, err := l.countRows(ctx, l.db, table)
		if err != nil {
			return nil, err
		}
		result.RowsBefore[table] = count
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, category := range dataset.Categories {
			switch category {
			case domain.CategoryProjects:
				if err := l.replaceTable(tx, projectsSpec, projectRows(dataset)); err != nil {
					return err
				}
				result.Loaded[projectsSpec.name] = int64(len(dataset.Projects))
			case domain.CategoryCredits:
				if err := l.loadCredits(tx, dataset); err != nil {
					return err
				}
				result.Loaded[creditsSpec.name] = int64(len(dataset.Credits))
			case domain.CategoryClips:
				if err := l.replaceTable(tx, clipsSpec, clipRows(dataset)); err != nil {
					return err
				}
				if err := l.replaceTable(tx, clipProjectsSpec, clipProjectRows(dataset)); err != nil {
					return err
				}
				result.Loaded[clipsSpec.name] = int64(len(dataset.Clips))
				result.Loaded[clipProjectsSpec.name] = int64(len(dataset.ClipProjects))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoad, err)
	}

	for _, table := range tables {
		count, err := l.countRows(ctx, l.db, table)
		if err != nil {
			return nil, err
		}
		result.RowsAfter[table] = count
	}

	result.Anomalies = l.detectAnomalies(dataset, result)
	for _, anomaly := range result.Anomalies {
		l.metrics.IncAnomaly(anomaly.Entity)
		l.log.Warn("row count anomaly", zap.String("entity", anomaly.Entity), zap.String("detail", anomaly.String()))
	}
	for table, loaded := range result.Loaded {
		l.metrics.AddRowsLoaded(table, loaded)
	}

	return result, nil
}

func (l *Loader) affectedTables(dataset *domain.Dataset) []string {
	var tables []string
	for _, category := range dataset.Categories {
		switch category {
		case domain.CategoryProjects:
			tables = append(tables, projectsSpec.name)
		case domain.CategoryCredits:
			tables = append(tables, creditsSpec.name)
		case domain.CategoryClips:
			tables = append(tables, clipsSpec.name, clipProjectsSpec.name)
		}
	}
	return tables
}

func (l *Loader) countRows(ctx context.Context, db *gorm.DB, table string) (int64, error) {
	var count int64
	if err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM " + table).Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", domain.ErrLoad, table, err)
	}
	return count, nil
}

// replaceTable rebuilds table from rows inside the surrounding
// transaction: build a shadow copy, rename live out of the way, rename
// shadow in. The outgoing generation stays as <table>_prev until the
// next swap replaces it.
func (l *Loader) replaceTable(tx *gorm.DB, spec tableSpec, rows [][]any) error {
	shadow := spec.name + "_shadow"
	prev := spec.name + "_prev"

	if err := tx.Exec("DROP TABLE IF EXISTS " + shadow).Error; err != nil {
		return fmt.Errorf("drop stale shadow %s: %w", shadow, err)
	}
	if err := tx.Exec(fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE 1=0", shadow, spec.name)).Error; err != nil {
		return fmt.Errorf("create shadow %s: %w", shadow, err)
	}

	if err := l.insertRows(tx, shadow, spec.columns, rows); err != nil {
		return err
	}

	if err := tx.Exec("DROP TABLE IF EXISTS " + prev).Error; err != nil {
		return fmt.Errorf("drop previous generation %s: %w", prev, err)
	}
	if err := tx.Exec(fmt.Sprintf("ALTER TABLE %s RENAME TO %s", spec.name, prev)).Error; err != nil {
		return fmt.Errorf("rename %s to %s: %w", spec.name, prev, err)
	}
	for _, index := range spec.indexes {
		// Index names stay attached to the renamed table; free them up.
		if err := tx.Exec("DROP INDEX IF EXISTS " + index.name).Error; err != nil {
			return fmt.Errorf("drop index %s: %w", index.name, err)
		}
	}
	if err := tx.Exec(fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, spec.name)).Error; err != nil {
		return fmt.Errorf("rename %s to %s: %w", shadow, spec.name, err)
	}
	for _, index := range spec.indexes {
		if err := tx.Exec(index.ddl).Error; err != nil {
			return fmt.Errorf("create index %s: %w", index.name, err)
		}
	}

	l.log.Info("table swapped", zap.String("table", spec.name), zap.Int("rows", len(rows)))
	return nil
}

func (l *Loader) loadCredits(tx *gorm.DB, dataset *domain.Dataset) error {
	if l.creditMode == config.CreditModeUpsert {
		return l.upsertCredits(tx, dataset)
	}
	return l.replaceTable(tx, creditsSpec, creditRows(dataset))
}

// upsertCredits merges the dataset into the live credits table with
// last-writer-wins semantics: an existing row is only overwritten when
// the incoming recorded_at is at least as new.
func (l *Loader) upsertCredits(tx *gorm.DB, dataset *domain.Dataset) error {
	rows := creditRows(dataset)
	assignments := make([]string, 0, len(creditsSpec.columns)-1)
	for _, column := range creditsSpec.columns {
		if column == "id" {
			continue
		}
		assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", column, column))
	}
	suffix := fmt.Sprintf(
		"ON CONFLICT (id) DO UPDATE SET %s WHERE excluded.recorded_at >= credits.recorded_at",
		strings.Join(assignments, ", "),
	)

	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		sql, args := buildInsert(creditsSpec.name, creditsSpec.columns, rows[start:end])
		if err := tx.Exec(sql+" "+suffix, args...).Error; err != nil {
			return fmt.Errorf("upsert credits: %w", err)
		}
	}

	l.log.Info("credits merged", zap.Int("rows", len(rows)))
	return nil
}

func (l *Loader) insertRows(tx *gorm.DB, table string, columns []string, rows [][]any) error {
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		sql, args := buildInsert(table, columns, rows[start:end])
		if err := tx.Exec(sql, args...).Error; err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return nil
}

func buildInsert(table string, columns []string, rows [][]any) (string, []any) {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder)
		args = append(args, row...)
	}
	return b.String(), args
}

func (l *Loader) detectAnomalies(dataset *domain.Dataset, result *domain.LoadResult) []domain.Anomaly {
	var anomalies []domain.Anomaly

	check := func(table string, category domain.FileCategory) {
		declared := dataset.Declared[category]
		loaded := result.Loaded[table]
		before := result.RowsBefore[table]
		after := result.RowsAfter[table]

		// Compare against the loaded count, not the live total: an
		// upsert merge legitimately leaves more rows in the table than
		// the delta declared.
		if declared > 0 && loaded != declared {
			anomalies = append(anomalies, domain.Anomaly{
				Entity:   table,
				Declared: declared,
				Before:   before,
				After:    after,
				Detail:   "loaded row count differs from manifest declaration",
			})
			return
		}
		if before > 0 && l.anomalyThreshold > 0 {
			floor := float64(before) * (1 - l.anomalyThreshold)
			if float64(after) < floor {
				anomalies = append(anomalies, domain.Anomaly{
					Entity:   table,
					Declared: declared,
					Before:   before,
					After:    after,
					Detail:   fmt.Sprintf("row count dropped more than %.0f%%", l.anomalyThreshold*100),
				})
			}
		}
	}

	for _, category := range dataset.Categories {
		switch category {
		case domain.CategoryProjects:
			check(projectsSpec.name, category)
		case domain.CategoryCredits:
			check(creditsSpec.name, category)
		case domain.CategoryClips:
			check(clipsSpec.name, category)
		}
	}
	return anomalies
}

func projectRows(dataset *domain.Dataset) [][]any {
	rows := make([][]any, 0, len(dataset.Projects))
	for _, p := range dataset.Projects {
		rows = append(rows, []any{
			p.ProjectID, p.Registry, p.Name, p.Proponent, p.Protocol, p.Category,
			p.Status, p.Country, p.ListedAt, p.IsCompliance, p.Retired, p.Issued,
			p.ProjectURL, p.RecordedAt,
		})
	}
	return rows
}

func creditRows(dataset *domain.Dataset) [][]any {
	rows := make([][]any, 0, len(dataset.Credits))
	for _, c := range dataset.Credits {
		rows = append(rows, []any{
			c.ID, c.ProjectID, c.Quantity, c.Vintage, c.TransactionDate,
			c.TransactionType, c.RetirementBeneficiary, c.RecordedAt,
		})
	}
	return rows
}

func clipRows(dataset *domain.Dataset) [][]any {
	rows := make([][]any, 0, len(dataset.Clips))
	for _, c := range dataset.Clips {
		rows = append(rows, []any{
			c.ID, c.Date, c.Title, c.URL, c.Source, c.Tags, c.Notes, c.Type, c.RecordedAt,
		})
	}
	return rows
}

func clipProjectRows(dataset *domain.Dataset) [][]any {
	rows := make([][]any, 0, len(dataset.ClipProjects))
	for _, link := range dataset.ClipProjects {
		rows = append(rows, []any{link.ID, link.ClipID, link.ProjectID})
	}
	return rows
}
