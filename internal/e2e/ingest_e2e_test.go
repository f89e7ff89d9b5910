package e2e

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/offsetsdb/offsetsdb/internal/clock"
	"github.com/offsetsdb/offsetsdb/internal/config"
	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	"github.com/offsetsdb/offsetsdb/internal/ingest/fetcher"
	"github.com/offsetsdb/offsetsdb/internal/ingest/loader"
	"github.com/offsetsdb/offsetsdb/internal/ingest/runner"
	"github.com/offsetsdb/offsetsdb/internal/ingest/validator"
	"github.com/offsetsdb/offsetsdb/internal/providers/slack"
	projectdomain "github.com/offsetsdb/offsetsdb/internal/project/domain"
	projectrepository "github.com/offsetsdb/offsetsdb/internal/project/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The scenarios here run the real pipeline end to end: files in an
// in-memory bucket, real fetcher, validator, loader and runner against
// an in-memory SQLite database.

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ddl := []string{
		`CREATE TABLE projects (
			project_id TEXT PRIMARY KEY,
			registry TEXT NOT NULL,
			name TEXT,
			proponent TEXT,
			protocol TEXT,
			category TEXT,
			status TEXT,
			country TEXT,
			listed_at TIMESTAMP,
			is_compliance BOOLEAN,
			retired BIGINT NOT NULL DEFAULT 0,
			issued BIGINT NOT NULL DEFAULT 0,
			project_url TEXT,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE credits (
			id BIGINT PRIMARY KEY,
			project_id TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			vintage INTEGER,
			transaction_date TIMESTAMP,
			transaction_type TEXT NOT NULL,
			retirement_beneficiary TEXT,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE clips (
			id BIGINT PRIMARY KEY,
			date TIMESTAMP,
			title TEXT,
			url TEXT,
			source TEXT,
			tags TEXT,
			notes TEXT,
			type TEXT NOT NULL DEFAULT 'unknown',
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE clip_projects (
			id BIGINT PRIMARY KEY,
			clip_id BIGINT NOT NULL,
			project_id TEXT NOT NULL
		)`,
		`CREATE TABLE files (
			id BIGINT PRIMARY KEY,
			url TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'unknown',
			checksum TEXT,
			byte_size BIGINT,
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE ingestion_runs (
			id BIGINT PRIMARY KEY,
			environment TEXT NOT NULL,
			manifest_url TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			outcome TEXT NOT NULL,
			error TEXT,
			rows_before TEXT,
			rows_after TEXT
		)`,
		`CREATE TABLE ingestion_locks (
			environment TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			acquired_at TIMESTAMP NOT NULL,
			released_at TIMESTAMP
		)`,
	}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type pipeline struct {
	db     *gorm.DB
	bucket *blob.Bucket
	runner *runner.Runner
	clk    *clock.FakeClock
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	db := setupDB(t)
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Environment:  config.EnvStaging,
		SlackChannel: "#offsets-db",
		Ingest: config.IngestConfig{
			Timeout:          time.Minute,
			FetchAttempts:    2,
			AnomalyThreshold: 0.10,
			CreditMode:       config.CreditModeReplace,
		},
	}

	projectRepo := projectrepository.Provide()
	r, err := runner.New(
		db,
		log,
		clk,
		fetcher.New(bucket, log, nil, cfg.Ingest.FetchAttempts),
		validator.New(db, projectRepo, log),
		loader.New(db, log, nil, cfg.Ingest),
		nil,
		&slack.NoOpProvider{},
		nil,
		cfg,
	)
	require.NoError(t, err)

	return &pipeline{db: db, bucket: bucket, runner: r, clk: clk}
}

func (p *pipeline) put(t *testing.T, key string, data []byte) domain.Entry {
	t.Helper()
	require.NoError(t, p.bucket.WriteAll(context.Background(), key, data, nil))
	return domain.Entry{
		URL:      key,
		Category: domain.ParseCategory(strings.TrimSuffix(key[strings.LastIndex(key, "/")+1:], ".csv")),
		Checksum: fetcher.Checksum(data),
		ByteSize: int64(len(data)),
	}
}

func projectsCSV(n int) []byte {
	var b strings.Builder
	b.WriteString("project_id,registry,name,status,country,retired,issued\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "VCS%d,verra,Project %d,registered,BR,%d,%d\n", i+1, i+1, i*10, i*100)
	}
	return []byte(b.String())
}

func creditsCSV(n int, orphanRow int) []byte {
	var b strings.Builder
	b.WriteString("id,project_id,quantity,vintage,transaction_type\n")
	for i := 0; i < n; i++ {
		projectID := fmt.Sprintf("VCS%d", i%10+1)
		if i == orphanRow {
			projectID = "GONE999"
		}
		fmt.Fprintf(&b, "%d,%s,%d,2020,issuance\n", i+1, projectID, (i+1)*5)
	}
	return []byte(b.String())
}

func (p *pipeline) count(t *testing.T, table string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, p.db.Raw("SELECT COUNT(*) FROM "+table).Scan(&count).Error)
	return count
}

func TestOrphanCreditFailsRunAndLeavesTablesUntouched(t *testing.T) {
	p := newPipeline(t)

	entries := []domain.Entry{
		p.put(t, "final/2024-03-10/projects.csv", projectsCSV(10)),
		p.put(t, "final/2024-03-10/credits.csv", creditsCSV(50, 17)),
	}

	_, err := p.runner.Execute(context.Background(), runner.Request{Entries: entries})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, domain.CategoryCredits, verr.Category)
	require.Contains(t, verr.Error(), "GONE999")

	require.Zero(t, p.count(t, "projects"))
	require.Zero(t, p.count(t, "credits"))

	var run domain.Run
	require.NoError(t, p.db.First(&run).Error)
	require.Equal(t, domain.RunFailed, run.Outcome)
}

func TestCleanManifestLoadsAndIsIdempotent(t *testing.T) {
	p := newPipeline(t)

	entries := []domain.Entry{
		p.put(t, "final/2024-03-10/projects.csv", projectsCSV(10)),
		p.put(t, "final/2024-03-10/credits.csv", creditsCSV(50, -1)),
	}

	summary, err := p.runner.Execute(context.Background(), runner.Request{Entries: entries})
	require.NoError(t, err)
	require.Equal(t, domain.RunSuccess, summary.Run.Outcome)
	require.EqualValues(t, 10, p.count(t, "projects"))
	require.EqualValues(t, 50, p.count(t, "credits"))

	// Same manifest again: same final state.
	p.clk.Advance(time.Hour)
	_, err = p.runner.Execute(context.Background(), runner.Request{Entries: entries})
	require.NoError(t, err)
	require.EqualValues(t, 10, p.count(t, "projects"))
	require.EqualValues(t, 50, p.count(t, "credits"))

	// No orphan references after a successful run.
	var orphans int64
	require.NoError(t, p.db.Raw(`
		SELECT COUNT(*) FROM credits c
		LEFT JOIN projects p ON p.project_id = c.project_id
		WHERE p.project_id IS NULL`).Scan(&orphans).Error)
	require.Zero(t, orphans)
}

func TestTamperedFileFailsBeforeLoad(t *testing.T) {
	p := newPipeline(t)

	entries := []domain.Entry{
		p.put(t, "final/2024-03-10/projects.csv", projectsCSV(10)),
	}
	entries[0].Checksum = fetcher.Checksum([]byte("different bytes"))

	_, err := p.runner.Execute(context.Background(), runner.Request{Entries: entries})
	require.True(t, errors.Is(err, domain.ErrIntegrity), "got %v", err)
	require.Zero(t, p.count(t, "projects"))
}

// Readers must only ever observe a complete generation of the projects
// table: the one from before the swap or the one after it, never a
// partially loaded shadow. A file-backed WAL database lets a second
// connection read while the load transaction is in flight.
func TestReadersSeeOnlyCompleteGenerationsDuringSwap(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "swap.db") +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"

	open := func() *gorm.DB {
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err)
		sqlDB, err := db.DB()
		require.NoError(t, err)
		sqlDB.SetMaxOpenConns(1)
		return db
	}
	writer := open()
	reader := open()

	require.NoError(t, writer.Exec(`CREATE TABLE projects (
		project_id TEXT PRIMARY KEY,
		registry TEXT NOT NULL,
		name TEXT,
		proponent TEXT,
		protocol TEXT,
		category TEXT,
		status TEXT,
		country TEXT,
		listed_at TIMESTAMP,
		is_compliance BOOLEAN,
		retired BIGINT NOT NULL DEFAULT 0,
		issued BIGINT NOT NULL DEFAULT 0,
		project_url TEXT,
		recorded_at TIMESTAMP NOT NULL
	)`).Error)

	const rows = 1500
	now := time.Now().UTC()

	var seed strings.Builder
	args := make([]any, 0, rows*3)
	seed.WriteString("INSERT INTO projects (project_id, registry, recorded_at) VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			seed.WriteString(", ")
		}
		seed.WriteString("(?, ?, ?)")
		args = append(args, fmt.Sprintf("OLD%04d", i), "gold-standard", now.Add(-time.Hour))
	}
	require.NoError(t, writer.Exec(seed.String(), args...).Error)

	dataset := &domain.Dataset{
		Categories: []domain.FileCategory{domain.CategoryProjects},
		Declared:   map[domain.FileCategory]int64{},
		RecordedAt: now,
	}
	for i := 0; i < rows; i++ {
		dataset.Projects = append(dataset.Projects, projectdomain.Project{
			ProjectID:  fmt.Sprintf("NEW%04d", i),
			Registry:   "verra",
			RecordedAt: now,
		})
	}

	l := loader.New(writer, zap.NewNop(), nil, config.IngestConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), dataset)
		done <- err
	}()

	const query = `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN registry = 'verra' THEN 1 ELSE 0 END), 0) AS fresh
		FROM projects`
	type snapshot struct {
		Total int64
		Fresh int64
	}

	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			var s snapshot
			require.NoError(t, reader.Raw(query).Scan(&s).Error)
			require.EqualValues(t, rows, s.Total)
			require.EqualValues(t, rows, s.Fresh, "new generation not visible after commit")
			return
		default:
		}

		var s snapshot
		require.NoError(t, reader.Raw(query).Scan(&s).Error)
		require.EqualValues(t, rows, s.Total, "reader observed a partial generation")
		require.True(t, s.Fresh == 0 || s.Fresh == rows,
			"reader observed a mixed generation: %+v", s)
	}
}

func TestDiscoveryRunFindsLatestFiles(t *testing.T) {
	p := newPipeline(t)

	p.put(t, "final/2024-03-10/projects.csv", projectsCSV(10))
	p.put(t, "final/2024-03-09/credits.csv", creditsCSV(5, -1))

	summary, err := p.runner.Execute(context.Background(), runner.Request{})
	require.NoError(t, err)
	require.Equal(t, domain.RunSuccess, summary.Run.Outcome)
	require.EqualValues(t, 10, p.count(t, "projects"))
	require.EqualValues(t, 5, p.count(t, "credits"))
}
