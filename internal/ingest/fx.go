package ingest

import (
	"context"

	"github.com/offsetsdb/offsetsdb/internal/clock"
	"github.com/offsetsdb/offsetsdb/internal/config"
	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	"github.com/offsetsdb/offsetsdb/internal/ingest/fetcher"
	"github.com/offsetsdb/offsetsdb/internal/ingest/loader"
	"github.com/offsetsdb/offsetsdb/internal/ingest/runner"
	"github.com/offsetsdb/offsetsdb/internal/ingest/validator"
	"github.com/offsetsdb/offsetsdb/internal/migration"
	obsmetrics "github.com/offsetsdb/offsetsdb/internal/observability/metrics"
	"github.com/offsetsdb/offsetsdb/internal/providers/slack"
	projectdomain "github.com/offsetsdb/offsetsdb/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gorm.io/gorm"
)

var Module = fx.Module("ingest",
	fx.Provide(
		newBucket,
		newFetcher,
		newValidator,
		newLoader,
		newMigrator,
		newRunner,
	),
)

func newBucket(lc fx.Lifecycle, cfg config.Config) (*blob.Bucket, error) {
	bucket, err := fetcher.OpenBucket(context.Background(), cfg.Bucket)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return bucket.Close()
		},
	})
	return bucket, nil
}

func newFetcher(bucket *blob.Bucket, log *zap.Logger, metrics *obsmetrics.Ingest, cfg config.Config) *fetcher.Fetcher {
	return fetcher.New(bucket, log, metrics, cfg.Ingest.FetchAttempts)
}

func newValidator(db *gorm.DB, projectRepo projectdomain.Repository, log *zap.Logger) domain.Validator {
	return validator.New(db, projectRepo, log)
}

func newLoader(db *gorm.DB, log *zap.Logger, metrics *obsmetrics.Ingest, cfg config.Config) domain.Loader {
	return loader.New(db, log, metrics, cfg.Ingest)
}

// gormMigrator adapts the package-level migration entry points to the
// pipeline's Migrator collaborator.
type gormMigrator struct {
	db *gorm.DB
}

func (m *gormMigrator) Apply(ctx context.Context) (uint, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return 0, err
	}
	return migration.Apply(sqlDB)
}

func newMigrator(db *gorm.DB, cfg config.Config) domain.Migrator {
	// The embedded migrations are written for postgres; other database
	// types are provisioned out of band.
	if cfg.DBType != "postgres" {
		return nil
	}
	return &gormMigrator{db: db}
}

func newRunner(
	db *gorm.DB,
	log *zap.Logger,
	clk clock.Clock,
	f *fetcher.Fetcher,
	v domain.Validator,
	l domain.Loader,
	m domain.Migrator,
	notifier slack.Provider,
	metrics *obsmetrics.Ingest,
	cfg config.Config,
) (*runner.Runner, error) {
	return runner.New(db, log, clk, f, v, l, m, notifier, metrics, cfg)
}
