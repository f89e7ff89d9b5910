package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/offsetsdb/offsetsdb/internal/clock"
	"github.com/offsetsdb/offsetsdb/internal/config"
	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	"github.com/offsetsdb/offsetsdb/internal/ingest/fetcher"
	"github.com/offsetsdb/offsetsdb/internal/ingest/loader"
	"github.com/offsetsdb/offsetsdb/internal/ingest/runner"
	"github.com/offsetsdb/offsetsdb/internal/ingest/validator"
	"github.com/offsetsdb/offsetsdb/internal/logger"
	"github.com/offsetsdb/offsetsdb/internal/migration"
	"github.com/offsetsdb/offsetsdb/internal/providers/slack"
	projectrepository "github.com/offsetsdb/offsetsdb/internal/project/repository"
	"github.com/offsetsdb/offsetsdb/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const usage = `usage: dbsync [flags] <staging|production>

Runs one ingestion cycle against the target environment: fetch the
latest data files, validate them, and swap them into the live tables.

flags:
  -url string    manifest URL to ingest instead of bucket discovery
  -bucket string bucket URL override, e.g. file:///var/data/offsets
  -files string  JSON manifest entries override, e.g. '[{"url":"...","category":"projects"}]'
  -dry-run       stop after validation, never write the database
`

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	manifestURL := flag.String("url", "", "")
	bucketURL := flag.String("bucket", "", "")
	filesJSON := flag.String("files", "", "")
	dryRun := flag.Bool("dry-run", false, "")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 1
	}

	environment, err := config.ParseEnvironment(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg.Environment = environment
	if *bucketURL != "" {
		cfg.Bucket = *bucketURL
	}

	log, err := logger.New(cfg.LogLevel, environment)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()
	log = log.With(zap.String("service", "dbsync"), zap.String("env", string(environment)))

	req := runner.Request{ManifestURL: *manifestURL, DryRun: *dryRun}
	if *filesJSON != "" {
		if err := json.Unmarshal([]byte(*filesJSON), &req.Entries); err != nil {
			fmt.Fprintf(os.Stderr, "parse -files: %v\n", err)
			return 1
		}
	}

	summary, err := sync(context.Background(), cfg, log, req)
	if err != nil {
		log.Error("ingestion failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "dbsync: %v\n", err)
		return 1
	}

	printSummary(summary)
	return 0
}

func sync(ctx context.Context, cfg config.Config, log *zap.Logger, req runner.Request) (*runner.Summary, error) {
	conn, err := db.New(cfg)
	if err != nil {
		return nil, err
	}

	bucket, err := fetcher.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()

	notifier := slack.Provider(&slack.NoOpProvider{})
	if cfg.SlackWebhookURL != "" {
		notifier = slack.NewWebhookProvider(cfg.SlackWebhookURL)
	}

	projectRepo := projectrepository.Provide()

	// Schema migrations are written for postgres; other database types
	// are expected to be provisioned out of band.
	var migrator domain.Migrator
	if cfg.DBType == "postgres" {
		migrator = sqlMigrator{conn: conn}
	}

	r, err := runner.New(
		conn,
		log,
		clock.NewSystemClock(),
		fetcher.New(bucket, log, nil, cfg.Ingest.FetchAttempts),
		validator.New(conn, projectRepo, log),
		loader.New(conn, log, nil, cfg.Ingest),
		migrator,
		notifier,
		nil,
		cfg,
	)
	if err != nil {
		return nil, err
	}

	return r.Execute(ctx, req)
}

// sqlMigrator runs the embedded schema migrations before the load.
type sqlMigrator struct {
	conn *gorm.DB
}

func (m sqlMigrator) Apply(ctx context.Context) (uint, error) {
	sqlDB, err := m.conn.DB()
	if err != nil {
		return 0, err
	}
	return migration.Apply(sqlDB)
}

func printSummary(summary *runner.Summary) {
	if summary.Run != nil {
		fmt.Printf("run %s finished: %s\n", summary.Run.ID, summary.Run.Outcome)
	}
	for category, count := range summary.Validated {
		fmt.Printf("  validated %-10s %d rows\n", category, count)
	}
	if summary.Result != nil {
		for table, loaded := range summary.Result.Loaded {
			fmt.Printf("  loaded    %-14s %d rows (before=%d after=%d)\n",
				table, loaded, summary.Result.RowsBefore[table], summary.Result.RowsAfter[table])
		}
		for _, anomaly := range summary.Result.Anomalies {
			fmt.Printf("  anomaly   %s\n", anomaly)
		}
	}
}
