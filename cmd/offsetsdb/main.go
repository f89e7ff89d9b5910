package main

import (
	"github.com/offsetsdb/offsetsdb/internal/clip"
	"github.com/offsetsdb/offsetsdb/internal/clock"
	"github.com/offsetsdb/offsetsdb/internal/config"
	"github.com/offsetsdb/offsetsdb/internal/credit"
	"github.com/offsetsdb/offsetsdb/internal/ingest"
	"github.com/offsetsdb/offsetsdb/internal/logger"
	"github.com/offsetsdb/offsetsdb/internal/migration"
	"github.com/offsetsdb/offsetsdb/internal/observability/metrics"
	"github.com/offsetsdb/offsetsdb/internal/project"
	"github.com/offsetsdb/offsetsdb/internal/providers/slack"
	"github.com/offsetsdb/offsetsdb/internal/server"
	"github.com/offsetsdb/offsetsdb/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,

		// Domains
		project.Module,
		credit.Module,
		clip.Module,
		slack.Module,
		ingest.Module,

		// API surface
		server.Module,
	)
	app.Run()
}
