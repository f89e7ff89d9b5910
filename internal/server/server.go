package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	clipdomain "github.com/offsetsdb/offsetsdb/internal/clip/domain"
	"github.com/offsetsdb/offsetsdb/internal/clock"
	"github.com/offsetsdb/offsetsdb/internal/config"
	creditdomain "github.com/offsetsdb/offsetsdb/internal/credit/domain"
	"github.com/offsetsdb/offsetsdb/internal/ingest/runner"
	obsmetrics "github.com/offsetsdb/offsetsdb/internal/observability/metrics"
	projectdomain "github.com/offsetsdb/offsetsdb/internal/project/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(newIDNode),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func newIDNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// NewEngine builds the shared gin engine with recovery, request
// logging, metrics and the liveness endpoints.
func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(log, httpMetrics)
}

func run(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.Engine(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Server exposes the read API over the live table set plus the
// key-guarded ingestion surface.
type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	clk         clock.Clock
	projectRepo projectdomain.Repository
	creditRepo  creditdomain.Repository
	clipRepo    clipdomain.Repository
	runner      *runner.Runner
	genID       *snowflake.Node
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	Clk         clock.Clock
	ProjectRepo projectdomain.Repository
	CreditRepo  creditdomain.Repository
	ClipRepo    clipdomain.Repository
	Runner      *runner.Runner `optional:"true"`
	GenID       *snowflake.Node
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("server"),
		clk:         p.Clk,
		projectRepo: p.ProjectRepo,
		creditRepo:  p.CreditRepo,
		clipRepo:    p.ClipRepo,
		runner:      p.Runner,
		genID:       p.GenID,
	}

	s.registerPublicRoutes()
	s.registerIngestRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	s.engine.GET("/health", s.Health)

	s.engine.GET("/projects", s.ListProjects)
	s.engine.GET("/projects/:project_id", s.GetProject)
	s.engine.GET("/credits", s.ListCredits)
	s.engine.GET("/clips", s.ListClips)
}

func (s *Server) registerIngestRoutes() {
	guarded := s.engine.Group("/", s.APIKeyRequired())

	guarded.GET("/files", s.ListFiles)
	guarded.GET("/files/:id", s.GetFile)
	guarded.POST("/files", s.SubmitFiles)

	guarded.GET("/runs", s.ListRuns)
	guarded.GET("/runs/:id", s.GetRun)
}
