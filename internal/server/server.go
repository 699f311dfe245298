package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/sentinel/internal/annotation"
	annotationdomain "github.com/smallbiznis/sentinel/internal/annotation/domain"
	"github.com/smallbiznis/sentinel/internal/audit"
	auditdomain "github.com/smallbiznis/sentinel/internal/audit/domain"
	"github.com/smallbiznis/sentinel/internal/client"
	clientdomain "github.com/smallbiznis/sentinel/internal/client/domain"
	"github.com/smallbiznis/sentinel/internal/config"
	"github.com/smallbiznis/sentinel/internal/metricspush"
	"github.com/smallbiznis/sentinel/internal/modeloutput"
	modeloutputdomain "github.com/smallbiznis/sentinel/internal/modeloutput/domain"
	"github.com/smallbiznis/sentinel/internal/observability"
	obsmiddleware "github.com/smallbiznis/sentinel/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/sentinel/internal/observability/metrics"
	obstracing "github.com/smallbiznis/sentinel/internal/observability/tracing"
	"github.com/smallbiznis/sentinel/internal/ratelimit"
	"github.com/smallbiznis/sentinel/internal/reference"
	referencedomain "github.com/smallbiznis/sentinel/internal/reference/domain"
	"github.com/smallbiznis/sentinel/internal/rescore"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	rescoreworker "github.com/smallbiznis/sentinel/internal/rescore/worker"
	"github.com/smallbiznis/sentinel/internal/riskevent"
	riskeventdomain "github.com/smallbiznis/sentinel/internal/riskevent/domain"
	"github.com/smallbiznis/sentinel/internal/scoring"
	"github.com/smallbiznis/sentinel/internal/transaction"
	transactiondomain "github.com/smallbiznis/sentinel/internal/transaction/domain"
	"github.com/smallbiznis/sentinel/internal/window"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	metricspush.Module,
	fx.Provide(registerGin),
	audit.Module,
	ratelimit.Module,
	window.Module,
	client.Module,
	transaction.Module,
	reference.Module,
	modeloutput.Module,
	annotation.Module,
	riskevent.Module,
	rescore.Module,
	scoring.Module,
	rescoreworker.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	genID          *snowflake.Node
	holder         *config.EngineConfigHolder
	scoringSvc     scoring.Service
	transactionSvc transactiondomain.Service
	clientSvc      clientdomain.Service
	referenceSvc   referencedomain.Service
	modelOutputSvc modeloutputdomain.Service
	annotationSvc  annotationdomain.Service
	riskEventSvc   riskeventdomain.Service
	signalSvc      rescoredomain.Service
	auditSvc       auditdomain.Service
	obsMetrics     *obsmetrics.Metrics
	ingestLimiter  *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	GenID          *snowflake.Node
	Holder         *config.EngineConfigHolder
	ScoringSvc     scoring.Service
	TransactionSvc transactiondomain.Service
	ClientSvc      clientdomain.Service
	ReferenceSvc   referencedomain.Service
	ModelOutputSvc modeloutputdomain.Service
	AnnotationSvc  annotationdomain.Service
	RiskEventSvc   riskeventdomain.Service
	SignalSvc      rescoredomain.Service
	AuditSvc       auditdomain.Service
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	IngestLimiter  *ratelimit.IngestLimiter   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		genID:          p.GenID,
		holder:         p.Holder,
		scoringSvc:     p.ScoringSvc,
		transactionSvc: p.TransactionSvc,
		clientSvc:      p.ClientSvc,
		referenceSvc:   p.ReferenceSvc,
		modelOutputSvc: p.ModelOutputSvc,
		annotationSvc:  p.AnnotationSvc,
		riskEventSvc:   p.RiskEventSvc,
		signalSvc:      p.SignalSvc,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
		ingestLimiter:  p.IngestLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Transactions --------
	v1.POST("/transactions", s.IngestRateLimit(), s.SubmitTransaction)
	v1.POST("/transactions/batch", s.IngestRateLimit(), s.SubmitTransactionBatch)
	v1.GET("/transactions/:external_id", s.GetTransaction)
	v1.GET("/transactions/:external_id/versions", s.GetTransactionHistory)
	v1.POST("/transactions/:external_id/corrections", s.CorrectTransaction)
	v1.GET("/transactions/:external_id/events", s.GetTransactionEvents)

	// -------- Clients --------
	v1.POST("/clients", s.UpsertClient)
	v1.GET("/clients/:external_id", s.GetClient)
	v1.POST("/clients/:external_id/corrections", s.CorrectClient)

	// -------- Collaborator inputs --------
	v1.PUT("/model-outputs/:transaction_id", s.PutModelOutput)
	v1.GET("/model-outputs/:transaction_id", s.GetModelOutput)
	v1.PUT("/annotations/:transaction_id", s.PutAnnotation)
	v1.GET("/annotations/:transaction_id", s.GetAnnotation)

	// -------- Risk events --------
	v1.GET("/risk-events", s.ListRiskEvents)
	v1.GET("/risk-events/:event_key", s.GetRiskEvent)

	// -------- Re-scoring --------
	v1.POST("/rescore", s.TriggerRescore)
	v1.GET("/rescore-signals", s.ListRescoreSignals)

	// -------- Reference data --------
	v1.GET("/countries/:code/risk", s.GetCountryRisk)
	v1.PUT("/countries/:code/risk", s.PutCountryRisk)

	// -------- Operations --------
	v1.GET("/audit-logs", s.ListAuditLogs)
	v1.GET("/engine", s.GetEngineInfo)
}
