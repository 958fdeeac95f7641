package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/memberledger/internal/actionrequest"
	actiondomain "github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	"github.com/smallbiznis/memberledger/internal/audit"
	auditdomain "github.com/smallbiznis/memberledger/internal/audit/domain"
	"github.com/smallbiznis/memberledger/internal/balance"
	balancedomain "github.com/smallbiznis/memberledger/internal/balance/domain"
	"github.com/smallbiznis/memberledger/internal/config"
	"github.com/smallbiznis/memberledger/internal/ledger"
	"github.com/smallbiznis/memberledger/internal/observability"
	obslogger "github.com/smallbiznis/memberledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/memberledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/memberledger/internal/observability/tracing"
	"github.com/smallbiznis/memberledger/internal/program"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
	"github.com/smallbiznis/memberledger/internal/ratelimit"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	program.Module,
	ledger.Module,
	actionrequest.Module,
	balance.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
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
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
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
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	actionSvc  actiondomain.Service
	programSvc programdomain.Service
	balanceSvc balancedomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	ActionSvc  actiondomain.Service
	ProgramSvc programdomain.Service
	BalanceSvc balancedomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		actionSvc:  p.ActionSvc,
		programSvc: p.ProgramSvc,
		balanceSvc: p.BalanceSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorContext())

	// -------- Member actions --------
	api.POST("/member-actions", s.SubmitMemberAction)
	api.GET("/member-actions", s.ListMemberActions)
	api.GET("/member-actions/:id", s.GetMemberActionByID)
	api.POST("/member-actions/:id/approve", s.ApproveMemberAction)
	api.POST("/member-actions/:id/reject", s.RejectMemberAction)

	// -------- Member summary --------
	api.GET("/members/:customer_id/summary", s.GetMemberSummary)

	// -------- Programs --------
	api.GET("/programs", s.ListPrograms)
	api.POST("/programs", s.CreateProgram)
	api.GET("/programs/:id", s.GetProgramByID)
	api.GET("/programs/:id/policies", s.GetProgramPolicies)
	api.POST("/programs/:id/versions", s.PublishProgramVersion)

	// -------- Audit logs --------
	api.GET("/audit-logs", s.ListAuditLogs)
}
