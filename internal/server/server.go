package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/playpoints/internal/config"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/playpoints/internal/observability/metrics"
	"github.com/smallbiznis/playpoints/internal/rule"
	velocitydomain "github.com/smallbiznis/playpoints/internal/velocity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
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
	engine      *gin.Engine
	cfg         config.Config
	ledgerSvc   ledgerdomain.Service
	velocitySvc velocitydomain.Service
	rules       *rule.Registry
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	LedgerSvc   ledgerdomain.Service
	VelocitySvc velocitydomain.Service
	Rules       *rule.Registry
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		ledgerSvc:   p.LedgerSvc,
		velocitySvc: p.VelocitySvc,
		rules:       p.Rules,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.GET("/rules", s.ListRules)

		users := v1.Group("/users/:user_id")
		{
			users.POST("/points/award", s.AwardPoints)
			users.POST("/points/spend", s.SpendPoints)
			users.GET("/points/balance", s.GetBalance)
			users.GET("/points/entries", s.ListEntries)
		}
	}
}
