package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/k95foods/payoutbridge/internal/allocation"
	"github.com/k95foods/payoutbridge/internal/config"
	"github.com/k95foods/payoutbridge/internal/notifier"
	"github.com/k95foods/payoutbridge/internal/observability"
	obsmiddleware "github.com/k95foods/payoutbridge/internal/observability/logger"
	obstracing "github.com/k95foods/payoutbridge/internal/observability/tracing"
	"github.com/k95foods/payoutbridge/internal/paymentrequest"
	"github.com/k95foods/payoutbridge/internal/providers"
	"github.com/k95foods/payoutbridge/internal/settlement"
	"github.com/k95foods/payoutbridge/internal/webhook"
	webhookservice "github.com/k95foods/payoutbridge/internal/webhook/service"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	paymentrequest.Module,
	allocation.Module,
	settlement.Module,
	providers.Module,
	notifier.Module,
	webhook.Module,
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	webhookSvc webhookservice.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	WebhookSvc webhookservice.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		webhookSvc: p.WebhookSvc,
	}
}

func registerRoutes(s *Server) {
	s.engine.POST("/webhooks/cashfree/payout", s.HandlePayoutWebhook)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
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
