package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kersonpank/treinepass-core/internal/config"
	"github.com/kersonpank/treinepass-core/internal/observability"
	obsmiddleware "github.com/kersonpank/treinepass-core/internal/observability/logger"
	obsmetrics "github.com/kersonpank/treinepass-core/internal/observability/metrics"
	obstracing "github.com/kersonpank/treinepass-core/internal/observability/tracing"
	"github.com/kersonpank/treinepass-core/internal/payment"
	paymentdomain "github.com/kersonpank/treinepass-core/internal/payment/domain"
	"github.com/kersonpank/treinepass-core/internal/ratelimit"
	"github.com/kersonpank/treinepass-core/internal/subscription"
	subscriptiondomain "github.com/kersonpank/treinepass-core/internal/subscription/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	payment.Module,
	subscription.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
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
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())
	r.HandleMethodNotAllowed = true

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	engine          *gin.Engine
	cfg             config.Config
	receiver        paymentdomain.Receiver
	reprocessor     paymentdomain.Reprocessor
	subscriptionSvc subscriptiondomain.Service
	obsMetrics      *obsmetrics.Metrics
	webhookLimiter  *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Receiver        paymentdomain.Receiver
	Reprocessor     paymentdomain.Reprocessor
	SubscriptionSvc subscriptiondomain.Service
	ObsMetrics      *obsmetrics.Metrics       `optional:"true"`
	WebhookLimiter  *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		receiver:        p.Receiver,
		reprocessor:     p.Reprocessor,
		subscriptionSvc: p.SubscriptionSvc,
		obsMetrics:      p.ObsMetrics,
		webhookLimiter:  p.WebhookLimiter,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// Gateways are configured with a single URL; every method reaches the
	// handler so non-POST gets a JSON 405.
	s.engine.Any("/webhook", s.WebhookRateLimit(), s.HandleWebhook)
	s.engine.Any("/webhooks/:provider", s.WebhookRateLimit(), s.HandleWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:scope/:id", s.GetSubscription)
	api.POST("/subscriptions/:scope/:id/cancel", s.CancelSubscription)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminKeyRequired())

	// -------- Webhook events --------
	admin.GET("/webhook-events", s.ListWebhookEvents)
	admin.POST("/webhook-events/reprocess", s.ReprocessWebhookEvent)
	admin.POST("/webhook-events/:id/reprocess", s.ReprocessWebhookEvent)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
	s.engine.NoMethod(func(c *gin.Context) {
		AbortWithError(c, paymentdomain.ErrMethodNotAllowed)
	})
}
