package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/orderbilling/internal/billing/domain"
	"github.com/smallbiznis/orderbilling/internal/config"
	"github.com/smallbiznis/orderbilling/internal/identity"
	"github.com/smallbiznis/orderbilling/internal/observability"
	obsmiddleware "github.com/smallbiznis/orderbilling/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderbilling/internal/observability/metrics"
	obstracing "github.com/smallbiznis/orderbilling/internal/observability/tracing"
	"github.com/smallbiznis/orderbilling/internal/ratelimit"
	"github.com/smallbiznis/orderbilling/internal/receipt"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     []string{"/health", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(CORS(cfg.CORSAllowedOrigins))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": obsCfg.ServiceName})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	billingSvc domain.Service
	verifier   domain.WebhookVerifier
	resolver   identity.Resolver
	limiter    *ratelimit.OrderCreateLimiter
	receipts   *receipt.Generator
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	BillingSvc domain.Service
	Verifier   domain.WebhookVerifier
	Resolver   identity.Resolver
	Receipts   *receipt.Generator
	Limiter    *ratelimit.OrderCreateLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics           `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		billingSvc: p.BillingSvc,
		verifier:   p.Verifier,
		resolver:   p.Resolver,
		limiter:    p.Limiter,
		receipts:   p.Receipts,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerBillingRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerBillingRoutes() {
	billing := s.engine.Group("/api/v1/billing")

	billing.GET("/packages", s.ListPackages)
	billing.GET("/packages/:type", s.GetPackage)

	billing.POST("/webhooks/stripe", s.HandleStripeWebhook)

	orders := billing.Group("/orders", identity.Authenticate(s.resolver))
	{
		orders.POST("", s.OrderCreateRateLimit(), s.CreateOrder)
		orders.GET("", s.ListOrders)
		orders.GET("/:id", s.GetOrder)
		orders.POST("/:id/cancel", s.CancelOrder)
		orders.GET("/:id/history", s.GetOrderHistory)
		orders.GET("/:id/receipt", s.GetOrderReceipt)
	}

	admin := billing.Group("", identity.Authenticate(s.resolver), identity.RequireRole(identity.RoleAdmin))
	{
		admin.GET("/stats", s.GetStats)
		admin.GET("/webhook-events", s.ListWebhookEvents)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
