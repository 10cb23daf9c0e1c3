package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billing/docs"
	"github.com/fatflowers/billing/internal/app/api/handlers"
	mw "github.com/fatflowers/billing/internal/app/api/middleware"
	"github.com/fatflowers/billing/internal/app/service/checkout"
	"github.com/fatflowers/billing/internal/app/service/expiration"
	subsvc "github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/transaction"
	"github.com/fatflowers/billing/internal/app/service/voucher"
	"github.com/fatflowers/billing/internal/platform/identity"
	cfgpkg "github.com/fatflowers/billing/pkg/config"
	metrics "github.com/fatflowers/billing/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.SugaredLogger
	Config    *cfgpkg.Config
	DB        *gorm.DB
	Resolver  identity.Resolver
	Checkout  checkout.Manager
	Reader    transaction.TransactionReader
	Subs      *subsvc.Service
	Vouchers  *voucher.Service
	Sweeper   *expiration.Sweeper
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	log, cfg := d.Log, d.Config
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			CodeContextKey: mw.ResponseCodeKey,
			Logger:         log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)
		if srv := p.ListenerServer(); srv != nil {
			runMetricsServer(d.Lifecycle, log, srv)
		}
	}
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, d.DB)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AuthMiddleware(d.Resolver, log), mw.AccessLogMiddleware(log))

	customer := apiV1.Group("/checkout")
	handlers.RegisterCheckoutRoutes(customer, d.Checkout, log)
	handlers.RegisterCustomerRoutes(customer, d.Reader, d.Subs, log)

	admin := apiV1.Group("/admin")
	admin.Use(mw.RequireAdmin())
	handlers.RegisterAdminPaymentRoutes(admin, handlers.AdminDeps{
		Reader: d.Reader, Manager: d.Checkout, Vouchers: d.Vouchers, Sweeper: d.Sweeper, Log: log,
	})

	// Gateway callbacks authenticate by provider signature, not bearer token.
	apiV2Payment := r.Group("/api/v2/payment")
	apiV2Payment.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterPaymentV2Routes(apiV2Payment, d.Checkout, log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// runMetricsServer ties the scrape listener to the app lifecycle. A failed
// listener is logged; the API keeps serving without metrics.
func runMetricsServer(lc fx.Lifecycle, log *zap.SugaredLogger, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting metrics listener", "addr", srv.Addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorw("metrics listener stopped", "addr", srv.Addr, "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping metrics listener")
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
