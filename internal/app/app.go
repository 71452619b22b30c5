package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/keydash/internal/domain/apikey"
	"github.com/xenking/keydash/internal/domain/keyset"
	"github.com/xenking/keydash/internal/handler"
	"github.com/xenking/keydash/internal/session"
	"github.com/xenking/keydash/pkg/health"
	"github.com/xenking/keydash/pkg/httpmiddleware"
)

// maxSessions bounds the in-memory session table before readiness fails.
const maxSessions = 100_000

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Store.Backend),
		zap.String("schema", cfg.Store.Schema),
	)

	store, closeStore, err := OpenStore(ctx, lg, cfg.Store, Telemetry{
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return err
	}
	defer closeStore()

	metrics, err := keyset.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}
	gen := apikey.NewGenerator(cfg.Keys.Prefix)

	sessions, err := session.NewRegistry(cfg.Session, func() *keyset.Controller {
		return keyset.New(store, keyset.Options{
			Generator:       gen,
			ValidationDelay: cfg.Validation.Delay,
			Metrics:         metrics,
			TracerProvider:  m.TracerProvider(),
		})
	})
	if err != nil {
		return errors.Wrap(err, "create session registry")
	}
	go sessions.Run(ctx)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("store", health.PingCheck(cfg.Store.Backend, store.Ping), health.CheckOptions{
		Timeout: cfg.Store.Timeout,
	})
	healthSvc.AddReadinessCheck("sessions", health.CountCheck("session", maxSessions, sessions.Len), health.CheckOptions{})
	healthSvc.AddLivenessCheck("goroutines", health.GoroutineCountCheck(10000), health.CheckOptions{Timeout: time.Second})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Validation holds the response for the configured delay.
		WriteTimeout:   cfg.Validation.Delay + cfg.Store.Timeout + 5*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: otelhttp.NewHandler(
			NewHandler(ctx, healthSvc, sessions, cfg.RateLimit),
			"keydash",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// NewHandler assembles the HTTP stack: health checks at the root and the
// session-scoped API behind request logging, rate limiting and session
// resolution.
func NewHandler(ctx context.Context, healthSvc *health.Health, sessions *session.Registry, rl RateLimitConfig) http.Handler {
	r := chi.NewRouter()
	healthSvc.Routes(r)
	r.Group(func(r chi.Router) {
		r.Use(
			httpmiddleware.LogRequests(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     rl.Max,
				Window:  rl.Window,
				Methods: httpmiddleware.MutatingMethods,
				KeyFunc: func(req *http.Request) string {
					if id, ok := sessions.SessionID(req); ok {
						return "session:" + id
					}
					return "ip:" + httpmiddleware.ClientIP(req)
				},
			}),
			sessions.Middleware(),
		)
		handler.New(sessions).Routes(r)
	})

	return httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
	)
}
