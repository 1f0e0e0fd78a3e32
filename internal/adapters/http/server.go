// Package httpserver exposes the control plane over HTTP: JSON APIs, Prometheus metrics
// and a websocket health stream.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TenantHeader carries the tenant a request acts for.
const TenantHeader = "X-Tenant-ID"

// Services are the application services served over HTTP. Publisher redelivers
// dead-letter entries on retry; Publisher and Lag are nil without a broker.
type Services struct {
	Partitions *application.PartitionManager
	Load       *application.LoadBalancer
	Scaler     *application.AutoScaler
	Health     *application.HealthCheck
	DLQ        *application.DeadLetterQueue
	Tenants    *application.TenantManager
	Metrics    *application.MetricsCollector
	Publisher  domain.Publisher
	Lag        domain.LagReader
}

// Server provides the HTTP API of the control plane.
type Server struct {
	svc Services

	// wsInterval is the push period of the health stream.
	wsInterval time.Duration
}

// New creates a new HTTP server instance.
func New(svc Services) *Server {
	return &Server{svc: svc, wsInterval: 5 * time.Second}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(s.tenantContext)

	r.Get("/metrics", s.metrics)
	r.Get("/healthz", s.healthz)
	r.Get("/api/health/ws", s.wsHealth)

	r.Route("/api/consumers/{consumerID}", func(r chi.Router) {
		r.Post("/heartbeat", s.apiHeartbeat)
		r.Put("/status", s.apiConsumerStatus)
		r.Delete("/", s.apiClearConsumer)
	})

	r.Route("/api/topics/{topic}", func(r chi.Router) {
		r.Get("/assignment", s.apiAssignment)
		r.Get("/consumers/{consumerID}/partitions", s.apiConsumerPartitions)
		r.Post("/consumers/{consumerID}", s.apiRegisterConsumer)
		r.Delete("/consumers/{consumerID}", s.apiUnregisterConsumer)
		r.Get("/partitions", s.apiGetPartitions)
		r.Put("/partitions", s.apiSetPartitions)
		r.Get("/load", s.apiGetLoad)
		r.Post("/load", s.apiReportLoad)
		r.Get("/scale", s.apiDesiredConsumers)
		r.Post("/scale", s.apiScale)
		r.Get("/scale/history", s.apiScaleHistory)
		r.Get("/lag", s.apiTopicLag)
	})

	r.Route("/api/dlq/{queue}", func(r chi.Router) {
		r.Get("/", s.apiDLQMessages)
		r.Delete("/", s.apiDLQClear)
		r.Get("/analysis", s.apiDLQAnalysis)
		r.Post("/{index}/retry", s.apiDLQRetry)
	})

	r.Route("/api/tenants", func(r chi.Router) {
		r.Get("/", s.apiListTenants)
		r.Post("/", s.apiCreateTenant)
		r.Delete("/{tenantID}", s.apiDeleteTenant)
		r.Get("/{tenantID}/config", s.apiTenantConfig)
		r.Put("/{tenantID}/config", s.apiSetTenantConfig)
	})
	return r
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		utils.Logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	utils.Logger.Info("HTTP server stopped")
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		dur := time.Since(start)
		utils.Logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", dur.String(),
		)
	})
}

// tenantContext stores the tenant named by TenantHeader in the request context. Unknown
// or malformed tenants are rejected before any handler runs.
func (s *Server) tenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TenantHeader)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		if s.svc.Tenants != nil {
			if _, err := s.svc.Tenants.Tenant(r.Context(), id); err != nil {
				fail(w, r, "tenant", err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(application.WithTenant(r.Context(), id)))
	})
}

// scoped maps a topic or queue name into the namespace of the request tenant.
func (s *Server) scoped(r *http.Request, name string) string {
	if id, ok := application.TenantFromContext(r.Context()); ok && s.svc.Tenants != nil {
		return s.svc.Tenants.TenantSpecificTopic(id, name)
	}
	return name
}
