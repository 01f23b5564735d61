package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	c "connectrpc.com/cors"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	importhandler "github.com/HenriqueDutra22/Mycash/internal/domain/import/handler"
	"github.com/HenriqueDutra22/Mycash/pkg/interceptors"
	"github.com/HenriqueDutra22/Mycash/pkg/observability"
)

// SetupRouter configures all routes and returns the HTTP service
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	jwtSecret := []byte(deps.Config.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		deps.Logger.Warn("JWT secret is empty; authentication interceptor will reject requests")
	}

	tracer := otel.GetTracerProvider().Tracer("mycash/api")

	requestIDInterceptor := interceptors.NewRequestIDInterceptor("X-Request-ID")
	tracingInterceptor := interceptors.NewTracingInterceptor(tracer)

	// Setup interceptor chain
	chain := []connect.Interceptor{requestIDInterceptor, tracingInterceptor}
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter := rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
		chain = append(chain, interceptors.NewRateLimitInterceptor(limiter))
	}
	chain = append(chain,
		interceptors.NewRecoveryInterceptor(deps.Logger),
		interceptors.NewLoggingInterceptor(deps.Logger),
		interceptors.NewAuthInterceptor(jwtSecret),
		observability.NewMetricsInterceptor(),
	)

	// Register Connect RPC routes
	registerConnectRoutes(mux, deps, connect.WithInterceptors(chain...))

	// Register health and metrics routes
	registerUtilityRoutes(mux, deps)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods(),
		AllowedHeaders:   append(c.AllowedHeaders(), "Authorization", "X-Request-ID"),
		ExposedHeaders:   append(c.ExposedHeaders(), "X-Request-ID", "X-Suggest-AI"),
		AllowCredentials: true,
		MaxAge:           7200, // Cache preflights for 2 hours
	})

	return corsHandler.Handler(mux)
}

// registerConnectRoutes registers all Connect RPC services
func registerConnectRoutes(mux *http.ServeMux, deps *Dependencies, opts connect.HandlerOption) {
	importPath, importHandler := importhandler.NewImportServiceHandler(
		deps.ImportHandler,
		opts,
		connect.WithReadMaxBytes(int(requestBodyLimit(deps.Config.Import.MaxUploadBytes))),
	)
	mux.Handle(importPath, wrapUploadRoute(importHandler, requestBodyLimit(deps.Config.Import.MaxUploadBytes)))
	deps.Logger.Info("registered Connect RPC service", "path", importPath)

	deps.Logger.Info("Connect RPC routes configured")
}

// requestBodyLimit allows for base64 and the JSON envelope around an upload.
func requestBodyLimit(maxUploadBytes int64) int64 {
	const envelope = 64 << 10
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return maxUploadBytes/3*4 + envelope
}

func wrapUploadRoute(next http.Handler, maxBodyBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		next.ServeHTTP(w, r)
	})
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if err := deps.databaseHealth(); err != nil {
			writeText(w, deps.Logger, http.StatusServiceUnavailable, "database unhealthy")
			return
		}
		writeText(w, deps.Logger, http.StatusOK, "ok")
	})
	deps.Logger.Info("registered health check", "path", "/health")

	mux.HandleFunc("/health/details", func(w http.ResponseWriter, _ *http.Request) {
		report := deps.healthDetails()
		code := http.StatusOK
		if report["db"].Status == statusFail {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			deps.Logger.Error("failed to encode health details", slog.Any("error", err))
		}
	})
	deps.Logger.Info("registered health details", "path", "/health/details")

	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, deps.Logger, http.StatusOK, "ready")
	})
	deps.Logger.Info("registered readiness check", "path", "/ready")

	if deps.Config.Observability.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		deps.Logger.Info("registered metrics endpoint", "path", "/metrics")
	}
}

const (
	statusOK   = "ok"
	statusWarn = "warn"
	statusFail = "fail"
)

type componentStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (d *Dependencies) databaseHealth() error {
	if d.DB == nil {
		return errors.New("database not initialized")
	}
	return d.DB.Health()
}

func (d *Dependencies) healthDetails() map[string]componentStatus {
	report := map[string]componentStatus{
		"db": {Status: statusOK},
		"ai": {Status: statusOK},
	}
	if err := d.databaseHealth(); err != nil {
		report["db"] = componentStatus{Status: statusFail, Detail: err.Error()}
	}
	if d.AIExtractor == nil {
		report["ai"] = componentStatus{Status: statusWarn, Detail: "GEMINI_API_KEY missing; AI extraction disabled"}
	}
	return report
}

func writeText(w http.ResponseWriter, logger *slog.Logger, code int, body string) {
	w.WriteHeader(code)
	if _, err := w.Write([]byte(body)); err != nil {
		logger.Error("failed to write response", slog.Any("error", err))
	}
}
