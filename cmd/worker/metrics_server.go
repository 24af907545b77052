package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calmfetch/internal/config"
	"calmfetch/internal/observability/tracing"
	"calmfetch/internal/usecase/ingest"
)

// HealthResponse represents a simple health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// SourceDiagnostics is the API shape of one source's gating state.
type SourceDiagnostics struct {
	SourceID        string     `json:"source_id"`
	SourceType      string     `json:"type,omitempty"`
	SchedulerReady  bool       `json:"scheduler_ready"`
	HealthScore     float64    `json:"health_score"`
	HealthStatus    string     `json:"health_status"`
	CircuitPhase    string     `json:"circuit_phase"`
	FailureCount    int        `json:"failure_count"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"`
}

// startMetricsServer starts the operational HTTP server: Prometheus metrics,
// a liveness probe and the read-only per-source diagnostics view. All
// handlers are wrapped in the tracing middleware. The server shuts down
// gracefully when ctx is cancelled.
//
// Endpoints:
//   - GET /metrics            Prometheus metrics
//   - GET /health             liveness probe, always 200
//   - GET /diagnostics/sources gating state for every registered source
//
// Environment variables:
//   - METRICS_PORT: port to listen on (default: 9090)
func startMetricsServer(ctx context.Context, logger *slog.Logger, controller *ingest.Controller, registry *config.Registry) *http.Server {
	port := getMetricsPort()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/diagnostics/sources", sourceDiagnosticsHandler(logger, controller, registry))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      tracing.Middleware(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("metrics server shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", slog.Any("error", err))
		} else {
			logger.Info("metrics server stopped")
		}
	}()

	return server
}

// getMetricsPort retrieves the metrics server port from METRICS_PORT.
// Defaults to 9090 if not set or invalid.
func getMetricsPort() int {
	portStr := os.Getenv("METRICS_PORT")
	if portStr == "" {
		return 9090
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 9090
	}

	return port
}

// healthHandler handles GET /health requests (liveness probe).
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

// sourceDiagnosticsHandler creates the GET /diagnostics/sources handler. It
// reads the gating state of every registered source without mutating
// anything; sources that have never been fetched are reported as pristine.
func sourceDiagnosticsHandler(logger *slog.Logger, controller *ingest.Controller, registry *config.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]SourceDiagnostics, 0, len(registry.Sources))

		for _, src := range registry.Sources {
			snap, err := controller.Diagnostics(r.Context(), src.Key)
			if err != nil {
				// Not fetched yet; report a pristine entry.
				out = append(out, SourceDiagnostics{
					SourceID:       src.Key,
					SourceType:     src.Type,
					SchedulerReady: src.IsEnabled(),
					HealthScore:    1.0,
					HealthStatus:   "healthy",
					CircuitPhase:   "closed",
				})
				continue
			}

			entry := SourceDiagnostics{
				SourceID:       snap.SourceID,
				SourceType:     src.Type,
				SchedulerReady: snap.SchedulerReady,
				HealthScore:    snap.HealthScore,
				HealthStatus:   string(snap.HealthStatus),
				CircuitPhase:   snap.CircuitPhase,
				FailureCount:   snap.FailureCount,
			}
			if !snap.NextScheduledAt.IsZero() {
				at := snap.NextScheduledAt
				entry.NextScheduledAt = &at
			}
			out = append(out, entry)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(out); err != nil {
			logger.Error("failed to encode diagnostics response", slog.Any("error", err))
		}
	}
}
