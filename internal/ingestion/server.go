package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
)

// Server hosts the intake API.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the chi router and the HTTP server around it.
func NewServer(port int, handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestIDContext)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Provider-facing webhook. The secret lives in the path; the gate decides.
	r.Post("/webhooks/{provider}/{secret}", handler.HandleWebhook)
	r.Get("/webhooks/{provider}/{secret}", handler.HandleWebhookProbe)

	// Operational endpoints.
	r.Post("/publishers/{id}/migrate", handler.HandleMigrate)
	r.Post("/publishers/{id}/migrate/retry", handler.HandleMigrateRetry)
	r.Post("/poller/run", handler.HandlePollerRun)
	r.Get("/intake/review-queue", handler.HandleReviewQueue)
	r.Get("/security/audits", handler.HandleSecurityAudits)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 75 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// requestIDContext bridges chi's request id into the logging context, so
// logger.FromContext stamps request_id on every log line of the request.
func requestIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			r = r.WithContext(logger.WithRequestID(r.Context(), reqID))
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	logger.Log.Info("Starting intake API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	logger.Log.Info("Stopping intake API server")
	return s.httpServer.Shutdown(ctx)
}
