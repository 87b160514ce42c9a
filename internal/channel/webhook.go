package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clawgate/internal/metrics"
	"clawgate/internal/security"
)

const (
	webhookRequestTimeout  = 60 * time.Second
	webhookShutdownTimeout = 10 * time.Second
)

// WebhookConfig configures the HTTP surface of the gateway. A nil handler
// leaves its route unregistered.
type WebhookConfig struct {
	Addr               string
	BasePath           string // mounts every route under a prefix, e.g. "/bot"
	Telegram           http.Handler
	TelegramSecret     string
	Slack              http.Handler
	SlackSigningSecret string
	Metrics            *metrics.Collector
	MetricsPath        string
	// Health reports readiness for /healthz.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

// WebhookServer serves the Telegram and Slack webhooks, health and metrics.
type WebhookServer struct {
	cfg    WebhookConfig
	logger *slog.Logger
	server *http.Server
}

func NewWebhookServer(cfg WebhookConfig) *WebhookServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebhookServer{cfg: cfg, logger: cfg.Logger}
}

// Router builds the HTTP routes.
func (s *WebhookServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(webhookRequestTimeout))

	r.Get("/healthz", s.healthz)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.cfg.Metrics.Handler())
	}

	if s.cfg.Telegram != nil {
		r.With(security.TelegramSecret(s.cfg.TelegramSecret, s.logger)).
			Post("/telegram/webhook", s.cfg.Telegram.ServeHTTP)
	}
	if s.cfg.Slack != nil {
		r.With(security.SlackSignature(s.cfg.SlackSigningSecret, s.logger)).
			Post("/slack/webhook", s.cfg.Slack.ServeHTTP)
	}

	base := strings.TrimRight(s.cfg.BasePath, "/")
	if base == "" {
		return r
	}
	root := chi.NewRouter()
	root.Mount(base, r)
	return root
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *WebhookServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "addr", s.cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), webhookShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (s *WebhookServer) healthz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		if err := s.cfg.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *WebhookServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
