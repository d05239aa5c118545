package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatflow/internal/constants"
	"chatflow/internal/database"
	"chatflow/internal/middleware"
	"chatflow/internal/models"
	"chatflow/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxWebhookBodyBytes = 1 << 20

type Server struct {
	router      *mux.Router
	cfg         *models.Config
	gate        *service.Gate
	scheduler   *service.Scheduler
	sequences   *service.SequenceProcessor
	broadcaster *service.BroadcastService
	db          *database.Database
	logger      *logrus.Logger
	server      *http.Server
}

func NewServer(cfg *models.Config, gate *service.Gate, scheduler *service.Scheduler, sequences *service.SequenceProcessor, broadcaster *service.BroadcastService, db *database.Database, logger *logrus.Logger) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		cfg:         cfg,
		gate:        gate,
		scheduler:   scheduler,
		sequences:   sequences,
		broadcaster: broadcaster,
		db:          db,
		logger:      logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RecoveryMiddleware(s.logger))
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	// Health check
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	// Provider webhook
	s.router.HandleFunc("/webhook/inbound", s.handleInboundWebhook()).Methods(http.MethodPost)

	// Tick endpoints, protected by the cron secret
	cron := s.router.PathPrefix("/cron").Subrouter()
	cron.Use(s.cronAuth)
	cron.HandleFunc("/tick", s.handleSchedulerTick()).Methods(http.MethodGet, http.MethodPost)
	cron.HandleFunc("/sequences", s.handleSequencesTick()).Methods(http.MethodGet, http.MethodPost)
	cron.HandleFunc("/broadcasts", s.handleBroadcastsTick()).Methods(http.MethodGet, http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// cronAuth guards the tick endpoints with a shared secret, accepted either
// as a bearer token or a query parameter for cron providers that cannot set
// headers.
func (s *Server) cronAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Cron.Secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == r.Header.Get("Authorization") {
			presented = r.URL.Query().Get("secret")
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Cron.Secret)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.db.CountMessages(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	}
}

func (s *Server) handleInboundWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
		if err != nil {
			s.writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}

		signature := r.Header.Get(constants.WebhookSignatureHeader)
		result, err := s.gate.Ingest(r.Context(), body, signature)
		if err != nil {
			s.logger.WithError(err).Error("Webhook ingestion failed")
			s.writeError(w, http.StatusInternalServerError, "ingestion failed")
			return
		}

		status := http.StatusOK
		if result.Outcome == service.IngestRejected {
			status = http.StatusBadRequest
			if result.Reason == "invalid signature" {
				status = http.StatusUnauthorized
			}
		}
		s.writeJSON(w, status, result)
	}
}

func (s *Server) handleSchedulerTick() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.scheduler.Tick(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Scheduler tick failed")
			s.writeError(w, http.StatusInternalServerError, "tick failed")
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleSequencesTick() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.sequences.Tick(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Sequence tick failed")
			s.writeError(w, http.StatusInternalServerError, "tick failed")
			return
		}
		s.writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleBroadcastsTick() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		promoted, err := s.broadcaster.PromoteDue(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Broadcast promotion failed")
			s.writeError(w, http.StatusInternalServerError, "tick failed")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int{"promoted": promoted})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
