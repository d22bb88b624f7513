package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/automation/automation"
	"github.com/liamcoop/automation/internal/logger"
)

// Config is loaded from the environment.
type Config struct {
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	Port            string        `env:"PORT" envDefault:"8080"`
	ActionTimeout   time.Duration `env:"ACTION_TIMEOUT" envDefault:"30s"`
	StopGracePeriod time.Duration `env:"STOP_GRACE_PERIOD" envDefault:"5s"`
}

type Server struct {
	db     *sql.DB
	engine *automation.Engine
	router *chi.Mux
	log    *slog.Logger
}

func NewServer(cfg Config, log *slog.Logger) (*Server, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewServerWithDB(db, cfg, log)
}

// NewServerWithDB builds the server over an already-open database connection.
func NewServerWithDB(db *sql.DB, cfg Config, log *slog.Logger) (*Server, error) {
	metrics := automation.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	engine := automation.New(automation.NewPostgresRuleStore(db),
		automation.WithLogger(log),
		automation.WithMetrics(metrics),
		automation.WithActionTimeout(cfg.ActionTimeout),
		automation.WithStopGracePeriod(cfg.StopGracePeriod),
		automation.WithWebhookCaller(newHTTPWebhookCaller(cfg.ActionTimeout)),
		automation.WithAuditSink(&logAuditSink{log: log}),
	)

	s := &Server{
		db:     db,
		engine: engine,
		log:    log,
	}

	s.setupRoutes(registry)

	return s, nil
}

func (s *Server) setupRoutes(registry *prometheus.Registry) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/stats", s.handleStats)

	r.Post("/api/v1/events", s.handleProcessEvent)
	r.Post("/api/v1/events/enqueue", s.handleEnqueueEvent)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleRegisterRule)
		r.Get("/", s.handleListRules)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	stats := s.engine.Stats()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"isRunning":   stats.Running,
		"activeRules": stats.ActiveRules,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Stats())
}

type eventRequest struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	Context map[string]any `json:"context"`
}

func (s *Server) handleProcessEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required", nil)
		return
	}

	s.engine.ProcessEvent(r.Context(), req.Type, req.Data, req.Context)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEnqueueEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required", nil)
		return
	}

	s.engine.Enqueue(req.Type, req.Data, req.Context)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRegisterRule(w http.ResponseWriter, r *http.Request) {
	var def automation.Rule
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.engine.RegisterRule(r.Context(), def)
	if err != nil {
		var verr *automation.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, "invalid rule", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to register rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	scope := automation.Scope(r.URL.Query().Get("scope"))
	tenantID := r.URL.Query().Get("tenantId")

	rules := s.engine.Rules(scope, tenantID)
	if rules == nil {
		rules = []*automation.Rule{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.engine.Rule(r.Context(), ruleID)
	if err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var patch automation.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.engine.UpdateRule(r.Context(), ruleID, patch)
	if err != nil {
		if errors.Is(err, automation.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		var verr *automation.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, "invalid rule", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.engine.DeleteRule(r.Context(), ruleID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	log := logger.Setup("automation-engine")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	server, err := NewServer(cfg, log)
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	defer server.db.Close()

	server.engine.Start(context.Background())

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	server.engine.Stop(ctx)
	if err := logger.Shutdown(ctx); err != nil {
		log.Error("logger shutdown error", "error", err)
	}

	log.Info("server stopped")
}
