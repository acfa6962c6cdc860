// Package api exposes the finance pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"finance-orchestrator/internal/common/config"
	"finance-orchestrator/internal/common/database"
	"finance-orchestrator/internal/common/logger"
	"finance-orchestrator/internal/gateway"
	"finance-orchestrator/internal/models"
	"finance-orchestrator/internal/ratelimit"
	"finance-orchestrator/internal/security/pii"
)

// Processor runs queries through screening, classification and the agents.
type Processor interface {
	Process(ctx context.Context, q models.Query) (*models.AgentResponse, error)
	ProcessDirect(ctx context.Context, intent models.Intent, q models.Query, entities map[string]interface{}) (*models.AgentResponse, error)
}

// Deps are the collaborators the server needs. Limiter, Gateway and Stores
// are optional.
type Deps struct {
	Processor Processor
	Limiter   ratelimit.Limiter
	Rules     ratelimit.Rules
	Gateway   gateway.Gateway
	LLM       config.LLMConfig
	Security  config.SecurityConfig
	Stores    []database.Pinger
	Version   string
	Logger    logger.Logger
}

type Server struct {
	cfg        config.ServerConfig
	deps       Deps
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	logger     logger.Logger
	now        func() time.Time
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if deps.Rules == nil {
		deps.Rules = ratelimit.DefaultRules()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: pii.NewMaskingLogger(log.With(map[string]interface{}{"component": "api"}), pii.NewMasker()),
		now:    time.Now,
	}
	s.setupRoutes()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", headerCorrelationID, headerUserID},
		ExposedHeaders:   []string{headerCorrelationID, headerProcessingTime, "Retry-After"},
		AllowCredentials: true,
	}).Handler(s.router)

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestContext)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authenticate)
	v1.Handle("/query", s.limit(ratelimit.RuleQuery, s.handleQuery)).Methods(http.MethodPost)
	v1.Handle("/invoices/process", s.limit(ratelimit.RuleFinancialOp, s.handleInvoice)).Methods(http.MethodPost)
	v1.Handle("/payments/query", s.limit(ratelimit.RuleFinancialOp, s.handlePayment)).Methods(http.MethodPost)
	v1.Handle("/commissions/calculate", s.limit(ratelimit.RuleFinancialOp, s.handleCommission)).Methods(http.MethodPost)
	v1.HandleFunc("/health/llm", s.handleLLMHealth).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  timeoutOr(s.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: timeoutOr(s.cfg.WriteTimeout, 120*time.Second),
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("API server listening", map[string]interface{}{"addr": s.cfg.Addr()})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func timeoutOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return config.GetDuration(ms)
}
