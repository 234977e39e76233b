package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ej0e1/tbot/internal/service"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the API server
type Server struct {
	cfg  ServerCfg
	svc  service.Delivery
	log  *zap.Logger
	http *http.Server
}

// ServerCfg is the configuration for the API server
type ServerCfg struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new API server
// and registers the routes. metrics may be nil.
func NewServer(cfg ServerCfg, svc service.Delivery, metrics http.Handler, log *zap.Logger) *Server {
	r := mux.NewRouter()
	s := &Server{
		cfg: cfg,
		svc: svc,
		log: log,
	}

	// health check
	r.HandleFunc("/healthz", s.healthz).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/deliveries", s.createDelivery).Methods("POST")
	api.HandleFunc("/retrievals", s.retrieve).Methods("POST")

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start starts the API server and blocks until it stops
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
