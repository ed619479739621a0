package provider

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	EnableCORS bool   `yaml:"enableCors"`
}

// DefaultServerConfig listens on the port the protocol client expects.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{ListenAddr: ":3100"}
}

// Server is the provider HTTP server.
type Server struct {
	httpServer *http.Server
	log        logrus.FieldLogger
	wg         sync.WaitGroup
}

// NewRouter returns the API routes wrapped in the recovery and, when
// enabled, the CORS middleware.
func NewRouter(cfg ServerConfig, h *Handler, log logrus.FieldLogger) http.Handler {
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	var httpHandler http.Handler = router
	if cfg.EnableCORS {
		httpHandler = handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", requestIDHeader}),
		)(httpHandler)
	}
	httpHandler = handlers.RecoveryHandler(handlers.RecoveryLogger(log), handlers.PrintRecoveryStack(true))(httpHandler)
	return httpHandler
}

// NewServer creates a server for the API handler h.
func NewServer(cfg ServerConfig, h *Handler, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("module", "http")
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      NewRouter(cfg, h, log),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// Start starts serving in the background.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.WithField("addr", s.httpServer.Addr).Info("Provider API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()
}

// Stop shuts the server down, waiting up to 10 seconds for open requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	s.log.Info("Provider API stopped")
	return err
}
