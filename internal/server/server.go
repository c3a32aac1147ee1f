package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"notitap/internal/config"
	"notitap/internal/configflow"
	"notitap/internal/entry"
	"notitap/internal/host"
	"notitap/internal/util"
)

// HomeAssistant is the connection state shown on the health endpoint.
type HomeAssistant interface {
	IsConnected() bool
	HAVersion() string
}

type Deps struct {
	Services      *host.Services
	Commands      *host.Commands
	Flows         *configflow.Manager
	Entries       entry.Store
	HomeAssistant HomeAssistant
	// Domain is the integration whose entry decides the configured flag.
	Domain string
}

type Server struct {
	cfg        *config.Config
	deps       Deps
	version    string
	logger     *slog.Logger
	router     *chi.Mux
	upgrader   websocket.Upgrader
	httpServer *http.Server
	startTime  time.Time
}

func New(cfg *config.Config, deps Deps, version string, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		version:   version,
		logger:    logger,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeadersMiddleware())
	r.Use(loggingMiddleware(s.logger))
	r.Use(middleware.StripSlashes)
	r.Use(rateLimitMiddleware(s.cfg.RateLimit))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.cfg.APIKey, s.cfg.AllowInsecureHTTP))

		r.Get("/api/websocket", s.handleWebsocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(15 * time.Second))
			r.Use(middleware.AllowContentType("application/json"))

			r.Post("/api/services/{domain}/{service}", s.handleServiceCall)

			r.Route("/api/config/config_entries", func(r chi.Router) {
				r.Get("/flow", s.handleListFlows)
				r.Post("/flow", s.handleStartFlow)
				r.Post("/flow/{flowID}", s.handleConfigureFlow)
				r.Delete("/flow/{flowID}", s.handleAbortFlow)
				r.Get("/entry", s.handleListEntries)
				r.Delete("/entry/{entryID}", s.handleDeleteEntry)
			})
		})
	})

	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	msg := fmt.Sprintf("notitap running on:\n  Local: http://localhost:%d", s.cfg.Port)
	if lanIP := util.GetLANIP(); lanIP != "" {
		msg += fmt.Sprintf("\n  Network: http://%s:%d", lanIP, s.cfg.Port)
	}
	s.logger.Info(msg)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}
