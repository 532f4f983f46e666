package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jiglab/jigbridge/internal/api"
	"github.com/jiglab/jigbridge/internal/config"
	"github.com/jiglab/jigbridge/internal/model"
	"github.com/jiglab/jigbridge/internal/protocol"
	"github.com/jiglab/jigbridge/internal/state"
)

// Server exposes the bridge state over HTTP and forwards command
// requests to the controller through the outbound encoder. It never
// mutates the store itself; state changes only arrive via the inbound
// line interpreter.
type Server struct {
	cfg    config.Config
	store  *state.Store
	enc    *protocol.Encoder
	Logger *slog.Logger

	httpSrv  *http.Server
	listener net.Listener
	mu       sync.Mutex

	exitOnce sync.Once
	exitCh   chan struct{}

	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, store *state.Store, enc *protocol.Encoder) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		enc:    enc,
		exitCh: make(chan struct{}),
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})

	r := chi.NewRouter()
	r.Use(corsMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, model.ErrCodeMethodNotAllowed, "method not allowed")
	})

	if cfg.DashboardEnabled {
		r.Get("/", s.dashboardHandler)
	}
	r.Get("/current.json", s.legacyStateHandler)
	r.Get("/hello", s.legacyHelloHandler)
	r.Get("/scenarios", s.legacyScenariosHandler)
	r.Get("/exit", s.legacyExitHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.healthHandler)
		r.Get("/snapshot", s.snapshotHandler)
		r.Route("/logs", func(r chi.Router) {
			r.Get("/{sequence}", s.logWindowHandler)
			r.Post("/global/truncate", s.truncateGlobalHandler)
		})
		r.Route("/commands", func(r chi.Router) {
			r.Post("/hello", s.commandHello)
			r.Post("/jig", s.commandJig)
			r.Post("/scenarios", s.commandScenarios)
			r.Post("/tests", s.commandTests)
			r.Post("/select", s.commandSelect)
			r.Post("/start", s.commandStart)
			r.Post("/abort", s.commandAbort)
			r.Post("/log", s.commandLog)
			r.Post("/shutdown", s.commandShutdown)
		})
	})

	s.httpSrv = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start listens on the configured TCP address and serves until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger().Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace())
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			// httpSrv.Shutdown already closed it; only a genuine
			// failure matters here.
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

// Addr reports the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ExitRequested is closed once a shutdown command or /exit request has
// been served. The daemon main treats it like a termination signal.
func (s *Server) ExitRequested() <-chan struct{} {
	return s.exitCh
}

func (s *Server) requestExit() {
	s.exitOnce.Do(func() { close(s.exitCh) })
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	resp := api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
		},
	}
	s.writeJSON(w, status, resp)
}
