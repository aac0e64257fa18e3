package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"git2.jad.ru/MeterRS485/sercd/internal/config"
)

// Server is the HTTP API server
type Server struct {
	cfg      *config.Config
	handlers *Handlers
	server   *http.Server
	log      *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	handlers := NewHandlers(cfg, deps)

	server := &http.Server{
		Addr:         net.JoinHostPort("", cfg.APIPort),
		Handler:      logMiddleware(handlers.Routes(), cfg.DebugHTTP, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		log:      log,
	}
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrap(err, "api listen")
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("api server listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("api shutdown", "err", err)
		}
	})
	defer stop()

	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// logMiddleware logs HTTP requests when debug is enabled
func logMiddleware(next http.Handler, debug bool, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if debug {
			log.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
		}
	})
}

// checkAuth checks if request has valid basic auth credentials
func checkAuth(r *http.Request, username, password string) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
}
