package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/warden/pkg/approval/archive"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/engine"
	"mercator-hq/warden/pkg/security/auth"
	sectls "mercator-hq/warden/pkg/security/tls"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/telemetry/tracing"
	"mercator-hq/warden/pkg/templates"
)

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("server is already running")

// Deps are the components the server exposes. Policies and Templates are
// required; the rest are optional.
type Deps struct {
	Policies  *engine.Set
	Templates *templates.Registry
	Archive   archive.Store
	Metrics   *metrics.Collector
	Tracer    *tracing.Tracer
	Health    *health.Checker
	Version   health.VersionInfo
	Logger    *slog.Logger

	// Keys authenticates mutating routes. When nil, a validator is built
	// from the configured API keys and auth token.
	Keys *auth.Validator

	// Certificates serves the TLS certificate. When nil and TLS is
	// enabled, Serve creates and starts one.
	Certificates *sectls.CertificateReloader
}

// Server serves the evaluation and approval API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	keys       *auth.Validator
	handler    http.Handler
	httpServer *http.Server

	mu        sync.Mutex
	running   bool
	listening chan struct{}
	addr      net.Addr
}

// New creates a server. cfg must have defaults applied.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.New(cfg.Telemetry.Health.CheckTimeout)
	}
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger.With("component", "server"),
		listening: make(chan struct{}),
		keys:      deps.Keys,
	}
	if s.keys == nil {
		s.keys = auth.NewValidator(auth.KeysFromConfig(cfg.Server.APIKeys, cfg.Server.AuthToken))
	}
	s.handler = s.routes()
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. With TLS enabled, ln is wrapped
// in a TLS listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.Server.TLS.Enabled {
		tlsLn, err := s.tlsListener(ctx, ln)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tlsLn
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		ln.Close()
		return ErrAlreadyRunning
	}
	s.running = true
	s.addr = ln.Addr()
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.cfg.Server.ReadTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		MaxHeaderBytes: s.cfg.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	close(s.listening)
	s.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"address", ln.Addr().String(),
			"policies", s.deps.Policies.Len(),
			"tls", s.cfg.Server.TLS.Enabled,
			"api_keys", s.keys.Len(),
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("server error: %w", err)
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	}
}

func (s *Server) tlsListener(ctx context.Context, ln net.Listener) (net.Listener, error) {
	tc := s.cfg.Server.TLS
	certs := s.deps.Certificates
	if certs == nil {
		certs = sectls.NewCertificateReloader(tc.CertFile, tc.KeyFile, tc.ReloadInterval, s.logger)
		if err := certs.Start(ctx); err != nil {
			return nil, fmt.Errorf("load tls certificate: %w", err)
		}
	}
	tlsCfg, err := sectls.ServerConfig(tc, certs)
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	return tls.NewListener(ln, tlsCfg), nil
}

// Keys returns the validator guarding mutating routes.
func (s *Server) Keys() *auth.Validator { return s.keys }

// Addr returns the listening address once the server has started.
func (s *Server) Addr() net.Addr {
	<-s.listening
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops accepting connections and waits up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("initiating graceful shutdown", "timeout", s.cfg.Server.ShutdownTimeout.String())
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
