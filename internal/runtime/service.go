package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
)

const (
	defaultHTTPShutdownTimeout = 10 * time.Second
	readHeaderTimeout          = 5 * time.Second
)

// Service hosts the HTTP endpoints of a process, one server per listen
// address. Register handlers before calling Start.
type Service struct {
	Logger loggingpkg.ServiceLogger
	// ShutdownTimeout bounds the graceful shutdown of every server.
	ShutdownTimeout time.Duration

	mu        sync.Mutex
	routers   map[string]chi.Router
	listeners map[string]net.Listener
}

// NewService returns an empty Service.
func NewService(logger loggingpkg.ServiceLogger) *Service {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &Service{
		Logger:          logger,
		ShutdownTimeout: defaultHTTPShutdownTimeout,
		routers:         make(map[string]chi.Router),
		listeners:       make(map[string]net.Listener),
	}
}

// Router returns the router serving addr, creating it on first use.
func (s *Service) Router(addr string) chi.Router {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routers[addr]
	if !ok {
		mux := chi.NewRouter()
		mux.Use(middleware.Recoverer)
		r = mux
		s.routers[addr] = r
	}
	return r
}

// RegisterHTTPHandler serves handler for every method on pattern at addr.
func (s *Service) RegisterHTTPHandler(addr, pattern string, handler http.Handler) {
	s.Router(addr).Handle(pattern, handler)
}

// Addr returns the bound address of the server registered as addr once
// Start is listening, which resolves ":0" to the chosen port.
func (s *Service) Addr(addr string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.listeners[addr]; ok {
		return l.Addr().String()
	}
	return ""
}

// Start listens on every registered address and serves until ctx is
// cancelled, then shuts the servers down gracefully. It returns the first
// serve error, or nil after a clean shutdown.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	addrs := make([]string, 0, len(s.routers))
	for addr := range s.routers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	servers := make([]*http.Server, 0, len(addrs))
	bound := make([]net.Listener, 0, len(addrs))
	errCh := make(chan error, len(addrs))
	for _, addr := range addrs {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			s.mu.Unlock()
			for _, srv := range servers {
				_ = srv.Close()
			}
			for _, l := range bound {
				_ = l.Close()
			}
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		s.listeners[addr] = l
		bound = append(bound, l)
		srv := &http.Server{
			Addr:              l.Addr().String(),
			Handler:           s.routers[addr],
			ReadHeaderTimeout: readHeaderTimeout,
		}
		servers = append(servers, srv)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server, l net.Listener) {
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv, l)
	}
	s.mu.Unlock()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		s.Logger.Error("HTTP server failed", serveErr, nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ShutdownTimeout)
	defer cancel()
	errs := []error{serveErr}
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
