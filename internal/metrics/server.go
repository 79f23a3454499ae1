package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dray-io/housekeeper/internal/logging"
)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server exposes a gatherer on /metrics for Prometheus scraping.
type Server struct {
	addr    string
	handler http.Handler
	logger  *logging.Logger

	mu    sync.Mutex
	bound string
	srv   *http.Server
}

// NewServer serves the default registry, including the scrape counters
// promhttp adds to it.
func NewServer(addr string) *Server {
	return &Server{addr: addr, handler: promhttp.Handler(), logger: logging.Global()}
}

// NewServerWithRegistry serves only the collectors of gatherer.
func NewServerWithRegistry(addr string, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr:    addr,
		handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		logger:  logging.Global(),
	}
}

// Start binds the listener and serves in the background. A bind failure
// is returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.handler)
	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("metrics server stopped", map[string]any{
				"addr":  ln.Addr().String(),
				"error": err.Error(),
			})
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != "" {
		return s.bound
	}
	return s.addr
}

// Close stops the server. Closing a server that never started is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
