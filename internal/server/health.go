// Package server serves the liveness and readiness endpoints of the
// housekeeping daemons.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dray-io/housekeeper/internal/logging"
)

// Overall statuses reported by /healthz and /readyz.
const (
	StatusOK           = "ok"
	StatusDegraded     = "degraded"
	StatusNotReady     = "not_ready"
	StatusShuttingDown = "shutting_down"
)

// DefaultReadinessTimeout bounds each readiness check.
const DefaultReadinessTimeout = 5 * time.Second

// ReadinessChecker is a dependency probed by /readyz.
type ReadinessChecker interface {
	Name() string

	// CheckReady returns nil when the dependency is usable.
	CheckReady(ctx context.Context) error
}

// HealthStatus is the JSON body of both endpoints.
type HealthStatus struct {
	Status  string                 `json:"status"`
	Workers map[string]bool        `json:"workers,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

type workerState struct {
	running  bool
	lastBeat time.Time
}

// HealthServer tracks worker liveness and dependency readiness.
//
//	/healthz  503 once shutting down or when a worker stopped or went stale
//	/readyz   503 once shutting down or when any readiness check fails
//
// pprof handlers are mounted under /debug/pprof/.
type HealthServer struct {
	addr   string
	logger *logging.Logger

	shuttingDown atomic.Bool

	mu         sync.RWMutex
	workers    map[string]*workerState
	staleAfter time.Duration
	checks     []ReadinessChecker
	timeout    time.Duration
	handlers   map[string]http.Handler
	bound      string
	srv        *http.Server
}

// NewHealthServer creates a HealthServer for addr. Nothing listens until
// Start.
func NewHealthServer(addr string, logger *logging.Logger) *HealthServer {
	if logger == nil {
		logger = logging.Global()
	}
	return &HealthServer{
		addr:     addr,
		logger:   logger,
		workers:  make(map[string]*workerState),
		timeout:  DefaultReadinessTimeout,
		handlers: make(map[string]http.Handler),
	}
}

// RegisterHandler mounts an extra handler. It must be called before Start.
func (h *HealthServer) RegisterHandler(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	h.handlers[pattern] = handler
	h.mu.Unlock()
}

func (h *HealthServer) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	h.checks = append(h.checks, checker)
	h.mu.Unlock()
}

func (h *HealthServer) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

// SetStaleAfter marks a running worker unhealthy when it has not sent a
// heartbeat for d. Zero disables the check.
func (h *HealthServer) SetStaleAfter(d time.Duration) {
	h.mu.Lock()
	h.staleAfter = d
	h.mu.Unlock()
}

// RegisterWorker records a long-running worker as started.
func (h *HealthServer) RegisterWorker(name string) {
	h.mu.Lock()
	h.workers[name] = &workerState{running: true, lastBeat: time.Now()}
	h.mu.Unlock()
}

// Heartbeat refreshes a worker's last activity time. Unknown names are
// ignored.
func (h *HealthServer) Heartbeat(name string) {
	h.mu.Lock()
	if w, ok := h.workers[name]; ok {
		w.lastBeat = time.Now()
	}
	h.mu.Unlock()
}

// WorkerStopped marks a worker as no longer running.
func (h *HealthServer) WorkerStopped(name string) {
	h.mu.Lock()
	if w, ok := h.workers[name]; ok {
		w.running = false
	}
	h.mu.Unlock()
}

// SetShuttingDown makes both endpoints report 503 from now on.
func (h *HealthServer) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

func (h *HealthServer) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

func (h *HealthServer) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", probe(func(*http.Request) HealthStatus { return h.CheckHealth() }))
	mux.HandleFunc("/readyz", probe(func(r *http.Request) HealthStatus { return h.CheckReadiness(r.Context()) }))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for pattern, handler := range h.handlers {
		mux.Handle(pattern, handler)
	}
	return mux
}

// Start binds the listener and serves in the background.
func (h *HealthServer) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      h.mux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	h.mu.Lock()
	h.bound = ln.Addr().String()
	h.srv = srv
	h.mu.Unlock()

	h.logger.Infof("health server listening", map[string]any{"addr": ln.Addr().String()})
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf("health server error", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (h *HealthServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.bound != "" {
		return h.bound
	}
	return h.addr
}

// Close stops the server. Closing a server that never started is a no-op.
func (h *HealthServer) Close() error {
	h.mu.Lock()
	srv := h.srv
	h.srv = nil
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// probe adapts a status function to an HTTP handler answering GET and
// HEAD.
func probe(check func(*http.Request) HealthStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		status := check(r)
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if status.Status != StatusOK {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		if r.Method != http.MethodHead {
			_ = json.NewEncoder(w).Encode(status)
		}
	}
}

func (h *HealthServer) shutdownStatus() (HealthStatus, bool) {
	if h.shuttingDown.Load() {
		return HealthStatus{
			Status: StatusShuttingDown,
			Checks: map[string]CheckResult{"shutdown": {Message: "housekeeper is shutting down"}},
		}, true
	}
	return HealthStatus{
		Status: StatusOK,
		Checks: map[string]CheckResult{"shutdown": {Healthy: true, Message: "housekeeper is running"}},
	}, false
}

// CheckHealth returns the liveness status.
func (h *HealthServer) CheckHealth() HealthStatus {
	status, down := h.shutdownStatus()
	if down {
		return status
	}
	status.Workers = make(map[string]bool)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.workers) == 0 {
		return status
	}

	now := time.Now()
	healthy := true
	for name, w := range h.workers {
		ok := w.running && (h.staleAfter <= 0 || now.Sub(w.lastBeat) < h.staleAfter)
		status.Workers[name] = ok
		healthy = healthy && ok
	}
	if healthy {
		status.Checks["workers"] = CheckResult{Healthy: true, Message: "all workers are running"}
	} else {
		status.Status = StatusDegraded
		status.Checks["workers"] = CheckResult{Message: "one or more workers are not running"}
	}
	return status
}

// CheckReadiness runs every readiness check concurrently, each bounded by
// the readiness timeout.
func (h *HealthServer) CheckReadiness(ctx context.Context) HealthStatus {
	status, down := h.shutdownStatus()
	if down {
		return status
	}

	h.mu.RLock()
	checks := append([]ReadinessChecker(nil), h.checks...)
	timeout := h.timeout
	h.mu.RUnlock()

	results := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = c.CheckReady(checkCtx)
		}()
	}
	wg.Wait()

	for i, c := range checks {
		if err := results[i]; err != nil {
			status.Status = StatusNotReady
			status.Checks[c.Name()] = CheckResult{Message: err.Error()}
			continue
		}
		status.Checks[c.Name()] = CheckResult{Healthy: true, Message: "healthy"}
	}
	return status
}
