package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Checker probes one dependency. A nil return means the dependency is usable.
type Checker func(ctx context.Context) error

// Status represents the health status of a component.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds a whole readiness probe.
const DefaultCheckTimeout = 3 * time.Second

// Response is the JSON body of both probes.
type Response struct {
	Status    Status                 `json:"status"`
	Service   string                 `json:"service,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical"`
	Latency  string `json:"latency"`
	Error    string `json:"error,omitempty"`
}

type check struct {
	fn       Checker
	critical bool
}

// Handler serves liveness and readiness probes. A failing critical check
// makes the service unready (503); failing non-critical checks only degrade
// it (200 with status "degraded").
type Handler struct {
	service string
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	checks map[string]check
}

// Option configures a Handler.
type Option func(*Handler)

// WithService sets the service name reported in responses.
func WithService(name string) Option {
	return func(h *Handler) { h.service = name }
}

// WithTimeout overrides DefaultCheckTimeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler creates a handler with no registered checks.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		timeout: DefaultCheckTimeout,
		now:     time.Now,
		checks:  make(map[string]check),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a critical check. Registering a name twice replaces it.
func (h *Handler) Register(name string, fn Checker) {
	h.RegisterCritical(name, fn)
}

// RegisterCritical adds a check whose failure makes the service unready.
func (h *Handler) RegisterCritical(name string, fn Checker) {
	h.register(name, fn, true)
}

// RegisterNonCritical adds a check whose failure only degrades the service.
func (h *Handler) RegisterNonCritical(name string, fn Checker) {
	h.register(name, fn, false)
}

func (h *Handler) register(name string, fn Checker, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, critical: critical}
}

// Routes mounts GET /live and GET /ready.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/live", h.LivenessHandler())
	r.Get("/ready", h.ReadinessHandler())
	return r
}

// LivenessHandler reports 200 as long as the process can serve requests.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{
			Status:    StatusUp,
			Service:   h.service,
			Timestamp: h.now().UTC(),
		})
	}
}

// ReadinessHandler runs every registered check concurrently under one
// deadline and reports the aggregate.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		results := h.Check(ctx)
		status := aggregate(results)

		code := http.StatusOK
		if status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{
			Status:    status,
			Service:   h.service,
			Timestamp: h.now().UTC(),
			Checks:    results,
		})
	}
}

// Check runs all registered checks and returns their results by name.
func (h *Handler) Check(ctx context.Context) map[string]CheckResult {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	snapshot := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		names = append(names, name)
		snapshot[name] = c
	}
	h.mu.RUnlock()
	sort.Strings(names)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(names))
	)
	for _, name := range names {
		c := snapshot[name]
		wg.Add(1)
		go func(name string, c check) {
			defer wg.Done()
			start := time.Now()
			err := c.fn(ctx)
			res := CheckResult{
				Status:   StatusUp,
				Critical: c.critical,
				Latency:  time.Since(start).Round(time.Microsecond).String(),
			}
			if err != nil {
				res.Status = StatusDown
				res.Error = err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()
	return results
}

func aggregate(results map[string]CheckResult) Status {
	status := StatusUp
	for _, res := range results {
		if res.Status != StatusDown {
			continue
		}
		if res.Critical {
			return StatusDown
		}
		status = StatusDegraded
	}
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
