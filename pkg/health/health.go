package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gmliao/landnet/pkg/json"
)

// Status represents the health status.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Check represents a single component health check.
type Check interface {
	Check(ctx context.Context) error
	Name() string
}

// CheckFunc adapts a plain function into a Check.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
func (c CheckFunc) Name() string                    { return c.CheckName }

// Checker manages health checks.
type Checker struct {
	checks []Check
	mu     sync.RWMutex
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{checks: make([]Check, 0)}
}

// Register adds a new health check.
func (hc *Checker) Register(check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// Check performs all health checks.
func (hc *Checker) Check(ctx context.Context) map[string]error {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	results := make(map[string]error)
	for _, check := range hc.checks {
		results[check.Name()] = check.Check(ctx)
	}
	return results
}

// Handler serves an aggregate health report. Any failing check flips the
// overall status to DOWN and the response code to 503.
func (hc *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		overall := StatusUp
		components := make(map[string]string)
		for name, err := range hc.Check(ctx) {
			if err != nil {
				overall = StatusDown
				components[name] = err.Error()
			} else {
				components[name] = string(StatusUp)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if overall == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     overall,
			"components": components,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return
		}
	}
}
