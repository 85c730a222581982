package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	defaultProbeTimeout = 2 * time.Second
)

// ErrDegraded marks a probe failure that still lets the engine answer checks
var ErrDegraded = errors.New("degraded")

// Probe checks one dependency of the engine. A failing critical probe makes
// the engine unhealthy; any other failure, or an error wrapping ErrDegraded,
// only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// DatabaseProbe pings the role and assignment store. An exhausted pool is
// reported as degraded.
func DatabaseProbe(db *sql.DB) Probe {
	return Probe{
		Name:     "database",
		Critical: true,
		Check: func(ctx context.Context) error {
			var one int
			if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
				return err
			}
			if s := db.Stats(); s.MaxOpenConnections > 0 && s.InUse >= s.MaxOpenConnections {
				return fmt.Errorf("%w: %d of %d connections in use", ErrDegraded, s.InUse, s.MaxOpenConnections)
			}
			return nil
		},
	}
}

// RedisProbe pings the shared cache backend. Cache errors read as misses, so
// Redis being down only degrades the engine.
func RedisProbe(client *redis.Client) Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// HealthStatus is the body of /readyz
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one probe
type DependencyStatus struct {
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// HealthChecker serves liveness and readiness for the engine
type HealthChecker struct {
	version string
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

// NewHealthChecker runs probes on every readiness request
func NewHealthChecker(version string, probes ...Probe) *HealthChecker {
	return &HealthChecker{version: version, probes: probes, timeout: defaultProbeTimeout, now: time.Now}
}

// EngineProbes returns the probes for whichever stores are configured.
// Either may be nil when the engine runs in memory.
func EngineProbes(db *sql.DB, client *redis.Client) []Probe {
	var probes []Probe
	if db != nil {
		probes = append(probes, DatabaseProbe(db))
	}
	if client != nil {
		probes = append(probes, RedisProbe(client))
	}
	return probes
}

// Check runs every probe concurrently, each bounded by the probe timeout
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	results := make([]DependencyStatus, len(h.probes))

	var g errgroup.Group
	for i, p := range h.probes {
		g.Go(func() error {
			results[i] = h.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    h.now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(results)),
	}
	for i, p := range h.probes {
		r := results[i]
		status.Dependencies[p.Name] = r
		switch {
		case r.Status == StatusUnhealthy:
			status.Status = StatusUnhealthy
		case r.Status == StatusDegraded && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthChecker) run(ctx context.Context, p Probe) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := p.Check(ctx)
	out := DependencyStatus{
		Status:    StatusHealthy,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err == nil {
		return out
	}
	out.Message = err.Error()
	if p.Critical && !errors.Is(err, ErrDegraded) {
		out.Status = StatusUnhealthy
	} else {
		out.Status = StatusDegraded
	}
	return out
}

// Liveness answers 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": h.now(),
	})
}

// Readiness answers 503 only when a critical dependency is down, so a
// degraded engine keeps receiving traffic
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes mounts /healthz and /readyz
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
}
