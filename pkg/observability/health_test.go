package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker("test")

	rec := httptest.NewRecorder()
	checker.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestEngineProbes(t *testing.T) {
	if probes := EngineProbes(nil, nil); len(probes) != 0 {
		t.Errorf("Expected no probes for an in-memory engine, got %d", len(probes))
	}

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	probes := EngineProbes(db, client)
	if len(probes) != 2 {
		t.Fatalf("Expected 2 probes, got %d", len(probes))
	}
	if probes[0].Name != "database" || !probes[0].Critical {
		t.Errorf("Expected a critical database probe, got %+v", probes[0])
	}
	if probes[1].Name != "redis" || probes[1].Critical {
		t.Errorf("Expected a non-critical redis probe, got %+v", probes[1])
	}
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("no probes is healthy", func(t *testing.T) {
		status := NewHealthChecker("v1").Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s", status.Status)
		}
		if status.Version != "v1" {
			t.Errorf("Expected version v1, got %s", status.Version)
		}
	})

	t.Run("database failure is unhealthy", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

		status := NewHealthChecker("v1", DatabaseProbe(db)).Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
		if status.Dependencies["database"].Message != "connection refused" {
			t.Errorf("Unexpected message %q", status.Dependencies["database"].Message)
		}
	})

	t.Run("healthy database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		status := NewHealthChecker("v1", DatabaseProbe(db)).Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s: %+v", status.Status, status.Dependencies)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unmet expectations: %v", err)
		}
	})

	t.Run("redis down only degrades", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		checker := NewHealthChecker("v1", RedisProbe(client))
		if s := checker.Check(context.Background()); s.Status != StatusHealthy {
			t.Errorf("Expected healthy with redis up, got %s", s.Status)
		}

		mr.Close()
		if s := checker.Check(context.Background()); s.Status != StatusDegraded {
			t.Errorf("Expected degraded with redis down, got %s", s.Status)
		}
	})

	t.Run("critical probe reporting ErrDegraded", func(t *testing.T) {
		probe := Probe{Name: "pool", Critical: true, Check: func(context.Context) error {
			return errors.Join(ErrDegraded, errors.New("pool exhausted"))
		}}
		status := NewHealthChecker("v1", probe).Check(context.Background())
		if status.Status != StatusDegraded {
			t.Errorf("Expected degraded, got %s", status.Status)
		}
	})

	t.Run("unhealthy outranks degraded", func(t *testing.T) {
		down := Probe{Name: "database", Critical: true, Check: func(context.Context) error { return errors.New("down") }}
		slow := Probe{Name: "redis", Check: func(context.Context) error { return errors.New("timeout") }}
		status := NewHealthChecker("v1", slow, down).Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
		if len(status.Dependencies) != 2 {
			t.Errorf("Expected 2 dependency results, got %d", len(status.Dependencies))
		}
	})

	t.Run("probe timeout", func(t *testing.T) {
		hung := Probe{Name: "database", Critical: true, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		checker := NewHealthChecker("v1", hung)
		checker.timeout = 20 * time.Millisecond

		start := time.Now()
		status := checker.Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
		if time.Since(start) > time.Second {
			t.Errorf("Probe was not bounded by its timeout")
		}
	})
}

func TestRegisterHealthRoutes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("down"))

	router := mux.NewRouter()
	RegisterHealthRoutes(router, NewHealthChecker("v1", DatabaseProbe(db)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", status.Status)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestReadinessDegradedStaysInRotation(t *testing.T) {
	flaky := Probe{Name: "redis", Check: func(context.Context) error { return errors.New("timeout") }}

	rec := httptest.NewRecorder()
	NewHealthChecker("v1", flaky).Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 while degraded, got %d", rec.Code)
	}
}
