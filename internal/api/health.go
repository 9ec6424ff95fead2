package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felipepmaragno/sqlassist/internal/circuitbreaker"
)

// ReadinessCheck is one readiness dependency. A failing check that is not Critical
// degrades the report but keeps the instance in rotation.
type ReadinessCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// PostgresCheck reads the catalog the introspector depends on, so a
// database that accepts connections but hides information_schema fails.
func PostgresCheck(db *sql.DB) ReadinessCheck {
	return ReadinessCheck{
		Name:     "postgres",
		Critical: true,
		Check: func(ctx context.Context) error {
			var n int
			return db.QueryRowContext(ctx, "SELECT count(*) FROM information_schema.columns WHERE table_schema = 'public'").Scan(&n)
		},
	}
}

// RedisCheck pings the client shared by the session store and the guards.
func RedisCheck(client *redis.Client) ReadinessCheck {
	return ReadinessCheck{
		Name:     "redis",
		Critical: true,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// BreakerCheck reports an open LLM breaker. Queries can still be executed
// while generation is unavailable, so it is not critical.
func BreakerCheck(cb circuitbreaker.CircuitBreaker) ReadinessCheck {
	return ReadinessCheck{
		Name: "llm",
		Check: func(ctx context.Context) error {
			if s := cb.State(ctx); s == circuitbreaker.StateOpen {
				return fmt.Errorf("circuit %s", s)
			}
			return nil
		},
	}
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type readiness struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]checkResult `json:"checks"`
}

func runChecks(ctx context.Context, checks []ReadinessCheck) readiness {
	results := make([]checkResult, len(checks))

	var wg sync.WaitGroup
	for i, p := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := p.Check(ctx)
			results[i] = checkResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = "error"
				results[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()

	report := readiness{Status: "ready", Checks: make(map[string]checkResult, len(checks))}
	for i, p := range checks {
		report.Checks[p.Name] = results[i]
		if results[i].Status == "ok" {
			continue
		}
		if p.Critical {
			report.Status = "not_ready"
		} else if report.Status == "ready" {
			report.Status = "degraded"
		}
	}
	return report
}

// handleHealthReady answers 503 only when a critical check fails.
func handleHealthReady(checks []ReadinessCheck, timeout time.Duration, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		report := runChecks(ctx, checks)
		report.Version = version

		status := http.StatusOK
		if report.Status == "not_ready" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}
