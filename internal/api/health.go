package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hivegate/hivegate/internal/circuitbreaker"
)

// HealthChecker is one dependency probe.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}

type checkResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

type RedisHealthChecker struct {
	client *redis.Client
}

func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client}
}

func (c *RedisHealthChecker) Name() string { return "redis" }

func (c *RedisHealthChecker) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

type PostgresHealthChecker struct {
	db *sql.DB
}

func NewPostgresHealthChecker(db *sql.DB) *PostgresHealthChecker {
	return &PostgresHealthChecker{db: db}
}

func (c *PostgresHealthChecker) Name() string { return "postgres" }

func (c *PostgresHealthChecker) Check(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HandleLive always answers ok: the process is up.
func HandleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleReady probes every dependency concurrently and reports circuit
// states alongside, so one glance shows why traffic is degrading.
func HandleReady(checkers []HealthChecker, breakers *circuitbreaker.Registry, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		results := make(map[string]checkResult, len(checkers))
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, checker := range checkers {
			wg.Add(1)
			go func(c HealthChecker) {
				defer wg.Done()

				start := time.Now()
				err := c.Check(ctx)

				result := checkResult{Status: "ok", Duration: time.Since(start).String()}
				if err != nil {
					result.Status = "error"
					result.Error = err.Error()
				}

				mu.Lock()
				results[c.Name()] = result
				mu.Unlock()
			}(checker)
		}
		wg.Wait()

		status := "ready"
		httpStatus := http.StatusOK
		for _, result := range results {
			if result.Status != "ok" {
				status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
				break
			}
		}

		body := map[string]any{"status": status}
		if len(results) > 0 {
			body["checks"] = results
		}
		if breakers != nil {
			body["circuits"] = breakers.States(ctx)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(httpStatus)
		json.NewEncoder(w).Encode(body)
	}
}
