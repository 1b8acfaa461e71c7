package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"
)

func Healthz(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"service": service, "status": "ok"})
	}
}

type ReadinessCheck struct {
	Name  string
	Check func(context.Context) error
}

type checkResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type readiness struct {
	Service string        `json:"service"`
	Status  string        `json:"status"`
	Checks  []checkResult `json:"checks"`
}

// ReadyzWithChecks runs every check concurrently and answers 503 when any
// of them fails. Results keep the order the checks were given in.
func ReadyzWithChecks(service string, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make([]checkResult, len(checks))
		var wg sync.WaitGroup
		for i, check := range checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = runCheck(r.Context(), check)
			}()
		}
		wg.Wait()

		body := readiness{Service: service, Status: "ready", Checks: results}
		status := http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				body.Status, status = "not_ready", http.StatusServiceUnavailable
				break
			}
		}
		WriteJSON(w, status, body)
	}
}

func runCheck(ctx context.Context, check ReadinessCheck) checkResult {
	start := time.Now()
	err := check.Check(ctx)
	res := checkResult{Name: check.Name, Status: "ok", DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status, res.Error = "fail", err.Error()
	}
	return res
}

// TimeoutCheck bounds a readiness check.
func TimeoutCheck(timeout time.Duration, check func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return check(checkCtx)
	}
}
