package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	apperrors "github.com/target/taskrelay/internal/errors"
)

const healthResponse = `{"status":"ok"}`

const readinessTimeout = 2 * time.Second

// healthHandler is the liveness probe; it never touches Redis.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, healthResponse)
	}
}

type readinessResponse struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
}

// readinessHandler answers 503 while the result store is unreachable and reports probe latency otherwise.
func readinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			healthHandler(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		start := time.Now()
		if err := checker.Health(ctx); err != nil {
			WriteAppError(w, "not_ready", apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "result store unreachable"),
				apperrors.ErrCodeUnavailable)
			return
		}
		WriteJSON(w, http.StatusOK, readinessResponse{Status: "ready", LatencyMs: time.Since(start).Milliseconds()})
	}
}
