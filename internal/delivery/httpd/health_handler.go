package httpd

import (
	"context"
	"net/http"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
)

// HealthCheck reports storage and queue reachability. Any failing dependency
// makes the service unhealthy.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	response := models.HealthCheckResponse{
		Status:    "healthy",
		Service:   "integrity-service",
		Storage:   ping(ctx, h.storage),
		Evidence:  ping(ctx, h.evidence),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
	healthy := response.Storage && response.Evidence
	if h.queue != nil {
		ok := ping(ctx, h.queue)
		response.Queue = &ok
		healthy = healthy && ok
	}

	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func ping(ctx context.Context, p repository.Pinger) bool {
	if p == nil {
		return true
	}
	return p.Ping(ctx) == nil
}
