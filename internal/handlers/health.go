package handlers

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
)

// HealthChecker is a dependency that can report its own health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler reports database and Redis reachability
type HealthHandler struct {
	db    HealthChecker
	redis HealthChecker
	responder
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db, redis HealthChecker, logger *logrus.Entry) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, responder: responder{logger: logger}}
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	dbStatus := status(h.db.Health(r.Context()))
	redisStatus := status(h.redis.Health(r.Context()))

	body := map[string]string{
		"status":   "ok",
		"database": dbStatus,
		"redis":    redisStatus,
	}
	code := http.StatusOK
	if dbStatus != "up" || redisStatus != "up" {
		body["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	h.json(w, code, body)
}

func status(err error) string {
	if err != nil {
		return "down"
	}
	return "up"
}
