package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"smartlead/internal/health"
	"smartlead/internal/services"
	"smartlead/internal/store"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	store   *store.Store
	redis   *services.RedisService
	tracker *health.Tracker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(st *store.Store, redis *services.RedisService, tracker *health.Tracker) *HealthHandler {
	return &HealthHandler{store: st, redis: redis, tracker: tracker}
}

// Handle responds with server health status. The store being down degrades
// the report but still answers 200 so probes can read the detail.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := "healthy"
	storeStatus := "ok"
	if err := h.store.Ping(c.Context()); err != nil {
		status = "degraded"
		storeStatus = err.Error()
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "ok"
		if err := h.redis.Ping(c.Context()); err != nil {
			status = "degraded"
			redisStatus = err.Error()
		}
	}

	resp := fiber.Map{
		"status":    status,
		"store":     storeStatus,
		"redis":     redisStatus,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if h.tracker != nil {
		resp["adapters"] = h.tracker.Snapshot()
	}
	return c.JSON(resp)
}
