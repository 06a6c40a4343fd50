package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/models"
)

// Health handles liveness requests
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(models.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   h.version,
	})
}

// Ready reports whether the aggregation service answers its meta endpoint
// within the ready timeout. It makes a single attempt.
func (h *Handler) Ready(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.prober.Probe(ctx, h.readyTimeout, logging.RequestID(ctx)); err != nil {
		h.logger.WithContext(ctx).Warn("Readiness probe failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.HealthResponse{
			Status: "not ready",
		})
	}
	return c.JSON(models.HealthResponse{Status: "ready"})
}

// NotFound handles 404 errors
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "Route not found",
			Path:    c.Path(),
		},
	})
}
