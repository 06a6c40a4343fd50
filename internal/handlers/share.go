package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/middleware"
	"github.com/storepulse/pulsegate/internal/models"
	"github.com/storepulse/pulsegate/internal/query"
	"github.com/storepulse/pulsegate/internal/services"
)

// CreateShare issues a share token for a query
// POST /share
func (h *Handler) CreateShare(c *fiber.Ctx) error {
	var req models.ShareCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Failed to parse JSON body", err)
	}
	if len(req.Query) == 0 {
		return badRequest(c, "q is required", nil)
	}

	var in query.Input
	if err := json.Unmarshal(req.Query, &in); err != nil {
		return badRequest(c, "q must be a query object", err)
	}

	ctx := c.UserContext()
	result, err := h.shares.Issue(ctx, services.ShareRequest{
		Query:     in,
		Stores:    req.Stores,
		Caller:    middleware.Claims(c),
		RequestID: logging.RequestID(ctx),
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(result)
}

// ValidateShare describes a share token without executing it
// GET /share/validate?share_token=xxx
func (h *Handler) ValidateShare(c *fiber.Ctx) error {
	result, err := h.shares.Validate(c.Query(middleware.ShareTokenParam))
	if err != nil {
		return h.writeError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(result)
}
