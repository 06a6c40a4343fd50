package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/httpcache"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/middleware"
	"github.com/storepulse/pulsegate/internal/models"
	"github.com/storepulse/pulsegate/internal/services"
)

// Analytics handles GET analytics requests
// GET /analytics?measure=xxx&dimensions=a,b&grain=day&from=xxx&to=xxx&filters=[...]&stores=1,2&share_token=xxx
func (h *Handler) Analytics(c *fiber.Ctx) error {
	input, err := models.ParseAnalyticsQuery(c)
	if err != nil {
		return badRequest(c, err.Error(), nil)
	}
	return h.executeAnalytics(c, input)
}

// AnalyticsPost handles POST analytics requests with JSON body
// POST /analytics
func (h *Handler) AnalyticsPost(c *fiber.Ctx) error {
	var body models.AnalyticsBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Failed to parse JSON body", err)
	}

	input := body.ToRequest()
	// share_token in the query string also counts for POST
	if input.ShareToken == "" {
		input.ShareToken = c.Query(middleware.ShareTokenParam)
	}
	return h.executeAnalytics(c, input)
}

// executeAnalytics is the common path of both analytics handlers
func (h *Handler) executeAnalytics(c *fiber.Ctx, input *models.AnalyticsQuery) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	result, err := h.analytics.Execute(ctx, services.AnalyticsRequest{
		Input:      input.Input,
		Stores:     input.Stores,
		ShareToken: input.ShareToken,
		Caller:     middleware.Claims(c),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return h.responder.Respond(c, result, httpcache.Options{})
}

// Catalog serves the allow-list introspection document
// GET /analytics/catalog
func (h *Handler) Catalog(c *fiber.Ctx) error {
	return h.responder.Respond(c, h.analytics.Catalog(), httpcache.Options{})
}

// Meta serves the aggregation service's schema description
// GET /analytics/meta
func (h *Handler) Meta(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	meta, err := h.analytics.Meta(ctx, logging.RequestID(ctx))
	if err != nil {
		return h.writeError(c, err)
	}
	return h.responder.Respond(c, meta, httpcache.Options{})
}

// Me echoes the authenticated caller's claims
// GET /auth/me
func (h *Handler) Me(c *fiber.Ctx) error {
	claims := middleware.Claims(c)
	if claims == nil {
		return fiber.ErrUnauthorized
	}

	resp := models.MeResponse{
		Subject: claims.Subject,
		Roles:   claims.Roles,
		Stores:  claims.Stores,
	}
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if resp.Stores == nil {
		resp.Stores = []int{}
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return c.JSON(resp)
}
