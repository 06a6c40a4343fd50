package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/httpcache"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/models"
	"github.com/storepulse/pulsegate/internal/services"
)

// Prober checks that the aggregation service answers
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration, requestID string) error
}

// Handler contains all HTTP handlers
type Handler struct {
	logger       *logging.Logger
	analytics    *services.AnalyticsService
	shares       *services.ShareService
	responder    *httpcache.Responder
	prober       Prober
	readyTimeout time.Duration
	version      string
}

// Options carries the handler dependencies
type Options struct {
	Analytics    *services.AnalyticsService
	Shares       *services.ShareService
	Responder    *httpcache.Responder
	Prober       Prober
	ReadyTimeout time.Duration
	Version      string
}

// New creates a new handler instance
func New(logger *logging.Logger, opts Options) *Handler {
	return &Handler{
		logger:       logger,
		analytics:    opts.Analytics,
		shares:       opts.Shares,
		responder:    opts.Responder,
		prober:       opts.Prober,
		readyTimeout: opts.ReadyTimeout,
		version:      opts.Version,
	}
}

// requestContext carries the values of c.UserContext() and is cancelled when
// the server shuts down. fasthttp does not report client disconnects, so those
// do not cancel it.
func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return withCancelFrom(c.UserContext(), c.Context())
}

// withCancelFrom derives a context from ctx that is also cancelled when done is
func withCancelFrom(ctx, done context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(done, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// writeError classifies err and writes the error envelope
func (h *Handler) writeError(c *fiber.Ctx, err error) error {
	svcErr := services.Classify(err)
	if svcErr.Status >= fiber.StatusInternalServerError {
		h.logger.WithContext(c.UserContext()).Error("Request failed",
			"path", c.Path(),
			"code", svcErr.Code,
			"error", err,
		)
	}
	return c.Status(svcErr.Status).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    svcErr.Code,
			Message: svcErr.Message,
			Details: svcErr.Details,
		},
	})
}

// badRequest writes a 400 for input that could not be decoded
func badRequest(c *fiber.Ctx, message string, err error) error {
	detail := models.ErrorDetail{
		Code:    "INVALID_REQUEST",
		Message: message,
	}
	if err != nil {
		detail.Details = map[string]interface{}{"error": err.Error()}
	}
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{Error: detail})
}
