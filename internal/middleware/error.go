package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/models"
	"github.com/storepulse/pulsegate/internal/services"
)

// ErrorHandler returns a custom error handler middleware
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		errCode := "ERROR"
		message := "Internal Server Error"
		var details map[string]interface{}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		} else {
			svcErr := services.Classify(err)
			code = svcErr.Status
			errCode = svcErr.Code
			message = svcErr.Message
			details = svcErr.Details
		}

		logger.Error("Request error",
			"path", c.Path(),
			"method", c.Method(),
			"status", code,
			"error", err,
		)

		return c.Status(code).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    errCode,
				Message: message,
				Details: details,
			},
		})
	}
}
