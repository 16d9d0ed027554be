package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Jonas1mposter/project-resonance/internal/relay"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, r *relay.Relay, logger *zap.Logger) {
	e.HTTPErrorHandler = errorHandler(logger)

	// Health check
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:  "ok",
			Service: "resonance-relay",
		})
	})

	// Prometheus scrape endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// WebSocket relay endpoint
	e.GET("/ws/asr", r.Handle)
}

// errorHandler renders uncaught errors as the JSON error shape the
// rest of the service uses.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		message := "internal server error"
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			code = httpErr.Code
			if text, ok := httpErr.Message.(string); ok {
				message = text
			}
		}
		if code >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("path", c.Request().URL.Path),
				zap.Error(err))
		}
		_ = c.JSON(code, ErrorResponse{
			Error:   http.StatusText(code),
			Message: message,
		})
	}
}
