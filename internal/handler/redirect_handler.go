package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scissor-app/scissor/internal/repository"
	"github.com/scissor-app/scissor/internal/service"
	"go.uber.org/zap"
)

type RedirectHandler struct {
	resolver service.Resolver
	logger   *zap.Logger
}

func NewRedirectHandler(resolver service.Resolver, logger *zap.Logger) *RedirectHandler {
	return &RedirectHandler{
		resolver: resolver,
		logger:   logger,
	}
}

// Redirect resolves a short code for the requesting domain and issues a 302.
// The referrer label is the explicit ?referrer= query parameter; QR scans
// arrive with referrer=qr. The click is durably recorded before the redirect
// is written, so a store failure yields an error response and no redirect.
func (h *RedirectHandler) Redirect(c *gin.Context) {
	code := c.Param("code")

	target, err := h.resolver.Resolve(
		c.Request.Context(),
		c.Request.Host,
		code,
		c.Query("referrer"),
	)
	if err != nil {
		if errors.Is(err, repository.ErrMappingNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "URL not found",
			})
			return
		}

		h.logger.Error("failed to resolve short code",
			zap.String("code", code),
			zap.String("host", c.Request.Host),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Something went wrong",
		})
		return
	}

	c.Redirect(http.StatusFound, target)
}
