package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scissor-app/scissor/internal/middleware"
	"github.com/scissor-app/scissor/internal/models"
	"github.com/scissor-app/scissor/internal/repository"
	"github.com/scissor-app/scissor/internal/service"
	"go.uber.org/zap"
)

type MappingHandler struct {
	lifecycle service.LifecycleService
	logger    *zap.Logger
}

func NewMappingHandler(lifecycle service.LifecycleService, logger *zap.Logger) *MappingHandler {
	return &MappingHandler{
		lifecycle: lifecycle,
		logger:    logger,
	}
}

type ShortenRequest struct {
	URL string `json:"url" binding:"required,url"`
}

type UpdateRequest struct {
	URL string `json:"url" binding:"required,url"`
}

type MappingResponse struct {
	Code      string           `json:"code"`
	ShortURL  string           `json:"short_url"`
	Target    string           `json:"target"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Clicks    int64            `json:"clicks"`
	Referrers map[string]int64 `json:"referrers"`
	HasQRCode bool             `json:"has_qr_code"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *MappingHandler) Shorten(c *gin.Context) {
	ownerID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Missing identity"})
		return
	}

	var req ShortenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	m, created, err := h.lifecycle.Shorten(c.Request.Context(), ownerID, req.URL)
	if err != nil {
		h.respondError(c, err, "Failed to shorten URL")
		return
	}

	resp, err := h.toResponse(c, ownerID, m)
	if err != nil {
		h.respondError(c, err, "Failed to shorten URL")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

func (h *MappingHandler) List(c *gin.Context) {
	ownerID, _ := middleware.AccountIDFromContext(c)

	mappings, err := h.lifecycle.List(c.Request.Context(), ownerID)
	if err != nil {
		h.respondError(c, err, "Failed to list URLs")
		return
	}

	responses := make([]MappingResponse, 0, len(mappings))
	for i := range mappings {
		resp, err := h.toResponse(c, ownerID, &mappings[i])
		if err != nil {
			h.respondError(c, err, "Failed to list URLs")
			return
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, responses)
}

func (h *MappingHandler) Get(c *gin.Context) {
	ownerID, _ := middleware.AccountIDFromContext(c)
	code := c.Param("code")

	m, err := h.lifecycle.Get(c.Request.Context(), ownerID, code)
	if err != nil {
		h.respondError(c, err, "Failed to get URL")
		return
	}

	resp, err := h.toResponse(c, ownerID, m)
	if err != nil {
		h.respondError(c, err, "Failed to get URL")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MappingHandler) Update(c *gin.Context) {
	ownerID, _ := middleware.AccountIDFromContext(c)
	code := c.Param("code")

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	m, err := h.lifecycle.Update(c.Request.Context(), ownerID, code, req.URL)
	if err != nil {
		h.respondError(c, err, "Failed to update URL")
		return
	}

	resp, err := h.toResponse(c, ownerID, m)
	if err != nil {
		h.respondError(c, err, "Failed to update URL")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *MappingHandler) Delete(c *gin.Context) {
	ownerID, _ := middleware.AccountIDFromContext(c)
	code := c.Param("code")

	if err := h.lifecycle.Delete(c.Request.Context(), ownerID, code); err != nil {
		h.respondError(c, err, "Failed to delete URL")
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *MappingHandler) ListDeleted(c *gin.Context) {
	ownerID, _ := middleware.AccountIDFromContext(c)

	tombstones, err := h.lifecycle.ListDeleted(c.Request.Context(), ownerID)
	if err != nil {
		h.respondError(c, err, "Failed to list deleted URLs")
		return
	}

	if tombstones == nil {
		tombstones = []models.DeletedMapping{}
	}
	c.JSON(http.StatusOK, tombstones)
}

func (h *MappingHandler) Restore(c *gin.Context) {
	ownerID, _ := middleware.AccountIDFromContext(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Deleted URL not found",
		})
		return
	}

	m, created, err := h.lifecycle.Restore(c.Request.Context(), ownerID, id)
	if err != nil {
		h.respondError(c, err, "Failed to restore URL")
		return
	}

	resp, err := h.toResponse(c, ownerID, m)
	if err != nil {
		h.respondError(c, err, "Failed to restore URL")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

func (h *MappingHandler) GenerateQR(c *gin.Context) {
	ownerID, _ := middleware.AccountIDFromContext(c)
	code := c.Param("code")

	path, err := h.lifecycle.EnsureQR(c.Request.Context(), ownerID, code)
	if err != nil {
		h.respondError(c, err, "Failed to generate QR code")
		return
	}

	c.FileAttachment(path, code+"_qrcode.png")
}

func (h *MappingHandler) toResponse(c *gin.Context, ownerID int64, m *models.ShortMapping) (MappingResponse, error) {
	shortURL, err := h.lifecycle.ShortURL(c.Request.Context(), ownerID, m.Code)
	if err != nil {
		return MappingResponse{}, fmt.Errorf("failed to build short URL for %s: %w", m.Code, err)
	}

	return MappingResponse{
		Code:      m.Code,
		ShortURL:  shortURL,
		Target:    m.Target,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Clicks:    m.Clicks,
		Referrers: m.Referrers,
		HasQRCode: m.QRArtifact != nil,
	}, nil
}

// respondError maps service and repository sentinels to HTTP statuses.
// Ownership mismatches surface as not-found, never as forbidden.
func (h *MappingHandler) respondError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_url",
			Message: "A valid absolute http(s) URL is required",
		})
	case errors.Is(err, repository.ErrMappingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "URL not found",
		})
	case errors.Is(err, repository.ErrTargetExists):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "target_conflict",
			Message: "Another of your short URLs already points at this target",
		})
	case errors.Is(err, repository.ErrTombstoneNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Deleted URL not found",
		})
	case errors.Is(err, service.ErrCodeSpaceExhausted):
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "resource_exhausted",
			Message: "Could not allocate a short code, try again",
		})
	default:
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Something went wrong",
		})
	}
}
