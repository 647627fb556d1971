package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"laundry-reservation-backend/internal/auth"
	"laundry-reservation-backend/internal/reservation"
)

type startDeviceRequest struct {
	UserID          int64 `json:"user_id" binding:"required"`
	DurationMinutes int   `json:"duration_minutes" binding:"required"`
}

// ListDevices handles GET /api/devices.
func (h *Handler) ListDevices(c *gin.Context) {
	states, err := h.engine.ReadAllDevices(c.Request.Context())
	if err != nil {
		h.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}

// GetDevice handles GET /api/devices/:device_id.
func (h *Handler) GetDevice(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}

	state, err := h.engine.ReadDevice(c.Request.Context(), deviceID)
	if err != nil {
		h.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// StartDevice handles POST /api/devices/:device_id/start.
func (h *Handler) StartDevice(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}

	var req startDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.engine.Start(c.Request.Context(), deviceID, req.UserID, req.DurationMinutes)
	if err != nil {
		h.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// StopDevice handles POST /api/devices/:device_id/stop. Only the occupant or
// an admin may stop a device.
func (h *Handler) StopDevice(c *gin.Context) {
	deviceID, ok := deviceIDParam(c)
	if !ok {
		return
	}

	user := auth.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	result, err := h.engine.Stop(c.Request.Context(), deviceID, user.ID, user.IsAdmin)
	if err != nil {
		h.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Device stopped successfully",
		"device":        result.Device,
		"refund_amount": result.Refund,
	})
}

func deviceIDParam(c *gin.Context) (int64, bool) {
	deviceID, err := strconv.ParseInt(c.Param("device_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": reservation.ErrInvalidDeviceID.Error()})
		return 0, false
	}
	return deviceID, true
}

// renderEngineError maps the engine's error taxonomy onto HTTP responses.
// Every condition keeps its own message so callers can distinguish them.
func (h *Handler) renderEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reservation.ErrInvalidDeviceID),
		errors.Is(err, reservation.ErrInvalidDuration),
		errors.Is(err, reservation.ErrDeviceBusy),
		errors.Is(err, reservation.ErrInsufficientFunds),
		errors.Is(err, reservation.ErrNotRunning):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, reservation.ErrUserNotFound),
		errors.Is(err, reservation.ErrDeviceConfigNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, reservation.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.logger.Error("device operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
