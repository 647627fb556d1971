package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"laundry-reservation-backend/internal/reservation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Feeds carry no credentials and only public device state.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TimeFeed handles GET /ws/timeleft/:device_id: a persistent connection that
// receives the device countdown once per second.
func (h *Handler) TimeFeed(c *gin.Context) {
	h.serveFeed(c, h.hub.ServeTimeFeed)
}

// StatusFeed handles GET /ws/status/:device_id: a persistent connection that
// receives running/idle transitions only.
func (h *Handler) StatusFeed(c *gin.Context) {
	h.serveFeed(c, h.hub.ServeStatusFeed)
}

func (h *Handler) serveFeed(c *gin.Context, serve func(ctx context.Context, conn *websocket.Conn, deviceID int64)) {
	// Invalid ids are rejected before the connection is established.
	deviceID, err := strconv.ParseInt(c.Param("device_id"), 10, 64)
	if err != nil || !h.catalog.Contains(deviceID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": reservation.ErrInvalidDeviceID.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	serve(c.Request.Context(), conn, deviceID)
}
