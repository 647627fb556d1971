package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"laundry-reservation-backend/config"
	"laundry-reservation-backend/internal/auth"
	"laundry-reservation-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg *config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	idempotencyTTL := time.Duration(cfg.IdempotencyTTLSeconds) * time.Second
	idempotencyStore := cache.New(idempotencyTTL, 2*idempotencyTTL)
	idempotent := mw.Idempotency(idempotencyStore, idempotencyTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/auth/token", h.Login)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		authed := api.Group("", auth.Middleware(h.db, h.tokens))
		{
			authed.GET("/auth/me", h.Me)

			authed.GET("/devices", h.ListDevices)
			authed.GET("/devices/:device_id", h.GetDevice)
			authed.POST("/devices/:device_id/start", idempotent, h.StartDevice)
			authed.POST("/devices/:device_id/stop", idempotent, h.StopDevice)

			authed.GET("/users", auth.AdminOnly(), h.ListUsers)
			authed.POST("/users", auth.AdminOnly(), h.CreateUser)
			authed.GET("/users/:uid", h.GetUser)
			authed.PATCH("/users/:uid", h.UpdateUser)
			authed.DELETE("/users/:uid", h.DeleteUser)

			authed.GET("/subscriptions", h.GetSubscription)
			authed.PUT("/subscriptions", h.PutSubscription)
			authed.DELETE("/subscriptions", h.DeleteSubscription)
		}
	}

	// Live feeds carry only public device state and stay outside auth, like
	// the REST layer's upstream clients expect.
	ws := r.Group("/ws")
	{
		ws.GET("/timeleft/:device_id", h.TimeFeed)
		ws.GET("/status/:device_id", h.StatusFeed)
	}

	return r
}
