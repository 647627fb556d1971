package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"laundry-reservation-backend/internal/auth"
	"laundry-reservation-backend/internal/broadcast"
	"laundry-reservation-backend/internal/registry"
	"laundry-reservation-backend/internal/reservation"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	db      *gorm.DB
	engine  *reservation.Engine
	hub     *broadcast.Hub
	catalog *registry.Catalog
	tokens  *auth.TokenIssuer
	webpush *webpush.Options
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(db *gorm.DB, engine *reservation.Engine, hub *broadcast.Hub, catalog *registry.Catalog, tokens *auth.TokenIssuer, webpushOptions *webpush.Options, logger *zap.Logger) *Handler {
	return &Handler{
		db:      db,
		engine:  engine,
		hub:     hub,
		catalog: catalog,
		tokens:  tokens,
		webpush: webpushOptions,
		logger:  logger,
	}
}
