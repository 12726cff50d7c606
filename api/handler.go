// Package api provides HTTP handlers for the chat relay.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ezhao816/chatrelay/config"
	"github.com/ezhao816/chatrelay/lifecycle"
	"github.com/ezhao816/chatrelay/relay"
	"github.com/ezhao816/chatrelay/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store     store.Store
	lifecycle *lifecycle.Lifecycle
	relay     *relay.Relay
	config    *config.Config
}

// NewHandler creates a new handler.
func NewHandler(s store.Store, lc *lifecycle.Lifecycle, r *relay.Relay, cfg *config.Config) *Handler {
	return &Handler{
		store:     s,
		lifecycle: lc,
		relay:     r,
		config:    cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/sessions", h.CreateSession)
	e.GET("/sessions", h.ListSessions)
	e.DELETE("/sessions", h.ClearSessions)
	e.POST("/sessions/verify", h.VerifySession)
	e.GET("/sessions/:id", h.GetSession)
	e.PATCH("/sessions/:id", h.UpdateSession)
	e.DELETE("/sessions/:id", h.DeleteSession)

	e.POST("/chat", h.Chat)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
