package api

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ezhao816/chatrelay/domain"
)

// CreateSession creates a session and confirms the write is readable before
// answering, so clients can use the session immediately.
func (h *Handler) CreateSession(c echo.Context) error {
	var req domain.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.NewValidationError("Invalid request body", nil))
	}

	if err := validateTitle(req.Title); err != nil {
		return fail(c, err)
	}

	var seed *domain.Message
	if req.FirstMessage != nil {
		if !domain.ValidRole(req.FirstMessage.Role) {
			return fail(c, domain.NewValidationError("Invalid request data", []string{"firstMessage has an unknown role"}))
		}
		if req.FirstMessage.Content == "" {
			return fail(c, domain.NewValidationError("Invalid request data", []string{"firstMessage content is required"}))
		}
		id := req.FirstMessage.ID
		if id == "" {
			id = "msg_" + uuid.New().String()[:8]
		}
		seed = &domain.Message{
			ID:        id,
			Role:      req.FirstMessage.Role,
			Content:   req.FirstMessage.Content,
			Timestamp: time.Now().UTC(),
		}
	}

	session, err := h.lifecycle.CreateAndVerify(c.Request().Context(), req.Title, seed)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusCreated, session)
}

// ListSessions returns all sessions, most recently updated first.
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.store.ListAll(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, sessions)
}

// GetSession returns a single session by id.
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if session == nil {
		return fail(c, domain.NewNotFoundError("Session"))
	}
	return ok(c, http.StatusOK, session)
}

// UpdateSession applies a partial update to a session.
func (h *Handler) UpdateSession(c echo.Context) error {
	var req domain.UpdateSessionRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.NewValidationError("Invalid request body", nil))
	}

	if req.Title != nil {
		if err := validateTitle(*req.Title); err != nil {
			return fail(c, err)
		}
	}
	if req.Messages != nil {
		for _, msg := range *req.Messages {
			if !domain.ValidRole(msg.Role) {
				return fail(c, domain.NewValidationError("Invalid request data", []string{"messages contain an unknown role"}))
			}
		}
	}

	session, err := h.store.Update(c.Request().Context(), c.Param("id"), domain.SessionUpdate{
		Title:    req.Title,
		Messages: req.Messages,
	})
	if err != nil {
		return fail(c, err)
	}
	if session == nil {
		return fail(c, domain.NewNotFoundError("Session"))
	}
	return ok(c, http.StatusOK, session)
}

// DeleteSession removes a session and its messages.
func (h *Handler) DeleteSession(c echo.Context) error {
	deleted, err := h.store.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if !deleted {
		return fail(c, domain.NewNotFoundError("Session"))
	}
	return ok(c, http.StatusOK, map[string]bool{"deleted": true})
}

// ClearSessions removes every session.
func (h *Handler) ClearSessions(c echo.Context) error {
	if err := h.store.DeleteAll(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, map[string]bool{"cleared": true})
}

// VerifySession reports whether a session is currently readable, after a short
// settling delay. Used by clients to confirm a create landed.
func (h *Handler) VerifySession(c echo.Context) error {
	var req domain.VerifyRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.NewValidationError("Invalid request body", nil))
	}
	if req.SessionID == "" {
		return fail(c, domain.NewValidationError("Invalid request data", []string{"sessionId is required"}))
	}

	ctx := c.Request().Context()
	timer := time.NewTimer(h.config.VerifyReadDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fail(c, domain.NewCancelledError())
	case <-timer.C:
	}

	session, err := h.store.Get(ctx, req.SessionID)
	if err != nil {
		return fail(c, err)
	}
	sessions, err := h.store.ListAll(ctx)
	if err != nil {
		return fail(c, err)
	}

	return ok(c, http.StatusOK, domain.VerifyResult{
		Exists:        session != nil,
		Session:       session,
		TotalSessions: len(sessions),
	})
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return domain.NewValidationError("Invalid request data", []string{"title is required"})
	}
	if n > 200 {
		return domain.NewValidationError("Invalid request data", []string{"title exceeds maximum length"})
	}
	return nil
}
