package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ezhao816/chatrelay/domain"
)

// envelope is the standard response wrapper.
type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// ok writes a success envelope.
func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// fail writes an error envelope, mapping tagged domain errors onto their
// status and wire code. Untagged errors become 500 INTERNAL_ERROR.
func fail(c echo.Context, err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return c.JSON(de.StatusCode, envelope{
			Success: false,
			Error: &errorBody{
				Message: de.Message,
				Code:    de.Code(),
				Details: de.Details,
			},
			Timestamp: time.Now().UTC(),
		})
	}

	log.Printf("ERROR: %v", err)
	return c.JSON(http.StatusInternalServerError, envelope{
		Success: false,
		Error: &errorBody{
			Message: "Internal server error",
			Code:    "INTERNAL_ERROR",
		},
		Timestamp: time.Now().UTC(),
	})
}
