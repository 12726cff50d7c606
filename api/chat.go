package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ezhao816/chatrelay/domain"
)

// Chat runs one chat turn and streams the response as server-sent events.
// Failures before the stream opens are plain JSON error envelopes; once
// streaming has begun, errors arrive in-band as a terminal data frame.
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, domain.NewValidationError("Invalid request body", nil))
	}

	ctx := c.Request().Context()
	stream, err := h.relay.HandleTurn(ctx, req)
	if err != nil {
		return fail(c, err)
	}
	defer stream.Close()

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.Writer.(http.Flusher)
	if !canFlush {
		return fmt.Errorf("streaming not supported")
	}

	for {
		frag, err := stream.Recv()
		if err != nil {
			// io.EOF after the terminal frame; a cancelled recv means the
			// client went away and there is no one left to write to.
			if !domain.IsKind(err, domain.KindCancelled) && err != io.EOF {
				log.Printf("ERROR: chat stream recv: %v", err)
			}
			return nil
		}

		if frag.Done {
			fmt.Fprintf(w, "data: [DONE]\n\n")
			flusher.Flush()
			return nil
		}

		data, err := json.Marshal(frag)
		if err != nil {
			log.Printf("ERROR: failed to marshal fragment: %v", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}
