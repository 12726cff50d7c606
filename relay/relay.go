// Package relay orchestrates a single chat turn: validate, resolve the
// session, open a provider stream, and hand fragments to the caller in order.
package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"unicode/utf8"

	"github.com/ezhao816/chatrelay/config"
	"github.com/ezhao816/chatrelay/domain"
	"github.com/ezhao816/chatrelay/lifecycle"
	"github.com/ezhao816/chatrelay/provider"
)

// Relay services chat turns. Each turn is an independent, stateless request;
// the relay never persists the transcript itself.
type Relay struct {
	lifecycle       *lifecycle.Lifecycle
	provider        provider.Provider
	maxMessageChars int
}

// New creates a relay.
func New(lc *lifecycle.Lifecycle, p provider.Provider, cfg *config.Config) *Relay {
	return &Relay{
		lifecycle:       lc,
		provider:        p,
		maxMessageChars: cfg.MaxMessageChars,
	}
}

// HandleTurn validates the request, resolves the session, and opens the
// fragment stream for one turn. Validation and not-found failures are
// returned before any provider call; once the stream is open, failures are
// delivered in-band as a terminal error fragment.
func (r *Relay) HandleTurn(ctx context.Context, req domain.ChatRequest) (domain.FragmentStream, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}

	if _, err := r.lifecycle.Resolve(ctx, req.SessionID); err != nil {
		return nil, err
	}

	stream, err := r.provider.Open(ctx, req.Message, req.History)
	if err != nil {
		return nil, domain.NewProviderStreamError(err)
	}

	return &turnStream{inner: stream}, nil
}

func (r *Relay) validate(req domain.ChatRequest) error {
	var issues []string
	if req.SessionID == "" {
		issues = append(issues, "sessionId is required")
	}
	if req.Message == "" {
		issues = append(issues, "message is required")
	}
	if utf8.RuneCountInString(req.Message) > r.maxMessageChars {
		issues = append(issues, "message exceeds maximum length")
	}
	for _, msg := range req.History {
		if !domain.ValidRole(msg.Role) {
			issues = append(issues, "history contains an unknown role")
			break
		}
	}
	for _, msg := range req.History {
		if msg.Content == "" {
			issues = append(issues, "history contains an empty message")
			break
		}
	}
	if len(issues) > 0 {
		return domain.NewValidationError("Invalid request data", issues)
	}
	return nil
}

// turnStream adapts a provider stream into the wire-level fragment sequence:
// content fragments in provider order, then exactly one terminal fragment
// (Done, or an AI_ERROR frame when the provider fails mid-stream).
type turnStream struct {
	inner provider.Stream
	done  bool
}

func (t *turnStream) Recv() (domain.StreamFragment, error) {
	if t.done {
		return domain.StreamFragment{}, io.EOF
	}

	text, err := t.inner.Recv()
	if err == io.EOF {
		t.done = true
		return domain.StreamFragment{Done: true}, nil
	}
	if errors.Is(err, context.Canceled) {
		t.done = true
		return domain.StreamFragment{}, domain.NewCancelledError()
	}
	if err != nil {
		t.done = true
		log.Printf("ERROR: provider stream failed: %v", err)
		return domain.StreamFragment{Error: "Failed to generate response", Code: "AI_ERROR"}, nil
	}
	return domain.StreamFragment{Content: text}, nil
}

func (t *turnStream) Close() error {
	return t.inner.Close()
}
