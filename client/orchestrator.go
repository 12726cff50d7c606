package client

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ezhao816/chatrelay/domain"
)

// Orchestrator drives a conversation: it keeps the local transcript, creates
// the session lazily on the first message, streams the assistant reply, and
// persists completed turns in the background.
type Orchestrator struct {
	api *Client

	// Verify ladder used when confirming a freshly created session.
	VerifyAttempts  int
	VerifyBaseDelay time.Duration
	VerifyMaxDelay  time.Duration

	mu        sync.Mutex
	sessionID string
	messages  []domain.Message
	streaming bool
	cancel    context.CancelFunc

	onUpdate func()
	onNotify func(message string)

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator over the given API client.
func NewOrchestrator(api *Client) *Orchestrator {
	return &Orchestrator{
		api:             api,
		VerifyAttempts:  5,
		VerifyBaseDelay: 200 * time.Millisecond,
		VerifyMaxDelay:  time.Second,
	}
}

// OnUpdate registers a callback fired whenever the transcript changes.
func (o *Orchestrator) OnUpdate(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onUpdate = fn
}

// OnNotify registers a callback fired with user-facing failure notices.
// Cancellation never produces a notice.
func (o *Orchestrator) OnNotify(fn func(message string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onNotify = fn
}

// SessionID returns the active session id, empty before the first turn.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Messages returns a copy of the current transcript.
func (o *Orchestrator) Messages() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Streaming reports whether a turn is currently in flight.
func (o *Orchestrator) Streaming() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streaming
}

// Cancel aborts the in-flight turn, if any. Content already received is kept.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// NewChat resets the orchestrator to an empty, unsaved conversation.
func (o *Orchestrator) NewChat() {
	o.Cancel()
	o.mu.Lock()
	o.sessionID = ""
	o.messages = nil
	o.mu.Unlock()
	o.update()
}

// LoadSession replaces the local transcript with a stored session.
func (o *Orchestrator) LoadSession(ctx context.Context, id string) error {
	session, err := o.api.GetSession(ctx, id)
	if err != nil {
		return err
	}
	o.Cancel()
	o.mu.Lock()
	o.sessionID = session.ID
	o.messages = session.Messages
	o.mu.Unlock()
	o.update()
	return nil
}

// Wait blocks until background persistence has finished. Intended for tests
// and shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// SendMessage runs one full turn: optimistic transcript update, session
// creation and verification on the first message, streaming, and background
// persistence of the finished turn. Blank input and overlapping sends are
// no-ops.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	o.mu.Lock()
	if o.streaming {
		o.mu.Unlock()
		return nil
	}
	o.streaming = true
	ctx, o.cancel = context.WithCancel(ctx)
	cancel := o.cancel

	// Blank messages (an interrupted placeholder, say) never go upstream.
	history := make([]domain.Message, 0, len(o.messages))
	for _, msg := range o.messages {
		if msg.Content != "" {
			history = append(history, msg)
		}
	}

	userMsg := domain.Message{
		ID:        newMessageID(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	assistantMsg := domain.Message{
		ID:        newMessageID(),
		Role:      domain.RoleAssistant,
		Timestamp: time.Now().UTC(),
	}
	o.messages = append(o.messages, userMsg, assistantMsg)
	sessionID := o.sessionID
	o.mu.Unlock()
	o.update()

	defer func() {
		cancel()
		o.mu.Lock()
		o.streaming = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	if sessionID == "" {
		id, err := o.ensureSession(ctx, text, userMsg)
		if err != nil {
			o.rollback(userMsg.ID, assistantMsg.ID)
			o.notifyError(err, "Failed to create session")
			return err
		}
		sessionID = id
	} else {
		result, err := o.api.VerifySession(ctx, sessionID)
		if err == nil && !result.Exists {
			err = domain.NewNotFoundError("Session")
		}
		if err != nil {
			o.rollback(userMsg.ID, assistantMsg.ID)
			o.notifyError(err, "Session is no longer available")
			return err
		}
	}

	stream, err := o.api.StreamChat(ctx, domain.ChatRequest{
		SessionID: sessionID,
		Message:   text,
		History:   history,
	})
	if err != nil {
		o.rollback(userMsg.ID, assistantMsg.ID)
		o.notifyError(err, "Failed to reach the server")
		return err
	}
	defer stream.Close()

	var content strings.Builder
	for {
		frag, err := stream.Recv()
		if err != nil {
			if domain.IsKind(err, domain.KindCancelled) {
				// Abandoned by the user: keep whatever arrived, say nothing.
				if content.Len() == 0 {
					o.rollback(userMsg.ID, assistantMsg.ID)
				}
				return nil
			}
			if content.Len() == 0 {
				o.rollback(userMsg.ID, assistantMsg.ID)
			}
			o.notifyError(err, "Connection lost")
			return err
		}

		if frag.Error != "" {
			err := domain.NewProviderStreamError(nil)
			if content.Len() == 0 {
				o.rollback(userMsg.ID, assistantMsg.ID)
			}
			o.notify(frag.Error)
			return err
		}

		if frag.Done {
			break
		}

		if frag.Content != "" {
			content.WriteString(frag.Content)
			o.setMessageContent(assistantMsg.ID, content.String())
		}
	}

	o.persist(sessionID)
	return nil
}

// ensureSession creates and verifies a session for the first turn, seeding it
// with the user's message.
func (o *Orchestrator) ensureSession(ctx context.Context, text string, seed domain.Message) (string, error) {
	session, err := o.api.CreateSession(ctx, domain.CreateSessionRequest{
		Title: DeriveTitle(text),
		FirstMessage: &domain.SeedMessage{
			ID:      seed.ID,
			Role:    seed.Role,
			Content: seed.Content,
		},
	})
	if err != nil {
		return "", err
	}

	verified := false
	for attempt := 0; attempt < o.VerifyAttempts; attempt++ {
		result, err := o.api.VerifySession(ctx, session.ID)
		if err != nil {
			return "", err
		}
		if result.Exists {
			verified = true
			break
		}
		if attempt < o.VerifyAttempts-1 {
			if err := o.waitBackoff(ctx, attempt); err != nil {
				return "", err
			}
		}
	}
	if !verified {
		return "", domain.NewVerificationTimeoutError(session.ID, o.VerifyAttempts)
	}

	o.mu.Lock()
	o.sessionID = session.ID
	o.mu.Unlock()
	return session.ID, nil
}

func (o *Orchestrator) waitBackoff(ctx context.Context, attempt int) error {
	d := o.VerifyBaseDelay << uint(attempt)
	if d > o.VerifyMaxDelay {
		d = o.VerifyMaxDelay
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.NewCancelledError()
	case <-timer.C:
		return nil
	}
}

// persist writes the finished transcript to the server in the background. A
// session deleted mid-turn is reported but the local transcript is kept.
func (o *Orchestrator) persist(sessionID string) {
	o.mu.Lock()
	messages := make([]domain.Message, len(o.messages))
	copy(messages, o.messages)
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := o.api.UpdateSession(ctx, sessionID, domain.UpdateSessionRequest{
			Messages: &messages,
		}); err != nil {
			o.notifyError(err, "Failed to save the conversation")
		}
	}()
}

func (o *Orchestrator) setMessageContent(id, content string) {
	o.mu.Lock()
	for i := range o.messages {
		if o.messages[i].ID == id {
			o.messages[i].Content = content
			break
		}
	}
	o.mu.Unlock()
	o.update()
}

// rollback removes the optimistic messages of a failed turn.
func (o *Orchestrator) rollback(ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	o.mu.Lock()
	kept := o.messages[:0]
	for _, msg := range o.messages {
		if !drop[msg.ID] {
			kept = append(kept, msg)
		}
	}
	o.messages = kept
	o.mu.Unlock()
	o.update()
}

func (o *Orchestrator) update() {
	o.mu.Lock()
	fn := o.onUpdate
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (o *Orchestrator) notify(message string) {
	o.mu.Lock()
	fn := o.onNotify
	o.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}

// notifyError surfaces a failure notice unless the turn was cancelled.
func (o *Orchestrator) notifyError(err error, fallback string) {
	if domain.IsKind(err, domain.KindCancelled) {
		return
	}
	var de *domain.Error
	if errors.As(err, &de) && de.Kind != domain.KindTransport && de.Message != "" {
		o.notify(de.Message)
		return
	}
	o.notify(fallback)
}

var newlines = regexp.MustCompile(`\n+`)

// DeriveTitle builds a session title from the first message: newlines
// collapsed to spaces, truncated to 50 characters with an ellipsis.
func DeriveTitle(message string) string {
	title := strings.TrimSpace(newlines.ReplaceAllString(message, " "))
	if title == "" {
		return "New Chat"
	}
	runes := []rune(title)
	if len(runes) <= 50 {
		return title
	}
	return string(runes[:47]) + "..."
}

func newMessageID() string {
	return "msg_" + uuid.New().String()[:8]
}
