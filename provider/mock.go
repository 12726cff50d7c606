package provider

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ezhao816/chatrelay/domain"
)

// ScriptedProvider replays a fixed fragment script, optionally failing
// part-way through. Used by tests in place of the remote API.
type ScriptedProvider struct {
	Fragments []string
	// FailAfter injects FailErr after that many fragments have been
	// delivered; negative disables injection.
	FailAfter int
	FailErr   error
	// OpenErr, when set, fails Open before any stream is produced.
	OpenErr error
	// Delay is applied before each fragment is handed out.
	Delay time.Duration

	mu       sync.Mutex
	opens    int
	lastMsg  string
	lastHist []domain.Message
}

// NewScriptedProvider creates a provider that emits the given fragments then
// completes.
func NewScriptedProvider(fragments ...string) *ScriptedProvider {
	return &ScriptedProvider{Fragments: fragments, FailAfter: -1}
}

// Ensure ScriptedProvider implements the Provider interface.
var _ Provider = (*ScriptedProvider)(nil)

// Open records the request and returns a stream over the script.
func (p *ScriptedProvider) Open(ctx context.Context, message string, history []domain.Message) (Stream, error) {
	p.mu.Lock()
	p.opens++
	p.lastMsg = message
	p.lastHist = history
	p.mu.Unlock()

	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	return &scriptedStream{
		ctx:       ctx,
		fragments: p.Fragments,
		failAfter: p.FailAfter,
		failErr:   p.FailErr,
		delay:     p.Delay,
	}, nil
}

// Opens reports how many streams were opened.
func (p *ScriptedProvider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// LastRequest returns the message and history of the most recent Open call.
func (p *ScriptedProvider) LastRequest() (string, []domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastMsg, p.lastHist
}

type scriptedStream struct {
	ctx       context.Context
	fragments []string
	failAfter int
	failErr   error
	delay     time.Duration
	idx       int
	closed    bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-timer.C:
		}
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.failAfter >= 0 && s.idx == s.failAfter {
		return "", s.failErr
	}
	if s.idx >= len(s.fragments) {
		return "", io.EOF
	}
	frag := s.fragments[s.idx]
	s.idx++
	return frag, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}
