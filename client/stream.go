package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ezhao816/chatrelay/domain"
)

// ChatStream reads stream fragments off a live chat response. It implements
// domain.FragmentStream.
type ChatStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
	closed bool
}

var _ domain.FragmentStream = (*ChatStream)(nil)

func newChatStream(ctx context.Context, body io.ReadCloser) *ChatStream {
	return &ChatStream{
		ctx:    ctx,
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Recv returns the next fragment. The terminal fragment is either Done or an
// in-band error frame; after it, Recv returns io.EOF. A connection that drops
// before the terminal frame surfaces as a transport error.
func (s *ChatStream) Recv() (domain.StreamFragment, error) {
	if s.done {
		return domain.StreamFragment{}, io.EOF
	}

	for {
		if err := s.ctx.Err(); err != nil {
			return domain.StreamFragment{}, domain.NewCancelledError()
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if s.ctx.Err() != nil {
				return domain.StreamFragment{}, domain.NewCancelledError()
			}
			if err == io.EOF {
				return domain.StreamFragment{}, domain.NewTransportError(fmt.Errorf("stream ended before completion"))
			}
			return domain.StreamFragment{}, domain.NewTransportError(err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return domain.StreamFragment{Done: true}, nil
		}

		var frag domain.StreamFragment
		if err := json.Unmarshal([]byte(data), &frag); err != nil {
			continue
		}
		if frag.Error != "" {
			s.done = true
		}
		return frag, nil
	}
}

// Close releases the underlying connection.
func (s *ChatStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
