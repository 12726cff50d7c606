// Package provider wraps the remote completion API as a cancellable,
// pull-based fragment stream.
package provider

import (
	"context"

	"github.com/ezhao816/chatrelay/domain"
)

// Provider opens a completion stream for a new user message given the prior
// turns of the conversation.
type Provider interface {
	Open(ctx context.Context, message string, history []domain.Message) (Stream, error)
}

// Stream is an ordered sequence of text fragments produced by the provider.
// Recv returns io.EOF once generation has finished. Close releases the
// underlying connection and is safe to call more than once.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Ensure Client implements the Provider interface.
var _ Provider = (*Client)(nil)
