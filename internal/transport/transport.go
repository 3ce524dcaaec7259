// Package transport delivers a single rendered message to one recipient.
package transport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/config"
)

// Transport sends one message per call and never retries.
type Transport interface {
	// Verify probes the relay without sending anything. A nil error means
	// the transport is usable.
	Verify(ctx context.Context) error
	// Send delivers msg and returns the Message-ID it was sent with.
	Send(ctx context.Context, msg *Message) (string, error)
	// Name returns the transport identifier ("smtp", "file", "stdout").
	Name() string
}

// Message is one outbound email. Text is derived from HTML when empty.
type Message struct {
	To             string
	Subject        string
	HTML           string
	Text           string
	UnsubscribeURL string
}

// New creates the transport selected by cfg.Type.
func New(cfg config.SMTPConfig, log zerolog.Logger) (Transport, error) {
	switch cfg.Type {
	case "", "smtp":
		return NewSMTP(cfg, log), nil
	case "file":
		return NewFile(cfg), nil
	case "stdout":
		return NewStdout(cfg), nil
	default:
		return nil, fmt.Errorf("transport: unsupported type %q", cfg.Type)
	}
}
