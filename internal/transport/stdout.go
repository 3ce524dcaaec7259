package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sungwon/mailrunner/internal/config"
)

// Stdout prints a summary of each message instead of delivering it.
// Intended for development and debugging.
type Stdout struct {
	from   string
	writer io.Writer
}

// NewStdout creates a Stdout transport writing to os.Stdout.
func NewStdout(cfg config.SMTPConfig) *Stdout {
	return &Stdout{from: cfg.From, writer: os.Stdout}
}

func (s *Stdout) Name() string { return "stdout" }

// Verify always succeeds.
func (s *Stdout) Verify(_ context.Context) error { return nil }

// Send prints the envelope and body sizes.
func (s *Stdout) Send(_ context.Context, msg *Message) (string, error) {
	messageID := "<" + newMessageID(s.from) + ">"

	var b strings.Builder
	b.WriteString("--- stdout transport: message ---\n")
	fmt.Fprintf(&b, "Message-ID: %s\n", messageID)
	fmt.Fprintf(&b, "From:       %s\n", s.from)
	fmt.Fprintf(&b, "To:         %s\n", msg.To)
	fmt.Fprintf(&b, "Subject:    %s\n", msg.Subject)
	if msg.UnsubscribeURL != "" {
		fmt.Fprintf(&b, "Unsubscribe: %s\n", msg.UnsubscribeURL)
	}
	fmt.Fprintf(&b, "HTML:       (%d bytes)\n", len(msg.HTML))
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return "", fmt.Errorf("transport: stdout write: %w", err)
	}
	return messageID, nil
}
