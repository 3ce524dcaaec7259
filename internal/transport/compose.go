package transport

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/sungwon/mailrunner/internal/render"
)

// compose builds the MIME message: a text/plain body with an HTML
// alternative, a fresh Message-ID on the sender's domain and one-click
// unsubscribe headers.
func compose(from, fromName string, msg *Message) (*mail.Msg, string, error) {
	m := mail.NewMsg()

	var err error
	if fromName != "" {
		err = m.FromFormat(fromName, from)
	} else {
		err = m.From(from)
	}
	if err != nil {
		return nil, "", fmt.Errorf("transport: invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, "", fmt.Errorf("transport: invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()

	messageID := newMessageID(from)
	m.SetMessageIDWithValue(messageID)

	text := msg.Text
	if text == "" {
		text = render.PlainText(msg.HTML)
	}
	m.SetBodyString(mail.TypeTextPlain, text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}

	if msg.UnsubscribeURL != "" {
		m.SetGenHeader(mail.Header("List-Unsubscribe"), "<"+msg.UnsubscribeURL+">")
		m.SetGenHeader(mail.Header("List-Unsubscribe-Post"), "List-Unsubscribe=One-Click")
	}

	return m, "<" + messageID + ">", nil
}

func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

// writeMessage composes msg and writes it in wire format to w.
func writeMessage(w io.Writer, from, fromName string, msg *Message) (string, error) {
	m, id, err := compose(from, fromName, msg)
	if err != nil {
		return "", err
	}
	if _, err := m.WriteTo(w); err != nil {
		return "", fmt.Errorf("transport: write message: %w", err)
	}
	return id, nil
}
