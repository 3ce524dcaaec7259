package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// relay is an in-process SMTP server that records accepted messages.
type relay struct {
	username string
	password string
	// rejectRcpt maps recipient addresses to the reply returned for them.
	rejectRcpt map[string]*gosmtp.SMTPError
	// rcptEntered, when set, receives a value as RCPT arrives; the
	// session then waits for rcptRelease to close.
	rcptEntered chan struct{}
	rcptRelease chan struct{}

	mu       sync.Mutex
	messages []receivedMessage
}

type receivedMessage struct {
	from string
	to   []string
	data string
}

func (r *relay) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &relaySession{relay: r}, nil
}

func (r *relay) received() []receivedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedMessage(nil), r.messages...)
}

type relaySession struct {
	relay  *relay
	authed bool
	from   string
	to     []string
}

func (s *relaySession) AuthMechanisms() []string {
	if s.relay.username == "" {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *relaySession) Auth(_ string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.relay.username || password != s.relay.password {
			return &gosmtp.SMTPError{
				Code:         535,
				EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
				Message:      "Authentication failed",
			}
		}
		s.authed = true
		return nil
	}), nil
}

func (s *relaySession) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.relay.username != "" && !s.authed {
		return &gosmtp.SMTPError{
			Code:         530,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
			Message:      "Authentication required",
		}
	}
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.relay.rcptEntered != nil {
		s.relay.rcptEntered <- struct{}{}
		<-s.relay.rcptRelease
	}
	if reply, ok := s.relay.rejectRcpt[to]; ok {
		return reply
	}
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	s.relay.mu.Lock()
	defer s.relay.mu.Unlock()
	s.relay.messages = append(s.relay.messages, receivedMessage{from: s.from, to: s.to, data: buf.String()})
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error { return nil }

// startRelay serves r on a random loopback port and returns the port.
func startRelay(t *testing.T, r *relay) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := gosmtp.NewServer(r)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			t.Logf("relay stopped: %v", err)
		}
	}()
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().(*net.TCPAddr).Port
}
