package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailrunner/internal/config"
)

const defaultTimeout = 30 * time.Second

// SMTP delivers messages to a relay over SMTP. Every Send opens its own
// connection so that a broken session never leaks into the next recipient.
type SMTP struct {
	cfg config.SMTPConfig
	log zerolog.Logger
}

// NewSMTP creates an SMTP transport for the configured relay.
func NewSMTP(cfg config.SMTPConfig, log zerolog.Logger) *SMTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TLS == "" {
		cfg.TLS = "starttls"
	}
	return &SMTP{cfg: cfg, log: log.With().Str("component", "smtp_transport").Logger()}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *SMTP) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify, //nolint:gosec // Opt-in for relays with self-signed certs.
		MinVersion:         tls.VersionTLS12,
	}
}

// connect dials the relay, greets it, upgrades to TLS and authenticates as
// configured.
func (s *SMTP) connect(ctx context.Context) (*gosmtp.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	dialer := &net.Dialer{}
	var (
		conn net.Conn
		err  error
	)
	switch s.cfg.TLS {
	case "tls":
		td := &tls.Dialer{NetDialer: dialer, Config: s.tlsConfig()}
		conn, err = td.DialContext(ctx, "tcp", s.addr())
	default:
		conn, err = dialer.DialContext(ctx, "tcp", s.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", s.addr(), err)
	}

	c := gosmtp.NewClient(conn)
	c.CommandTimeout = s.cfg.Timeout
	c.SubmissionTimeout = s.cfg.Timeout

	helo := s.cfg.Helo
	if helo == "" {
		helo = "localhost"
	}
	if err := c.Hello(helo); err != nil {
		c.Close()
		return nil, classify("hello", err)
	}

	if s.cfg.TLS == "starttls" {
		if err := c.StartTLS(s.tlsConfig()); err != nil {
			c.Close()
			return nil, classify("starttls", err)
		}
	}

	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			c.Close()
			return nil, errors.New("transport: relay does not support AUTH")
		}
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, classify("auth", err)
		}
	}

	return c, nil
}

// Verify connects, authenticates and issues NOOP and QUIT.
func (s *SMTP) Verify(ctx context.Context) error {
	c, err := s.connect(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", s.addr()).Msg("relay verification failed")
		return err
	}
	defer c.Close()

	if err := c.Noop(); err != nil {
		return classify("noop", err)
	}
	if err := c.Quit(); err != nil {
		return classify("quit", err)
	}
	s.log.Debug().Str("addr", s.addr()).Msg("relay verified")
	return nil
}

// Send delivers one message in its own SMTP session. Cancelling ctx closes
// the connection, aborting whichever command is in flight.
func (s *SMTP) Send(ctx context.Context, msg *Message) (string, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return "", err
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	messageID, err := s.deliver(c, msg)
	if err != nil && ctx.Err() != nil {
		return "", fmt.Errorf("transport: send interrupted: %w", ctx.Err())
	}
	return messageID, err
}

func (s *SMTP) deliver(c *gosmtp.Client, msg *Message) (string, error) {
	if err := c.Mail(s.cfg.From, nil); err != nil {
		return "", classify("mail from", err)
	}
	if err := c.Rcpt(msg.To, nil); err != nil {
		return "", classify("rcpt to", err)
	}

	w, err := c.Data()
	if err != nil {
		return "", classify("data", err)
	}
	messageID, err := writeMessage(w, s.cfg.From, s.cfg.FromName, msg)
	if err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", classify("end data", err)
	}

	if err := c.Quit(); err != nil {
		s.log.Debug().Err(err).Msg("quit after send failed")
	}

	s.log.Debug().
		Str("to", msg.To).
		Str("message_id", messageID).
		Msg("message accepted by relay")
	return messageID, nil
}
