package transport

import (
	"errors"
	"fmt"

	gosmtp "github.com/emersion/go-smtp"
)

// SendError is a relay rejection classified by its reply code.
type SendError struct {
	// Permanent is true for 5xx replies that will not succeed on retry.
	Permanent bool
	Code      int
	Message   string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("smtp %d: %s", e.Code, e.Message)
}

// IsPermanent reports whether err is a permanent relay rejection.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}

// classify converts a go-smtp reply error into a SendError. Other errors
// (network, TLS) are returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) {
		return fmt.Errorf("transport: %s: %w", op, err)
	}
	return fmt.Errorf("transport: %s: %w", op, &SendError{
		Permanent: smtpErr.Code >= 500 && smtpErr.Code < 600,
		Code:      smtpErr.Code,
		Message:   smtpErr.Message,
	})
}
