// Package recipients keeps the per-list recipient records a campaign sends to
// and the delivery status written back after each attempt.
package recipients

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a list, row or address does not exist.
var ErrNotFound = errors.New("recipients: not found")

// StatusSent marks a recipient that was delivered to the relay.
const StatusSent = "SENT"

const failedPrefix = "FAILED:"

// FailedStatus returns the status string recorded for a failed attempt.
func FailedStatus(reason string) string {
	return failedPrefix + reason
}

// IsFailed reports whether status records a failed attempt.
func IsFailed(status string) bool {
	return strings.HasPrefix(status, failedPrefix)
}

// Recipient is one address within a named list. Row is its position in the
// list and the handle used for targeted updates.
type Recipient struct {
	Row          int        `json:"-"`
	Email        string     `json:"email"`
	Status       string     `json:"status,omitempty"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	Unsubscribed *time.Time `json:"unsubscribed,omitempty"`
}

// Pending reports whether the recipient is still eligible for sending.
func (r Recipient) Pending() bool {
	return r.Status == "" && r.SentAt == nil && r.Unsubscribed == nil
}

// IsUnsubscribed reports whether the recipient opted out.
func (r Recipient) IsUnsubscribed() bool {
	return r.Unsubscribed != nil
}

// ListInfo summarises one list for listing endpoints.
type ListInfo struct {
	Name         string `json:"name"`
	Total        int    `json:"total"`
	Pending      int    `json:"pending"`
	Sent         int    `json:"sent"`
	Failed       int    `json:"failed"`
	Unsubscribed int    `json:"unsubscribed"`
}

// Store is the recipient storage contract the campaign engine and the HTTP
// layer depend on.
type Store interface {
	ListAll(ctx context.Context, list string) ([]Recipient, error)
	ListPending(ctx context.Context, list string) ([]Recipient, error)
	FindByEmail(ctx context.Context, list, email string) (Recipient, error)
	UpdateStatus(ctx context.Context, list string, row int, status string) error
	UpdateStatusByEmail(ctx context.Context, list, email, status string) error
	MarkUnsubscribed(ctx context.Context, list string, row int) error
	MarkUnsubscribedByEmail(ctx context.Context, list, email string) error
	ResetStatus(ctx context.Context, list string, rows []int) error
	Lists(ctx context.Context) ([]ListInfo, error)
	Replace(ctx context.Context, list string, emails []string) ([]Recipient, error)
	Delete(ctx context.Context, list string) error
}

// NormalizeEmail trims and lower-cases an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Summarize counts the recipients of a list by status.
func Summarize(name string, rs []Recipient) ListInfo {
	info := ListInfo{Name: name, Total: len(rs)}
	for _, r := range rs {
		switch {
		case r.IsUnsubscribed():
			info.Unsubscribed++
		case r.Status == StatusSent:
			info.Sent++
		case IsFailed(r.Status):
			info.Failed++
		case r.Pending():
			info.Pending++
		}
	}
	return info
}
