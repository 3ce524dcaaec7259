// Package sendlog records every attempted send and unsubscribe event.
// Entries are never modified after they are appended.
package sendlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry statuses.
const (
	StatusPending      = "pending"
	StatusSent         = "sent"
	StatusFailed       = "failed"
	StatusUnsubscribed = "unsubscribed"
)

// Entry is one log record.
type Entry struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId,omitempty"`
	Email      string    `json:"email"`
	Subject    string    `json:"subject,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	MessageID  string    `json:"messageId,omitempty"`
}

// Store is an append-only log.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	// Recent returns the last n entries in the order they were appended.
	// n <= 0 returns every entry.
	Recent(ctx context.Context, n int) ([]Entry, error)
	Clear(ctx context.Context) error
}

// prepare fills in the id and timestamp when the caller left them empty.
func prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// Summary counts the outcomes of one campaign.
type Summary struct {
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	Unsubscribed int `json:"unsubscribed"`
}

// Summarize counts the entries tagged with campaignID.
func Summarize(entries []Entry, campaignID string) Summary {
	var s Summary
	for _, e := range entries {
		if e.CampaignID != campaignID {
			continue
		}
		switch e.Status {
		case StatusSent:
			s.Sent++
		case StatusFailed:
			s.Failed++
		case StatusUnsubscribed:
			s.Unsubscribed++
		}
	}
	return s
}

func tail(entries []Entry, n int) []Entry {
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
