package campaign

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoState is returned when no campaign has been started yet.
	ErrNoState = errors.New("campaign: no campaign state")
	// ErrCampaignActive is returned when a campaign is already running or
	// paused for quiet hours.
	ErrCampaignActive = errors.New("campaign: another campaign is active")
	// ErrNoRecipients is returned when the selection has no sendable address.
	ErrNoRecipients = errors.New("campaign: no recipients to send to")
	// ErrTemplateNotFound is returned when the campaign template is missing.
	ErrTemplateNotFound = errors.New("campaign: template not found")
	// ErrTransportUnavailable is returned when the relay cannot be reached.
	ErrTransportUnavailable = errors.New("campaign: mail transport unavailable")
	// ErrNotRunning is returned when there is nothing to cancel.
	ErrNotRunning = errors.New("campaign: no active campaign")
)

// QuietHoursError is returned by Resume inside the quiet window.
type QuietHoursError struct {
	Remaining time.Duration
}

func (e *QuietHoursError) Error() string {
	return fmt.Sprintf("campaign: quiet hours active, %s remaining", e.Remaining.Round(time.Minute))
}
