package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sungwon/mailrunner/internal/blobstore"
)

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusRunning          Status = "running"
	StatusPausedQuietHours Status = "paused_quiet_hours"
	StatusComplete         Status = "complete"
	StatusCancelled        Status = "cancelled"
)

// State is the persisted record that makes a campaign resumable. Only one
// exists at a time; starting a campaign replaces it.
type State struct {
	CampaignID      string   `json:"campaignId"`
	TemplateID      string   `json:"templateId"`
	ListRef         string   `json:"listRef"`
	OptOutLang      string   `json:"optOutLang,omitempty"`
	TotalRecipients int      `json:"totalRecipients"`
	SentEmails      []string `json:"sentEmails"`
	CurrentIndex    int      `json:"currentIndex"`
	Status          Status   `json:"status"`

	// Selection restricts the campaign to these addresses. Empty means the
	// whole list.
	Selection []string `json:"selection,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	PausedAt    *time.Time `json:"pausedAt,omitempty"`
	ResumedAt   *time.Time `json:"resumedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

// Active reports whether the campaign still holds the single campaign slot.
func (s *State) Active() bool {
	return s.Status == StatusRunning || s.Status == StatusPausedQuietHours
}

func (s *State) clone() *State {
	c := *s
	c.SentEmails = append([]string(nil), s.SentEmails...)
	c.Selection = append([]string(nil), s.Selection...)
	return &c
}

const stateKey = "campaign_state.json"

// StateStore persists the campaign State as one JSON document.
type StateStore struct {
	blobs blobstore.Store

	mu sync.Mutex
}

// NewStateStore creates a StateStore on top of blobs.
func NewStateStore(blobs blobstore.Store) *StateStore {
	return &StateStore{blobs: blobs}
}

// Load returns the persisted state or ErrNoState.
func (s *StateStore) Load(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.blobs.Get(ctx, stateKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("campaign: load state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("campaign: decode state: %w", err)
	}
	return &st, nil
}

// Save replaces the persisted state.
func (s *StateStore) Save(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("campaign: encode state: %w", err)
	}
	if err := s.blobs.Put(ctx, stateKey, data); err != nil {
		return fmt.Errorf("campaign: save state: %w", err)
	}
	return nil
}
