// Package templates stores the message templates campaigns are sent from.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/mailrunner/internal/blobstore"
)

// ErrNotFound is returned when no template has the requested id.
var ErrNotFound = errors.New("templates: not found")

// Content types.
const (
	ContentHTML = "html"
	ContentText = "text"
)

// Template is a stored message body with its subject and opt-out language.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	ContentType string    `json:"contentType"`
	Content     string    `json:"content"`
	OptOutLang  string    `json:"optOutLang,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the fields a client supplies.
func (t *Template) Validate() error {
	var errs []error
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(t.Subject) == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	switch t.ContentType {
	case ContentHTML, ContentText:
	default:
		errs = append(errs, fmt.Errorf("contentType must be %q or %q", ContentHTML, ContentText))
	}
	switch t.OptOutLang {
	case "", "de", "en":
	default:
		errs = append(errs, fmt.Errorf("optOutLang %q is not supported", t.OptOutLang))
	}
	return errors.Join(errs...)
}

const documentKey = "templates.json"

// Store keeps all templates in a single JSON document.
type Store struct {
	blobs blobstore.Store
	now   func() time.Time

	mu sync.Mutex
}

// NewStore creates a template Store on top of blobs.
func NewStore(blobs blobstore.Store) *Store {
	return &Store{blobs: blobs, now: time.Now}
}

func (s *Store) load(ctx context.Context) ([]Template, error) {
	data, err := s.blobs.Get(ctx, documentKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("templates: load: %w", err)
	}
	var ts []Template
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("templates: decode: %w", err)
	}
	return ts, nil
}

func (s *Store) save(ctx context.Context, ts []Template) error {
	if ts == nil {
		ts = []Template{}
	}
	data, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return fmt.Errorf("templates: encode: %w", err)
	}
	if err := s.blobs.Put(ctx, documentKey, data); err != nil {
		return fmt.Errorf("templates: save: %w", err)
	}
	return nil
}

// List returns all templates, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].UpdatedAt.After(ts[j].UpdatedAt)
	})
	if ts == nil {
		ts = []Template{}
	}
	return ts, nil
}

// Get returns the template with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ts {
		if ts[i].ID == id {
			return &ts[i], nil
		}
	}
	return nil, fmt.Errorf("templates: %s: %w", id, ErrNotFound)
}

// Create validates t, assigns an id and timestamps, and stores it.
func (s *Store) Create(ctx context.Context, t Template) (*Template, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	ts = append(ts, t)
	if err := s.save(ctx, ts); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update replaces the editable fields of the template with the given id.
func (s *Store) Update(ctx context.Context, id string, t Template) (*Template, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ts {
		if ts[i].ID != id {
			continue
		}
		ts[i].Name = t.Name
		ts[i].Subject = t.Subject
		ts[i].ContentType = t.ContentType
		ts[i].Content = t.Content
		ts[i].OptOutLang = t.OptOutLang
		ts[i].UpdatedAt = s.now().UTC()
		if err := s.save(ctx, ts); err != nil {
			return nil, err
		}
		updated := ts[i]
		return &updated, nil
	}
	return nil, fmt.Errorf("templates: %s: %w", id, ErrNotFound)
}

// Delete removes the template with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range ts {
		if ts[i].ID == id {
			ts = append(ts[:i], ts[i+1:]...)
			return s.save(ctx, ts)
		}
	}
	return fmt.Errorf("templates: %s: %w", id, ErrNotFound)
}
