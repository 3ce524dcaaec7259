package recipients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sungwon/mailrunner/internal/blobstore"
)

const listPrefix = "lists/"

// JSONStore keeps each list as a JSON array document in a blob store. Every
// mutation rewrites the whole document, so readers never see a partial
// update.
type JSONStore struct {
	blobs blobstore.Store
	now   func() time.Time

	mu sync.Mutex
}

// NewJSONStore creates a JSONStore on top of blobs.
func NewJSONStore(blobs blobstore.Store) *JSONStore {
	return &JSONStore{blobs: blobs, now: time.Now}
}

func listKey(list string) (string, error) {
	if list == "" || strings.ContainsAny(list, `/\`) || strings.HasPrefix(list, ".") {
		return "", fmt.Errorf("recipients: invalid list name %q", list)
	}
	return listPrefix + list + ".json", nil
}

func (s *JSONStore) load(ctx context.Context, list string) ([]Recipient, error) {
	key, err := listKey(list)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("recipients: list %q: %w", list, ErrNotFound)
		}
		return nil, fmt.Errorf("recipients: load %s: %w", list, err)
	}

	var rs []Recipient
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("recipients: decode %s: %w", list, err)
	}
	for i := range rs {
		rs[i].Row = i
	}
	return rs, nil
}

func (s *JSONStore) save(ctx context.Context, list string, rs []Recipient) error {
	key, err := listKey(list)
	if err != nil {
		return err
	}
	if rs == nil {
		rs = []Recipient{}
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("recipients: encode %s: %w", list, err)
	}
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("recipients: save %s: %w", list, err)
	}
	return nil
}

// ListAll returns every recipient in storage order.
func (s *JSONStore) ListAll(ctx context.Context, list string) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, list)
}

// ListPending returns the recipients with no status, no sent timestamp and no
// unsubscribe, in storage order.
func (s *JSONStore) ListPending(ctx context.Context, list string) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.load(ctx, list)
	if err != nil {
		return nil, err
	}
	pending := make([]Recipient, 0, len(rs))
	for _, r := range rs {
		if r.Pending() {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// FindByEmail looks up a recipient by address, ignoring case and surrounding
// whitespace.
func (s *JSONStore) FindByEmail(ctx context.Context, list, email string) (Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.load(ctx, list)
	if err != nil {
		return Recipient{}, err
	}
	want := NormalizeEmail(email)
	for _, r := range rs {
		if NormalizeEmail(r.Email) == want {
			return r, nil
		}
	}
	return Recipient{}, fmt.Errorf("recipients: %s in %q: %w", email, list, ErrNotFound)
}

// mutate applies fn to the row and writes the list back.
func (s *JSONStore) mutate(ctx context.Context, list string, row int, fn func(*Recipient)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.load(ctx, list)
	if err != nil {
		return err
	}
	if row < 0 || row >= len(rs) {
		return fmt.Errorf("recipients: row %d in %q: %w", row, list, ErrNotFound)
	}
	fn(&rs[row])
	return s.save(ctx, list, rs)
}

// mutateEmail applies fn to the row currently holding email and writes the
// list back. The row is located under the store lock, so edits to the list
// between a lookup and the write cannot redirect it.
func (s *JSONStore) mutateEmail(ctx context.Context, list, email string, fn func(*Recipient)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.load(ctx, list)
	if err != nil {
		return err
	}
	want := NormalizeEmail(email)
	for i := range rs {
		if NormalizeEmail(rs[i].Email) == want {
			fn(&rs[i])
			return s.save(ctx, list, rs)
		}
	}
	return fmt.Errorf("recipients: %s in %q: %w", email, list, ErrNotFound)
}

// UpdateStatus records status together with a fresh sent timestamp.
func (s *JSONStore) UpdateStatus(ctx context.Context, list string, row int, status string) error {
	now := s.now().UTC()
	return s.mutate(ctx, list, row, func(r *Recipient) {
		r.Status = status
		r.SentAt = &now
	})
}

// UpdateStatusByEmail is UpdateStatus for the recipient with the given
// address, wherever it sits in the list at write time.
func (s *JSONStore) UpdateStatusByEmail(ctx context.Context, list, email, status string) error {
	now := s.now().UTC()
	return s.mutateEmail(ctx, list, email, func(r *Recipient) {
		r.Status = status
		r.SentAt = &now
	})
}

// MarkUnsubscribed stamps the opt-out time on the row. A recipient that is
// already unsubscribed keeps its original timestamp.
func (s *JSONStore) MarkUnsubscribed(ctx context.Context, list string, row int) error {
	now := s.now().UTC()
	return s.mutate(ctx, list, row, func(r *Recipient) {
		if r.Unsubscribed == nil {
			r.Unsubscribed = &now
		}
	})
}

// MarkUnsubscribedByEmail is MarkUnsubscribed for the recipient with the
// given address.
func (s *JSONStore) MarkUnsubscribedByEmail(ctx context.Context, list, email string) error {
	now := s.now().UTC()
	return s.mutateEmail(ctx, list, email, func(r *Recipient) {
		if r.Unsubscribed == nil {
			r.Unsubscribed = &now
		}
	})
}

// ResetStatus clears status and sent timestamp on the given rows so they
// become pending again. Unsubscribe stamps are kept.
func (s *JSONStore) ResetStatus(ctx context.Context, list string, rows []int) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.load(ctx, list)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row < 0 || row >= len(rs) {
			return fmt.Errorf("recipients: row %d in %q: %w", row, list, ErrNotFound)
		}
		rs[row].Status = ""
		rs[row].SentAt = nil
	}
	return s.save(ctx, list, rs)
}

// Lists returns a summary of every stored list ordered by name.
func (s *JSONStore) Lists(ctx context.Context) ([]ListInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.blobs.List(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("recipients: list documents: %w", err)
	}

	infos := make([]ListInfo, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(key, listPrefix), ".json")
		if name == "" || strings.Contains(name, "/") || !strings.HasSuffix(key, ".json") {
			continue
		}
		rs, err := s.load(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, Summarize(name, rs))
	}
	return infos, nil
}

// Replace stores emails as the new content of list. Addresses are trimmed and
// de-duplicated case-insensitively; addresses already present keep their
// status and unsubscribe stamp.
func (s *JSONStore) Replace(ctx context.Context, list string, emails []string) ([]Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]Recipient)
	current, err := s.load(ctx, list)
	switch {
	case err == nil:
		for _, r := range current {
			existing[NormalizeEmail(r.Email)] = r
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}

	seen := make(map[string]bool, len(emails))
	out := make([]Recipient, 0, len(emails))
	for _, raw := range emails {
		email := strings.TrimSpace(raw)
		norm := NormalizeEmail(email)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true

		r, ok := existing[norm]
		if !ok {
			r = Recipient{Email: email}
		}
		r.Row = len(out)
		out = append(out, r)
	}

	if err := s.save(ctx, list, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the list document.
func (s *JSONStore) Delete(ctx context.Context, list string) error {
	key, err := listKey(list)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.blobs.Get(ctx, key); errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("recipients: list %q: %w", list, ErrNotFound)
	}
	if err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("recipients: delete %s: %w", list, err)
	}
	return nil
}
