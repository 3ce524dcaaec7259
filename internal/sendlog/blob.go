package sendlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sungwon/mailrunner/internal/blobstore"
)

const documentKey = "send_log.json"

// BlobStore keeps the log as a single JSON array document that is rewritten
// on every append.
type BlobStore struct {
	blobs blobstore.Store

	mu sync.Mutex
}

// NewBlobStore creates a log on top of blobs.
func NewBlobStore(blobs blobstore.Store) *BlobStore {
	return &BlobStore{blobs: blobs}
}

func (s *BlobStore) load(ctx context.Context) ([]Entry, error) {
	data, err := s.blobs.Get(ctx, documentKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sendlog: load: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("sendlog: decode: %w", err)
	}
	return entries, nil
}

func (s *BlobStore) save(ctx context.Context, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("sendlog: encode: %w", err)
	}
	if err := s.blobs.Put(ctx, documentKey, data); err != nil {
		return fmt.Errorf("sendlog: save: %w", err)
	}
	return nil
}

// Append adds e to the end of the log.
func (s *BlobStore) Append(ctx context.Context, e Entry) (Entry, error) {
	e = prepare(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return Entry{}, err
	}
	if err := s.save(ctx, append(entries, e)); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Recent returns the last n entries in append order.
func (s *BlobStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return tail(entries, n), nil
}

// Clear empties the log.
func (s *BlobStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, nil)
}
