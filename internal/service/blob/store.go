// Package blob keeps recorded audio in memory behind transient URLs.
package blob

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmpty is returned when storing zero bytes.
	ErrEmpty = errors.New("blob: empty data")
	// ErrTooLarge is returned when data exceeds the store limit.
	ErrTooLarge = errors.New("blob: data too large")
)

// DefaultMaxBytes bounds a single recording.
const DefaultMaxBytes = 10 << 20

// Blob is one stored object.
type Blob struct {
	ID          string
	Owner       string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Store maps ids to blobs and tracks which session owns each one.
type Store struct {
	mu       sync.RWMutex
	baseURL  string
	maxBytes int
	blobs    map[string]*Blob
	byOwner  map[string][]string
}

// NewStore creates a store whose URLs are rooted at baseURL (for example
// "https://host/api/blobs"). An empty baseURL yields relative paths.
func NewStore(baseURL string, maxBytes int) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		blobs:    make(map[string]*Blob),
		byOwner:  make(map[string][]string),
	}
}

// Put stores data for owner and returns its URL.
func (s *Store) Put(owner string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > s.maxBytes {
		return "", ErrTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b := &Blob{
		ID:          uuid.NewString(),
		Owner:       owner,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	s.blobs[b.ID] = b
	s.byOwner[owner] = append(s.byOwner[owner], b.ID)
	s.mu.Unlock()

	return s.URL(b.ID), nil
}

// URL returns the public URL of id.
func (s *Store) URL(id string) string {
	return s.baseURL + "/" + id
}

// Get returns the blob stored under id.
func (s *Store) Get(id string) (*Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id]
	return b, ok
}

// ReleaseOwner drops every blob owned by owner and returns how many were freed.
func (s *Store) ReleaseOwner(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byOwner[owner]
	for _, id := range ids {
		delete(s.blobs, id)
	}
	delete(s.byOwner, owner)
	return len(ids)
}

// Len reports the number of stored blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
