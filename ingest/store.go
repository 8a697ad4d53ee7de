package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docsift/docsift/core"
)

// ContentRetention is how long full document content stays in the side store
// waiting for the external indexing pipeline.
const ContentRetention = time.Hour

// MetadataStore persists TTLDocument records and the short-lived content
// side store. ExpiredDocuments is the query interface the external cleanup
// job runs on.
type MetadataStore interface {
	SaveDocument(ctx context.Context, doc *TTLDocument) error
	GetDocument(ctx context.Context, contentID string) (*TTLDocument, error)
	DeleteDocument(ctx context.Context, contentID string) error
	// ExpiredDocuments lists content ids whose TTL elapsed at or before now.
	ExpiredDocuments(ctx context.Context, now time.Time, limit int) ([]string, error)
	// ListDocuments enumerates known content ids, expiry order.
	ListDocuments(ctx context.Context, limit int) ([]string, error)
	PutContent(ctx context.Context, contentID, content string) error
	GetContent(ctx context.Context, contentID string) (string, error)
}

// MemoryMetadataStore is the in-process store for tests and single-node use.
type MemoryMetadataStore struct {
	mu      sync.RWMutex
	docs    map[string]*TTLDocument
	content map[string]contentEntry
}

type contentEntry struct {
	body      string
	expiresAt time.Time
}

func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		docs:    make(map[string]*TTLDocument),
		content: make(map[string]contentEntry),
	}
}

func (s *MemoryMetadataStore) SaveDocument(ctx context.Context, doc *TTLDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ContentID] = &cp
	return nil
}

func (s *MemoryMetadataStore) GetDocument(ctx context.Context, contentID string) (*TTLDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[contentID]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, contentID)
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryMetadataStore) DeleteDocument(ctx context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, contentID)
	delete(s.content, contentID)
	return nil
}

func (s *MemoryMetadataStore) ExpiredDocuments(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, doc := range s.docs {
		if !doc.ExpiresAt.After(now) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryMetadataStore) ListDocuments(ctx context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryMetadataStore) PutContent(ctx context.Context, contentID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[contentID] = contentEntry{body: content, expiresAt: time.Now().Add(ContentRetention)}
	return nil
}

func (s *MemoryMetadataStore) GetContent(ctx context.Context, contentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.content[contentID]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", fmt.Errorf("%w: content %s", core.ErrNotFound, contentID)
	}
	return entry.body, nil
}

// RedisMetadataStore is the shared store. Documents live under "ttl:doc:<id>"
// with a sorted-set expiry index; content lives under "ttl:content:<id>" with
// the one-hour retention applied natively.
type RedisMetadataStore struct {
	client *core.RedisClient
	logger core.Logger
}

const expiryIndexKey = "ttl:expiry"

func NewRedisMetadataStore(client *core.RedisClient, logger core.Logger) *RedisMetadataStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisMetadataStore{client: client, logger: logger}
}

func docKey(contentID string) string     { return "ttl:doc:" + contentID }
func contentKey(contentID string) string { return "ttl:content:" + contentID }

func (s *RedisMetadataStore) SaveDocument(ctx context.Context, doc *TTLDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("document marshal failed: %w", err)
	}
	if err := s.client.Set(ctx, docKey(doc.ContentID), string(data), 0); err != nil {
		return fmt.Errorf("document save failed: %w", err)
	}
	if err := s.client.ZAdd(ctx, expiryIndexKey, float64(doc.ExpiresAt.Unix()), doc.ContentID); err != nil {
		return fmt.Errorf("expiry index update failed: %w", err)
	}
	return nil
}

func (s *RedisMetadataStore) GetDocument(ctx context.Context, contentID string) (*TTLDocument, error) {
	data, err := s.client.Get(ctx, docKey(contentID))
	if err != nil {
		return nil, fmt.Errorf("document fetch failed: %w", err)
	}
	if data == "" {
		return nil, fmt.Errorf("%w: document %s", core.ErrNotFound, contentID)
	}
	var doc TTLDocument
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("document unmarshal failed: %w", err)
	}
	return &doc, nil
}

func (s *RedisMetadataStore) DeleteDocument(ctx context.Context, contentID string) error {
	if err := s.client.Delete(ctx, docKey(contentID)); err != nil {
		return err
	}
	if err := s.client.ZRem(ctx, expiryIndexKey, contentID); err != nil {
		return err
	}
	return s.client.Delete(ctx, contentKey(contentID))
}

func (s *RedisMetadataStore) ExpiredDocuments(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, expiryIndexKey, 0, float64(now.Unix()))
	if err != nil {
		return nil, fmt.Errorf("expiry scan failed: %w", err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *RedisMetadataStore) ListDocuments(ctx context.Context, limit int) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, expiryIndexKey, 0, float64(time.Now().AddDate(10, 0, 0).Unix()))
	if err != nil {
		return nil, fmt.Errorf("document scan failed: %w", err)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *RedisMetadataStore) PutContent(ctx context.Context, contentID, content string) error {
	return s.client.Set(ctx, contentKey(contentID), content, ContentRetention)
}

func (s *RedisMetadataStore) GetContent(ctx context.Context, contentID string) (string, error) {
	body, err := s.client.Get(ctx, contentKey(contentID))
	if err != nil {
		return "", fmt.Errorf("content fetch failed: %w", err)
	}
	if body == "" {
		return "", fmt.Errorf("%w: content %s", core.ErrNotFound, contentID)
	}
	return body, nil
}
