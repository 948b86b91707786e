package documents

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string]Document)}
}

func (s *InMemoryStore) Attach(_ context.Context, doc Document) error {
	if doc.AttachedAt.IsZero() {
		doc.AttachedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.docs[doc.SessionID] = doc
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sessionID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[sessionID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *InMemoryStore) Detach(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.docs, sessionID)
	return nil
}

func (s *InMemoryStore) Close() {}
