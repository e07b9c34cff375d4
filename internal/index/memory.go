package index

import (
	"context"
	"sort"
	"sync"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// memoryStore is the default in-process backend, used when no
// persistent store is configured and in tests.
type memoryStore struct {
	mu   sync.RWMutex
	docs map[string]*model.Document
}

// NewMemory creates an empty in-memory document store.
func NewMemory() Store {
	return &memoryStore{docs: make(map[string]*model.Document)}
}

func (s *memoryStore) Get(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	return &copied, nil
}

func (s *memoryStore) Put(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *memoryStore) List(_ context.Context, filter Filter) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []*model.Document
	for _, doc := range s.docs {
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		if filter.Bucket != "" && doc.RiskBucket != filter.Bucket {
			continue
		}
		if filter.MinConfidence > 0 && doc.Confidence < filter.MinConfidence {
			continue
		}
		copied := *doc
		docs = append(docs, &copied)
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Confidence != docs[j].Confidence {
			return docs[i].Confidence > docs[j].Confidence
		}
		return docs[i].ID < docs[j].ID
	})

	if filter.Limit > 0 {
		start := filter.Offset
		if start > len(docs) {
			start = len(docs)
		}
		end := start + filter.Limit
		if end > len(docs) {
			end = len(docs)
		}
		docs = docs[start:end]
	}
	return docs, nil
}

func (s *memoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.docs))
	for id := range s.docs {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

func (s *memoryStore) Close() error { return nil }
