package sync

import (
	"maps"
	"sync"

	"github.com/wesm/issuemirror/internal/models"
)

// TokenStore persists the sync token of each repository and resource kind
type TokenStore interface {
	LoadTokens(repoID string) (map[models.ResourceKind]models.SyncToken, error)
	SaveToken(repoID string, kind models.ResourceKind, token models.SyncToken) error
	DeleteTokens(repoID string) error
}

// MemoryStore keeps sync tokens for the life of the process
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]map[models.ResourceKind]models.SyncToken
}

// NewMemoryStore creates an empty in-memory token store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]map[models.ResourceKind]models.SyncToken)}
}

func (s *MemoryStore) LoadTokens(repoID string) (map[models.ResourceKind]models.SyncToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.tokens[repoID]), nil
}

func (s *MemoryStore) SaveToken(repoID string, kind models.ResourceKind, token models.SyncToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens[repoID] == nil {
		s.tokens[repoID] = make(map[models.ResourceKind]models.SyncToken)
	}
	s.tokens[repoID][kind] = token
	return nil
}

func (s *MemoryStore) DeleteTokens(repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, repoID)
	return nil
}
