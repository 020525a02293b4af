package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"covenant/internal/notices/models"
	"covenant/internal/sentinel"
)

// InMemoryStore keeps notices in memory for tests and development.
type InMemoryStore struct {
	mu      sync.RWMutex
	notices map[uuid.UUID]*models.Notice
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{notices: make(map[uuid.UUID]*models.Notice)}
}

func (s *InMemoryStore) Save(_ context.Context, notice *models.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if notice.CreatedAt.IsZero() {
		notice.CreatedAt = now
	}
	notice.UpdatedAt = now
	s.notices[notice.ID] = copyNotice(notice)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notice, ok := s.notices[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyNotice(notice), nil
}

func (s *InMemoryStore) ListForPair(_ context.Context, providerURL, consumerURL string) ([]models.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Notice
	for _, notice := range s.notices {
		if notice.DataProvider == providerURL && notice.CoversRecipient(consumerURL) {
			result = append(result, *copyNotice(notice))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Clear removes all notices. Test helper.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	s.notices = make(map[uuid.UUID]*models.Notice)
	s.mu.Unlock()
}

func copyNotice(n *models.Notice) *models.Notice {
	copied := *n
	copied.Recipients = append([]string(nil), n.Recipients...)
	copied.Purposes = append([]models.PurposeEntry(nil), n.Purposes...)
	copied.Data = append([]models.DataEntry(nil), n.Data...)
	copied.PIIPrincipalRights = append([]string(nil), n.PIIPrincipalRights...)
	return &copied
}

var _ Store = (*InMemoryStore)(nil)
