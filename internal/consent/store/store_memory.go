package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"covenant/internal/consent/models"
	noticemodels "covenant/internal/notices/models"
	"covenant/internal/sentinel"
)

// InMemoryStore keeps consent records in memory for tests and development.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[uuid.UUID]*models.Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record *models.Record) error {
	if err := models.Validate(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return sentinel.ErrConflict
	}
	// The same uniqueness the postgres store enforces on the grant tuple:
	// one record per notice, user and identifier pair once a user is bound.
	if record.UserID != uuid.Nil {
		for _, existing := range s.records {
			if existing.PrivacyNoticeID == record.PrivacyNoticeID &&
				existing.UserID == record.UserID &&
				existing.ProviderUserIdentifierID == record.ProviderUserIdentifierID &&
				existing.ConsumerUserIdentifierID == record.ConsumerUserIdentifierID &&
				existing.DataProviderID == record.DataProviderID {
				return sentinel.ErrConflict
			}
		}
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.records[record.ID] = copyRecord(record)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, record *models.Record) error {
	if err := models.Validate(record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		return sentinel.ErrNotFound
	}
	record.UpdatedAt = time.Now().UTC()
	s.records[record.ID] = copyRecord(record)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *InMemoryStore) FindByIDForUser(_ context.Context, id, userID uuid.UUID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok || record.UserID != userID {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *InMemoryStore) FindByTuple(_ context.Context, tuple Tuple) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.records {
		if record.PrivacyNoticeID == tuple.PrivacyNoticeID &&
			record.UserID == tuple.UserID &&
			record.ProviderUserIdentifierID == tuple.ProviderUserIdentifierID &&
			record.ConsumerUserIdentifierID == tuple.ConsumerUserIdentifierID &&
			record.DataProviderID == tuple.DataProviderID {
			return copyRecord(record), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListForUser(_ context.Context, userID uuid.UUID) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Record
	for _, record := range s.records {
		if record.UserID == userID {
			result = append(result, *copyRecord(record))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Clear removes all records. Test helper.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	s.records = make(map[uuid.UUID]*models.Record)
	s.mu.Unlock()
}

func copyRecord(r *models.Record) *models.Record {
	copied := *r
	copied.Recipients = append([]string(nil), r.Recipients...)
	copied.Purposes = append([]noticemodels.PurposeEntry(nil), r.Purposes...)
	copied.Data = append([]noticemodels.DataEntry(nil), r.Data...)
	return &copied
}

var _ Store = (*InMemoryStore)(nil)
