package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"covenant/internal/identity/models"
	"covenant/internal/sentinel"
)

// InMemoryStore keeps identity records in memory for tests and development.
type InMemoryStore struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]*models.User
	participants map[uuid.UUID]*models.Participant
	identifiers  map[uuid.UUID]*models.UserIdentifier
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		users:        make(map[uuid.UUID]*models.User),
		participants: make(map[uuid.UUID]*models.Participant),
		identifiers:  make(map[uuid.UUID]*models.UserIdentifier),
	}
}

func (s *InMemoryStore) SaveUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return sentinel.ErrConflict
		}
	}
	copied := copyUser(user)
	s.users[user.ID] = copied
	return nil
}

func (s *InMemoryStore) UpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.users[user.ID] = copyUser(user)
	return nil
}

func (s *InMemoryStore) FindUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyUser(user), nil
}

func (s *InMemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return copyUser(user), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) SaveParticipant(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.participants {
		if existing.SelfDescriptionURL == p.SelfDescriptionURL || existing.ClientID == p.ClientID {
			return sentinel.ErrConflict
		}
	}
	copied := *p
	s.participants[p.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindParticipantByID(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *InMemoryStore) FindParticipantByClientID(_ context.Context, clientID string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.ClientID == clientID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindParticipantBySelfDescription(_ context.Context, selfDescriptionURL string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.SelfDescriptionURL == selfDescriptionURL {
			copied := *p
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) SaveIdentifier(_ context.Context, ident *models.UserIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.identifiers {
		if existing.ParticipantID == ident.ParticipantID && strings.EqualFold(existing.Email, ident.Email) {
			return sentinel.ErrConflict
		}
	}
	copied := *ident
	s.identifiers[ident.ID] = &copied
	return nil
}

func (s *InMemoryStore) UpdateIdentifier(_ context.Context, ident *models.UserIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identifiers[ident.ID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *ident
	s.identifiers[ident.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindIdentifierByID(_ context.Context, id uuid.UUID) (*models.UserIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identifiers[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *ident
	return &copied, nil
}

func (s *InMemoryStore) FindIdentifierByParticipantAndEmail(_ context.Context, participantID uuid.UUID, email string) (*models.UserIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.identifiers {
		if ident.ParticipantID == participantID && strings.EqualFold(ident.Email, email) {
			copied := *ident
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindIdentifiersByEmailExcluding(_ context.Context, email string, excludedParticipantID uuid.UUID) ([]*models.UserIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []*models.UserIdentifier
	for _, ident := range s.identifiers {
		if strings.EqualFold(ident.Email, email) && ident.ParticipantID != excludedParticipantID {
			copied := *ident
			found = append(found, &copied)
		}
	}
	return found, nil
}

func (s *InMemoryStore) DeleteIdentifier(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identifiers[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.identifiers, id)
	return nil
}

func copyUser(u *models.User) *models.User {
	copied := *u
	copied.IdentifierIDs = append([]uuid.UUID(nil), u.IdentifierIDs...)
	return &copied
}
