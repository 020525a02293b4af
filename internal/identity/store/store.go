package store

import (
	"context"

	"github.com/google/uuid"

	"covenant/internal/identity/models"
)

// Error Contract:
// All store methods follow this pattern:
// - Return sentinel.ErrNotFound (possibly wrapped) when the entity does not exist
// - Return sentinel.ErrConflict when a uniqueness constraint is violated
// - Return nil for successful operations

type UserStore interface {
	SaveUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

type ParticipantStore interface {
	SaveParticipant(ctx context.Context, p *models.Participant) error
	FindParticipantByID(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	FindParticipantByClientID(ctx context.Context, clientID string) (*models.Participant, error)
	FindParticipantBySelfDescription(ctx context.Context, selfDescriptionURL string) (*models.Participant, error)
}

type IdentifierStore interface {
	// SaveIdentifier persists a new identifier. The (participant, email) pair
	// is unique; inserting a duplicate returns sentinel.ErrConflict.
	SaveIdentifier(ctx context.Context, ident *models.UserIdentifier) error
	UpdateIdentifier(ctx context.Context, ident *models.UserIdentifier) error
	FindIdentifierByID(ctx context.Context, id uuid.UUID) (*models.UserIdentifier, error)
	FindIdentifierByParticipantAndEmail(ctx context.Context, participantID uuid.UUID, email string) (*models.UserIdentifier, error)
	// FindIdentifiersByEmailExcluding lists identifiers sharing an email but
	// attached to a different participant than the one given.
	FindIdentifiersByEmailExcluding(ctx context.Context, email string, excludedParticipantID uuid.UUID) ([]*models.UserIdentifier, error)
	DeleteIdentifier(ctx context.Context, id uuid.UUID) error
}

// Store aggregates the three entity stores backing the identity module.
type Store interface {
	UserStore
	ParticipantStore
	IdentifierStore
}
