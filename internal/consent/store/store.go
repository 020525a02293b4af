// Package store persists consent records.
package store

import (
	"context"

	"github.com/google/uuid"

	"covenant/internal/consent/models"
)

//go:generate mockgen -source=store.go -destination=../mocks/store_mock.go -package=mocks

// Tuple identifies a logically unique grant. A repeated grant for the
// same tuple must return the existing record instead of creating another.
type Tuple struct {
	PrivacyNoticeID          uuid.UUID
	UserID                   uuid.UUID
	ProviderUserIdentifierID uuid.UUID
	ConsumerUserIdentifierID uuid.UUID
	DataProviderID           uuid.UUID
}

// Store persists consent records.
//
// Error Contract:
//   - Save and Update run models.Validate first and refuse records that
//     violate the status/user co-dependency.
//   - FindByID, FindByIDForUser and FindByTuple return sentinel.ErrNotFound
//     when no record matches. FindByIDForUser scopes by owner: a consent
//     belonging to another user is indistinguishable from an absent one.
//   - Update returns sentinel.ErrNotFound for an unknown ID.
type Store interface {
	Save(ctx context.Context, record *models.Record) error
	Update(ctx context.Context, record *models.Record) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Record, error)
	FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Record, error)
	FindByTuple(ctx context.Context, tuple Tuple) (*models.Record, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Record, error)
}
