// Package store persists privacy notices.
package store

import (
	"context"

	"github.com/google/uuid"

	"covenant/internal/notices/models"
)

// Store persists synthesized privacy notices.
//
// Error Contract:
//   - FindByID returns sentinel.ErrNotFound when no notice matches.
//   - Save assigns CreatedAt/UpdatedAt when unset and overwrites any
//     existing notice with the same ID.
//   - ListForPair matches notices whose dataProvider equals the provider
//     URL and whose recipients include the consumer URL, ordered by
//     creation time.
type Store interface {
	Save(ctx context.Context, notice *models.Notice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Notice, error)
	ListForPair(ctx context.Context, providerURL, consumerURL string) ([]models.Notice, error)
}
