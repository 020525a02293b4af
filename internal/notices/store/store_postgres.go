package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"covenant/internal/notices/models"
	"covenant/internal/sentinel"
)

// PostgresStore persists privacy notices in PostgreSQL. List fields are
// stored as jsonb columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed notice store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const noticeColumns = `id, title, data_provider, recipients, purposes, data, contract,
	retention_period, pii_principal_rights, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, notice *models.Notice) error {
	now := time.Now().UTC()
	if notice.CreatedAt.IsZero() {
		notice.CreatedAt = now
	}
	notice.UpdatedAt = now

	recipients, purposes, data, rights, err := encodeNoticeLists(notice)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO privacy_notices (id, title, data_provider, recipients, purposes, data,
			contract, retention_period, pii_principal_rights, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			recipients = EXCLUDED.recipients,
			purposes = EXCLUDED.purposes,
			data = EXCLUDED.data,
			retention_period = EXCLUDED.retention_period,
			pii_principal_rights = EXCLUDED.pii_principal_rights,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		notice.ID, notice.Title, notice.DataProvider, recipients, purposes, data,
		notice.Contract, notice.RetentionPeriod, rights, notice.CreatedAt, notice.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save notice: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Notice, error) {
	query := `SELECT ` + noticeColumns + ` FROM privacy_notices WHERE id = $1`
	notice, err := scanNotice(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find notice: %w", err)
	}
	return notice, nil
}

func (s *PostgresStore) ListForPair(ctx context.Context, providerURL, consumerURL string) ([]models.Notice, error) {
	query := `
		SELECT ` + noticeColumns + `
		FROM privacy_notices
		WHERE data_provider = $1 AND recipients @> to_jsonb(ARRAY[$2::text])
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, providerURL, consumerURL)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	defer rows.Close()

	var result []models.Notice
	for rows.Next() {
		notice, err := scanNotice(rows)
		if err != nil {
			return nil, fmt.Errorf("list notices: %w", err)
		}
		result = append(result, *notice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotice(row rowScanner) (*models.Notice, error) {
	var notice models.Notice
	var recipients, purposes, data, rights []byte
	err := row.Scan(
		&notice.ID, &notice.Title, &notice.DataProvider, &recipients, &purposes, &data,
		&notice.Contract, &notice.RetentionPeriod, &rights, &notice.CreatedAt, &notice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recipients, &notice.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	if err := json.Unmarshal(purposes, &notice.Purposes); err != nil {
		return nil, fmt.Errorf("decode purposes: %w", err)
	}
	if err := json.Unmarshal(data, &notice.Data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	if err := json.Unmarshal(rights, &notice.PIIPrincipalRights); err != nil {
		return nil, fmt.Errorf("decode pii principal rights: %w", err)
	}
	return &notice, nil
}

func encodeNoticeLists(notice *models.Notice) (recipients, purposes, data, rights []byte, err error) {
	if recipients, err = encodeList(notice.Recipients); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode recipients: %w", err)
	}
	if purposes, err = encodeList(notice.Purposes); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode purposes: %w", err)
	}
	if data, err = encodeList(notice.Data); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode data: %w", err)
	}
	if rights, err = encodeList(notice.PIIPrincipalRights); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode pii principal rights: %w", err)
	}
	return recipients, purposes, data, rights, nil
}

// encodeList marshals a slice as a jsonb array, never null.
func encodeList[T any](list []T) ([]byte, error) {
	if list == nil {
		list = []T{}
	}
	return json.Marshal(list)
}

var _ Store = (*PostgresStore)(nil)
