package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"covenant/internal/consent/models"
	"covenant/internal/sentinel"
)

// PostgresStore persists consent records in PostgreSQL. The grant tuple
// carries a unique index as the storage-level idempotency backstop.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const consentColumns = `id, privacy_notice_id, user_id, provider_identifier_id,
	consumer_identifier_id, data_provider_id, data_consumer_id, recipients, purposes,
	data, status, consented, contract, token, jsonld, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, record *models.Record) error {
	if err := models.Validate(record); err != nil {
		return err
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	recipients, purposes, data, err := encodeConsentLists(record)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO consents (id, privacy_notice_id, user_id, provider_identifier_id,
			consumer_identifier_id, data_provider_id, data_consumer_id, recipients,
			purposes, data, status, consented, contract, token, jsonld, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	var storedID uuid.UUID
	err = s.db.QueryRowContext(ctx, query,
		record.ID, record.PrivacyNoticeID, nullableUUID(record.UserID),
		record.ProviderUserIdentifierID, record.ConsumerUserIdentifierID,
		record.DataProviderID, record.DataConsumerID, recipients, purposes, data,
		record.Status, record.Consented, record.Contract, record.Token, record.JSONLD,
		record.CreatedAt, record.UpdatedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, record *models.Record) error {
	if err := models.Validate(record); err != nil {
		return err
	}
	record.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE consents SET status = $2, consented = $3, token = $4, jsonld = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		record.ID, record.Status, record.Consented, record.Token, record.JSONLD, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1 AND user_id = $2`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id, userID))
}

func (s *PostgresStore) FindByTuple(ctx context.Context, tuple Tuple) (*models.Record, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE privacy_notice_id = $1 AND user_id = $2 AND provider_identifier_id = $3
			AND consumer_identifier_id = $4 AND data_provider_id = $5
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query,
		tuple.PrivacyNoticeID, tuple.UserID, tuple.ProviderUserIdentifierID,
		tuple.ConsumerUserIdentifierID, tuple.DataProviderID))
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Record, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE user_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		record, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("list consents: %w", err)
		}
		result = append(result, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) scanOne(row *sql.Row) (*models.Record, error) {
	record, err := scanConsent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(row rowScanner) (*models.Record, error) {
	var record models.Record
	var userID uuid.NullUUID
	var recipients, purposes, data []byte
	err := row.Scan(
		&record.ID, &record.PrivacyNoticeID, &userID,
		&record.ProviderUserIdentifierID, &record.ConsumerUserIdentifierID,
		&record.DataProviderID, &record.DataConsumerID, &recipients, &purposes,
		&data, &record.Status, &record.Consented, &record.Contract, &record.Token,
		&record.JSONLD, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		record.UserID = userID.UUID
	}
	if err := json.Unmarshal(recipients, &record.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	if err := json.Unmarshal(purposes, &record.Purposes); err != nil {
		return nil, fmt.Errorf("decode purposes: %w", err)
	}
	if err := json.Unmarshal(data, &record.Data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &record, nil
}

func encodeConsentLists(record *models.Record) (recipients, purposes, data []byte, err error) {
	if recipients, err = encodeList(record.Recipients); err != nil {
		return nil, nil, nil, fmt.Errorf("encode recipients: %w", err)
	}
	if purposes, err = encodeList(record.Purposes); err != nil {
		return nil, nil, nil, fmt.Errorf("encode purposes: %w", err)
	}
	if data, err = encodeList(record.Data); err != nil {
		return nil, nil, nil, fmt.Errorf("encode data: %w", err)
	}
	return recipients, purposes, data, nil
}

// encodeList marshals a slice as a jsonb array, never null.
func encodeList[T any](list []T) ([]byte, error) {
	if list == nil {
		list = []T{}
	}
	return json.Marshal(list)
}

func nullableUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

var _ Store = (*PostgresStore)(nil)
