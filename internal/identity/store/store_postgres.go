package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"covenant/internal/identity/models"
	"covenant/internal/sentinel"
)

// PostgresStore persists identity records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, first_name, last_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, lower($4), $5, $6, $7)
		ON CONFLICT (email) DO NOTHING
		RETURNING id
	`
	var storedID uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.FirstName, user.LastName, user.Email, user.PasswordHash,
		user.CreatedAt, user.UpdatedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users SET first_name = $2, last_name = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, user.ID, user.FirstName, user.LastName, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, first_name, last_name, email, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`
	return s.scanUser(ctx, s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, first_name, last_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = lower($1)
	`
	return s.scanUser(ctx, s.db.QueryRowContext(ctx, query, email))
}

func (s *PostgresStore) scanUser(ctx context.Context, row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email,
		&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	// The identifier list is derived, not stored on the user row.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM user_identifiers WHERE user_id = $1 ORDER BY created_at`, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list user identifiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var identID uuid.UUID
		if err := rows.Scan(&identID); err != nil {
			return nil, fmt.Errorf("scan user identifier: %w", err)
		}
		user.IdentifierIDs = append(user.IdentifierIDs, identID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user identifiers: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) SaveParticipant(ctx context.Context, p *models.Participant) error {
	query := `
		INSERT INTO participants (
			id, legal_name, identifier, self_description_url, email, password_hash,
			endpoint_data_export, endpoint_data_import, endpoint_consent_import, endpoint_consent_export,
			client_id, client_secret_hash, created_at
		)
		VALUES ($1, $2, $3, $4, lower($5), $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (self_description_url) DO NOTHING
		RETURNING id
	`
	var storedID uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		p.ID, p.LegalName, p.Identifier, p.SelfDescriptionURL, p.Email, p.PasswordHash,
		p.Endpoints.DataExport, p.Endpoints.DataImport, p.Endpoints.ConsentImport, p.Endpoints.ConsentExport,
		p.ClientID, p.ClientSecretHash, p.CreatedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save participant: %w", err)
	}
	return nil
}

const participantColumns = `
	id, legal_name, identifier, self_description_url, email, password_hash,
	endpoint_data_export, endpoint_data_import, endpoint_consent_import, endpoint_consent_export,
	client_id, client_secret_hash, created_at
`

func (s *PostgresStore) FindParticipantByID(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = $1`, id))
}

func (s *PostgresStore) FindParticipantByClientID(ctx context.Context, clientID string) (*models.Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE client_id = $1`, clientID))
}

func (s *PostgresStore) FindParticipantBySelfDescription(ctx context.Context, selfDescriptionURL string) (*models.Participant, error) {
	return scanParticipant(s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE self_description_url = $1`, selfDescriptionURL))
}

func scanParticipant(row *sql.Row) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(&p.ID, &p.LegalName, &p.Identifier, &p.SelfDescriptionURL, &p.Email, &p.PasswordHash,
		&p.Endpoints.DataExport, &p.Endpoints.DataImport, &p.Endpoints.ConsentImport, &p.Endpoints.ConsentExport,
		&p.ClientID, &p.ClientSecretHash, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find participant: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveIdentifier(ctx context.Context, ident *models.UserIdentifier) error {
	query := `
		INSERT INTO user_identifiers (id, participant_id, email, identifier, url, user_id, created_at)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7)
		ON CONFLICT (participant_id, email) DO NOTHING
		RETURNING id
	`
	var storedID uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		ident.ID, ident.ParticipantID, ident.Email, ident.Identifier, ident.URL,
		nullableUUID(ident.UserID), ident.CreatedAt,
	).Scan(&storedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save identifier: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateIdentifier(ctx context.Context, ident *models.UserIdentifier) error {
	query := `
		UPDATE user_identifiers SET identifier = $2, url = $3, user_id = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, ident.ID, ident.Identifier, ident.URL, nullableUUID(ident.UserID))
	if err != nil {
		return fmt.Errorf("update identifier: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identifier: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const identifierColumns = `id, participant_id, email, identifier, url, user_id, created_at`

func (s *PostgresStore) FindIdentifierByID(ctx context.Context, id uuid.UUID) (*models.UserIdentifier, error) {
	return scanIdentifier(s.db.QueryRowContext(ctx,
		`SELECT `+identifierColumns+` FROM user_identifiers WHERE id = $1`, id))
}

func (s *PostgresStore) FindIdentifierByParticipantAndEmail(ctx context.Context, participantID uuid.UUID, email string) (*models.UserIdentifier, error) {
	return scanIdentifier(s.db.QueryRowContext(ctx,
		`SELECT `+identifierColumns+` FROM user_identifiers WHERE participant_id = $1 AND email = lower($2)`,
		participantID, email))
}

func (s *PostgresStore) FindIdentifiersByEmailExcluding(ctx context.Context, email string, excludedParticipantID uuid.UUID) ([]*models.UserIdentifier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identifierColumns+` FROM user_identifiers WHERE email = lower($1) AND participant_id <> $2`,
		email, excludedParticipantID)
	if err != nil {
		return nil, fmt.Errorf("list identifiers by email: %w", err)
	}
	defer rows.Close()

	var found []*models.UserIdentifier
	for rows.Next() {
		ident, err := scanIdentifierRows(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifiers: %w", err)
	}
	return found, nil
}

func (s *PostgresStore) DeleteIdentifier(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_identifiers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete identifier: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete identifier: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanIdentifier(row *sql.Row) (*models.UserIdentifier, error) {
	var ident models.UserIdentifier
	var userID uuid.NullUUID
	err := row.Scan(&ident.ID, &ident.ParticipantID, &ident.Email, &ident.Identifier,
		&ident.URL, &userID, &ident.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find identifier: %w", err)
	}
	if userID.Valid {
		ident.UserID = userID.UUID
	}
	return &ident, nil
}

func scanIdentifierRows(rows *sql.Rows) (*models.UserIdentifier, error) {
	var ident models.UserIdentifier
	var userID uuid.NullUUID
	err := rows.Scan(&ident.ID, &ident.ParticipantID, &ident.Email, &ident.Identifier,
		&ident.URL, &userID, &ident.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan identifier: %w", err)
	}
	if userID.Valid {
		ident.UserID = userID.UUID
	}
	return &ident, nil
}

func nullableUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}
