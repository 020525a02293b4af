package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"covenant/internal/audit"
	"covenant/internal/identity/email"
	"covenant/internal/identity/models"
	"covenant/internal/identity/store"
	"covenant/internal/sentinel"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/secrets"
)

// Service owns user, participant, and identifier records and the
// reconciliation rules that link identifiers across participants.
type Service struct {
	store   store.Store
	auditor *audit.Publisher
	logger  *slog.Logger
}

func NewService(st store.Store, auditor *audit.Publisher, logger *slog.Logger) *Service {
	return &Service{store: st, auditor: auditor, logger: logger}
}

// RegisterUser creates a User with a bcrypt-hashed password.
func (s *Service) RegisterUser(ctx context.Context, firstName, lastName, mail, password string) (*models.User, error) {
	if !email.IsValid(mail) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	if password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "password is required")
	}
	hash, err := secrets.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		FirstName:    firstName,
		LastName:     lastName,
		Email:        mail,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SaveUser(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "a user with this email already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save user")
	}
	return user, nil
}

// AuthenticateUser verifies user credentials and returns the user on success.
func (s *Service) AuthenticateUser(ctx context.Context, mail, password string) (*models.User, error) {
	user, err := s.store.FindUserByEmail(ctx, mail)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read user")
	}
	if err := secrets.Verify(password, user.PasswordHash); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	return user, nil
}

// User loads a user by id.
func (s *Service) User(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read user")
	}
	return user, nil
}

// RegisteredParticipant is the registration result. ClientSecret is the only
// place the plaintext secret ever appears; it is not recoverable afterwards.
type RegisteredParticipant struct {
	Participant  *models.Participant
	ClientSecret string
}

// RegisterParticipant creates a Participant and generates its opaque client
// credentials for service-to-service calls.
func (s *Service) RegisterParticipant(ctx context.Context, legalName, identifier, selfDescriptionURL, mail, password string, endpoints models.Endpoints) (*RegisteredParticipant, error) {
	if legalName == "" || selfDescriptionURL == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "legalName and selfDescriptionURL are required")
	}
	if !email.IsValid(mail) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	passwordHash, err := secrets.Hash(password)
	if err != nil {
		return nil, err
	}
	clientID, err := secrets.Generate()
	if err != nil {
		return nil, err
	}
	clientSecret, err := secrets.Generate()
	if err != nil {
		return nil, err
	}
	secretHash, err := secrets.Hash(clientSecret)
	if err != nil {
		return nil, err
	}

	participant := &models.Participant{
		ID:                 uuid.New(),
		LegalName:          legalName,
		Identifier:         identifier,
		SelfDescriptionURL: selfDescriptionURL,
		Email:              mail,
		PasswordHash:       passwordHash,
		Endpoints:          endpoints,
		ClientID:           clientID,
		ClientSecretHash:   secretHash,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.store.SaveParticipant(ctx, participant); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "participant already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save participant")
	}

	s.emitAudit(ctx, audit.Event{
		Action: audit.ActionParticipantRegister,
		Reason: audit.ReasonServiceInitiated,
	})
	return &RegisteredParticipant{Participant: participant, ClientSecret: clientSecret}, nil
}

// AuthenticateParticipant verifies client credentials for service-to-service calls.
func (s *Service) AuthenticateParticipant(ctx context.Context, clientID, clientSecret string) (*models.Participant, error) {
	participant, err := s.store.FindParticipantByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid client credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read participant")
	}
	if err := secrets.Verify(clientSecret, participant.ClientSecretHash); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid client credentials")
	}
	return participant, nil
}

// ParticipantBySelfDescription resolves a participant by its catalog URL.
func (s *Service) ParticipantBySelfDescription(ctx context.Context, selfDescriptionURL string) (*models.Participant, error) {
	participant, err := s.store.FindParticipantBySelfDescription(ctx, selfDescriptionURL)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "participant not registered for "+selfDescriptionURL)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read participant")
	}
	return participant, nil
}

// Participant loads a participant by id.
func (s *Service) Participant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	participant, err := s.store.FindParticipantByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "participant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read participant")
	}
	return participant, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	_ = s.auditor.Emit(ctx, event)
}
