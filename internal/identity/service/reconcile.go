package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"covenant/internal/audit"
	"covenant/internal/identity/email"
	"covenant/internal/identity/models"
	"covenant/internal/sentinel"
	dErrors "covenant/pkg/domain-errors"
)

// RegisterIdentifier records that a participant knows a person under the given
// email/alias, then runs cross-participant reconciliation for the new record.
// Registering the same (participant, email) pair twice is a no-op returning
// the existing identifier.
func (s *Service) RegisterIdentifier(ctx context.Context, participantID uuid.UUID, mail, alias, url string) (*models.UserIdentifier, error) {
	if !email.IsValid(mail) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	if _, err := s.Participant(ctx, participantID); err != nil {
		return nil, err
	}

	ident := &models.UserIdentifier{
		ID:            uuid.New(),
		ParticipantID: participantID,
		Email:         mail,
		Identifier:    alias,
		URL:           url,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveIdentifier(ctx, ident); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			existing, ferr := s.store.FindIdentifierByParticipantAndEmail(ctx, participantID, mail)
			if ferr != nil {
				return nil, dErrors.Wrap(ferr, dErrors.CodeInternal, "failed to read identifier")
			}
			return existing, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save identifier")
	}

	if _, err := s.CheckUserIdentifier(ctx, mail, participantID, ident.ID); err != nil {
		// Reconciliation failure must not undo the registration itself; the
		// identifier stays standalone and can be linked later.
		s.logger.WarnContext(ctx, "identifier reconciliation failed",
			"identifier_id", ident.ID,
			"error", err,
		)
	}
	return s.identifier(ctx, ident.ID)
}

// FindOrAttachIdentifier resolves the canonical UserIdentifier for a
// (user, participant) pair. It searches the user's already-attached
// identifiers first; failing that, it looks up a standalone identifier by
// (participant, user.email) and attaches it. Returns nil without error when
// no identifier exists at that participant for the user's email.
func (s *Service) FindOrAttachIdentifier(ctx context.Context, user *models.User, participantID uuid.UUID) (*models.UserIdentifier, error) {
	for _, identID := range user.IdentifierIDs {
		ident, err := s.store.FindIdentifierByID(ctx, identID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read identifier")
		}
		if ident.ParticipantID == participantID {
			return ident, nil
		}
	}

	ident, err := s.store.FindIdentifierByParticipantAndEmail(ctx, participantID, user.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read identifier")
	}

	if err := s.attach(ctx, user, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

// CheckUserIdentifier reconciles a newly created identifier against the rest
// of the federation: if any other participant knows the same email, the
// owning User (found via those identifiers, or by email, or created fresh)
// absorbs the new identifier. This is how a person known to two unrelated
// participants under one email becomes a single User.
func (s *Service) CheckUserIdentifier(ctx context.Context, mail string, excludedParticipantID, newIdentifierID uuid.UUID) (*models.User, error) {
	newIdent, err := s.identifier(ctx, newIdentifierID)
	if err != nil {
		return nil, err
	}

	siblings, err := s.store.FindIdentifiersByEmailExcluding(ctx, mail, excludedParticipantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search identifiers")
	}
	if len(siblings) == 0 {
		return nil, nil
	}

	user, err := s.resolveOwner(ctx, mail, siblings)
	if err != nil {
		return nil, err
	}

	// Absorb every unattached sibling as well as the new identifier, so a
	// third registration converges onto the same User.
	for _, sibling := range siblings {
		if !sibling.Attached() {
			if err := s.attach(ctx, user, sibling); err != nil {
				return nil, err
			}
		}
	}
	if err := s.attach(ctx, user, newIdent); err != nil {
		return nil, err
	}
	return user, nil
}

// AttachIdentifier explicitly links an identifier to a user. Used by the
// consent confirmation flow after the email round trip proved ownership.
func (s *Service) AttachIdentifier(ctx context.Context, userID, identifierID uuid.UUID) (*models.UserIdentifier, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	ident, err := s.identifier(ctx, identifierID)
	if err != nil {
		return nil, err
	}
	if ident.Attached() && ident.UserID != userID {
		return nil, dErrors.New(dErrors.CodeForbidden, "identifier belongs to another user")
	}
	if err := s.attach(ctx, user, ident); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, audit.Event{
		UserID: userID.String(),
		Action: audit.ActionIdentifierLinked,
		Reason: audit.ReasonUserInitiated,
	})
	return ident, nil
}

// resolveOwner finds the User that should own identifiers for the given
// email: the owner of any already-attached sibling, then a User with that
// email, then a fresh User derived from the email.
func (s *Service) resolveOwner(ctx context.Context, mail string, siblings []*models.UserIdentifier) (*models.User, error) {
	for _, sibling := range siblings {
		if sibling.Attached() {
			user, err := s.store.FindUserByID(ctx, sibling.UserID)
			if err == nil {
				return user, nil
			}
			if !errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read user")
			}
		}
	}

	user, err := s.store.FindUserByEmail(ctx, mail)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read user")
	}

	first, last := email.DeriveName(mail)
	now := time.Now().UTC()
	user = &models.User{
		ID:        uuid.New(),
		FirstName: first,
		LastName:  last,
		Email:     mail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveUser(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return user, nil
}

func (s *Service) attach(ctx context.Context, user *models.User, ident *models.UserIdentifier) error {
	if ident.UserID != user.ID {
		ident.UserID = user.ID
		if err := s.store.UpdateIdentifier(ctx, ident); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update identifier")
		}
	}
	if user.AttachIdentifier(ident.ID) {
		user.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateUser(ctx, user); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update user")
		}
	}
	return nil
}

func (s *Service) identifier(ctx context.Context, id uuid.UUID) (*models.UserIdentifier, error) {
	ident, err := s.store.FindIdentifierByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "identifier not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read identifier")
	}
	return ident, nil
}

// IdentifierByID exposes identifier lookup to other services.
func (s *Service) IdentifierByID(ctx context.Context, id uuid.UUID) (*models.UserIdentifier, error) {
	return s.identifier(ctx, id)
}

// StandaloneIdentifierByEmail looks up an identifier at the given participant
// for an arbitrary email. Consent granting uses this when the authenticated
// user's own email is unknown at the consumer.
func (s *Service) StandaloneIdentifierByEmail(ctx context.Context, participantID uuid.UUID, mail string) (*models.UserIdentifier, error) {
	ident, err := s.store.FindIdentifierByParticipantAndEmail(ctx, participantID, mail)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no identifier for that email at the consumer participant")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read identifier")
	}
	return ident, nil
}
