// Package service implements the consent lifecycle: idempotent grants,
// email-verified cross-participant grants, revocation and listing.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"covenant/internal/audit"
	"covenant/internal/consent/metrics"
	"covenant/internal/consent/models"
	"covenant/internal/consent/store"
	identitymodels "covenant/internal/identity/models"
	identityservice "covenant/internal/identity/service"
	"covenant/internal/mailer"
	noticemodels "covenant/internal/notices/models"
	noticestore "covenant/internal/notices/store"
	"covenant/internal/sentinel"
	"covenant/internal/token"
	dErrors "covenant/pkg/domain-errors"
)

// Service orchestrates consent grants and revocations.
type Service struct {
	store         store.Store
	notices       noticestore.Store
	identity      *identityservice.Service
	tokens        *token.Service
	mail          mailer.Sender
	audit         *audit.Publisher
	metrics       *metrics.Metrics
	logger        *slog.Logger
	publicBaseURL string
}

// Option configures the Service.
type Option func(*Service)

// WithAudit attaches the audit publisher.
func WithAudit(publisher *audit.Publisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithMetrics attaches consent metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs the consent service. publicBaseURL is this service's
// externally reachable base URL, used to build verification deep links.
func New(
	st store.Store,
	notices noticestore.Store,
	identity *identityservice.Service,
	tokens *token.Service,
	mail mailer.Sender,
	logger *slog.Logger,
	publicBaseURL string,
	opts ...Option,
) *Service {
	s := &Service{
		store:         st,
		notices:       notices,
		identity:      identity,
		tokens:        tokens,
		mail:          mail,
		logger:        logger,
		publicBaseURL: publicBaseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GrantResult is the outcome of a grant call. Either Consent is set, or
// VerificationSent is true and the grant is parked until the emailed deep
// link is followed.
type GrantResult struct {
	Consent          *models.Record
	VerificationSent bool
	VerificationTo   string
}

// Give grants consent to a privacy notice for the authenticated user.
//
// Provider and consumer participants are resolved from the notice's
// provider/recipient self-description URLs. Both side's user identifiers
// must resolve before anything is persisted. When the consumer-side
// identifier cannot be resolved from the user's own email, the
// caller-supplied email is used to find a standalone identifier at the
// consumer; a verification email is then sent instead of linking it
// outright, since auto-linking on an unverified email match would let one
// user annex another's identity attachment.
//
// A repeated grant for the same tuple returns the existing record.
//
// Errors: CodeNotFound when the notice, a participant or an identifier is
// missing; CodeInvalidInput on a malformed notice.
func (s *Service) Give(ctx context.Context, userID, noticeID uuid.UUID, email string) (*GrantResult, error) {
	user, err := s.identity.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	notice, err := s.notices.FindByID(ctx, noticeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "privacy notice not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load privacy notice")
	}
	if len(notice.Recipients) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "privacy notice lists no recipients")
	}

	provider, err := s.identity.ParticipantBySelfDescription(ctx, notice.DataProvider)
	if err != nil {
		return nil, err
	}
	consumer, err := s.identity.ParticipantBySelfDescription(ctx, notice.Recipients[0])
	if err != nil {
		return nil, err
	}

	providerIdent, err := s.identity.FindOrAttachIdentifier(ctx, user, provider.ID)
	if err != nil {
		return nil, err
	}
	if providerIdent == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no user identifier at the data provider")
	}

	consumerIdent, err := s.identity.FindOrAttachIdentifier(ctx, user, consumer.ID)
	if err != nil {
		return nil, err
	}
	if consumerIdent == nil {
		if email == "" {
			return nil, dErrors.New(dErrors.CodeNotFound, "no user identifier at the data consumer")
		}
		return s.requestVerification(ctx, user, notice, consumer, email)
	}

	record, created, err := s.grant(ctx, user, notice, provider, consumer, providerIdent, consumerIdent)
	if err != nil {
		return nil, err
	}
	if created {
		s.recordGrant(ctx, record, provider, consumer)
	} else if s.metrics != nil {
		s.metrics.IdempotentGrantsTotal.Inc()
	}
	return &GrantResult{Consent: record}, nil
}

// requestVerification parks the grant behind an emailed deep link. The
// link carries a signed replay of the grant intent; following it links
// the identifier and completes the grant.
func (s *Service) requestVerification(
	ctx context.Context,
	user *identitymodels.User,
	notice *noticemodels.Notice,
	consumer *identitymodels.Participant,
	email string,
) (*GrantResult, error) {
	ident, err := s.identity.StandaloneIdentifierByEmail(ctx, consumer.ID, email)
	if err != nil {
		return nil, err
	}

	intent, err := s.tokens.GenerateGrantIntent(user.ID.String(), notice.ID.String(), ident.ID.String(), email)
	if err != nil {
		return nil, err
	}
	link := s.publicBaseURL + "/consents/confirm?token=" + intent
	err = s.mail.SendTemplate(ctx, email, mailer.TemplateConsentVerification, map[string]string{
		"link":         link,
		"participant":  consumer.LegalName,
		"noticeTitle":  notice.Title,
		"dataProvider": notice.DataProvider,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to send verification email")
	}

	if s.metrics != nil {
		s.metrics.VerificationMailsTotal.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		UserID: user.ID.String(),
		Action: audit.ActionVerificationSent,
		Reason: audit.ReasonUserInitiated,
	})
	s.logger.InfoContext(ctx, "consent verification email sent",
		"user_id", user.ID, "notice_id", notice.ID, "consumer", consumer.ID)
	return &GrantResult{VerificationSent: true, VerificationTo: email}, nil
}

// ConfirmGrant completes a grant parked behind an email verification. It
// validates the deep-link token, links the identifier to the user, then
// replays the original grant.
func (s *Service) ConfirmGrant(ctx context.Context, intentToken string) (*GrantResult, error) {
	claims, err := s.tokens.ValidateGrantIntent(intentToken)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed grant token")
	}
	noticeID, err := uuid.Parse(claims.NoticeID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed grant token")
	}
	identifierID, err := uuid.Parse(claims.IdentifierID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed grant token")
	}

	if _, err := s.identity.AttachIdentifier(ctx, userID, identifierID); err != nil {
		return nil, err
	}
	return s.Give(ctx, userID, noticeID, "")
}

// grant persists a granted consent, or returns the existing record for
// the same tuple.
func (s *Service) grant(
	ctx context.Context,
	user *identitymodels.User,
	notice *noticemodels.Notice,
	provider, consumer *identitymodels.Participant,
	providerIdent, consumerIdent *identitymodels.UserIdentifier,
) (*models.Record, bool, error) {
	tuple := store.Tuple{
		PrivacyNoticeID:          notice.ID,
		UserID:                   user.ID,
		ProviderUserIdentifierID: providerIdent.ID,
		ConsumerUserIdentifierID: consumerIdent.ID,
		DataProviderID:           provider.ID,
	}
	existing, err := s.store.FindByTuple(ctx, tuple)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up consent")
	}

	jsonld, err := models.BuildJSONLD(provider.SelfDescriptionURL, consumer.SelfDescriptionURL, notice.Contract)
	if err != nil {
		return nil, false, err
	}
	record := &models.Record{
		ID:                       uuid.New(),
		PrivacyNoticeID:          notice.ID,
		UserID:                   user.ID,
		ProviderUserIdentifierID: providerIdent.ID,
		ConsumerUserIdentifierID: consumerIdent.ID,
		DataProviderID:           provider.ID,
		DataConsumerID:           consumer.ID,
		Recipients:               append([]string(nil), notice.Recipients...),
		Purposes:                 append([]noticemodels.PurposeEntry(nil), notice.Purposes...),
		Data:                     append([]noticemodels.DataEntry(nil), notice.Data...),
		Status:                   models.StatusGranted,
		Consented:                true,
		Contract:                 notice.Contract,
		JSONLD:                   jsonld,
	}
	if err := s.store.Save(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a race with a concurrent identical grant.
			if existing, lookupErr := s.store.FindByTuple(ctx, tuple); lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save consent")
	}
	return record, true, nil
}

// Revoke flips a consent to revoked. Scoped by owner: a consent belonging
// to another user reads as absent.
func (s *Service) Revoke(ctx context.Context, consentID, userID uuid.UUID) (*models.Record, error) {
	record, err := s.store.FindByIDForUser(ctx, consentID, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}

	record.Status = models.StatusRevoked
	record.Consented = false
	if err := s.store.Update(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke consent")
	}

	if s.metrics != nil {
		s.metrics.RevocationsTotal.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		UserID:    userID.String(),
		ConsentID: record.ID.String(),
		Action:    audit.ActionConsentRevoked,
		Reason:    audit.ReasonUserInitiated,
	})
	s.logger.InfoContext(ctx, "consent revoked", "consent_id", record.ID, "user_id", userID)
	return record, nil
}

// Get loads a consent scoped by owner.
func (s *Service) Get(ctx context.Context, consentID, userID uuid.UUID) (*models.Record, error) {
	record, err := s.store.FindByIDForUser(ctx, consentID, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	return record, nil
}

// List returns the user's consents ordered by creation time.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Record, error) {
	records, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	return records, nil
}

func (s *Service) recordGrant(ctx context.Context, record *models.Record, provider, consumer *identitymodels.Participant) {
	if s.metrics != nil {
		s.metrics.GrantsTotal.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		UserID:       record.UserID.String(),
		ConsentID:    record.ID.String(),
		Action:       audit.ActionConsentGranted,
		DataProvider: provider.SelfDescriptionURL,
		DataConsumer: consumer.SelfDescriptionURL,
		Reason:       audit.ReasonUserInitiated,
	})
	s.logger.InfoContext(ctx, "consent granted",
		"consent_id", record.ID, "user_id", record.UserID, "notice_id", record.PrivacyNoticeID)
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}
