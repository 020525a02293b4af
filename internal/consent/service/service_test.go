package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"covenant/internal/consent/models"
	"covenant/internal/consent/store"
	identitymodels "covenant/internal/identity/models"
	identityservice "covenant/internal/identity/service"
	identitystore "covenant/internal/identity/store"
	"covenant/internal/mailer"
	noticemodels "covenant/internal/notices/models"
	noticestore "covenant/internal/notices/store"
	"covenant/internal/token"
	dErrors "covenant/pkg/domain-errors"
)

const (
	providerSD = "https://catalog.example/v1/catalog/participants/provider-1"
	consumerSD = "https://catalog.example/v1/catalog/participants/consumer-1"
	baseURL    = "https://consent.example"
)

type ConsentServiceSuite struct {
	suite.Suite

	identityStore *identitystore.InMemoryStore
	identity      *identityservice.Service
	noticeStore   *noticestore.InMemoryStore
	consentStore  *store.InMemoryStore
	tokens        *token.Service
	mail          *mailer.Recorder
	service       *Service

	user     *identitymodels.User
	provider *identitymodels.Participant
	consumer *identitymodels.Participant
	notice   *noticemodels.Notice
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.identityStore = identitystore.NewInMemory()
	s.identity = identityservice.NewService(s.identityStore, nil, logger)
	s.noticeStore = noticestore.NewInMemory()
	s.consentStore = store.NewInMemory()
	s.tokens = token.NewService("test-signing-key", "covenant-test", time.Hour)
	s.mail = mailer.NewRecorder()
	s.service = New(s.consentStore, s.noticeStore, s.identity, s.tokens, s.mail, logger, baseURL)

	ctx := context.Background()

	user, err := s.identity.RegisterUser(ctx, "Alice", "Moreau", "alice@example.com", "s3cret-pass")
	s.Require().NoError(err)
	s.user = user

	provider, err := s.identity.RegisterParticipant(ctx, "Provider One", "did:web:provider-1",
		providerSD, "ops@provider.example", "provider-pass", identitymodels.Endpoints{
			ConsentExport: "https://connector.provider.example/consent/export",
		})
	s.Require().NoError(err)
	s.provider = provider.Participant

	consumer, err := s.identity.RegisterParticipant(ctx, "Consumer One", "did:web:consumer-1",
		consumerSD, "ops@consumer.example", "consumer-pass", identitymodels.Endpoints{
			ConsentImport: "https://connector.consumer.example/consent/import",
		})
	s.Require().NoError(err)
	s.consumer = consumer.Participant

	s.notice = &noticemodels.Notice{
		ID:           uuid.New(),
		Title:        "Weather Feed",
		DataProvider: providerSD,
		Recipients:   []string{consumerSD},
		Purposes: []noticemodels.PurposeEntry{
			{Purpose: "forecasting", Resource: "sw-1", ServiceOffering: "so-2", LegalBasis: "consent"},
		},
		Data: []noticemodels.DataEntry{
			{Resource: "dr-1", ServiceOffering: "so-1"},
		},
		Contract: "https://contract.example/contracts/bc-1",
	}
	s.Require().NoError(s.noticeStore.Save(ctx, s.notice))

	// The provider already knows the user under their own email.
	_, err = s.identity.RegisterIdentifier(ctx, s.provider.ID, "alice@example.com", "alice-p", "")
	s.Require().NoError(err)
}

// registerConsumerIdentifier makes the consumer know the user under the
// given email.
func (s *ConsentServiceSuite) registerConsumerIdentifier(email string) *identitymodels.UserIdentifier {
	ident, err := s.identity.RegisterIdentifier(context.Background(), s.consumer.ID, email, "alice-c", "")
	s.Require().NoError(err)
	return ident
}

func (s *ConsentServiceSuite) TestGrantHappyPath() {
	s.registerConsumerIdentifier("alice@example.com")

	result, err := s.service.Give(context.Background(), s.user.ID, s.notice.ID, "")
	s.Require().NoError(err)
	s.False(result.VerificationSent)
	s.Require().NotNil(result.Consent)

	consent := result.Consent
	s.Equal(models.StatusGranted, consent.Status)
	s.True(consent.Consented)
	s.True(models.Valid(consent))
	s.Equal(s.notice.ID, consent.PrivacyNoticeID)
	s.Equal(s.user.ID, consent.UserID)
	s.Equal(s.provider.ID, consent.DataProviderID)
	s.Equal(s.consumer.ID, consent.DataConsumerID)
	s.Equal(s.notice.Purposes, consent.Purposes)
	s.Equal(s.notice.Data, consent.Data)
	s.Equal(s.notice.Contract, consent.Contract)

	assigner, assignee, err := models.ParticipantIDs(consent)
	s.Require().NoError(err)
	s.Equal("provider-1", assigner)
	s.Equal("consumer-1", assignee)
}

func (s *ConsentServiceSuite) TestGrantIsIdempotent() {
	s.registerConsumerIdentifier("alice@example.com")

	first, err := s.service.Give(context.Background(), s.user.ID, s.notice.ID, "")
	s.Require().NoError(err)
	second, err := s.service.Give(context.Background(), s.user.ID, s.notice.ID, "")
	s.Require().NoError(err)

	s.Equal(first.Consent.ID, second.Consent.ID)

	records, err := s.consentStore.ListForUser(context.Background(), s.user.ID)
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *ConsentServiceSuite) TestGrantUnknownNotice() {
	_, err := s.service.Give(context.Background(), s.user.ID, uuid.New(), "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsentServiceSuite) TestGrantWithoutConsumerIdentifierOrEmail() {
	_, err := s.service.Give(context.Background(), s.user.ID, s.notice.ID, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsentServiceSuite) TestVerificationRoundTrip() {
	// The consumer knows the person under a different email, so an
	// unverified auto-link is refused and a verification mail goes out.
	ident := s.registerConsumerIdentifier("alice.alt@other.example")

	result, err := s.service.Give(context.Background(), s.user.ID, s.notice.ID, "alice.alt@other.example")
	s.Require().NoError(err)
	s.True(result.VerificationSent)
	s.Nil(result.Consent)
	s.Equal("alice.alt@other.example", result.VerificationTo)

	sent := s.mail.Sent()
	s.Require().Len(sent, 1)
	s.Equal(mailer.TemplateConsentVerification, sent[0].Template)
	s.Equal("alice.alt@other.example", sent[0].To)

	link := sent[0].Vars["link"]
	s.Require().True(strings.HasPrefix(link, baseURL+"/consents/confirm?token="))
	intent := strings.TrimPrefix(link, baseURL+"/consents/confirm?token=")

	confirmed, err := s.service.ConfirmGrant(context.Background(), intent)
	s.Require().NoError(err)
	s.Require().NotNil(confirmed.Consent)
	s.Equal(models.StatusGranted, confirmed.Consent.Status)
	s.Equal(ident.ID, confirmed.Consent.ConsumerUserIdentifierID)

	// Confirmation linked the identifier to the user as a side effect.
	linked, err := s.identity.IdentifierByID(context.Background(), ident.ID)
	s.Require().NoError(err)
	s.True(linked.Attached())
	s.Equal(s.user.ID, linked.UserID)
}

func (s *ConsentServiceSuite) TestConfirmGrantRejectsGarbageToken() {
	_, err := s.service.ConfirmGrant(context.Background(), "not-a-token")
	s.Require().Error(err)
}

func (s *ConsentServiceSuite) TestRevoke() {
	s.registerConsumerIdentifier("alice@example.com")
	granted, err := s.service.Give(context.Background(), s.user.ID, s.notice.ID, "")
	s.Require().NoError(err)

	revoked, err := s.service.Revoke(context.Background(), granted.Consent.ID, s.user.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, revoked.Status)
	s.False(revoked.Consented)
	s.False(models.Valid(revoked))
}

func (s *ConsentServiceSuite) TestRevokeScopedByOwner() {
	s.registerConsumerIdentifier("alice@example.com")
	granted, err := s.service.Give(context.Background(), s.user.ID, s.notice.ID, "")
	s.Require().NoError(err)

	stranger, err := s.identity.RegisterUser(context.Background(), "Eve", "Noir", "eve@example.com", "eve-pass")
	s.Require().NoError(err)

	_, err = s.service.Revoke(context.Background(), granted.Consent.ID, stranger.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	// The record itself is untouched.
	reloaded, err := s.service.Get(context.Background(), granted.Consent.ID, s.user.ID)
	s.Require().NoError(err)
	s.True(models.Valid(reloaded))
}

func (s *ConsentServiceSuite) TestRevokeUnknownConsent() {
	_, err := s.service.Revoke(context.Background(), uuid.New(), s.user.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsentServiceSuite) TestListScopedByUser() {
	s.registerConsumerIdentifier("alice@example.com")
	_, err := s.service.Give(context.Background(), s.user.ID, s.notice.ID, "")
	s.Require().NoError(err)

	stranger, err := s.identity.RegisterUser(context.Background(), "Eve", "Noir", "eve@example.com", "eve-pass")
	s.Require().NoError(err)

	mine, err := s.service.List(context.Background(), s.user.ID)
	s.Require().NoError(err)
	s.Len(mine, 1)

	theirs, err := s.service.List(context.Background(), stranger.ID)
	s.Require().NoError(err)
	s.Empty(theirs)
}
