package exchange

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"covenant/internal/consent/models"
	consentstore "covenant/internal/consent/store"
	identitymodels "covenant/internal/identity/models"
	identityservice "covenant/internal/identity/service"
	identitystore "covenant/internal/identity/store"
	dErrors "covenant/pkg/domain-errors"
)

// connectorStub plays an external connector collecting posted envelopes.
type connectorStub struct {
	mu        sync.Mutex
	envelopes []Envelope
	status    int
	server    *httptest.Server
}

func newConnectorStub() *connectorStub {
	c := &connectorStub{status: http.StatusOK}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		var envelope Envelope
		if err := json.Unmarshal(body, &envelope); err == nil {
			c.envelopes = append(c.envelopes, envelope)
		}
		status := c.status
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	return c
}

func (c *connectorStub) respondWith(status int) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *connectorStub) received() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.envelopes))
	copy(out, c.envelopes)
	return out
}

type ExchangeServiceSuite struct {
	suite.Suite

	ctx      context.Context
	consents *consentstore.InMemoryStore
	identity *identityservice.Service
	sealer   *Sealer
	relay    *Service

	exporter *connectorStub
	importer *connectorStub

	user     uuid.UUID
	provider *identitymodels.Participant
	consumer *identitymodels.Participant
}

func TestExchangeServiceSuite(t *testing.T) {
	suite.Run(t, new(ExchangeServiceSuite))
}

func (s *ExchangeServiceSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.exporter = newConnectorStub()
	s.importer = newConnectorStub()

	s.consents = consentstore.NewInMemory()
	s.identity = identityservice.NewService(identitystore.NewInMemory(), nil, logger)
	s.sealer = newTestSealer(s.T())
	s.relay = New(s.consents, s.identity, s.sealer, logger)

	s.user = uuid.New()

	provider, err := s.identity.RegisterParticipant(s.ctx,
		"Provider Corp", "provider-1",
		"https://catalog.example/catalog/participants/provider-1",
		"ops@provider.example", "s3cret",
		identitymodels.Endpoints{ConsentExport: s.exporter.server.URL})
	s.Require().NoError(err)
	s.provider = provider.Participant

	consumer, err := s.identity.RegisterParticipant(s.ctx,
		"Consumer Inc", "consumer-1",
		"https://catalog.example/catalog/participants/consumer-1",
		"ops@consumer.example", "s3cret",
		identitymodels.Endpoints{ConsentImport: s.importer.server.URL})
	s.Require().NoError(err)
	s.consumer = consumer.Participant
}

func (s *ExchangeServiceSuite) TearDownTest() {
	s.exporter.server.Close()
	s.importer.server.Close()
}

func (s *ExchangeServiceSuite) grantedConsent() *models.Record {
	record := &models.Record{
		ID:                       uuid.New(),
		PrivacyNoticeID:          uuid.New(),
		UserID:                   s.user,
		ProviderUserIdentifierID: uuid.New(),
		ConsumerUserIdentifierID: uuid.New(),
		DataProviderID:           s.provider.ID,
		DataConsumerID:           s.consumer.ID,
		Status:                   models.StatusGranted,
		Consented:                true,
		Contract:                 "https://contract.example/contracts/bc-1",
		CreatedAt:                time.Now().UTC(),
	}
	s.Require().NoError(s.consents.Save(s.ctx, record))
	return record
}

func (s *ExchangeServiceSuite) TestTriggerPostsDecryptableEnvelope() {
	record := s.grantedConsent()

	result, err := s.relay.Trigger(s.ctx, record.ID, s.user)
	s.Require().NoError(err)
	s.Equal(record.ID, result.ConsentID)
	s.Equal(s.exporter.server.URL, result.Endpoint)

	envelopes := s.exporter.received()
	s.Require().Len(envelopes, 1)

	opened, err := s.sealer.Open(envelopes[0].SignedConsent)
	s.Require().NoError(err)
	var posted models.Record
	s.Require().NoError(json.Unmarshal(opened, &posted))
	s.Equal(record.ID, posted.ID)
	s.Equal(models.StatusGranted, posted.Status)

	s.NoError(s.sealer.VerifyWrappedKey(envelopes[0].Encrypted))
}

func (s *ExchangeServiceSuite) TestTriggerRejectsRevokedConsent() {
	record := s.grantedConsent()
	record.Status = models.StatusRevoked
	record.Consented = false
	s.Require().NoError(s.consents.Update(s.ctx, record))

	_, err := s.relay.Trigger(s.ctx, record.ID, s.user)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidConsent))
	s.Empty(s.exporter.received())
}

func (s *ExchangeServiceSuite) TestTriggerScopedToOwner() {
	record := s.grantedConsent()

	_, err := s.relay.Trigger(s.ctx, record.ID, uuid.New())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ExchangeServiceSuite) TestTriggerReportsConnectorFailure() {
	record := s.grantedConsent()
	s.exporter.respondWith(http.StatusInternalServerError)

	_, err := s.relay.Trigger(s.ctx, record.ID, s.user)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ExchangeServiceSuite) TestTriggerReportsUnreachableConnector() {
	s.exporter.server.Close()
	record := s.grantedConsent()

	_, err := s.relay.Trigger(s.ctx, record.ID, s.user)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ExchangeServiceSuite) TestAttachTokenStoresAndForwards() {
	record := s.grantedConsent()

	updated, err := s.relay.AttachToken(s.ctx, record.ID, "provider-token-1")
	s.Require().NoError(err)
	s.Equal("provider-token-1", updated.Token)

	stored, err := s.consents.FindByID(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal("provider-token-1", stored.Token)

	envelopes := s.importer.received()
	s.Require().Len(envelopes, 1)
	opened, err := s.sealer.Open(envelopes[0].SignedConsent)
	s.Require().NoError(err)
	var forwarded models.Record
	s.Require().NoError(json.Unmarshal(opened, &forwarded))
	s.Equal("provider-token-1", forwarded.Token)
}

func (s *ExchangeServiceSuite) TestAttachTokenSwallowsForwardFailure() {
	record := s.grantedConsent()
	s.importer.respondWith(http.StatusBadGateway)

	updated, err := s.relay.AttachToken(s.ctx, record.ID, "provider-token-1")
	s.Require().NoError(err, "forward failure must not fail the attachment")
	s.Equal("provider-token-1", updated.Token)

	stored, err := s.consents.FindByID(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal("provider-token-1", stored.Token)
}

func (s *ExchangeServiceSuite) TestAttachTokenStrictModeSurfacesForwardFailure() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	strict := New(s.consents, s.identity, s.sealer, logger, WithStrictTokenForward())
	record := s.grantedConsent()
	s.importer.respondWith(http.StatusBadGateway)

	_, err := strict.AttachToken(s.ctx, record.ID, "provider-token-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ExchangeServiceSuite) TestAttachTokenRejectsEmptyToken() {
	record := s.grantedConsent()

	_, err := s.relay.AttachToken(s.ctx, record.ID, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ExchangeServiceSuite) TestVerifyToken() {
	record := s.grantedConsent()

	matched, err := s.relay.VerifyToken(s.ctx, record.ID, "anything")
	s.Require().NoError(err)
	s.False(matched, "no stored token never matches")

	_, err = s.relay.AttachToken(s.ctx, record.ID, "provider-token-1")
	s.Require().NoError(err)

	matched, err = s.relay.VerifyToken(s.ctx, record.ID, "provider-token-1")
	s.Require().NoError(err)
	s.True(matched)

	matched, err = s.relay.VerifyToken(s.ctx, record.ID, "wrong")
	s.Require().NoError(err)
	s.False(matched)
}

func (s *ExchangeServiceSuite) TestVerifyTokenUnknownConsent() {
	_, err := s.relay.VerifyToken(s.ctx, uuid.New(), "token")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
