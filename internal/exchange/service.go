package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"covenant/internal/audit"
	"covenant/internal/consent/models"
	"covenant/internal/consent/store"
	"covenant/internal/exchange/metrics"
	identityservice "covenant/internal/identity/service"
	"covenant/internal/sentinel"
	dErrors "covenant/pkg/domain-errors"
)

// Service relays valid consents to counterpart connectors and handles the
// provider token handshake. It is a fire-once relay: no retries, no
// backoff; the caller decides whether to try again.
type Service struct {
	consents           store.Store
	identity           *identityservice.Service
	sealer             *Sealer
	httpClient         *http.Client
	logger             *slog.Logger
	metrics            *metrics.Metrics
	audit              *audit.Publisher
	strictTokenForward bool
}

// Option configures the Service.
type Option func(*Service)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.httpClient = client
	}
}

// WithStrictTokenForward makes a failed consumer-side forward fail the
// token attachment instead of being logged and swallowed.
func WithStrictTokenForward() Option {
	return func(s *Service) {
		s.strictTokenForward = true
	}
}

// WithAudit attaches the audit publisher.
func WithAudit(publisher *audit.Publisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithMetrics attaches exchange metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs the exchange relay.
func New(consents store.Store, identity *identityservice.Service, sealer *Sealer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		consents:   consents,
		identity:   identity,
		sealer:     sealer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TriggerResult reports a successful export relay.
type TriggerResult struct {
	ConsentID uuid.UUID `json:"consentId"`
	Endpoint  string    `json:"endpoint"`
	Message   string    `json:"message"`
}

// Trigger seals the consent and posts it to the data provider's
// consentExport endpoint so the external connector can start the
// transfer.
//
// Errors: CodeNotFound when the consent does not belong to the user;
// CodeInvalidConsent unless status is granted with active consent;
// CodeUpstream when the counterpart is unreachable or answers non-2xx,
// so callers can tell a counterpart outage from a local failure.
func (s *Service) Trigger(ctx context.Context, consentID, userID uuid.UUID) (*TriggerResult, error) {
	record, err := s.consents.FindByIDForUser(ctx, consentID, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	if !models.Valid(record) {
		return nil, dErrors.New(dErrors.CodeInvalidConsent,
			"consent is not granted or no longer active")
	}

	provider, err := s.identity.Participant(ctx, record.DataProviderID)
	if err != nil {
		return nil, err
	}
	if provider.Endpoints.ConsentExport == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			"data provider declares no consentExport endpoint")
	}

	if err := s.postSealed(ctx, provider.Endpoints.ConsentExport, record); err != nil {
		if s.metrics != nil {
			s.metrics.ExchangeFailuresTotal.Inc()
		}
		s.emitAudit(ctx, audit.Event{
			UserID:    userID.String(),
			ConsentID: record.ID.String(),
			Action:    audit.ActionExchangeFailed,
		})
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ExchangesTriggeredTotal.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		UserID:    userID.String(),
		ConsentID: record.ID.String(),
		Action:    audit.ActionExchangeTriggered,
		Reason:    audit.ReasonUserInitiated,
	})
	s.logger.InfoContext(ctx, "data exchange triggered",
		"consent_id", record.ID, "endpoint", provider.Endpoints.ConsentExport)
	return &TriggerResult{
		ConsentID: record.ID,
		Endpoint:  provider.Endpoints.ConsentExport,
		Message:   "consent forwarded to data provider",
	}, nil
}

// AttachToken records the provider-issued token on the consent, then
// forwards the updated consent to the consumer's consentImport endpoint.
// The forward failing does not fail the attachment unless the service
// runs with WithStrictTokenForward.
func (s *Service) AttachToken(ctx context.Context, consentID uuid.UUID, token string) (*models.Record, error) {
	if token == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "token is required")
	}
	record, err := s.consents.FindByID(ctx, consentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}

	record.Token = token
	if err := s.consents.Update(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store token")
	}
	if s.metrics != nil {
		s.metrics.TokensAttachedTotal.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		ConsentID: record.ID.String(),
		Action:    audit.ActionTokenAttached,
		Reason:    audit.ReasonServiceInitiated,
	})

	if err := s.forwardToConsumer(ctx, record); err != nil {
		if s.metrics != nil {
			s.metrics.TokenForwardFailuresTotal.Inc()
		}
		s.emitAudit(ctx, audit.Event{
			ConsentID: record.ID.String(),
			Action:    audit.ActionTokenForwardFailed,
		})
		s.logger.WarnContext(ctx, "consumer token forward failed",
			"consent_id", record.ID, "error", err)
		if s.strictTokenForward {
			return nil, err
		}
	}
	return record, nil
}

// VerifyToken checks a presented token against the one stored on the
// consent. An empty stored token never matches.
func (s *Service) VerifyToken(ctx context.Context, consentID uuid.UUID, token string) (bool, error) {
	record, err := s.consents.FindByID(ctx, consentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	matched := record.Token != "" && record.Token == token
	s.emitAudit(ctx, audit.Event{
		ConsentID: record.ID.String(),
		Action:    audit.ActionTokenVerifyChecked,
	})
	return matched, nil
}

func (s *Service) forwardToConsumer(ctx context.Context, record *models.Record) error {
	consumer, err := s.identity.Participant(ctx, record.DataConsumerID)
	if err != nil {
		return err
	}
	if consumer.Endpoints.ConsentImport == "" {
		return dErrors.New(dErrors.CodeInvalidInput,
			"data consumer declares no consentImport endpoint")
	}
	return s.postSealed(ctx, consumer.Endpoints.ConsentImport, record)
}

// postSealed seals the consent JSON and posts the envelope.
func (s *Service) postSealed(ctx context.Context, endpoint string, record *models.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode consent payload")
	}
	envelope, err := s.sealer.Seal(payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build connector request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUpstream,
			fmt.Sprintf("connector %s unreachable", endpoint))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return dErrors.New(dErrors.CodeUpstream,
			fmt.Sprintf("connector %s returned status %d", endpoint, resp.StatusCode))
	}
	return nil
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
