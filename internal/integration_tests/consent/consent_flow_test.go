package consent

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consenthandler "covenant/internal/consent/handler"
	consentmodels "covenant/internal/consent/models"
	consentservice "covenant/internal/consent/service"
	consentstore "covenant/internal/consent/store"
	"covenant/internal/contracts"
	"covenant/internal/exchange"
	exchangehandler "covenant/internal/exchange/handler"
	identityhandler "covenant/internal/identity/handler"
	identityservice "covenant/internal/identity/service"
	identitystore "covenant/internal/identity/store"
	"covenant/internal/mailer"
	noticehandler "covenant/internal/notices/handler"
	noticemodels "covenant/internal/notices/models"
	noticeservice "covenant/internal/notices/service"
	noticestore "covenant/internal/notices/store"
	"covenant/internal/platform/middleware"
	"covenant/internal/token"
)

const (
	providerSD = "/catalog/participants/provider-1"
	consumerSD = "/catalog/participants/consumer-1"
)

// connectorRecorder stands in for an external connector endpoint.
type connectorRecorder struct {
	mu        sync.Mutex
	envelopes []exchange.Envelope
}

func (c *connectorRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var envelope exchange.Envelope
		if err := json.Unmarshal(body, &envelope); err == nil {
			c.mu.Lock()
			c.envelopes = append(c.envelopes, envelope)
			c.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (c *connectorRecorder) last(t *testing.T) exchange.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.envelopes)
	return c.envelopes[len(c.envelopes)-1]
}

type fixture struct {
	router chi.Router
	sealer *exchange.Sealer
	mail   *mailer.Recorder

	catalogBase string
	contractMux *http.ServeMux
	exporter    *connectorRecorder
	importer    *connectorRecorder
}

// SetupSuite assembles the full HTTP surface over in-memory stores, with
// httptest servers playing the contract service, the catalog, and both
// counterpart connectors. Tests seed the contract service with either a
// bilateral or an ecosystem agreement before driving the flow.
func SetupSuite(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		exporter: &connectorRecorder{},
		importer: &connectorRecorder{},
	}

	catalogMux := http.NewServeMux()
	catalogSrv := httptest.NewServer(catalogMux)
	t.Cleanup(catalogSrv.Close)
	f.catalogBase = catalogSrv.URL

	f.contractMux = http.NewServeMux()
	contractSrv := httptest.NewServer(f.contractMux)
	t.Cleanup(contractSrv.Close)

	serveJSON(catalogMux, "/catalog/serviceofferings/offering-1", contracts.ServiceOffering{
		ID:                "offering-1",
		Name:              "Health records export",
		ProvidedBy:        "provider-1",
		DataResources:     []string{"dr-1"},
		SoftwareResources: []string{"sw-1"},
	})
	serveJSON(catalogMux, "/catalog/serviceofferings/offering-2", contracts.ServiceOffering{
		ID:                "offering-2",
		Name:              "Consumer analytics",
		ProvidedBy:        "consumer-1",
		SoftwareResources: []string{"sw-2"},
	})
	serveJSON(catalogMux, "/catalog/dataresources/dr-1", contracts.DataResource{
		ID: "dr-1", Name: "Patient vitals",
	})
	serveJSON(catalogMux, "/catalog/softwareresources/sw-1", contracts.SoftwareResource{
		ID: "sw-1", Name: "Anomaly detection",
	})
	serveJSON(catalogMux, "/catalog/softwareresources/sw-2", contracts.SoftwareResource{
		ID: "sw-2", Name: "Risk scoring",
	})

	identitySvc := identityservice.NewService(identitystore.NewInMemory(), nil, logger)
	noticeStore := noticestore.NewInMemory()
	consentStore := consentstore.NewInMemory()
	tokens := token.NewService("integration-signing-key", "covenant-test", time.Hour)
	f.mail = mailer.NewRecorder()
	f.sealer = newSealer(t)

	gateway := contracts.New(contractSrv.URL, catalogSrv.URL, logger)
	noticeSvc := noticeservice.New(gateway, noticeStore, logger)
	consentSvc := consentservice.New(consentStore, noticeStore, identitySvc, tokens,
		f.mail, logger, "https://consent.example")
	relay := exchange.New(consentStore, identitySvc, f.sealer, logger)

	router := chi.NewRouter()
	identityhandler.New(identitySvc, tokens, logger).Register(router)
	consentH := consenthandler.New(consentSvc, logger)
	consentH.RegisterPublic(router)
	exchangeH := exchangehandler.New(relay, identitySvc, logger)
	exchangeH.RegisterParticipant(router)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens, logger))
		noticehandler.New(noticeSvc, logger).Register(r)
		consentH.RegisterProtected(r)
		exchangeH.RegisterProtected(r)
	})
	f.router = router
	return f
}

func serveJSON(mux *http.ServeMux, path string, payload any) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})
}

// seedSignedBilateral serves one signed bilateral contract between the
// pair and no ecosystem agreements.
func (f *fixture) seedSignedBilateral() {
	serveJSON(f.contractMux, "/bilaterals/for/consumer-1", map[string]any{
		"contracts": []contracts.BilateralContract{{
			ID:              "bc-1",
			DataProvider:    f.catalogBase + providerSD,
			DataConsumer:    f.catalogBase + consumerSD,
			ServiceOffering: "offering-1",
			Status:          "signed",
		}},
	})
	serveJSON(f.contractMux, "/contracts/for/consumer-1", map[string]any{
		"contracts": []contracts.EcosystemContract{},
	})
}

// seedSignedEcosystem serves one signed multi-party agreement where the
// provider contributes its data offering and the consumer its analytics
// offering, plus a third member the pairwise view must ignore.
func (f *fixture) seedSignedEcosystem() {
	serveJSON(f.contractMux, "/bilaterals/for/consumer-1", map[string]any{
		"contracts": []contracts.BilateralContract{},
	})
	serveJSON(f.contractMux, "/contracts/for/consumer-1", map[string]any{
		"contracts": []contracts.EcosystemContract{{
			ID:           "ec-1",
			Ecosystem:    "health-data-space",
			Orchestrator: f.catalogBase + providerSD,
			ServiceOfferings: []contracts.OfferingEntry{
				{Participant: f.catalogBase + providerSD, ServiceOffering: "offering-1"},
				{Participant: f.catalogBase + consumerSD, ServiceOffering: "offering-2"},
				{Participant: f.catalogBase + "/catalog/participants/other-1", ServiceOffering: "offering-9"},
			},
			Status: "signed",
		}},
	})
}

func newSealer(t *testing.T) *exchange.Sealer {
	t.Helper()
	aesKey := make([]byte, 32)
	_, err := rand.Read(aesKey)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(rsaKey),
	})
	sealer, err := exchange.NewSealer(hex.EncodeToString(aesKey), string(keyPEM))
	require.NoError(t, err)
	return sealer
}

func (f *fixture) do(t *testing.T, method, target, bearer string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type participantCreds struct {
	ID           string `json:"id"`
	ClientID     string `json:"clientID"`
	ClientSecret string `json:"clientSecret"`
}

func (f *fixture) registerParticipant(t *testing.T, legalName, identifier, sdPath string, endpoints map[string]string) participantCreds {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/participants", "", nil, map[string]any{
		"legalName":          legalName,
		"identifier":         identifier,
		"selfDescriptionURL": f.catalogBase + sdPath,
		"email":              identifier + "@ops.example",
		"password":           "s3cret!",
		"endpoints":          endpoints,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[participantCreds](t, rec)
}

func (f *fixture) registerIdentifier(t *testing.T, creds participantCreds, email, identifier string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/participants/identifiers", "", map[string]string{
		"X-Client-Id":     creds.ClientID,
		"X-Client-Secret": creds.ClientSecret,
	}, map[string]any{
		"email":      email,
		"identifier": identifier,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// TestConsentLifecycle walks the whole surface: signup, participant
// onboarding, notice synthesis from a bilateral contract, consent grant,
// data exchange trigger, and the provider token handshake.
func TestConsentLifecycle(t *testing.T) {
	f := SetupSuite(t)
	f.seedSignedBilateral()

	exportSrv := httptest.NewServer(f.exporter.handler())
	defer exportSrv.Close()
	importSrv := httptest.NewServer(f.importer.handler())
	defer importSrv.Close()

	// User signs up and logs in.
	rec := f.do(t, http.MethodPost, "/auth/signup", "", nil, map[string]string{
		"firstName": "Jane",
		"lastName":  "Doe",
		"email":     "jane.doe@example.com",
		"password":  "hunter2!",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/auth/login", "", nil, map[string]string{
		"email":    "jane.doe@example.com",
		"password": "hunter2!",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bearer := decode[struct {
		AccessToken string `json:"accessToken"`
	}](t, rec).AccessToken
	require.NotEmpty(t, bearer)

	// Both participants onboard and declare they know the user.
	provider := f.registerParticipant(t, "Provider Corp", "provider-1", providerSD,
		map[string]string{"consentExport": exportSrv.URL})
	consumer := f.registerParticipant(t, "Consumer Inc", "consumer-1", consumerSD,
		map[string]string{"consentImport": importSrv.URL})
	f.registerIdentifier(t, provider, "jane.doe@example.com", "prov-jane")
	f.registerIdentifier(t, consumer, "jane.doe@example.com", "cons-jane")

	// Privacy notices are synthesized from the signed bilateral contract.
	listTarget := "/privacy-notices?dataProvider=" + f.catalogBase + providerSD +
		"&dataConsumer=" + f.catalogBase + consumerSD
	rec = f.do(t, http.MethodGet, listTarget, bearer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listing := decode[struct {
		Notices []noticemodels.Notice `json:"privacyNotices"`
	}](t, rec)
	require.Len(t, listing.Notices, 1)

	notice := listing.Notices[0]
	assert.Equal(t, "Health records export", notice.Title)
	assert.Equal(t, "bc-1", notice.ContractID())
	require.Len(t, notice.Purposes, 1)
	assert.Equal(t, "Anomaly detection", notice.Purposes[0].Purpose)
	require.Len(t, notice.Data, 1)
	assert.Equal(t, "dr-1", notice.Data[0].Resource)

	// The user grants consent. Both identifiers are known, so no email
	// verification round trip is needed.
	rec = f.do(t, http.MethodPost, "/consents", bearer, nil, map[string]string{
		"privacyNoticeId": notice.ID.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	granted := decode[consentmodels.Record](t, rec)
	assert.Equal(t, consentmodels.StatusGranted, granted.Status)
	assert.True(t, granted.Consented)
	assert.Empty(t, f.mail.Sent())

	// Triggering the exchange posts a sealed envelope to the provider.
	rec = f.do(t, http.MethodPost, "/consents/"+granted.ID.String()+"/data-exchange", bearer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	envelope := f.exporter.last(t)
	ivHex, _, ok := strings.Cut(envelope.SignedConsent, ":")
	require.True(t, ok)
	assert.Len(t, ivHex, 32)
	require.NoError(t, f.sealer.VerifyWrappedKey(envelope.Encrypted))

	opened, err := f.sealer.Open(envelope.SignedConsent)
	require.NoError(t, err)
	var exported consentmodels.Record
	require.NoError(t, json.Unmarshal(opened, &exported))
	assert.Equal(t, granted.ID, exported.ID)

	// The provider attaches its access token; the updated consent is
	// forwarded to the consumer.
	creds := map[string]string{
		"X-Client-Id":     provider.ClientID,
		"X-Client-Secret": provider.ClientSecret,
	}
	rec = f.do(t, http.MethodPost, "/consents/"+granted.ID.String()+"/token", "", creds,
		map[string]string{"token": "provider-access-token"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	forwarded := f.importer.last(t)
	opened, err = f.sealer.Open(forwarded.SignedConsent)
	require.NoError(t, err)
	var imported consentmodels.Record
	require.NoError(t, json.Unmarshal(opened, &imported))
	assert.Equal(t, "provider-access-token", imported.Token)

	// Either side can verify a presented token against the ledger.
	rec = f.do(t, http.MethodPost, "/consents/"+granted.ID.String()+"/token/verify", "", creds,
		map[string]string{"token": "provider-access-token"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[struct {
		Matched bool `json:"matched"`
	}](t, rec).Matched)

	rec = f.do(t, http.MethodPost, "/consents/"+granted.ID.String()+"/token/verify", "", creds,
		map[string]string{"token": "someone-elses-token"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[struct {
		Matched bool `json:"matched"`
	}](t, rec).Matched)
}

// TestConsentLifecycleEcosystemContract drives the same flow from a signed
// multi-party agreement: the notice takes its purposes from the consumer's
// offering, its data and title from the provider's, and the grant seals and
// relays exactly like the bilateral case.
func TestConsentLifecycleEcosystemContract(t *testing.T) {
	f := SetupSuite(t)
	f.seedSignedEcosystem()

	exportSrv := httptest.NewServer(f.exporter.handler())
	defer exportSrv.Close()

	rec := f.do(t, http.MethodPost, "/auth/signup", "", nil, map[string]string{
		"firstName": "Jane", "lastName": "Doe",
		"email": "jane.doe@example.com", "password": "hunter2!",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/auth/login", "", nil, map[string]string{
		"email": "jane.doe@example.com", "password": "hunter2!",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bearer := decode[struct {
		AccessToken string `json:"accessToken"`
	}](t, rec).AccessToken

	provider := f.registerParticipant(t, "Provider Corp", "provider-1", providerSD,
		map[string]string{"consentExport": exportSrv.URL})
	consumer := f.registerParticipant(t, "Consumer Inc", "consumer-1", consumerSD, nil)
	f.registerIdentifier(t, provider, "jane.doe@example.com", "prov-jane")
	f.registerIdentifier(t, consumer, "jane.doe@example.com", "cons-jane")

	listTarget := "/privacy-notices?dataProvider=" + f.catalogBase + providerSD +
		"&dataConsumer=" + f.catalogBase + consumerSD
	rec = f.do(t, http.MethodGet, listTarget, bearer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	listing := decode[struct {
		Notices []noticemodels.Notice `json:"privacyNotices"`
	}](t, rec)
	require.Len(t, listing.Notices, 1)

	// The pairwise view: provider's offering contributes data and the
	// title, the consumer's contributes purposes, the third member none.
	notice := listing.Notices[0]
	assert.Equal(t, "Health records export", notice.Title)
	assert.Equal(t, "ec-1", notice.ContractID())
	require.Len(t, notice.Purposes, 1)
	assert.Equal(t, "Risk scoring", notice.Purposes[0].Purpose)
	require.Len(t, notice.Data, 1)
	assert.Equal(t, "dr-1", notice.Data[0].Resource)

	rec = f.do(t, http.MethodPost, "/consents", bearer, nil, map[string]string{
		"privacyNoticeId": notice.ID.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	granted := decode[consentmodels.Record](t, rec)
	assert.Equal(t, consentmodels.StatusGranted, granted.Status)

	rec = f.do(t, http.MethodPost, "/consents/"+granted.ID.String()+"/data-exchange", bearer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	envelope := f.exporter.last(t)
	require.NoError(t, f.sealer.VerifyWrappedKey(envelope.Encrypted))
	opened, err := f.sealer.Open(envelope.SignedConsent)
	require.NoError(t, err)
	var exported consentmodels.Record
	require.NoError(t, json.Unmarshal(opened, &exported))
	assert.Equal(t, granted.ID, exported.ID)
	assert.Contains(t, exported.Contract, "ec-1")
}

// TestRevokedConsentCannotTriggerExchange covers the unhappy path after a
// revocation: the consent stays visible but the relay refuses it.
func TestRevokedConsentCannotTriggerExchange(t *testing.T) {
	f := SetupSuite(t)
	f.seedSignedBilateral()

	exportSrv := httptest.NewServer(f.exporter.handler())
	defer exportSrv.Close()

	rec := f.do(t, http.MethodPost, "/auth/signup", "", nil, map[string]string{
		"firstName": "Jane", "lastName": "Doe",
		"email": "jane.doe@example.com", "password": "hunter2!",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/auth/login", "", nil, map[string]string{
		"email": "jane.doe@example.com", "password": "hunter2!",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	bearer := decode[struct {
		AccessToken string `json:"accessToken"`
	}](t, rec).AccessToken

	provider := f.registerParticipant(t, "Provider Corp", "provider-1", providerSD,
		map[string]string{"consentExport": exportSrv.URL})
	consumer := f.registerParticipant(t, "Consumer Inc", "consumer-1", consumerSD, nil)
	f.registerIdentifier(t, provider, "jane.doe@example.com", "prov-jane")
	f.registerIdentifier(t, consumer, "jane.doe@example.com", "cons-jane")

	listTarget := "/privacy-notices?dataProvider=" + f.catalogBase + providerSD +
		"&dataConsumer=" + f.catalogBase + consumerSD
	rec = f.do(t, http.MethodGet, listTarget, bearer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Notices []noticemodels.Notice `json:"privacyNotices"`
	}](t, rec)
	require.Len(t, listing.Notices, 1)

	rec = f.do(t, http.MethodPost, "/consents", bearer, nil, map[string]string{
		"privacyNoticeId": listing.Notices[0].ID.String(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	granted := decode[consentmodels.Record](t, rec)

	rec = f.do(t, http.MethodPost, "/consents/"+granted.ID.String()+"/revoke", bearer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/consents/"+granted.ID.String()+"/data-exchange", bearer, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	f.exporter.mu.Lock()
	assert.Empty(t, f.exporter.envelopes)
	f.exporter.mu.Unlock()
}
