package contracts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"covenant/internal/contracts/metrics"
	"covenant/internal/contracts/tracer"
	domainerrors "covenant/pkg/domain-errors"
)

// Resource kinds used for cache metrics and span attributes.
const (
	kindBilaterals       = "bilaterals"
	kindEcosystems       = "ecosystems"
	kindContract         = "contract"
	kindParticipant      = "participant"
	kindServiceOffering  = "serviceoffering"
	kindDataResource     = "dataresource"
	kindSoftwareResource = "softwareresource"
)

// Gateway retrieves contract and catalog documents over HTTP with a
// read-through TTL response cache keyed by URL. A single contract can
// reference many service offerings, each with many resources, so the
// cache bounds the fan-out cost of notice synthesis.
type Gateway struct {
	contractBaseURL string
	catalogBaseURL  string
	cache           ResponseCache
	httpClient      *http.Client
	logger          *slog.Logger
	tracer          tracer.Tracer
	metrics         *metrics.Metrics
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = client
	}
}

// WithCache sets the response cache implementation.
func WithCache(cache ResponseCache) Option {
	return func(g *Gateway) {
		g.cache = cache
	}
}

// WithTracer sets the tracer used around upstream fetches.
func WithTracer(t tracer.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithMetrics sets the gateway metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New constructs a Gateway against the given contract and catalog service
// base URLs. Defaults: 60s in-memory cache, 10s HTTP timeout, noop tracer.
func New(contractBaseURL, catalogBaseURL string, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		contractBaseURL: strings.TrimRight(contractBaseURL, "/"),
		catalogBaseURL:  strings.TrimRight(catalogBaseURL, "/"),
		logger:          logger,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		tracer:          tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewMemoryCache(60 * time.Second)
	}
	return g
}

type contractsEnvelope struct {
	Contracts json.RawMessage `json:"contracts"`
}

// BilateralContractsFor fetches the signed bilateral contracts a
// participant is party to, by catalog participant ID.
func (g *Gateway) BilateralContractsFor(ctx context.Context, participantID string) ([]BilateralContract, error) {
	ctx, span := g.tracer.Start(ctx, tracer.SpanFetchBilaterals,
		tracer.String(tracer.AttrParticipantID, participantID))
	url := fmt.Sprintf("%s/bilaterals/for/%s?hasSigned=true", g.contractBaseURL, participantID)

	body, err := g.fetchResource(ctx, span, kindBilaterals, url)
	if err != nil {
		span.End(err)
		return nil, err
	}
	var envelope contractsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		err = fmt.Errorf("decode bilateral contracts: %w", err)
		span.End(err)
		return nil, err
	}
	var contracts []BilateralContract
	if len(envelope.Contracts) > 0 {
		if err := json.Unmarshal(envelope.Contracts, &contracts); err != nil {
			err = fmt.Errorf("decode bilateral contracts: %w", err)
			span.End(err)
			return nil, err
		}
	}
	span.End(nil)
	return contracts, nil
}

// EcosystemContractsFor fetches the signed ecosystem contracts a
// participant is a member of, by catalog participant ID.
func (g *Gateway) EcosystemContractsFor(ctx context.Context, participantID string) ([]EcosystemContract, error) {
	ctx, span := g.tracer.Start(ctx, tracer.SpanFetchEcosystems,
		tracer.String(tracer.AttrParticipantID, participantID))
	url := fmt.Sprintf("%s/contracts/for/%s?hasSigned=true", g.contractBaseURL, participantID)

	body, err := g.fetchResource(ctx, span, kindEcosystems, url)
	if err != nil {
		span.End(err)
		return nil, err
	}
	var envelope contractsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		err = fmt.Errorf("decode ecosystem contracts: %w", err)
		span.End(err)
		return nil, err
	}
	var contracts []EcosystemContract
	if len(envelope.Contracts) > 0 {
		if err := json.Unmarshal(envelope.Contracts, &contracts); err != nil {
			err = fmt.Errorf("decode ecosystem contracts: %w", err)
			span.End(err)
			return nil, err
		}
	}
	span.End(nil)
	return contracts, nil
}

// ContractURL returns the canonical URI of a contract document. Notices
// and consents store this URI; downstream parsing extracts the trailing
// segment as the contract ID.
func (g *Gateway) ContractURL(contractID string) string {
	return fmt.Sprintf("%s/contracts/%s", g.contractBaseURL, contractID)
}

// ContractByID fetches a single contract document as raw JSON.
func (g *Gateway) ContractByID(ctx context.Context, contractID string) ([]byte, error) {
	url := fmt.Sprintf("%s/contracts/%s", g.contractBaseURL, contractID)
	return g.fetchSpanned(ctx, kindContract, url)
}

// VerifyPair asks the contract service whether an active agreement exists
// between the given provider and consumer. Any 2xx means verified.
func (g *Gateway) VerifyPair(ctx context.Context, providerID, consumerID string) (bool, error) {
	ctx, span := g.tracer.Start(ctx, tracer.SpanVerifyPair,
		tracer.String(tracer.AttrParticipantID, providerID))
	url := fmt.Sprintf("%s/verify/%s/%s", g.contractBaseURL, providerID, consumerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.End(err)
		return false, domainerrors.Wrap(err, domainerrors.CodeInternal, "build verify request")
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.End(err)
		return false, domainerrors.Wrap(err, domainerrors.CodeUpstream, "contract verification unreachable")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	span.SetAttributes(tracer.Int64(tracer.AttrStatusCode, int64(resp.StatusCode)))
	span.End(nil)
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// Participant fetches a catalog participant self-description. The ref may
// be a bare catalog ID or a full self-description URL.
func (g *Gateway) Participant(ctx context.Context, ref string) (*ParticipantDescription, error) {
	var description ParticipantDescription
	if err := g.getJSON(ctx, kindParticipant, g.catalogURL("participants", ref), &description); err != nil {
		return nil, err
	}
	return &description, nil
}

// ServiceOffering fetches a catalog service offering by ID or URL.
func (g *Gateway) ServiceOffering(ctx context.Context, ref string) (*ServiceOffering, error) {
	var offering ServiceOffering
	if err := g.getJSON(ctx, kindServiceOffering, g.catalogURL("serviceofferings", ref), &offering); err != nil {
		return nil, err
	}
	return &offering, nil
}

// DataResource fetches a catalog data resource by ID or URL.
func (g *Gateway) DataResource(ctx context.Context, ref string) (*DataResource, error) {
	var resource DataResource
	if err := g.getJSON(ctx, kindDataResource, g.catalogURL("dataresources", ref), &resource); err != nil {
		return nil, err
	}
	return &resource, nil
}

// SoftwareResource fetches a catalog software resource by ID or URL.
func (g *Gateway) SoftwareResource(ctx context.Context, ref string) (*SoftwareResource, error) {
	var resource SoftwareResource
	if err := g.getJSON(ctx, kindSoftwareResource, g.catalogURL("softwareresources", ref), &resource); err != nil {
		return nil, err
	}
	return &resource, nil
}

// catalogURL resolves a resource reference. Contract documents mix full
// catalog URLs and bare IDs in their target fields, so both are accepted.
func (g *Gateway) catalogURL(collection, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return fmt.Sprintf("%s/catalog/%s/%s", g.catalogBaseURL, collection, ref)
}

func (g *Gateway) getJSON(ctx context.Context, kind, url string, target any) error {
	body, err := g.fetchSpanned(ctx, kind, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode %s document: %w", kind, err)
	}
	return nil
}

func (g *Gateway) fetchSpanned(ctx context.Context, kind string, url string) ([]byte, error) {
	ctx, span := g.tracer.Start(ctx, tracer.SpanFetchResource,
		tracer.String(tracer.AttrURL, url))
	body, err := g.fetchResource(ctx, span, kind, url)
	span.End(err)
	return body, err
}

// fetchResource performs a read-through cached GET. Cache failures are
// logged and treated as misses.
func (g *Gateway) fetchResource(ctx context.Context, span tracer.Span, kind, url string) ([]byte, error) {
	cached, err := g.cache.Get(ctx, url)
	if err == nil {
		g.recordCacheHit(kind)
		span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, true))
		return cached, nil
	}
	if err != ErrCacheMiss {
		g.logger.Warn("response cache read failed", "url", url, "error", err)
	}
	g.recordCacheMiss(kind)
	span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, false))

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "build resource request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.recordFetchError(kind)
		return nil, domainerrors.Wrap(err, domainerrors.CodeUpstream,
			fmt.Sprintf("fetch %s: %s unreachable", kind, url))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.recordFetchError(kind)
		return nil, domainerrors.Wrap(err, domainerrors.CodeUpstream,
			fmt.Sprintf("read %s response", kind))
	}

	span.SetAttributes(tracer.Int64(tracer.AttrStatusCode, int64(resp.StatusCode)))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.recordFetchError(kind)
		return nil, domainerrors.New(domainerrors.CodeUpstream,
			fmt.Sprintf("fetch %s: %s returned status %d", kind, url, resp.StatusCode))
	}

	g.observeFetch(kind, time.Since(start).Seconds())
	if err := g.cache.Set(ctx, url, body); err != nil {
		g.logger.Warn("response cache write failed", "url", url, "error", err)
	}
	return body, nil
}

func (g *Gateway) recordCacheHit(kind string) {
	if g.metrics != nil {
		g.metrics.RecordCacheHit(kind)
	}
}

func (g *Gateway) recordCacheMiss(kind string) {
	if g.metrics != nil {
		g.metrics.RecordCacheMiss(kind)
	}
}

func (g *Gateway) observeFetch(kind string, seconds float64) {
	if g.metrics != nil {
		g.metrics.ObserveFetch(kind, seconds)
	}
}

func (g *Gateway) recordFetchError(kind string) {
	if g.metrics != nil {
		g.metrics.RecordFetchError(kind)
	}
}
