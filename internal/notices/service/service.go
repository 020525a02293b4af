// Package service synthesizes privacy notices from contract documents and
// persists the ones not seen before.
package service

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"covenant/internal/contracts"
	"covenant/internal/notices/models"
	"covenant/internal/notices/store"
	domainerrors "covenant/pkg/domain-errors"
	"covenant/pkg/uripath"
)

// ContractGateway is the slice of the contract gateway the synthesizer
// consumes.
type ContractGateway interface {
	BilateralContractsFor(ctx context.Context, participantID string) ([]contracts.BilateralContract, error)
	EcosystemContractsFor(ctx context.Context, participantID string) ([]contracts.EcosystemContract, error)
	ServiceOffering(ctx context.Context, ref string) (*contracts.ServiceOffering, error)
	DataResource(ctx context.Context, ref string) (*contracts.DataResource, error)
	SoftwareResource(ctx context.Context, ref string) (*contracts.SoftwareResource, error)
	ContractURL(contractID string) string
}

// Warning records a sub-resource that could not be resolved during
// synthesis. The notice is still produced with the field absent.
type Warning struct {
	Contract string `json:"contract"`
	Resource string `json:"resource,omitempty"`
	Reason   string `json:"reason"`
}

// Service derives privacy notices for provider/consumer pairs.
type Service struct {
	gateway    ContractGateway
	store      store.Store
	logger     *slog.Logger
	fanOut     int
	newID      func() uuid.UUID
	legalBasis string
}

// Option configures the Service.
type Option func(*Service)

// WithFanOut bounds concurrent offering fetches during ecosystem
// synthesis.
func WithFanOut(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

// WithIDGenerator overrides notice ID generation (for tests).
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// New constructs the notice service.
func New(gateway ContractGateway, st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		gateway:    gateway,
		store:      st,
		logger:     logger,
		fanOut:     4,
		newID:      uuid.New,
		legalBasis: "consent",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListForPair synthesizes notices for every signed contract between the
// given provider and consumer, persists the ones whose contract is not
// already represented for the pair, and returns the full persisted set.
//
// Synthesis is best-effort: upstream fetch failures surface as warnings
// and missing fields, never as a hard error. Re-running for the same pair
// is safe; contracts already represented are not persisted again.
//
// Errors: only store failures abort the call.
func (s *Service) ListForPair(ctx context.Context, providerURL, consumerURL string) ([]models.Notice, []Warning, error) {
	consumerID := uripath.LastSegment(consumerURL)
	var warnings []Warning
	var fresh []models.Notice

	bilaterals, err := s.gateway.BilateralContractsFor(ctx, consumerID)
	if err != nil {
		s.logger.Warn("bilateral contract fetch failed", "consumer", consumerID, "error", err)
		warnings = append(warnings, Warning{Reason: "bilateral contracts unavailable: " + err.Error()})
	}
	for _, contract := range bilaterals {
		if !sameParty(contract.DataProvider, providerURL) || !sameParty(contract.DataConsumer, consumerURL) {
			continue
		}
		notice, w := s.synthesizeBilateral(ctx, contract, providerURL, consumerURL)
		fresh = append(fresh, notice)
		warnings = append(warnings, w...)
	}

	ecosystems, err := s.gateway.EcosystemContractsFor(ctx, consumerID)
	if err != nil {
		s.logger.Warn("ecosystem contract fetch failed", "consumer", consumerID, "error", err)
		warnings = append(warnings, Warning{Reason: "ecosystem contracts unavailable: " + err.Error()})
	}
	for _, contract := range ecosystems {
		if !hasMember(contract, providerURL) || !hasMember(contract, consumerURL) {
			continue
		}
		notice, w := s.synthesizeEcosystem(ctx, contract, providerURL, consumerURL)
		fresh = append(fresh, notice)
		warnings = append(warnings, w...)
	}

	existing, err := s.store.ListForPair(ctx, providerURL, consumerURL)
	if err != nil {
		return nil, warnings, domainerrors.Wrap(err, domainerrors.CodeInternal, "list notices")
	}

	persisted, err := s.persistMissing(ctx, existing, fresh)
	if err != nil {
		return nil, warnings, err
	}
	return persisted, warnings, nil
}

// persistMissing saves the fresh notices whose contract ID is not already
// present in the existing set, and returns the union. Both sides are
// sorted by contract ID before comparison.
func (s *Service) persistMissing(ctx context.Context, existing, fresh []models.Notice) ([]models.Notice, error) {
	byContractID := func(list []models.Notice) func(i, j int) bool {
		return func(i, j int) bool { return list[i].ContractID() < list[j].ContractID() }
	}
	sort.Slice(existing, byContractID(existing))
	sort.Slice(fresh, byContractID(fresh))

	known := make(map[string]struct{}, len(existing))
	for _, notice := range existing {
		known[notice.ContractID()] = struct{}{}
	}

	result := existing
	for _, notice := range fresh {
		if _, ok := known[notice.ContractID()]; ok {
			continue
		}
		known[notice.ContractID()] = struct{}{}
		saved := notice
		if err := s.store.Save(ctx, &saved); err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "save notice")
		}
		result = append(result, saved)
	}
	sort.Slice(result, byContractID(result))
	return result, nil
}

// Get loads a persisted notice by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Notice, error) {
	notice, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeNotFound, "privacy notice not found")
	}
	return notice, nil
}

// sameParty compares party references, tolerating a bare catalog ID on
// one side and a full self-description URL on the other.
func sameParty(a, b string) bool {
	if a == b {
		return true
	}
	return uripath.LastSegment(a) == uripath.LastSegment(b)
}

func hasMember(contract contracts.EcosystemContract, partyURL string) bool {
	for _, entry := range contract.ServiceOfferings {
		if sameParty(entry.Participant, partyURL) {
			return true
		}
	}
	return false
}
