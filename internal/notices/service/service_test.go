package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"covenant/internal/contracts"
	"covenant/internal/notices/models"
	"covenant/internal/notices/store"
	domainerrors "covenant/pkg/domain-errors"
)

const (
	providerURL = "https://catalog.example/v1/catalog/participants/provider-1"
	consumerURL = "https://catalog.example/v1/catalog/participants/consumer-1"
)

type fakeGateway struct {
	bilaterals map[string][]contracts.BilateralContract
	ecosystems map[string][]contracts.EcosystemContract
	offerings  map[string]*contracts.ServiceOffering
	dataRes    map[string]*contracts.DataResource
	softRes    map[string]*contracts.SoftwareResource
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		bilaterals: map[string][]contracts.BilateralContract{},
		ecosystems: map[string][]contracts.EcosystemContract{},
		offerings:  map[string]*contracts.ServiceOffering{},
		dataRes:    map[string]*contracts.DataResource{},
		softRes:    map[string]*contracts.SoftwareResource{},
	}
}

func (g *fakeGateway) BilateralContractsFor(_ context.Context, pid string) ([]contracts.BilateralContract, error) {
	return g.bilaterals[pid], nil
}

func (g *fakeGateway) EcosystemContractsFor(_ context.Context, pid string) ([]contracts.EcosystemContract, error) {
	return g.ecosystems[pid], nil
}

func (g *fakeGateway) ServiceOffering(_ context.Context, ref string) (*contracts.ServiceOffering, error) {
	if offering, ok := g.offerings[ref]; ok {
		return offering, nil
	}
	return nil, domainerrors.New(domainerrors.CodeUpstream, "service offering unavailable: "+ref)
}

func (g *fakeGateway) DataResource(_ context.Context, ref string) (*contracts.DataResource, error) {
	if resource, ok := g.dataRes[ref]; ok {
		return resource, nil
	}
	return nil, domainerrors.New(domainerrors.CodeUpstream, "data resource unavailable: "+ref)
}

func (g *fakeGateway) SoftwareResource(_ context.Context, ref string) (*contracts.SoftwareResource, error) {
	if resource, ok := g.softRes[ref]; ok {
		return resource, nil
	}
	return nil, domainerrors.New(domainerrors.CodeUpstream, "software resource unavailable: "+ref)
}

func (g *fakeGateway) ContractURL(id string) string {
	return "https://contract.example/contracts/" + id
}

type NoticeServiceSuite struct {
	suite.Suite

	gateway *fakeGateway
	store   *store.InMemoryStore
	service *Service
}

func TestNoticeServiceSuite(t *testing.T) {
	suite.Run(t, new(NoticeServiceSuite))
}

func (s *NoticeServiceSuite) SetupTest() {
	s.gateway = newFakeGateway()
	s.store = store.NewInMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.service = New(s.gateway, s.store, logger)
}

func (s *NoticeServiceSuite) seedOffering(id, name string, dataRefs, softwareRefs []string) {
	s.gateway.offerings[id] = &contracts.ServiceOffering{
		ID:                id,
		Name:              name,
		DataResources:     dataRefs,
		SoftwareResources: softwareRefs,
	}
	for _, ref := range dataRefs {
		s.gateway.dataRes[ref] = &contracts.DataResource{ID: ref, Name: "data " + ref}
	}
	for _, ref := range softwareRefs {
		s.gateway.softRes[ref] = &contracts.SoftwareResource{ID: ref, Name: "purpose " + ref}
	}
}

func (s *NoticeServiceSuite) TestBilateralSynthesis() {
	s.seedOffering("so-1", "Weather Feed", []string{"dr-1", "dr-2"}, []string{"sw-1"})
	s.gateway.bilaterals["consumer-1"] = []contracts.BilateralContract{{
		ID:              "bc-1",
		DataProvider:    providerURL,
		DataConsumer:    consumerURL,
		ServiceOffering: "so-1",
	}}

	notices, warnings, err := s.service.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)
	s.Empty(warnings)
	s.Require().Len(notices, 1)

	notice := notices[0]
	s.Equal("Weather Feed", notice.Title)
	s.Equal(providerURL, notice.DataProvider)
	s.Equal([]string{consumerURL}, notice.Recipients)
	s.Equal("bc-1", notice.ContractID())
	s.Len(notice.Data, 2)
	s.Require().Len(notice.Purposes, 1)
	s.Equal("purpose sw-1", notice.Purposes[0].Purpose)
	s.Equal("consent", notice.Purposes[0].LegalBasis)
}

func (s *NoticeServiceSuite) TestBilateralForOtherPairIsSkipped() {
	s.gateway.bilaterals["consumer-1"] = []contracts.BilateralContract{{
		ID:           "bc-other",
		DataProvider: "https://catalog.example/v1/catalog/participants/someone-else",
		DataConsumer: consumerURL,
	}}

	notices, _, err := s.service.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)
	s.Empty(notices)
}

func (s *NoticeServiceSuite) TestEcosystemPairwiseFiltering() {
	s.seedOffering("so-provider", "Observations", []string{"dr-1"}, nil)
	s.seedOffering("so-consumer", "Forecasting", nil, []string{"sw-1"})
	s.seedOffering("so-bystander", "Unrelated", []string{"dr-x"}, []string{"sw-x"})

	s.gateway.ecosystems["consumer-1"] = []contracts.EcosystemContract{{
		ID: "ec-1",
		ServiceOfferings: []contracts.OfferingEntry{
			{Participant: "provider-1", ServiceOffering: "so-provider"},
			{Participant: "consumer-1", ServiceOffering: "so-consumer"},
			{Participant: "bystander-9", ServiceOffering: "so-bystander"},
		},
	}}

	notices, warnings, err := s.service.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)
	s.Empty(warnings)
	s.Require().Len(notices, 1)

	notice := notices[0]
	s.Require().Len(notice.Purposes, 1)
	s.Equal("purpose sw-1", notice.Purposes[0].Purpose)
	s.Require().Len(notice.Data, 1)
	s.Equal("dr-1", notice.Data[0].Resource)
	s.Equal("Observations", notice.Title)
}

func (s *NoticeServiceSuite) TestEcosystemWithoutBothMembersIsSkipped() {
	s.gateway.ecosystems["consumer-1"] = []contracts.EcosystemContract{{
		ID: "ec-partial",
		ServiceOfferings: []contracts.OfferingEntry{
			{Participant: "consumer-1", ServiceOffering: "so-consumer"},
		},
	}}

	notices, _, err := s.service.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)
	s.Empty(notices)
}

func (s *NoticeServiceSuite) TestUnresolvableResourceYieldsWarningNotFailure() {
	s.gateway.offerings["so-1"] = &contracts.ServiceOffering{
		ID:                "so-1",
		Name:              "Partial Feed",
		DataResources:     []string{"dr-missing"},
		SoftwareResources: []string{"sw-missing"},
	}
	s.gateway.bilaterals["consumer-1"] = []contracts.BilateralContract{{
		ID:              "bc-1",
		DataProvider:    providerURL,
		DataConsumer:    consumerURL,
		ServiceOffering: "so-1",
	}}

	notices, warnings, err := s.service.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)
	s.Require().Len(notices, 1)
	s.Empty(notices[0].Purposes)
	s.Empty(notices[0].Data)
	s.Len(warnings, 2)
}

func (s *NoticeServiceSuite) TestPersistenceSetDifferenceByContractID() {
	for _, contractID := range []string{"A", "B"} {
		err := s.store.Save(context.Background(), &models.Notice{
			ID:           uuid.New(),
			DataProvider: providerURL,
			Recipients:   []string{consumerURL},
			Contract:     s.gateway.ContractURL(contractID),
		})
		s.Require().NoError(err)
	}

	s.seedOffering("so-1", "Feed", nil, nil)
	s.gateway.bilaterals["consumer-1"] = []contracts.BilateralContract{
		{ID: "B", DataProvider: providerURL, DataConsumer: consumerURL, ServiceOffering: "so-1"},
		{ID: "C", DataProvider: providerURL, DataConsumer: consumerURL, ServiceOffering: "so-1"},
	}

	notices, _, err := s.service.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)

	var contractIDs []string
	for _, notice := range notices {
		contractIDs = append(contractIDs, notice.ContractID())
	}
	s.Equal([]string{"A", "B", "C"}, contractIDs)

	stored, err := s.store.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)
	s.Len(stored, 3)
}

func (s *NoticeServiceSuite) TestRepeatedListingDoesNotDuplicate() {
	s.seedOffering("so-1", "Feed", []string{"dr-1"}, nil)
	s.gateway.bilaterals["consumer-1"] = []contracts.BilateralContract{{
		ID:              "bc-1",
		DataProvider:    providerURL,
		DataConsumer:    consumerURL,
		ServiceOffering: "so-1",
	}}

	first, _, err := s.service.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)
	second, _, err := s.service.ListForPair(context.Background(), providerURL, consumerURL)
	s.Require().NoError(err)

	s.Require().Len(first, 1)
	s.Require().Len(second, 1)
	s.Equal(first[0].ID, second[0].ID)
}
