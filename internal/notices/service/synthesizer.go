package service

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"covenant/internal/contracts"
	"covenant/internal/notices/models"
)

// synthesizeBilateral maps a bilateral contract into a notice. Provider
// and consumer come directly off the contract; purposes and data are
// derived by resolving each policy target to a service offering, then
// each of the offering's software/data resources.
func (s *Service) synthesizeBilateral(ctx context.Context, contract contracts.BilateralContract, providerURL, consumerURL string) (models.Notice, []Warning) {
	notice := models.Notice{
		ID:           s.newID(),
		DataProvider: providerURL,
		Recipients:   []string{consumerURL},
		Contract:     s.gateway.ContractURL(contract.ID),
	}
	var warnings []Warning

	for _, target := range policyTargets(contract) {
		offering, err := s.gateway.ServiceOffering(ctx, target)
		if err != nil {
			s.logger.Warn("service offering unresolved", "contract", contract.ID, "target", target, "error", err)
			warnings = append(warnings, Warning{Contract: contract.ID, Resource: target, Reason: err.Error()})
			continue
		}
		if notice.Title == "" {
			notice.Title = offering.Name
		}
		purposes, data, w := s.resolveResources(ctx, contract.ID, offering)
		notice.Purposes = append(notice.Purposes, purposes...)
		notice.Data = append(notice.Data, data...)
		warnings = append(warnings, w...)
	}
	if notice.Title == "" {
		notice.Title = "Data sharing agreement " + contract.ID
	}
	return notice, warnings
}

// synthesizeEcosystem maps a multi-party contract into the pairwise
// provider→consumer view. Only the consumer's offerings that expose
// software resources contribute purposes; only the provider's offerings
// contribute data. Offerings are resolved with a bounded fan-out since an
// ecosystem lists entries for every member.
func (s *Service) synthesizeEcosystem(ctx context.Context, contract contracts.EcosystemContract, providerURL, consumerURL string) (models.Notice, []Warning) {
	notice := models.Notice{
		ID:           s.newID(),
		DataProvider: providerURL,
		Recipients:   []string{consumerURL},
		Contract:     s.gateway.ContractURL(contract.ID),
	}
	var warnings []Warning

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.fanOut)

	for _, entry := range contract.ServiceOfferings {
		fromProvider := sameParty(entry.Participant, providerURL)
		fromConsumer := sameParty(entry.Participant, consumerURL)
		if !fromProvider && !fromConsumer {
			continue
		}
		ref := entry.ServiceOffering
		group.Go(func() error {
			offering, err := s.gateway.ServiceOffering(groupCtx, ref)
			if err != nil {
				s.logger.Warn("service offering unresolved", "contract", contract.ID, "target", ref, "error", err)
				mu.Lock()
				warnings = append(warnings, Warning{Contract: contract.ID, Resource: ref, Reason: err.Error()})
				mu.Unlock()
				return nil
			}
			purposes, data, w := s.resolveResources(groupCtx, contract.ID, offering)

			mu.Lock()
			defer mu.Unlock()
			if fromConsumer && len(purposes) > 0 {
				notice.Purposes = append(notice.Purposes, purposes...)
			}
			if fromProvider {
				notice.Data = append(notice.Data, data...)
				if notice.Title == "" {
					notice.Title = offering.Name
				}
			}
			warnings = append(warnings, w...)
			return nil
		})
	}
	_ = group.Wait()

	if notice.Title == "" {
		notice.Title = "Ecosystem data exchange " + contract.ID
	}
	return notice, warnings
}

// resolveResources fetches an offering's software and data resources.
// Unresolvable entries are reported as warnings and skipped.
func (s *Service) resolveResources(ctx context.Context, contractID string, offering *contracts.ServiceOffering) ([]models.PurposeEntry, []models.DataEntry, []Warning) {
	var purposes []models.PurposeEntry
	var data []models.DataEntry
	var warnings []Warning

	for _, ref := range offering.SoftwareResources {
		software, err := s.gateway.SoftwareResource(ctx, ref)
		if err != nil {
			s.logger.Warn("software resource unresolved", "contract", contractID, "resource", ref, "error", err)
			warnings = append(warnings, Warning{Contract: contractID, Resource: ref, Reason: err.Error()})
			continue
		}
		purposes = append(purposes, models.PurposeEntry{
			Purpose:         software.Name,
			Resource:        ref,
			ServiceOffering: offering.ID,
			LegalBasis:      s.legalBasis,
		})
	}
	for _, ref := range offering.DataResources {
		if _, err := s.gateway.DataResource(ctx, ref); err != nil {
			s.logger.Warn("data resource unresolved", "contract", contractID, "resource", ref, "error", err)
			warnings = append(warnings, Warning{Contract: contractID, Resource: ref, Reason: err.Error()})
			continue
		}
		data = append(data, models.DataEntry{
			Resource:        ref,
			ServiceOffering: offering.ID,
		})
	}
	return purposes, data, warnings
}

// policyTargets collects the distinct rule targets of a bilateral
// contract, including its primary service offering.
func policyTargets(contract contracts.BilateralContract) []string {
	seen := make(map[string]struct{})
	var targets []string
	add := func(target string) {
		if target == "" {
			return
		}
		if _, ok := seen[target]; ok {
			return
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}
	add(contract.ServiceOffering)
	for _, policy := range contract.Policy {
		for _, rule := range policy.Permission {
			add(rule.Target)
		}
		for _, rule := range policy.Prohibition {
			add(rule.Target)
		}
	}
	return targets
}
