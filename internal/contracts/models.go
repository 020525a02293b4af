// Package contracts fetches bilateral and ecosystem contract documents,
// together with the catalog resources they reference, from external
// contract and catalog services.
package contracts

// Rule is a single ODRL-style rule inside a policy. Target is a catalog
// resource URI.
type Rule struct {
	Action string `json:"action"`
	Target string `json:"target"`
}

// Policy groups permission and prohibition rules attached to a contract.
type Policy struct {
	Permission  []Rule `json:"permission"`
	Prohibition []Rule `json:"prohibition"`
}

// BilateralContract is a signed provider/consumer agreement. The party
// fields carry catalog self-description URLs.
type BilateralContract struct {
	ID              string   `json:"_id"`
	DataProvider    string   `json:"dataProvider"`
	DataConsumer    string   `json:"dataConsumer"`
	ServiceOffering string   `json:"serviceOffering"`
	Purpose         []Rule   `json:"purpose"`
	Policy          []Policy `json:"policy"`
	Status          string   `json:"status"`
}

// OfferingEntry is a participant's contribution to an ecosystem contract.
type OfferingEntry struct {
	Participant     string   `json:"participant"`
	ServiceOffering string   `json:"serviceOffering"`
	Policies        []Policy `json:"policies"`
}

// EcosystemContract is a multi-party agreement. It lists offerings from
// every member, so pairwise views must be filtered by the caller.
type EcosystemContract struct {
	ID               string          `json:"_id"`
	Ecosystem        string          `json:"ecosystem"`
	Orchestrator     string          `json:"orchestrator"`
	ServiceOfferings []OfferingEntry `json:"serviceOfferings"`
	Purpose          []Rule          `json:"purpose"`
	Status           string          `json:"status"`
}

// ServiceOffering is a catalog document describing an offered service and
// the resources it exposes. Resource entries are catalog URIs.
type ServiceOffering struct {
	ID                string   `json:"_id"`
	Name              string   `json:"name"`
	ProvidedBy        string   `json:"providedBy"`
	Description       string   `json:"description"`
	DataResources     []string `json:"dataResources"`
	SoftwareResources []string `json:"softwareResources"`
}

// DataResource is a catalog document for a concrete data asset.
type DataResource struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ProducedBy  string `json:"producedBy"`
}

// SoftwareResource is a catalog document for a processing capability. Its
// name doubles as the human-readable purpose in privacy notices.
type SoftwareResource struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ProvidedBy  string `json:"providedBy"`
}

// ParticipantDescription is a catalog self-description document.
type ParticipantDescription struct {
	ID        string `json:"_id"`
	LegalName string `json:"legalName"`
	DID       string `json:"did"`
}
