// Package models defines the privacy notice entity synthesized from
// contract documents.
package models

import (
	"time"

	"github.com/google/uuid"

	"covenant/pkg/uripath"
)

// PurposeEntry describes one processing purpose covered by a notice. The
// purpose text is the software resource name; Resource and ServiceOffering
// carry the originating catalog identifiers.
type PurposeEntry struct {
	Purpose         string `json:"purpose"`
	Resource        string `json:"resource"`
	ServiceOffering string `json:"serviceOffering"`
	LegalBasis      string `json:"legalBasis"`
}

// DataEntry describes one data resource covered by a notice.
type DataEntry struct {
	Resource        string `json:"resource"`
	ServiceOffering string `json:"serviceOffering"`
}

// Notice is a privacy notice derived from a bilateral or ecosystem
// contract for a specific provider/consumer pair. Notices are a persisted
// cache: re-derivable from the contract at any time, but stored so a
// consent can reference a stable snapshot.
type Notice struct {
	ID                 uuid.UUID      `json:"id"`
	Title              string         `json:"title"`
	DataProvider       string         `json:"dataProvider"` // provider selfDescriptionURL
	Recipients         []string       `json:"recipients"`   // consumer selfDescriptionURLs
	Purposes           []PurposeEntry `json:"purposes"`
	Data               []DataEntry    `json:"data"`
	Contract           string         `json:"contract"` // originating contract URI
	RetentionPeriod    string         `json:"retentionPeriod"`
	PIIPrincipalRights []string       `json:"piiPrincipalRights"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// ContractID extracts the contract identifier from the Contract URI.
// Notices synthesized for the same pair are deduplicated by this value.
func (n *Notice) ContractID() string {
	return uripath.LastSegment(n.Contract)
}

// CoversRecipient reports whether the given consumer selfDescriptionURL is
// listed as a recipient.
func (n *Notice) CoversRecipient(selfDescriptionURL string) bool {
	for _, r := range n.Recipients {
		if r == selfDescriptionURL {
			return true
		}
	}
	return false
}
