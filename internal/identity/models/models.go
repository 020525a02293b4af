package models

import (
	"time"

	"github.com/google/uuid"

	"covenant/pkg/uripath"
)

// User is the canonical person record. One User may hold many UserIdentifiers,
// one per participant it is known to. Users are never hard-deleted.
type User struct {
	ID            uuid.UUID
	FirstName     string
	LastName      string
	Email         string
	PasswordHash  string
	IdentifierIDs []uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasIdentifier reports whether the identifier is already attached to the user.
func (u *User) HasIdentifier(identifierID uuid.UUID) bool {
	for _, id := range u.IdentifierIDs {
		if id == identifierID {
			return true
		}
	}
	return false
}

// AttachIdentifier appends an identifier reference if not already present.
// Returns true when the list changed.
func (u *User) AttachIdentifier(identifierID uuid.UUID) bool {
	if u.HasIdentifier(identifierID) {
		return false
	}
	u.IdentifierIDs = append(u.IdentifierIDs, identifierID)
	return true
}

// Endpoints are the connector URLs a participant declares at registration.
type Endpoints struct {
	DataExport    string `json:"dataExport"`
	DataImport    string `json:"dataImport"`
	ConsentImport string `json:"consentImport"`
	ConsentExport string `json:"consentExport"`
}

// Participant represents a data provider or consumer organization.
// SelfDescriptionURL is the canonical external identity (a catalog URL) and
// the join key against privacy notices and exchanges. ClientID and the client
// secret are generated at registration and never user-editable afterwards.
type Participant struct {
	ID                 uuid.UUID
	LegalName          string
	Identifier         string
	SelfDescriptionURL string
	Email              string
	PasswordHash       string
	Endpoints          Endpoints
	ClientID           string
	ClientSecretHash   string
	CreatedAt          time.Time
}

// CatalogID returns the participant's catalog document id, derived from the
// self-description URL's last path segment.
func (p *Participant) CatalogID() string {
	return uripath.LastSegment(p.SelfDescriptionURL)
}

// UserIdentifier records that "this email/alias is how participant P knows
// this person". At most one identifier exists per (participant, email) pair;
// the store layer enforces this with a uniqueness constraint, and duplicate
// registration is a no-op returning the existing identifier.
type UserIdentifier struct {
	ID            uuid.UUID
	ParticipantID uuid.UUID
	Email         string
	Identifier    string
	URL           string
	// UserID is uuid.Nil until reconciliation attaches the identifier to a
	// canonical User.
	UserID    uuid.UUID
	CreatedAt time.Time
}

// Attached reports whether the identifier has been linked to a User.
func (i *UserIdentifier) Attached() bool {
	return i.UserID != uuid.Nil
}
