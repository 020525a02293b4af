// Package models defines the consent record and its lifecycle rules.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	noticemodels "covenant/internal/notices/models"
	dErrors "covenant/pkg/domain-errors"
	"covenant/pkg/uripath"
)

// Status is the consent lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusDraft   Status = "draft" // reserved, not reachable from the primary flow
	StatusGranted Status = "granted"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired" // set externally, no internal timer drives it
)

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDraft, StatusGranted, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// RequiresUser reports whether the status may only exist on a record
// bound to a user.
func (s Status) RequiresUser() bool {
	switch s {
	case StatusGranted, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// Record is a user's consent to a specific privacy notice between one
// provider and one consumer. Purposes, data, recipients and contract are
// copied off the notice at grant time: later notice changes must not
// silently alter an already granted consent.
type Record struct {
	ID                       uuid.UUID                   `json:"id"`
	PrivacyNoticeID          uuid.UUID                   `json:"privacyNoticeId"`
	UserID                   uuid.UUID                   `json:"userId"` // uuid.Nil until the record is bound to a user
	ProviderUserIdentifierID uuid.UUID                   `json:"providerUserIdentifier"`
	ConsumerUserIdentifierID uuid.UUID                   `json:"consumerUserIdentifier"`
	DataProviderID           uuid.UUID                   `json:"dataProvider"`
	DataConsumerID           uuid.UUID                   `json:"dataConsumer"`
	Recipients               []string                    `json:"recipients"`
	Purposes                 []noticemodels.PurposeEntry `json:"purposes"`
	Data                     []noticemodels.DataEntry    `json:"data"`
	Status                   Status                      `json:"status"`
	Consented                bool                        `json:"consented"`
	Contract                 string                      `json:"contract"`
	Token                    string                      `json:"token,omitempty"`
	JSONLD                   string                      `json:"jsonld,omitempty"`
	CreatedAt                time.Time                   `json:"createdAt"`
	UpdatedAt                time.Time                   `json:"updatedAt"`
}

// Validate enforces the record's structural invariants. Both store
// implementations call it on every write: a terminal-or-granted status
// requires a bound user, and a bound user requires such a status.
func Validate(c *Record) error {
	if c == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "consent record required")
	}
	if c.ID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "consent ID required")
	}
	if c.PrivacyNoticeID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "privacy notice reference required")
	}
	if !c.Status.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown consent status")
	}
	if c.Status.RequiresUser() && c.UserID == uuid.Nil {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"status "+string(c.Status)+" requires a bound user")
	}
	if c.UserID != uuid.Nil && !c.Status.RequiresUser() {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"a bound user requires status granted, revoked or expired")
	}
	return nil
}

// Valid reports whether a consent authorizes a data exchange: granted and
// actively consented. False for every other status, including fresh
// zero-value records.
func Valid(c *Record) bool {
	return c != nil && c.Status == StatusGranted && c.Consented
}

type jsonldRule struct {
	Assigner string `json:"assigner"`
	Assignee string `json:"assignee"`
	Target   string `json:"target"`
	Action   string `json:"action"`
}

type jsonldDocument struct {
	Context    string       `json:"@context"`
	Type       string       `json:"@type"`
	Permission []jsonldRule `json:"permission"`
}

// BuildJSONLD serializes the ODRL-style agreement embedded in a consent.
// Assigner and assignee are the parties' catalog self-description URLs.
func BuildJSONLD(assignerURL, assigneeURL, contract string) (string, error) {
	doc := jsonldDocument{
		Context: "https://www.w3.org/ns/odrl.jsonld",
		Type:    "Agreement",
		Permission: []jsonldRule{{
			Assigner: assignerURL,
			Assignee: assigneeURL,
			Target:   contract,
			Action:   "use",
		}},
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encode consent jsonld")
	}
	return string(payload), nil
}

// ParticipantIDs extracts the assigner and assignee identifiers from the
// stored JSON-LD permission block by taking the last path segment of each
// URI. This assumes the catalog's trailing-segment-is-id URI shape; a
// change in that scheme breaks extraction.
func ParticipantIDs(c *Record) (assignerID, assigneeID string, err error) {
	if c == nil || c.JSONLD == "" {
		return "", "", dErrors.New(dErrors.CodeInvalidInput, "consent has no jsonld document")
	}
	var doc jsonldDocument
	if err := json.Unmarshal([]byte(c.JSONLD), &doc); err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode consent jsonld")
	}
	if len(doc.Permission) == 0 {
		return "", "", dErrors.New(dErrors.CodeInvalidInput, "consent jsonld has no permission block")
	}
	rule := doc.Permission[0]
	return uripath.LastSegment(rule.Assigner), uripath.LastSegment(rule.Assignee), nil
}
