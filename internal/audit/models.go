package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	ConsentID    string    `json:"consent_id,omitempty"`
	Action       string    `json:"action"`
	DataProvider string    `json:"data_provider,omitempty"`
	DataConsumer string    `json:"data_consumer,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Audit event actions for the consent lifecycle.
const (
	ActionConsentGranted      = "consent_granted"
	ActionConsentRevoked      = "consent_revoked"
	ActionVerificationSent    = "verification_email_sent"
	ActionIdentifierLinked    = "identifier_linked"
	ActionExchangeTriggered   = "exchange_triggered"
	ActionExchangeFailed      = "exchange_failed"
	ActionTokenAttached       = "token_attached"
	ActionTokenForwardFailed  = "token_forward_failed"
	ActionTokenVerifyChecked  = "token_verified"
	ActionParticipantRegister = "participant_registered"
)

// Audit event reasons.
const (
	ReasonUserInitiated    = "user_initiated"
	ReasonServiceInitiated = "service_initiated"
)
