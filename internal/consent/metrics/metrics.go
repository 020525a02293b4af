// Package metrics provides Prometheus metrics for the consent lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains consent lifecycle metrics.
type Metrics struct {
	GrantsTotal            prometheus.Counter // New consent grants
	IdempotentGrantsTotal  prometheus.Counter // Grants resolved to an existing record
	RevocationsTotal       prometheus.Counter // Revocations
	VerificationMailsTotal prometheus.Counter // Cross-participant verification emails sent
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	return &Metrics{
		GrantsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_consents_granted_total",
			Help: "Total number of newly granted consents",
		}),
		IdempotentGrantsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_consents_idempotent_grants_total",
			Help: "Total number of grant calls resolved to an existing consent",
		}),
		RevocationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_consents_revoked_total",
			Help: "Total number of revoked consents",
		}),
		VerificationMailsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_consents_verification_mails_total",
			Help: "Total number of cross-participant verification emails sent",
		}),
	}
}
