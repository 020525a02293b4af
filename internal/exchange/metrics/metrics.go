// Package metrics provides Prometheus metrics for the exchange relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains exchange relay metrics.
type Metrics struct {
	ExchangesTriggeredTotal   prometheus.Counter // Successful export relays
	ExchangeFailuresTotal     prometheus.Counter // Export relays refused by the counterpart
	TokensAttachedTotal       prometheus.Counter // Provider tokens recorded
	TokenForwardFailuresTotal prometheus.Counter // Consumer-side forwards that failed
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	return &Metrics{
		ExchangesTriggeredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_exchanges_triggered_total",
			Help: "Total number of consent payloads relayed to provider connectors",
		}),
		ExchangeFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_exchange_failures_total",
			Help: "Total number of export relays that failed at the counterpart",
		}),
		TokensAttachedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_exchange_tokens_attached_total",
			Help: "Total number of provider tokens attached to consents",
		}),
		TokenForwardFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covenant_exchange_token_forward_failures_total",
			Help: "Total number of failed consent forwards to consumer connectors",
		}),
	}
}
