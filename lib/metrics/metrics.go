package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	InvoicesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lncheckout_invoices_created_total",
			Help: "Total number of invoices created at the gateway and stored",
		},
	)

	InvoiceTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lncheckout_invoice_transitions_total",
			Help: "Invoice status changes that were applied, by target status and source",
		},
		[]string{"to", "source"},
	)

	IgnoredTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lncheckout_invoice_transitions_ignored_total",
			Help: "Status changes that were not applied, by reason",
		},
		[]string{"reason"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lncheckout_webhook_deliveries_total",
			Help: "Gateway webhook deliveries, by outcome",
		},
		[]string{"outcome"},
	)

	GatewayErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lncheckout_gateway_errors_total",
			Help: "Failed gateway calls after retries, by operation",
		},
		[]string{"op"},
	)

	FulfillmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lncheckout_fulfillments_total",
			Help: "Fulfillment notifications, by outcome",
		},
		[]string{"outcome"},
	)

	FulfillmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lncheckout_fulfillment_duration_seconds",
			Help:    "Duration of a fulfillment run including retries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(InvoicesCreatedTotal)
	prometheus.MustRegister(InvoiceTransitionsTotal)
	prometheus.MustRegister(IgnoredTransitionsTotal)
	prometheus.MustRegister(WebhookDeliveriesTotal)
	prometheus.MustRegister(GatewayErrorsTotal)
	prometheus.MustRegister(FulfillmentsTotal)
	prometheus.MustRegister(FulfillmentDuration)
}
