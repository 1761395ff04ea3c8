package gateway

import (
	"github.com/getAlby/lncheckout/common"
)

var invoiceStatuses = map[string]common.InvoiceStatus{
	"New":        common.InvoiceStatusPending,
	"Processing": common.InvoiceStatusProcessing,
	"Settled":    common.InvoiceStatusPaid,
	"Invalid":    common.InvoiceStatusFailed,
	"Expired":    common.InvoiceStatusExpired,

	// Strike
	"UNPAID":    common.InvoiceStatusPending,
	"PENDING":   common.InvoiceStatusProcessing,
	"PAID":      common.InvoiceStatusPaid,
	"CANCELLED": common.InvoiceStatusExpired,
}

var eventStatuses = map[string]common.InvoiceStatus{
	common.EventPaymentReceived:        common.InvoiceStatusProcessing,
	common.EventInvoiceReceivedPayment: common.InvoiceStatusProcessing,
	common.EventInvoiceProcessing:      common.InvoiceStatusProcessing,
	common.EventPaymentSettled:         common.InvoiceStatusPaid,
	common.EventInvoicePaymentSettled:  common.InvoiceStatusPaid,
	common.EventInvoiceSettled:         common.InvoiceStatusPaid,
	common.EventInvoiceExpired:         common.InvoiceStatusExpired,
	common.EventInvoiceInvalid:         common.InvoiceStatusFailed,
}

// MapInvoiceStatus translates a gateway invoice status. ok is false for
// statuses we do not know, which callers must treat as "no change".
func MapInvoiceStatus(status string) (mapped common.InvoiceStatus, ok bool) {
	mapped, ok = invoiceStatuses[status]
	return mapped, ok
}

// MapEventType translates a webhook event type into the status it moves the invoice to.
func MapEventType(eventType string) (mapped common.InvoiceStatus, ok bool) {
	mapped, ok = eventStatuses[eventType]
	return mapped, ok
}
