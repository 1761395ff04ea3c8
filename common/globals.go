package common

import "github.com/shopspring/decimal"

const (
	// Webhook event types sent by the gateway. The short names are the
	// generic vocabulary, the Invoice* names are the ones BTCPay Server emits.
	EventPaymentReceived        = "PaymentReceived"
	EventPaymentSettled         = "PaymentSettled"
	EventInvoiceProcessing      = "InvoiceProcessing"
	EventInvoiceExpired         = "InvoiceExpired"
	EventInvoiceInvalid         = "InvoiceInvalid"
	EventInvoiceReceivedPayment = "InvoiceReceivedPayment"
	EventInvoicePaymentSettled  = "InvoicePaymentSettled"
	EventInvoiceSettled         = "InvoiceSettled"

	// Sources recorded with every status change.
	SourceWebhook   = "webhook"
	SourcePoll      = "poll"
	SourceCancel    = "cancel"
	SourceReconcile = "reconcile"

	SignatureHeader            = "BTCPay-Sig"
	FulfillmentSignatureHeader = "X-Lncheckout-Signature"
	FulfillmentEventHeader     = "X-Lncheckout-Event"
	FulfillmentEventOrderPaid  = "order.paid"

	OrderIdPrefix      = "ORD-"
	DefaultDescription = "Lightning payment"
	Currency           = "USD"

	TimeframeDay   = "day"
	TimeframeWeek  = "week"
	TimeframeMonth = "month"
)

var (
	MinInvoiceAmount = decimal.NewFromInt(20)
	MaxInvoiceAmount = decimal.NewFromInt(100)
)
