package service

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db/models"
	"github.com/shopspring/decimal"
)

// invoiceStreamBuffer bounds how far the rabbitmq publisher may fall behind
// before Publish starts dropping updates for it.
const invoiceStreamBuffer = 100

// SubscribeInvoices returns a channel receiving every invoice status change.
func (svc *CheckoutService) SubscribeInvoices() (invoices chan models.Invoice, err error) {
	invoices = make(chan models.Invoice, invoiceStreamBuffer)
	svc.InvoicePubSub.Subscribe(AllInvoicesTopic, invoices)
	return invoices, nil
}

type invoicePayload struct {
	ID             string               `json:"id"`
	OrderID        string               `json:"order_id"`
	Status         common.InvoiceStatus `json:"status"`
	Amount         decimal.Decimal      `json:"amount"`
	Currency       string               `json:"currency"`
	Description    string               `json:"description,omitempty"`
	PaymentRequest string               `json:"payment_request,omitempty"`
	CustomerEmail  string               `json:"customer_email,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      *time.Time           `json:"updated_at,omitempty"`
	PaidAt         *time.Time           `json:"paid_at,omitempty"`
	CancelledAt    *time.Time           `json:"cancelled_at,omitempty"`
}

// EncodeInvoicePayload writes the message body published for an invoice update.
func (svc *CheckoutService) EncodeInvoicePayload(ctx context.Context, w io.Writer, invoice models.Invoice) error {
	return json.NewEncoder(w).Encode(invoicePayload{
		ID:             invoice.ID,
		OrderID:        invoice.OrderID,
		Status:         invoice.Status,
		Amount:         invoice.Amount,
		Currency:       common.Currency,
		Description:    invoice.Description,
		PaymentRequest: invoice.PaymentRequest,
		CustomerEmail:  invoice.CustomerEmail,
		CreatedAt:      invoice.CreatedAt,
		UpdatedAt:      optionalTime(invoice.UpdatedAt.Time),
		PaidAt:         optionalTime(invoice.PaidAt.Time),
		CancelledAt:    optionalTime(invoice.CancelledAt.Time),
	})
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
