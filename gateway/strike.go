package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

const (
	strikeStateUnpaid = "UNPAID"
	strikeStatePaid   = "PAID"
)

// StrikeClient talks to the Strike v1 invoice API. Strike invoices are
// denominated in USD and paid over a short lived lightning quote.
type StrikeClient struct {
	*apiClient
	checkoutURL string
}

func NewStrikeClient(c *Config, logger *lecho.Logger) *StrikeClient {
	return &StrikeClient{
		apiClient:   newAPIClient("Strike", c.StrikeURL, "Bearer "+c.StrikeAPIKey, c, logger),
		checkoutURL: strings.TrimRight(c.StrikeCheckoutURL, "/"),
	}
}

type strikeAmount struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type strikeRequestAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type strikeCreateInvoiceRequest struct {
	CorrelationID string              `json:"correlationId"`
	Description   string              `json:"description"`
	Amount        strikeRequestAmount `json:"amount"`
}

type strikeInvoice struct {
	InvoiceID     string       `json:"invoiceId"`
	Amount        strikeAmount `json:"amount"`
	State         string       `json:"state"`
	Created       time.Time    `json:"created"`
	CorrelationID string       `json:"correlationId"`
	Description   string       `json:"description"`
}

type strikeConversionRate struct {
	Amount         decimal.Decimal `json:"amount"`
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
}

type strikeQuote struct {
	QuoteID        string               `json:"quoteId"`
	LnInvoice      string               `json:"lnInvoice"`
	Expiration     time.Time            `json:"expiration"`
	SourceAmount   strikeAmount         `json:"sourceAmount"`
	TargetAmount   strikeAmount         `json:"targetAmount"`
	ConversionRate strikeConversionRate `json:"conversionRate"`
}

func (client *StrikeClient) Kind() string {
	return STRIKE_CLIENT_TYPE
}

func (client *StrikeClient) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Payment of $%s", req.Amount.StringFixed(2))
	}
	body := strikeCreateInvoiceRequest{
		CorrelationID: req.OrderID,
		Description:   description,
		Amount: strikeRequestAmount{
			Amount:   req.Amount.StringFixed(2),
			Currency: common.Currency,
		},
	}
	created := strikeInvoice{}
	raw, err := client.Request(ctx, "create invoice", http.MethodPost, "/v1/invoices", body, &created)
	if err != nil {
		return nil, err
	}
	if created.InvoiceID == "" {
		return nil, &Error{Op: "create invoice", Err: fmt.Errorf("%w: missing invoice id", errMalformedResponse)}
	}

	invoice := &Invoice{
		ID:           created.InvoiceID,
		CheckoutLink: client.checkoutURL + "/" + url.PathEscape(created.InvoiceID),
		Status:       created.State,
		CreatedAt:    created.Created.UTC(),
		Raw:          raw,
	}

	// Strike only issues the BOLT11 string with a quote. A failed quote is
	// not fatal, the read path asks for a fresh one.
	quote, err := client.quote(ctx, created.InvoiceID)
	if err != nil {
		client.logger.Warnf("Could not fetch lightning quote for invoice %s: %v", created.InvoiceID, err)
	} else {
		invoice.PaymentRequest = quote.LnInvoice
		invoice.ExpiresAt = quote.Expiration.UTC()
	}
	return invoice, nil
}

func (client *StrikeClient) GetInvoice(ctx context.Context, id string) (*InvoiceSnapshot, error) {
	invoice := strikeInvoice{}
	raw, err := client.Request(ctx, "get invoice", http.MethodGet, "/v1/invoices/"+url.PathEscape(id), nil, &invoice)
	if err != nil {
		return nil, err
	}
	snapshot := &InvoiceSnapshot{
		ID:     invoice.InvoiceID,
		Status: invoice.State,
		Amount: invoice.Amount.Amount,
		Raw:    raw,
	}
	if invoice.State == strikeStatePaid {
		snapshot.PaidAmount = decimal.NewNullDecimal(invoice.Amount.Amount)
	}
	return snapshot, nil
}

// GetPaymentMethods requests a new quote, Strike quotes expire within seconds
// for USD invoices. Paid and cancelled invoices have no lightning method.
func (client *StrikeClient) GetPaymentMethods(ctx context.Context, id string) (*LightningDetails, error) {
	invoice := strikeInvoice{}
	if _, err := client.Request(ctx, "get invoice", http.MethodGet, "/v1/invoices/"+url.PathEscape(id), nil, &invoice); err != nil {
		return nil, err
	}
	if invoice.State != strikeStateUnpaid {
		return nil, nil
	}
	quote, err := client.quote(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LightningDetails{
		PaymentMethod:  LightningPaymentMethod,
		PaymentRequest: quote.LnInvoice,
		PaymentLink:    "lightning:" + quote.LnInvoice,
		Amount:         quote.SourceAmount.Amount,
		Due:            quote.SourceAmount.Amount,
		Rate:           quote.ConversionRate.Amount,
	}, nil
}

func (client *StrikeClient) quote(ctx context.Context, id string) (*strikeQuote, error) {
	quote := &strikeQuote{}
	_, err := client.Request(ctx, "quote invoice", http.MethodPost, "/v1/invoices/"+url.PathEscape(id)+"/quote", nil, quote)
	if err != nil {
		return nil, err
	}
	if quote.LnInvoice == "" {
		return nil, &Error{Op: "quote invoice", Err: fmt.Errorf("%w: missing lnInvoice", errMalformedResponse)}
	}
	return quote, nil
}
