package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

// GatewayClient is the invoice API of the external payment gateway.
type GatewayClient interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	GetInvoice(ctx context.Context, id string) (*InvoiceSnapshot, error)
	GetPaymentMethods(ctx context.Context, id string) (*LightningDetails, error)
	Kind() string
}

type CreateInvoiceRequest struct {
	Amount        decimal.Decimal
	Description   string
	OrderID       string
	CustomerEmail string
}

type Invoice struct {
	ID             string
	CheckoutLink   string
	PaymentRequest string
	Status         string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	Raw            json.RawMessage
}

// InvoiceSnapshot is the gateway's current view of an invoice.
type InvoiceSnapshot struct {
	ID               string
	Status           string
	AdditionalStatus string
	Amount           decimal.Decimal
	PaidAmount       decimal.NullDecimal
	SettledAt        *time.Time
	ExpiresAt        time.Time
	Raw              json.RawMessage
}

type LightningDetails struct {
	PaymentMethod  string          `json:"payment_method"`
	PaymentRequest string          `json:"payment_request"`
	PaymentLink    string          `json:"payment_link,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Due            decimal.Decimal `json:"due"`
	Rate           decimal.Decimal `json:"rate"`
}

// Error is returned for every failed gateway call.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the call could succeed.
func (e *Error) Temporary() bool {
	if e.StatusCode != 0 {
		return e.StatusCode >= 500 || e.StatusCode == 429
	}
	return e.Err != nil && !errors.Is(e.Err, errMalformedResponse)
}

var errMalformedResponse = errors.New("malformed response")

func InitGatewayClient(c *Config, logger *lecho.Logger) (GatewayClient, error) {
	switch c.GatewayClientType {
	case BTCPAY_CLIENT_TYPE:
		if !c.BTCPayConfigured() {
			logger.Warn("BTCPAY_URL, BTCPAY_API_KEY or BTCPAY_STORE_ID missing, falling back to the mock gateway")
			return NewMockGateway(c)
		}
		return NewBTCPayClient(c, logger), nil
	case STRIKE_CLIENT_TYPE:
		if !c.StrikeConfigured() {
			return nil, fmt.Errorf("STRIKE_API_URL and STRIKE_API_KEY are required for the strike gateway")
		}
		return NewStrikeClient(c, logger), nil
	case MOCK_CLIENT_TYPE:
		return NewMockGateway(c)
	default:
		return nil, fmt.Errorf("Did not recognize gateway client type %s", c.GatewayClientType)
	}
}
