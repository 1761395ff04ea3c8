package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

const (
	LightningPaymentMethod       = "BTC-LightningNetwork"
	lightningPaymentMethodLegacy = "BTC-LN"
	speedPolicyMedium            = "MediumSpeed"
	btcpayStatusSettled          = "Settled"
)

// BTCPayClient talks to the BTCPay Server Greenfield API.
type BTCPayClient struct {
	*apiClient
	storeID     string
	redirectURL string
}

func NewBTCPayClient(c *Config, logger *lecho.Logger) *BTCPayClient {
	return &BTCPayClient{
		apiClient:   newAPIClient("BTCPay", c.BTCPayURL, "token "+c.BTCPayAPIKey, c, logger),
		storeID:     c.BTCPayStoreID,
		redirectURL: c.RedirectURL,
	}
}

type btcpayCheckoutOptions struct {
	SpeedPolicy    string   `json:"speedPolicy"`
	PaymentMethods []string `json:"paymentMethods"`
	RedirectURL    string   `json:"redirectURL,omitempty"`
}

type btcpayInvoiceMetadata struct {
	OrderID    string `json:"orderId"`
	BuyerEmail string `json:"buyerEmail,omitempty"`
	ItemDesc   string `json:"itemDesc,omitempty"`
}

type btcpayCreateInvoiceRequest struct {
	Amount   string                `json:"amount"`
	Currency string                `json:"currency"`
	Checkout btcpayCheckoutOptions `json:"checkout"`
	Metadata btcpayInvoiceMetadata `json:"metadata"`
}

type btcpayInvoice struct {
	ID               string              `json:"id"`
	CheckoutLink     string              `json:"checkoutLink"`
	Status           string              `json:"status"`
	AdditionalStatus string              `json:"additionalStatus"`
	Amount           decimal.Decimal     `json:"amount"`
	PaidAmount       decimal.NullDecimal `json:"paidAmount"`
	ExpirationTime   int64               `json:"expirationTime"`
	CreatedTime      int64               `json:"createdTime"`
}

type btcpayPaymentMethod struct {
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentMethodID string          `json:"paymentMethodId"`
	Destination     string          `json:"destination"`
	PaymentLink     string          `json:"paymentLink"`
	Amount          decimal.Decimal `json:"amount"`
	Due             decimal.Decimal `json:"due"`
	Rate            decimal.Decimal `json:"rate"`
	Payments        []btcpayPayment `json:"payments"`
}

type btcpayPayment struct {
	ID           string          `json:"id"`
	ReceivedDate int64           `json:"receivedDate"`
	Value        decimal.Decimal `json:"value"`
	Status       string          `json:"status"`
}

func (client *BTCPayClient) Kind() string {
	return BTCPAY_CLIENT_TYPE
}

func (client *BTCPayClient) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	body := btcpayCreateInvoiceRequest{
		Amount:   req.Amount.StringFixed(2),
		Currency: common.Currency,
		Checkout: btcpayCheckoutOptions{
			SpeedPolicy:    speedPolicyMedium,
			PaymentMethods: []string{LightningPaymentMethod},
			RedirectURL:    client.redirectURL,
		},
		Metadata: btcpayInvoiceMetadata{
			OrderID:    req.OrderID,
			BuyerEmail: req.CustomerEmail,
			ItemDesc:   req.Description,
		},
	}
	created := btcpayInvoice{}
	raw, err := client.Request(ctx, "create invoice", http.MethodPost, client.storePath("/invoices"), body, &created)
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, &Error{Op: "create invoice", Err: fmt.Errorf("%w: missing invoice id", errMalformedResponse)}
	}

	invoice := &Invoice{
		ID:           created.ID,
		CheckoutLink: created.CheckoutLink,
		Status:       created.Status,
		ExpiresAt:    unixTime(created.ExpirationTime),
		CreatedAt:    unixTime(created.CreatedTime),
		Raw:          raw,
	}

	// The BOLT11 string lives on the payment method, not on the invoice itself.
	// Missing it here is not fatal: the read path backfills it.
	details, err := client.GetPaymentMethods(ctx, created.ID)
	if err != nil {
		client.logger.Warnf("Could not fetch lightning payment method for invoice %s: %v", created.ID, err)
	} else if details != nil {
		invoice.PaymentRequest = details.PaymentRequest
	}
	return invoice, nil
}

func (client *BTCPayClient) GetInvoice(ctx context.Context, id string) (*InvoiceSnapshot, error) {
	invoice := btcpayInvoice{}
	raw, err := client.Request(ctx, "get invoice", http.MethodGet, client.storePath("/invoices/"+url.PathEscape(id)), nil, &invoice)
	if err != nil {
		return nil, err
	}
	snapshot := &InvoiceSnapshot{
		ID:               invoice.ID,
		Status:           invoice.Status,
		AdditionalStatus: invoice.AdditionalStatus,
		Amount:           invoice.Amount,
		PaidAmount:       invoice.PaidAmount,
		ExpiresAt:        unixTime(invoice.ExpirationTime),
		Raw:              raw,
	}
	if invoice.Status == btcpayStatusSettled {
		// the invoice only carries its creation and expiry times
		method, err := client.lightningPaymentMethod(ctx, id)
		if err != nil {
			client.logger.Warnf("Could not fetch settlement time of invoice %s: %v", id, err)
		} else if method != nil {
			snapshot.SettledAt = method.settledAt()
		}
	}
	return snapshot, nil
}

func (client *BTCPayClient) GetPaymentMethods(ctx context.Context, id string) (*LightningDetails, error) {
	method, err := client.lightningPaymentMethod(ctx, id)
	if err != nil || method == nil {
		return nil, err
	}
	return &LightningDetails{
		PaymentMethod:  method.name(),
		PaymentRequest: method.Destination,
		PaymentLink:    method.PaymentLink,
		Amount:         method.Amount,
		Due:            method.Due,
		Rate:           method.Rate,
	}, nil
}

// lightningPaymentMethod returns nil when the invoice has no lightning method.
func (client *BTCPayClient) lightningPaymentMethod(ctx context.Context, id string) (*btcpayPaymentMethod, error) {
	methods := []btcpayPaymentMethod{}
	_, err := client.Request(ctx, "get payment methods", http.MethodGet, client.storePath("/invoices/"+url.PathEscape(id)+"/payment-methods"), nil, &methods)
	if err != nil {
		return nil, err
	}
	for i := range methods {
		name := methods[i].name()
		if name == LightningPaymentMethod || name == lightningPaymentMethodLegacy {
			return &methods[i], nil
		}
	}
	return nil, nil
}

func (method *btcpayPaymentMethod) name() string {
	if method.PaymentMethod == "" {
		return method.PaymentMethodID
	}
	return method.PaymentMethod
}

// settledAt is the receive time of the latest settled payment.
func (method *btcpayPaymentMethod) settledAt() *time.Time {
	var latest int64
	for _, payment := range method.Payments {
		if payment.Status == btcpayStatusSettled && payment.ReceivedDate > latest {
			latest = payment.ReceivedDate
		}
	}
	if latest == 0 {
		return nil
	}
	t := unixTime(latest)
	return &t
}

func (client *BTCPayClient) storePath(suffix string) string {
	return "/api/v1/stores/" + url.PathEscape(client.storeID) + suffix
}
