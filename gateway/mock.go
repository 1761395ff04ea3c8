package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	btcec "github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/shopspring/decimal"
)

// mockSatsPerUSD is a fixed rate so mock invoices carry a believable amount.
const (
	mockSatsPerUSD = 1500
	satsPerBTC     = 100_000_000
)

type mockInvoice struct {
	invoice    Invoice
	amount     decimal.Decimal
	paidAmount decimal.NullDecimal
	settledAt  *time.Time
}

// MockGateway stands in for BTCPay during development and tests. It issues
// real, signed regtest BOLT11 invoices and keeps their status in memory.
type MockGateway struct {
	mu          sync.Mutex
	invoices    map[string]*mockInvoice
	privKey     *btcec.PrivateKey
	checkoutURL string
	expiry      time.Duration
	failWith    error
}

func NewMockGateway(c *Config) (*MockGateway, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &MockGateway{
		invoices:    map[string]*mockInvoice{},
		privKey:     privKey,
		checkoutURL: strings.TrimRight(c.MockCheckoutURL, "/"),
		expiry:      time.Duration(c.MockInvoiceExpiry) * time.Second,
	}, nil
}

func (mock *MockGateway) Kind() string {
	return MOCK_CLIENT_TYPE
}

// FailWith makes every following call fail with err until it is called with nil.
func (mock *MockGateway) FailWith(err error) {
	mock.mu.Lock()
	defer mock.mu.Unlock()
	mock.failWith = err
}

func (mock *MockGateway) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.failWith != nil {
		return nil, &Error{Op: "create invoice", Err: mock.failWith}
	}

	id, err := randomHex(11)
	if err != nil {
		return nil, &Error{Op: "create invoice", Err: err}
	}
	now := time.Now().UTC()
	sats := req.Amount.Mul(decimal.NewFromInt(mockSatsPerUSD)).IntPart()
	paymentRequest, err := mock.encodeBolt11(sats, req.Description, now)
	if err != nil {
		return nil, &Error{Op: "create invoice", Err: err}
	}
	invoice := Invoice{
		ID:             id,
		CheckoutLink:   fmt.Sprintf("%s/%s", mock.checkoutURL, id),
		PaymentRequest: paymentRequest,
		Status:         "New",
		ExpiresAt:      now.Add(mock.expiry),
		CreatedAt:      now,
	}
	invoice.Raw, _ = json.Marshal(map[string]interface{}{
		"id":      id,
		"status":  "New",
		"amount":  req.Amount.StringFixed(2),
		"orderId": req.OrderID,
	})
	mock.invoices[id] = &mockInvoice{invoice: invoice, amount: req.Amount}
	result := invoice
	return &result, nil
}

func (mock *MockGateway) GetInvoice(ctx context.Context, id string) (*InvoiceSnapshot, error) {
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.failWith != nil {
		return nil, &Error{Op: "get invoice", Err: mock.failWith}
	}
	inv, ok := mock.invoices[id]
	if !ok {
		return nil, &Error{Op: "get invoice", StatusCode: 404, Body: "invoice not found"}
	}
	status := inv.invoice.Status
	if status == "New" && time.Now().After(inv.invoice.ExpiresAt) {
		status = "Expired"
	}
	raw, _ := json.Marshal(map[string]interface{}{"id": id, "status": status})
	return &InvoiceSnapshot{
		ID:         id,
		Status:     status,
		Amount:     inv.amount,
		PaidAmount: inv.paidAmount,
		SettledAt:  inv.settledAt,
		ExpiresAt:  inv.invoice.ExpiresAt,
		Raw:        raw,
	}, nil
}

func (mock *MockGateway) GetPaymentMethods(ctx context.Context, id string) (*LightningDetails, error) {
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if mock.failWith != nil {
		return nil, &Error{Op: "get payment methods", Err: mock.failWith}
	}
	inv, ok := mock.invoices[id]
	if !ok {
		return nil, &Error{Op: "get payment methods", StatusCode: 404, Body: "invoice not found"}
	}
	btc := inv.amount.Mul(decimal.NewFromInt(mockSatsPerUSD)).Div(decimal.NewFromInt(satsPerBTC))
	return &LightningDetails{
		PaymentMethod:  LightningPaymentMethod,
		PaymentRequest: inv.invoice.PaymentRequest,
		PaymentLink:    "lightning:" + inv.invoice.PaymentRequest,
		Amount:         btc,
		Due:            btc,
		Rate:           decimal.NewFromInt(satsPerBTC).Div(decimal.NewFromInt(mockSatsPerUSD)).Round(2),
	}, nil
}

// SetStatus moves a mock invoice to a gateway status ("Processing", "Settled", ...).
func (mock *MockGateway) SetStatus(id, status string, paidAmount decimal.NullDecimal) error {
	mock.mu.Lock()
	defer mock.mu.Unlock()
	inv, ok := mock.invoices[id]
	if !ok {
		return fmt.Errorf("mock invoice %s not found", id)
	}
	inv.invoice.Status = status
	inv.paidAmount = paidAmount
	if status == "Settled" {
		now := time.Now().UTC()
		inv.settledAt = &now
	}
	return nil
}

func (mock *MockGateway) encodeBolt11(sats int64, description string, timestamp time.Time) (string, error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return "", err
	}
	pHash := sha256.Sum256(preimage)
	msat := lnwire.MilliSatoshi(1000 * sats)
	invoice := &zpay32.Invoice{
		Net:         &chaincfg.RegressionNetParams,
		MilliSat:    &msat,
		Timestamp:   timestamp,
		PaymentHash: &[32]byte{},
		PaymentAddr: &[32]byte{},
		Features: &lnwire.FeatureVector{
			RawFeatureVector: &lnwire.RawFeatureVector{},
		},
	}
	if mock.expiry > 0 {
		zpay32.Expiry(mock.expiry)(invoice)
	}
	copy(invoice.PaymentHash[:], pHash[:])
	if _, err := rand.Read(invoice.PaymentAddr[:]); err != nil {
		return "", err
	}
	invoice.Description = &description
	return invoice.Encode(zpay32.MessageSigner{
		SignCompact: mock.signMsg,
	})
}

func (mock *MockGateway) signMsg(msg []byte) ([]byte, error) {
	hash := sha256.Sum256(msg)
	return ecdsa.SignCompact(mock.privKey, hash[:], true)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
