package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newTestMockGateway(t *testing.T, expiry int) *MockGateway {
	mock, err := NewMockGateway(&Config{MockCheckoutURL: "http://checkout.local/", MockInvoiceExpiry: expiry})
	assert.NoError(t, err)
	return mock
}

func TestMockGatewayIssuesDecodableInvoices(t *testing.T) {
	mock := newTestMockGateway(t, 900)
	invoice, err := mock.CreateInvoice(context.Background(), CreateInvoiceRequest{
		Amount:      decimal.NewFromInt(25),
		Description: "Coffee",
		OrderID:     "ORD-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "http://checkout.local/"+invoice.ID, invoice.CheckoutLink)

	decoded, err := DecodePaymentRequest(invoice.PaymentRequest)
	assert.NoError(t, err)
	assert.Equal(t, int64(25*mockSatsPerUSD*1000), int64(*decoded.MilliSat))
	assert.Equal(t, "Coffee", *decoded.Description)
	assert.Equal(t, 900*time.Second, decoded.Expiry())

	hash, err := PaymentHash(invoice.PaymentRequest)
	assert.NoError(t, err)
	assert.Len(t, hash, 64)

	details, err := mock.GetPaymentMethods(context.Background(), invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, invoice.PaymentRequest, details.PaymentRequest)
	assert.True(t, decimal.RequireFromString("0.000375").Equal(details.Amount))
}

func TestMockGatewayStatus(t *testing.T) {
	mock := newTestMockGateway(t, 900)
	invoice, err := mock.CreateInvoice(context.Background(), CreateInvoiceRequest{Amount: decimal.NewFromInt(40)})
	assert.NoError(t, err)

	snapshot, err := mock.GetInvoice(context.Background(), invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, "New", snapshot.Status)

	assert.NoError(t, mock.SetStatus(invoice.ID, "Settled", decimal.NewNullDecimal(decimal.NewFromInt(40))))
	snapshot, err = mock.GetInvoice(context.Background(), invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Settled", snapshot.Status)
	assert.NotNil(t, snapshot.SettledAt)

	_, err = mock.GetInvoice(context.Background(), "missing")
	gwErr := &Error{}
	assert.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 404, gwErr.StatusCode)
}

func TestMockGatewayExpires(t *testing.T) {
	mock := newTestMockGateway(t, 0)
	invoice, err := mock.CreateInvoice(context.Background(), CreateInvoiceRequest{Amount: decimal.NewFromInt(20)})
	assert.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	snapshot, err := mock.GetInvoice(context.Background(), invoice.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Expired", snapshot.Status)
}

func TestMockGatewayFailWith(t *testing.T) {
	mock := newTestMockGateway(t, 900)
	mock.FailWith(errors.New("connection refused"))
	_, err := mock.CreateInvoice(context.Background(), CreateInvoiceRequest{Amount: decimal.NewFromInt(20)})
	assert.Error(t, err)
	mock.FailWith(nil)
	_, err = mock.CreateInvoice(context.Background(), CreateInvoiceRequest{Amount: decimal.NewFromInt(20)})
	assert.NoError(t, err)
}

func TestChainFromPaymentRequest(t *testing.T) {
	params, err := chainFromPaymentRequest("lnbcrt10u1p...")
	assert.NoError(t, err)
	assert.Equal(t, "regtest", params.Name)
	params, err = chainFromPaymentRequest("LNBC10u1p...")
	assert.NoError(t, err)
	assert.Equal(t, "mainnet", params.Name)
	_, err = chainFromPaymentRequest("bitcoin:bc1q")
	assert.Error(t, err)
}
