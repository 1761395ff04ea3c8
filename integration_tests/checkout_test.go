package integration_tests

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/getAlby/lncheckout/common"
	v2controllers "github.com/getAlby/lncheckout/controllers_v2"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/responses"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type CheckoutTestSuite struct {
	TestSuite
}

func (suite *TestSuite) SetupTest() {
	svc, mockGateway, err := CheckoutTestServiceInit()
	if err != nil {
		suite.T().Fatalf("Error initializing test service: %v", err)
	}
	suite.notifier = &recordingNotifier{}
	svc.Notifier = suite.notifier
	suite.service = svc
	suite.mockGateway = mockGateway
	suite.echo = newTestEcho(svc)
}

func (suite *TestSuite) TearDownTest() {
	suite.service.WaitForFulfillments()
	for _, table := range []string{"payments", "orders", "webhook_deliveries", "invoices"} {
		if err := clearTable(suite.service, table); err != nil {
			suite.T().Logf("Could not clear %s: %v", table, err)
		}
	}
	suite.Require().NoError(suite.service.DB.Close())
}

func (suite *TestSuite) createInvoice(amount string) *v2controllers.Invoice {
	rec := suite.do(http.MethodPost, "/v2/invoices", map[string]string{
		"amount":         amount,
		"customer_email": "buyer@example.com",
	}, nil)
	suite.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	invoice := &v2controllers.Invoice{}
	suite.decode(rec, invoice)
	return invoice
}

func (suite *TestSuite) getInvoice(id string) *v2controllers.Invoice {
	rec := suite.do(http.MethodGet, "/v2/invoices/"+id, nil, nil)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	invoice := &v2controllers.Invoice{}
	suite.decode(rec, invoice)
	return invoice
}

func (suite *TestSuite) deliver(eventType, invoiceID, deliveryID string) *v2controllers.WebhookResponseBody {
	body, headers := signedWebhook(eventType, invoiceID, deliveryID)
	rec := suite.do(http.MethodPost, "/v2/webhooks/btcpay", body, headers)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	suite.service.WaitForFulfillments()
	response := &v2controllers.WebhookResponseBody{}
	suite.decode(rec, response)
	return response
}

func (suite *CheckoutTestSuite) TestCreateInvoice() {
	invoice := suite.createInvoice("50.00")
	assert.NotEmpty(suite.T(), invoice.ID)
	assert.Regexp(suite.T(), `^ORD-`, invoice.OrderID)
	assert.Equal(suite.T(), "50", invoice.Amount.String())
	assert.Equal(suite.T(), common.Currency, invoice.Currency)
	assert.Equal(suite.T(), common.InvoiceStatusPending, invoice.Status)
	assert.Regexp(suite.T(), `^lnbcrt`, invoice.PaymentRequest)
	assert.Equal(suite.T(), "buyer@example.com", invoice.CustomerEmail)
	assert.NotNil(suite.T(), invoice.ExpiresAt)
	assert.Nil(suite.T(), invoice.PaidAt)
}

func (suite *CheckoutTestSuite) TestCreateInvoiceRejectsBadInput() {
	for _, body := range []interface{}{
		map[string]string{"amount": "19.99"},
		map[string]string{"amount": "100.01"},
		map[string]string{"amount": "50.001"},
		map[string]string{"amount": "50", "customer_email": "not-an-email"},
		[]byte(`{"amount":`),
	} {
		rec := suite.do(http.MethodPost, "/v2/invoices", body, nil)
		assert.Equal(suite.T(), http.StatusBadRequest, rec.Code, rec.Body.String())
		errorResponse := &responses.ErrorResponse{}
		suite.decode(rec, errorResponse)
		assert.True(suite.T(), errorResponse.Error)
		assert.Equal(suite.T(), responses.BadArgumentsError.Code, errorResponse.Code)
	}
}

func (suite *CheckoutTestSuite) TestCreateInvoiceGatewayUnavailable() {
	suite.mockGateway.FailWith(&gateway.Error{Op: "create invoice", StatusCode: http.StatusServiceUnavailable})
	defer suite.mockGateway.FailWith(nil)

	rec := suite.do(http.MethodPost, "/v2/invoices", map[string]string{"amount": "50"}, nil)
	assert.Equal(suite.T(), http.StatusBadGateway, rec.Code, rec.Body.String())
}

func (suite *CheckoutTestSuite) TestGetUnknownInvoice() {
	rec := suite.do(http.MethodGet, "/v2/invoices/does-not-exist", nil, nil)
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
	rec = suite.do(http.MethodGet, "/v2/orders/ORD-UNKNOWN", nil, nil)
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
}

func (suite *CheckoutTestSuite) TestLightningDetails() {
	invoice := suite.createInvoice("25")
	rec := suite.do(http.MethodGet, fmt.Sprintf("/v2/invoices/%s/lightning", invoice.ID), nil, nil)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	details := &gateway.LightningDetails{}
	suite.decode(rec, details)
	assert.Equal(suite.T(), invoice.PaymentRequest, details.PaymentRequest)
	assert.True(suite.T(), details.Due.IsPositive())
}

func (suite *CheckoutTestSuite) TestPaymentLifecycleOverHTTP() {
	invoice := suite.createInvoice("50")

	response := suite.deliver(common.EventInvoiceProcessing, invoice.ID, "delivery-1")
	assert.Equal(suite.T(), string(service.WebhookApplied), response.Outcome)
	assert.Equal(suite.T(), common.InvoiceStatusProcessing, suite.getInvoice(invoice.ID).Status)

	response = suite.deliver(common.EventInvoiceSettled, invoice.ID, "delivery-2")
	assert.Equal(suite.T(), string(service.WebhookApplied), response.Outcome)
	paid := suite.getInvoice(invoice.ID)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, paid.Status)
	assert.NotNil(suite.T(), paid.PaidAt)
	assert.Equal(suite.T(), 1, suite.notifier.count())

	// a redelivery is acknowledged without side effects
	response = suite.deliver(common.EventInvoiceSettled, invoice.ID, "delivery-2")
	assert.Equal(suite.T(), string(service.WebhookDuplicate), response.Outcome)
	response = suite.deliver(common.EventInvoiceExpired, invoice.ID, "delivery-3")
	assert.Equal(suite.T(), string(service.WebhookIgnored), response.Outcome)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, suite.getInvoice(invoice.ID).Status)
	assert.Equal(suite.T(), 1, suite.notifier.count())

	rec := suite.do(http.MethodGet, "/v2/orders/"+invoice.OrderID, nil, nil)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	order := &v2controllers.Order{}
	suite.decode(rec, order)
	assert.Equal(suite.T(), invoice.ID, order.InvoiceID)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, order.Status)
}

func (suite *CheckoutTestSuite) TestWebhookRejections() {
	invoice := suite.createInvoice("30")

	body, _ := signedWebhook(common.EventInvoiceSettled, invoice.ID, "delivery-forged")
	rec := suite.do(http.MethodPost, "/v2/webhooks/btcpay", body, map[string]string{
		common.SignatureHeader: gateway.Sign(body, []byte("wrong-secret")),
	})
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
	rec = suite.do(http.MethodPost, "/v2/webhooks/btcpay", body, nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
	assert.Equal(suite.T(), common.InvoiceStatusPending, suite.getInvoice(invoice.ID).Status)

	malformed := []byte(`{"type":`)
	rec = suite.do(http.MethodPost, "/v2/webhooks/btcpay", malformed, map[string]string{
		common.SignatureHeader: gateway.Sign(malformed, []byte(testWebhookSecret)),
	})
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	response := suite.deliver("InvoiceCreated", invoice.ID, "delivery-created")
	assert.Equal(suite.T(), string(service.WebhookUnknownType), response.Outcome)
	response = suite.deliver(common.EventInvoiceSettled, "unknown-invoice", "delivery-unknown")
	assert.Equal(suite.T(), string(service.WebhookUnknownInvoice), response.Outcome)
}

func (suite *CheckoutTestSuite) TestCancelInvoice() {
	invoice := suite.createInvoice("40")

	rec := suite.do(http.MethodDelete, "/v2/invoices/"+invoice.ID, nil, nil)
	assert.NotEqual(suite.T(), http.StatusOK, rec.Code)

	rec = suite.do(http.MethodDelete, "/v2/invoices/"+invoice.ID, nil, adminHeaders())
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	cancelled := &v2controllers.CancelInvoiceResponseBody{}
	suite.decode(rec, cancelled)
	assert.True(suite.T(), cancelled.Success)
	assert.Equal(suite.T(), common.InvoiceStatusCancelled, cancelled.Status)
	assert.NotNil(suite.T(), cancelled.CancelledAt)

	rec = suite.do(http.MethodDelete, "/v2/invoices/"+invoice.ID, nil, adminHeaders())
	assert.Equal(suite.T(), http.StatusConflict, rec.Code)

	// a settlement arriving after the cancel does not resurrect the invoice
	response := suite.deliver(common.EventInvoiceSettled, invoice.ID, "delivery-late")
	assert.Equal(suite.T(), string(service.WebhookIgnored), response.Outcome)
	assert.Equal(suite.T(), common.InvoiceStatusCancelled, suite.getInvoice(invoice.ID).Status)
	assert.Equal(suite.T(), 0, suite.notifier.count())
}

func (suite *CheckoutTestSuite) TestListInvoices() {
	for i := 0; i < 12; i++ {
		suite.createInvoice("20")
	}
	paid := suite.createInvoice("99.99")
	suite.deliver(common.EventInvoiceSettled, paid.ID, "delivery-paid")

	rec := suite.do(http.MethodGet, "/v2/invoices?page=2&limit=5", nil, map[string]string{
		echo.HeaderAuthorization: "Bearer wrong-token",
	})
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)

	rec = suite.do(http.MethodGet, "/v2/invoices?page=2&limit=5", nil, adminHeaders())
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	list := &v2controllers.GetInvoicesResponseBody{}
	suite.decode(rec, list)
	assert.Len(suite.T(), list.Invoices, 5)
	assert.Equal(suite.T(), v2controllers.Pagination{Page: 2, Limit: 5, Total: 13, Pages: 3}, list.Pagination)

	rec = suite.do(http.MethodGet, "/v2/invoices?status=paid", nil, adminHeaders())
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	list = &v2controllers.GetInvoicesResponseBody{}
	suite.decode(rec, list)
	suite.Require().Len(list.Invoices, 1)
	assert.Equal(suite.T(), paid.ID, list.Invoices[0].ID)

	for _, query := range []string{"status=settled", "limit=101", "page=abc"} {
		rec = suite.do(http.MethodGet, "/v2/invoices?"+query, nil, adminHeaders())
		assert.Equal(suite.T(), http.StatusBadRequest, rec.Code, query)
	}
}

func (suite *CheckoutTestSuite) TestStats() {
	paid := suite.createInvoice("60")
	suite.createInvoice("40")
	suite.deliver(common.EventInvoiceSettled, paid.ID, "delivery-stats")

	rec := suite.do(http.MethodGet, "/v2/stats?timeframe=week", nil, adminHeaders())
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	for _, field := range []string{`"total_amount":"100"`, `"paid_amount":"60"`, `"conversion_rate":50`} {
		assert.Contains(suite.T(), body, field)
	}
	stats := &v2controllers.StatsResponseBody{}
	suite.decode(rec, stats)
	assert.Equal(suite.T(), "week", stats.Timeframe)
	assert.Equal(suite.T(), 2, stats.Total)
	assert.Equal(suite.T(), 1, stats.Paid)
	assert.Equal(suite.T(), 1, stats.Pending)
	assert.Equal(suite.T(), "100", stats.TotalAmount.String())
	assert.Equal(suite.T(), "60", stats.PaidAmount.String())
	assert.Equal(suite.T(), 50.0, stats.ConversionRate)

	rec = suite.do(http.MethodGet, "/v2/stats?timeframe=year", nil, adminHeaders())
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *CheckoutTestSuite) TestHealthAndStatus() {
	rec := suite.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	rec = suite.do(http.MethodGet, "/v2/status", nil, nil)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	status := &v2controllers.StatusResponse{}
	suite.decode(rec, status)
	assert.Equal(suite.T(), gateway.MOCK_CLIENT_TYPE, status.Gateway)
	assert.Equal(suite.T(), common.Currency, status.Currency)
	assert.Equal(suite.T(), "20", status.MinAmount.String())
	assert.Equal(suite.T(), "100", status.MaxAmount.String())
}

func TestCheckoutTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutTestSuite))
}
