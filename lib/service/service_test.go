package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db"
	"github.com/getAlby/lncheckout/db/migrations"
	"github.com/getAlby/lncheckout/db/models"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/ziflex/lecho/v3"
)

const testWebhookSecret = "whsec_test"

type recordingNotifier struct {
	mu       sync.Mutex
	messages []service.FulfillmentMessage
	err      error
}

func (n *recordingNotifier) NotifyPaid(ctx context.Context, msg *service.FulfillmentMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, *msg)
	return nil
}

func (n *recordingNotifier) failWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *recordingNotifier) received() []service.FulfillmentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]service.FulfillmentMessage(nil), n.messages...)
}

func newTestService(t *testing.T) (*service.CheckoutService, *gateway.MockGateway, *recordingNotifier) {
	dbConn, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if _, err := migrations.Run(context.Background(), dbConn); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	t.Cleanup(func() { dbConn.Close() })

	mockGateway, err := gateway.NewMockGateway(&gateway.Config{
		MockCheckoutURL:   "http://localhost:3000/mock-checkout",
		MockInvoiceExpiry: 900,
	})
	if err != nil {
		t.Fatalf("creating mock gateway: %v", err)
	}

	config := &service.Config{
		WebhookSecret:            testWebhookSecret,
		GatewayRefreshTimeout:    1,
		FulfillmentTimeout:       1,
		FulfillmentMaxRetries:    0,
		FulfillmentRetryInterval: 60,
		FulfillmentMaxRuns:       3,
		ReconcileBatchSize:       100,
	}
	logger := lecho.New(io.Discard, lecho.WithLevel(log.ERROR))
	svc := service.NewCheckoutService(config, dbConn, mockGateway, logger)
	// runs before the database is closed
	t.Cleanup(svc.WaitForFulfillments)
	notifier := &recordingNotifier{}
	svc.Notifier = notifier
	return svc, mockGateway, notifier
}

type webhookOption func(map[string]interface{})

func withPaidAmount(amount string) webhookOption {
	return func(body map[string]interface{}) {
		body["data"] = map[string]interface{}{"paidAmount": amount}
	}
}

func signedWebhook(eventType, invoiceID, deliveryID string, options ...webhookOption) ([]byte, string) {
	body := map[string]interface{}{
		"type":       eventType,
		"invoiceId":  invoiceID,
		"deliveryId": deliveryID,
		"timestamp":  time.Now().Unix(),
	}
	for _, option := range options {
		option(body)
	}
	raw, _ := json.Marshal(body)
	return raw, gateway.Sign(raw, []byte(testWebhookSecret))
}

type CheckoutServiceTestSuite struct {
	suite.Suite
	svc      *service.CheckoutService
	gateway  *gateway.MockGateway
	notifier *recordingNotifier
	ctx      context.Context
}

func (suite *CheckoutServiceTestSuite) SetupTest() {
	suite.svc, suite.gateway, suite.notifier = newTestService(suite.T())
	suite.ctx = context.Background()
}

func (suite *CheckoutServiceTestSuite) createInvoice(amount int64) *models.Invoice {
	invoice, err := suite.svc.CreateInvoice(suite.ctx, decimal.NewFromInt(amount), "", "")
	suite.Require().NoError(err)
	return invoice
}

func (suite *CheckoutServiceTestSuite) deliver(eventType, invoiceID, deliveryID string, options ...webhookOption) service.WebhookOutcome {
	body, signature := signedWebhook(eventType, invoiceID, deliveryID, options...)
	outcome, err := suite.svc.HandleWebhook(suite.ctx, body, signature)
	suite.Require().NoError(err)
	suite.svc.WaitForFulfillments()
	return outcome
}

func (suite *CheckoutServiceTestSuite) TestCreateInvoice() {
	invoice, err := suite.svc.CreateInvoice(suite.ctx, decimal.RequireFromString("42.50"), "Coffee beans", "buyer@example.com")
	suite.Require().NoError(err)

	assert.Equal(suite.T(), common.InvoiceStatusPending, invoice.Status)
	assert.Regexp(suite.T(), "^ORD-[0-9A-Z]{26}$", invoice.OrderID)
	assert.NotEmpty(suite.T(), invoice.PaymentRequest)
	assert.Contains(suite.T(), invoice.CheckoutLink, invoice.ID)
	assert.False(suite.T(), invoice.ExpiresAt.IsZero())

	stored, err := suite.svc.Store.FindInvoice(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.True(suite.T(), decimal.RequireFromString("42.5").Equal(stored.Amount))
	assert.Equal(suite.T(), "Coffee beans", stored.Description)
	assert.Equal(suite.T(), "buyer@example.com", stored.CustomerEmail)

	order, err := suite.svc.GetOrder(suite.ctx, invoice.OrderID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), invoice.ID, order.InvoiceID)
	assert.Equal(suite.T(), common.InvoiceStatusPending, order.Status)
}

func (suite *CheckoutServiceTestSuite) TestCreateInvoiceDefaultDescription() {
	invoice := suite.createInvoice(25)
	assert.Equal(suite.T(), common.DefaultDescription, invoice.Description)
}

func (suite *CheckoutServiceTestSuite) TestCreateInvoiceValidation() {
	for _, tc := range []struct {
		amount string
		email  string
		ok     bool
	}{
		{amount: "20", ok: true},
		{amount: "100", ok: true},
		{amount: "19.99"},
		{amount: "100.01"},
		{amount: "0"},
		{amount: "-50"},
		{amount: "50.125"},
		{amount: "50", email: "not-an-email"},
	} {
		_, err := suite.svc.CreateInvoice(suite.ctx, decimal.RequireFromString(tc.amount), "", tc.email)
		if tc.ok {
			assert.NoError(suite.T(), err, tc.amount)
			continue
		}
		assert.ErrorIs(suite.T(), err, service.ErrValidation, tc.amount)
	}

	_, err := suite.svc.CreateInvoice(suite.ctx, decimal.NewFromInt(50), string(make([]byte, 501)), "")
	assert.ErrorIs(suite.T(), err, service.ErrValidation)
}

func (suite *CheckoutServiceTestSuite) TestCreateInvoiceGatewayDown() {
	suite.gateway.FailWith(errors.New("connection refused"))
	_, err := suite.svc.CreateInvoice(suite.ctx, decimal.NewFromInt(50), "", "")
	assert.ErrorIs(suite.T(), err, service.ErrGateway)

	page, err := suite.svc.ListInvoices(suite.ctx, service.ListInvoicesParams{})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 0, page.Total)
}

// Scenario: pending -> processing -> paid through webhooks.
func (suite *CheckoutServiceTestSuite) TestPaymentLifecycle() {
	invoice := suite.createInvoice(50)

	assert.Equal(suite.T(), service.WebhookApplied, suite.deliver(common.EventPaymentReceived, invoice.ID, "d1"))
	processing, err := suite.svc.GetInvoice(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusProcessing, processing.Status)

	assert.Equal(suite.T(), service.WebhookApplied, suite.deliver(common.EventPaymentSettled, invoice.ID, "d2", withPaidAmount("50")))
	paid, err := suite.svc.GetInvoice(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, paid.Status)
	assert.False(suite.T(), paid.PaidAt.IsZero())

	payment, err := suite.svc.Store.FindPayment(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.True(suite.T(), decimal.NewFromInt(50).Equal(payment.Amount))
	assert.Len(suite.T(), payment.PaymentHash, 64)
	assert.False(suite.T(), payment.FulfilledAt.IsZero())

	order, err := suite.svc.GetOrder(suite.ctx, invoice.OrderID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, order.Status)

	messages := suite.notifier.received()
	suite.Require().Len(messages, 1)
	assert.Equal(suite.T(), common.FulfillmentEventOrderPaid, messages[0].Event)
	assert.Equal(suite.T(), invoice.OrderID, messages[0].OrderID)
	assert.Equal(suite.T(), payment.ID, messages[0].PaymentID)
}

// Scenario: a settlement that arrives after expiry is ignored.
func (suite *CheckoutServiceTestSuite) TestLateSettlementAfterExpiry() {
	invoice := suite.createInvoice(30)

	assert.Equal(suite.T(), service.WebhookApplied, suite.deliver(common.EventInvoiceExpired, invoice.ID, "d1"))
	assert.Equal(suite.T(), service.WebhookIgnored, suite.deliver(common.EventPaymentSettled, invoice.ID, "d2", withPaidAmount("30")))

	stored, err := suite.svc.GetInvoice(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusExpired, stored.Status)
	assert.True(suite.T(), stored.PaidAt.IsZero())

	_, err = suite.svc.Store.FindPayment(suite.ctx, invoice.ID)
	assert.ErrorIs(suite.T(), err, service.ErrNotFound)
	assert.Empty(suite.T(), suite.notifier.received())
}

// Scenario: cancelling a paid invoice fails, cancelling a pending one succeeds.
func (suite *CheckoutServiceTestSuite) TestCancelInvoice() {
	paid := suite.createInvoice(40)
	suite.deliver(common.EventPaymentSettled, paid.ID, "d1")
	_, err := suite.svc.CancelInvoice(suite.ctx, paid.ID)
	assert.ErrorIs(suite.T(), err, service.ErrInvalidState)

	pending := suite.createInvoice(40)
	cancelled, err := suite.svc.CancelInvoice(suite.ctx, pending.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusCancelled, cancelled.Status)
	assert.False(suite.T(), cancelled.CancelledAt.IsZero())

	_, err = suite.svc.CancelInvoice(suite.ctx, pending.ID)
	assert.ErrorIs(suite.T(), err, service.ErrInvalidState)

	_, err = suite.svc.CancelInvoice(suite.ctx, "does-not-exist")
	assert.ErrorIs(suite.T(), err, service.ErrNotFound)
}

func (suite *CheckoutServiceTestSuite) TestConcurrentSettlementFulfillsOnce() {
	invoice := suite.createInvoice(60)

	var wg sync.WaitGroup
	outcomes := make(chan service.WebhookOutcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, signature := signedWebhook(common.EventPaymentSettled, invoice.ID, fmt.Sprintf("delivery-%d", i))
			outcome, err := suite.svc.HandleWebhook(suite.ctx, body, signature)
			assert.NoError(suite.T(), err)
			outcomes <- outcome
		}(i)
	}
	wg.Wait()
	close(outcomes)
	suite.svc.WaitForFulfillments()

	applied := 0
	for outcome := range outcomes {
		if outcome == service.WebhookApplied {
			applied++
		}
	}
	assert.Equal(suite.T(), 1, applied)
	assert.Len(suite.T(), suite.notifier.received(), 1)

	payment, err := suite.svc.Store.FindPayment(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 1, payment.FulfillmentAttempts)
}

func (suite *CheckoutServiceTestSuite) TestTerminalStatusesAbsorbEverything() {
	for _, terminal := range []common.InvoiceStatus{
		common.InvoiceStatusPaid,
		common.InvoiceStatusExpired,
		common.InvoiceStatusFailed,
		common.InvoiceStatusCancelled,
	} {
		invoice := suite.createInvoice(50)
		result, err := suite.svc.ApplyStatus(suite.ctx, invoice.ID, service.StatusChange{Status: terminal, Source: common.SourcePoll})
		suite.Require().NoError(err)
		suite.Require().True(result.Changed)
		reached, err := suite.svc.Store.FindInvoice(suite.ctx, invoice.ID)
		suite.Require().NoError(err)

		for _, next := range common.AllInvoiceStatuses {
			result, err := suite.svc.ApplyStatus(suite.ctx, invoice.ID, service.StatusChange{Status: next, Source: common.SourceWebhook})
			suite.Require().NoError(err)
			assert.False(suite.T(), result.Changed, "%s -> %s", terminal, next)
		}
		stored, err := suite.svc.Store.FindInvoice(suite.ctx, invoice.ID)
		suite.Require().NoError(err)
		assert.Equal(suite.T(), terminal, stored.Status)
		assert.True(suite.T(), reached.UpdatedAt.Time.Equal(stored.UpdatedAt.Time))
	}
}

func (suite *CheckoutServiceTestSuite) TestProcessingDoesNotRegressToPending() {
	invoice := suite.createInvoice(50)
	suite.deliver(common.EventInvoiceProcessing, invoice.ID, "d1")

	logs := &bytes.Buffer{}
	suite.svc.Logger = lecho.New(logs, lecho.WithLevel(log.WARN))

	// the mock gateway still reports "New"
	for i := 0; i < 3; i++ {
		refreshed, err := suite.svc.GetInvoice(suite.ctx, invoice.ID)
		suite.Require().NoError(err)
		assert.Equal(suite.T(), common.InvoiceStatusProcessing, refreshed.Status)
	}
	assert.NotContains(suite.T(), logs.String(), invoice.ID)

	result, err := suite.svc.ApplyStatus(suite.ctx, invoice.ID, service.StatusChange{Status: common.InvoiceStatusPending, Source: common.SourceWebhook})
	suite.Require().NoError(err)
	assert.False(suite.T(), result.Changed)
	assert.Contains(suite.T(), logs.String(), "Refusing to move invoice "+invoice.ID)
}

func (suite *CheckoutServiceTestSuite) TestGetInvoiceRefreshesFromGateway() {
	invoice := suite.createInvoice(75)
	suite.Require().NoError(suite.gateway.SetStatus(invoice.ID, "Settled", decimal.NewNullDecimal(decimal.NewFromInt(75))))

	refreshed, err := suite.svc.GetInvoice(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, refreshed.Status)
	suite.svc.WaitForFulfillments()
	assert.Len(suite.T(), suite.notifier.received(), 1)

	_, err = suite.svc.GetInvoice(suite.ctx, "unknown")
	assert.ErrorIs(suite.T(), err, service.ErrNotFound)
}

func (suite *CheckoutServiceTestSuite) TestReadsFallBackWhenGatewayIsDown() {
	invoice := suite.createInvoice(50)
	suite.gateway.FailWith(errors.New("gateway timeout"))

	stored, err := suite.svc.GetInvoice(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusPending, stored.Status)
	assert.Equal(suite.T(), invoice.PaymentRequest, stored.PaymentRequest)

	details, err := suite.svc.LightningDetails(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), invoice.PaymentRequest, details.PaymentRequest)
	assert.Equal(suite.T(), "lightning:"+invoice.PaymentRequest, details.PaymentLink)
}

func (suite *CheckoutServiceTestSuite) TestLightningDetails() {
	invoice := suite.createInvoice(30)
	details, err := suite.svc.LightningDetails(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), gateway.LightningPaymentMethod, details.PaymentMethod)
	assert.Equal(suite.T(), invoice.PaymentRequest, details.PaymentRequest)
	assert.True(suite.T(), details.Amount.IsPositive())

	_, err = suite.svc.LightningDetails(suite.ctx, "unknown")
	assert.ErrorIs(suite.T(), err, service.ErrNotFound)
}

func (suite *CheckoutServiceTestSuite) TestListInvoices() {
	for i := 0; i < 25; i++ {
		suite.createInvoice(int64(20 + i))
	}
	_, err := suite.svc.CreateInvoice(suite.ctx, decimal.NewFromInt(99), "", "vip@example.com")
	suite.Require().NoError(err)

	page, err := suite.svc.ListInvoices(suite.ctx, service.ListInvoicesParams{Page: 2, Limit: 10})
	suite.Require().NoError(err)
	assert.Len(suite.T(), page.Invoices, 10)
	assert.Equal(suite.T(), 26, page.Total)
	assert.Equal(suite.T(), 3, page.Pages)
	for i := 1; i < len(page.Invoices); i++ {
		assert.False(suite.T(), page.Invoices[i].CreatedAt.After(page.Invoices[i-1].CreatedAt))
	}

	last, err := suite.svc.ListInvoices(suite.ctx, service.ListInvoicesParams{Page: 3, Limit: 10})
	suite.Require().NoError(err)
	assert.Len(suite.T(), last.Invoices, 6)

	byEmail, err := suite.svc.ListInvoices(suite.ctx, service.ListInvoicesParams{CustomerEmail: "vip@example.com"})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 1, byEmail.Total)
	assert.Equal(suite.T(), service.DefaultPageLimit, byEmail.Limit)

	paid, err := suite.svc.ListInvoices(suite.ctx, service.ListInvoicesParams{Status: "paid"})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 0, paid.Total)
	assert.Empty(suite.T(), paid.Invoices)

	for _, params := range []service.ListInvoicesParams{
		{Page: -1},
		{Limit: 101},
		{Limit: -5},
		{Status: "settled"},
	} {
		_, err := suite.svc.ListInvoices(suite.ctx, params)
		assert.ErrorIs(suite.T(), err, service.ErrValidation, "%+v", params)
	}
}

func (suite *CheckoutServiceTestSuite) TestStats() {
	stats, err := suite.svc.GetStats(suite.ctx, common.TimeframeDay)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 0, stats.Total)
	assert.Equal(suite.T(), float64(0), stats.ConversionRate)

	paid := suite.createInvoice(50)
	suite.createInvoice(20)
	expired := suite.createInvoice(30)
	suite.deliver(common.EventPaymentSettled, paid.ID, "d1")
	suite.deliver(common.EventInvoiceExpired, expired.ID, "d2")

	stats, err = suite.svc.GetStats(suite.ctx, common.TimeframeWeek)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 3, stats.Total)
	assert.Equal(suite.T(), 1, stats.Paid)
	assert.Equal(suite.T(), 1, stats.Pending)
	assert.Equal(suite.T(), 1, stats.Expired)
	assert.True(suite.T(), decimal.NewFromInt(100).Equal(stats.TotalAmount))
	assert.True(suite.T(), decimal.NewFromInt(50).Equal(stats.PaidAmount))
	assert.Equal(suite.T(), 33.33, stats.ConversionRate)

	// outside of the window
	suite.svc.Clock = func() time.Time { return time.Now().Add(48 * time.Hour) }
	stats, err = suite.svc.GetStats(suite.ctx, common.TimeframeDay)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 0, stats.Total)

	_, err = suite.svc.GetStats(suite.ctx, "year")
	assert.ErrorIs(suite.T(), err, service.ErrValidation)
}

func (suite *CheckoutServiceTestSuite) TestSubscribeInvoices() {
	invoices, err := suite.svc.SubscribeInvoices()
	suite.Require().NoError(err)

	invoice := suite.createInvoice(50)
	suite.deliver(common.EventPaymentSettled, invoice.ID, "d1")

	created := <-invoices
	assert.Equal(suite.T(), common.InvoiceStatusPending, created.Status)
	settled := <-invoices
	assert.Equal(suite.T(), invoice.ID, settled.ID)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, settled.Status)
}

func (suite *CheckoutServiceTestSuite) TestWatchInvoice() {
	invoice := suite.createInvoice(50)
	other := suite.createInvoice(60)

	current, updates, stop, err := suite.svc.WatchInvoice(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusPending, current.Status)

	suite.deliver(common.EventPaymentSettled, other.ID, "d-other")
	suite.deliver(common.EventPaymentSettled, invoice.ID, "d-watched")

	update := <-updates
	assert.Equal(suite.T(), invoice.ID, update.ID)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, update.Status)

	stop()
	_, open := <-updates
	assert.False(suite.T(), open)

	_, _, _, err = suite.svc.WatchInvoice(suite.ctx, "unknown")
	assert.ErrorIs(suite.T(), err, service.ErrNotFound)
}

func (suite *CheckoutServiceTestSuite) TestPaidAtComesFromTheGateway() {
	polled := suite.createInvoice(50)
	suite.Require().NoError(suite.gateway.SetStatus(polled.ID, "Settled", decimal.NullDecimal{}))
	localNow := time.Now().Add(time.Hour)
	suite.svc.Clock = func() time.Time { return localNow }

	_, err := suite.svc.GetInvoice(suite.ctx, polled.ID)
	suite.Require().NoError(err)
	stored, err := suite.svc.Store.FindInvoice(suite.ctx, polled.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, stored.Status)
	assert.True(suite.T(), stored.PaidAt.Time.Before(localNow.Add(-30*time.Minute)))
	payment, err := suite.svc.Store.FindPayment(suite.ctx, polled.ID)
	suite.Require().NoError(err)
	assert.True(suite.T(), payment.CompletedAt.Equal(stored.PaidAt.Time))

	settledAt := time.Unix(1700000000, 0)
	notified := suite.createInvoice(50)
	suite.deliver(common.EventInvoiceSettled, notified.ID, "d1", func(body map[string]interface{}) {
		body["timestamp"] = settledAt.Unix()
	})
	stored, err = suite.svc.Store.FindInvoice(suite.ctx, notified.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), settledAt.Unix(), stored.PaidAt.Time.Unix())

	// a settlement time ahead of the local clock is not trusted
	future := suite.createInvoice(50)
	suite.deliver(common.EventInvoiceSettled, future.ID, "d2", func(body map[string]interface{}) {
		body["timestamp"] = localNow.Add(time.Hour).Unix()
	})
	stored, err = suite.svc.Store.FindInvoice(suite.ctx, future.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), localNow.Unix(), stored.PaidAt.Time.Unix())
}

func (suite *CheckoutServiceTestSuite) TestReconcileInvoices() {
	settled := suite.createInvoice(50)
	expired := suite.createInvoice(20)
	untouched := suite.createInvoice(30)
	suite.Require().NoError(suite.gateway.SetStatus(settled.ID, "Settled", decimal.NullDecimal{}))
	suite.Require().NoError(suite.gateway.SetStatus(expired.ID, "Expired", decimal.NullDecimal{}))

	// invoices inside the grace period are skipped
	changed, err := suite.svc.ReconcileInvoices(suite.ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 0, changed)

	suite.svc.Clock = func() time.Time { return time.Now().Add(2 * time.Minute) }
	changed, err = suite.svc.ReconcileInvoices(suite.ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 2, changed)

	for id, status := range map[string]common.InvoiceStatus{
		settled.ID:   common.InvoiceStatusPaid,
		expired.ID:   common.InvoiceStatusExpired,
		untouched.ID: common.InvoiceStatusPending,
	} {
		stored, err := suite.svc.Store.FindInvoice(suite.ctx, id)
		suite.Require().NoError(err)
		assert.Equal(suite.T(), status, stored.Status)
	}
	suite.svc.WaitForFulfillments()
	assert.Len(suite.T(), suite.notifier.received(), 1)
}

func (suite *CheckoutServiceTestSuite) TestFulfillmentFailureIsRetried() {
	suite.notifier.failWith(errors.New("merchant endpoint down"))
	invoice := suite.createInvoice(50)

	// the webhook is still acknowledged
	assert.Equal(suite.T(), service.WebhookApplied, suite.deliver(common.EventPaymentSettled, invoice.ID, "d1"))
	payment, err := suite.svc.Store.FindPayment(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.True(suite.T(), payment.FulfilledAt.IsZero())
	assert.Equal(suite.T(), 1, payment.FulfillmentAttempts)
	assert.Contains(suite.T(), payment.FulfillmentError, "merchant endpoint down")

	suite.notifier.failWith(nil)
	suite.svc.Clock = func() time.Time { return time.Now().Add(2 * time.Minute) }
	fulfilled, err := suite.svc.RetryFulfillments(suite.ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 1, fulfilled)

	payment, err = suite.svc.Store.FindPayment(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.False(suite.T(), payment.FulfilledAt.IsZero())
	assert.Equal(suite.T(), 2, payment.FulfillmentAttempts)
	assert.Len(suite.T(), suite.notifier.received(), 1)

	fulfilled, err = suite.svc.RetryFulfillments(suite.ctx)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 0, fulfilled)
}

func (suite *CheckoutServiceTestSuite) TestFulfillmentRetriesStopAfterMaxRuns() {
	suite.notifier.failWith(errors.New("merchant endpoint down"))
	invoice := suite.createInvoice(50)
	suite.deliver(common.EventPaymentSettled, invoice.ID, "d1")

	suite.svc.Clock = func() time.Time { return time.Now().Add(2 * time.Minute) }
	for i := 0; i < 5; i++ {
		_, err := suite.svc.RetryFulfillments(suite.ctx)
		suite.Require().NoError(err)
	}
	payment, err := suite.svc.Store.FindPayment(suite.ctx, invoice.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), suite.svc.Config.FulfillmentMaxRuns, payment.FulfillmentAttempts)
}

func TestCheckoutServiceTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutServiceTestSuite))
}
