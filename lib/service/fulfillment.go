package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db/models"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/metrics"
	"github.com/getAlby/lncheckout/rabbitmq"
	"github.com/getsentry/sentry-go"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

const defaultFulfillmentTimeout = 5 * time.Second

var errFulfillmentInFlight = errors.New("fulfillment already in progress")

// FulfillmentMessage tells the merchant's systems that an order was paid.
type FulfillmentMessage struct {
	Event         string          `json:"event"`
	OrderID       string          `json:"order_id"`
	InvoiceID     string          `json:"invoice_id"`
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentHash   string          `json:"payment_hash,omitempty"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	PaidAt        time.Time       `json:"paid_at"`
}

type FulfillmentNotifier interface {
	NotifyPaid(ctx context.Context, msg *FulfillmentMessage) error
}

// LogNotifier is used when no fulfillment channel is configured.
type LogNotifier struct {
	Logger *lecho.Logger
}

func (n *LogNotifier) NotifyPaid(ctx context.Context, msg *FulfillmentMessage) error {
	n.Logger.Infof("Order %s paid (invoice %s, %s %s), no fulfillment channel configured", msg.OrderID, msg.InvoiceID, msg.Amount.StringFixed(2), msg.Currency)
	return nil
}

// WebhookNotifier posts the message to a merchant URL, signed like gateway webhooks.
type WebhookNotifier struct {
	URL        string
	Secret     []byte
	HTTPClient *http.Client
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		Secret:     []byte(secret),
		HTTPClient: &http.Client{},
	}
}

func (n *WebhookNotifier) NotifyPaid(ctx context.Context, msg *FulfillmentMessage) error {
	payload := new(bytes.Buffer)
	if err := json.NewEncoder(payload).Encode(msg); err != nil {
		return backoff.Permanent(err)
	}
	body := payload.Bytes()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.FulfillmentEventHeader, msg.Event)
	if len(n.Secret) > 0 {
		req.Header.Set(common.FulfillmentSignatureHeader, gateway.Sign(body, n.Secret))
	}

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msgBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("webhook status code was %d, body: %s", resp.StatusCode, msgBody)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// RabbitMQNotifier publishes order.paid to the order exchange.
type RabbitMQNotifier struct {
	Client   rabbitmq.Client
	Exchange string
}

func (n *RabbitMQNotifier) NotifyPaid(ctx context.Context, msg *FulfillmentMessage) error {
	return n.Client.Publish(ctx, n.Exchange, msg.Event, msg)
}

func newFulfillmentMessage(invoice *models.Invoice, payment *models.Payment) *FulfillmentMessage {
	return &FulfillmentMessage{
		Event:         common.FulfillmentEventOrderPaid,
		OrderID:       invoice.OrderID,
		InvoiceID:     invoice.ID,
		PaymentID:     payment.ID,
		Amount:        payment.Amount,
		Currency:      common.Currency,
		PaymentHash:   payment.PaymentHash,
		CustomerEmail: invoice.CustomerEmail,
		PaidAt:        payment.CompletedAt,
	}
}

// Fulfill notifies the merchant about a paid invoice. Each attempt is bounded by
// FulfillmentTimeout and at most FulfillmentMaxRetries retries follow the first one.
// The outcome is stored on the payment; a failure is left for the retry routine.
func (svc *CheckoutService) Fulfill(ctx context.Context, invoice *models.Invoice, payment *models.Payment) error {
	if _, busy := svc.fulfilling.LoadOrStore(payment.ID, struct{}{}); busy {
		svc.Logger.Debugf("Fulfillment of payment %s is already running, skipping", payment.ID)
		return errFulfillmentInFlight
	}
	defer svc.fulfilling.Delete(payment.ID)

	start := time.Now()
	defer func() {
		metrics.FulfillmentDuration.Observe(time.Since(start).Seconds())
	}()

	msg := newFulfillmentMessage(invoice, payment)
	timeout := time.Duration(svc.Config.FulfillmentTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultFulfillmentTimeout
	}
	attempt := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return svc.Notifier.NotifyPaid(attemptCtx, msg)
	}
	err := backoff.RetryNotify(attempt, svc.fulfillmentBackOff(ctx), func(err error, wait time.Duration) {
		svc.Logger.Warnf("Fulfillment of order %s failed, retrying in %s: %v", invoice.OrderID, wait, err)
	})
	if err != nil {
		metrics.FulfillmentsTotal.WithLabelValues("failed").Inc()
		svc.Logger.Errorf("Fulfillment of order %s (invoice %s) failed: %v", invoice.OrderID, invoice.ID, err)
		sentry.CaptureException(fmt.Errorf("fulfillment of order %s failed: %w", invoice.OrderID, err))
		if recordErr := svc.Store.RecordFulfillmentFailure(ctx, payment.ID, err); recordErr != nil {
			svc.Logger.Errorf("Could not record fulfillment failure for payment %s: %v", payment.ID, recordErr)
		}
		return err
	}

	if err := svc.Store.MarkFulfilled(ctx, payment.ID, svc.now()); err != nil {
		svc.Logger.Errorf("Order %s was fulfilled but payment %s could not be marked: %v", invoice.OrderID, payment.ID, err)
		sentry.CaptureException(err)
		return err
	}
	metrics.FulfillmentsTotal.WithLabelValues("delivered").Inc()
	svc.Logger.Infof("Order %s fulfilled", invoice.OrderID)
	return nil
}

// fulfillAsync runs Fulfill on a tracked goroutine detached from the caller's
// context, so webhook and read requests never wait on the merchant.
func (svc *CheckoutService) fulfillAsync(ctx context.Context, invoice models.Invoice, payment *models.Payment) {
	svc.fulfillments.Add(1)
	go func() {
		defer svc.fulfillments.Done()
		_ = svc.Fulfill(context.WithoutCancel(ctx), &invoice, payment)
	}()
}

// WaitForFulfillments blocks until every fulfillment started by ApplyStatus has returned.
func (svc *CheckoutService) WaitForFulfillments() {
	svc.fulfillments.Wait()
}

func (svc *CheckoutService) fulfillmentBackOff(ctx context.Context) backoff.BackOff {
	expontentialBackoff := backoff.NewExponentialBackOff()
	expontentialBackoff.InitialInterval = 500 * time.Millisecond
	expontentialBackoff.MaxInterval = 5 * time.Second
	expontentialBackoff.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(expontentialBackoff, uint64(svc.Config.FulfillmentMaxRetries)), ctx)
}
