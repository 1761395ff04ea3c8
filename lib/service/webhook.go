package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db/models"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/metrics"
	"github.com/shopspring/decimal"
)

// WebhookEvent is a gateway webhook body. Only Type and InvoiceID are required.
type WebhookEvent struct {
	Type       string          `json:"type"`
	InvoiceID  string          `json:"invoiceId"`
	DeliveryID string          `json:"deliveryId"`
	WebhookID  string          `json:"webhookId,omitempty"`
	StoreID    string          `json:"storeId,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	Data       *WebhookData    `json:"data,omitempty"`
	Payment    *WebhookPayment `json:"payment,omitempty"`
}

type WebhookData struct {
	Status      string              `json:"status,omitempty"`
	OrderID     string              `json:"orderId,omitempty"`
	Amount      decimal.NullDecimal `json:"amount"`
	PaidAmount  decimal.NullDecimal `json:"paidAmount"`
	PaymentHash string              `json:"paymentHash,omitempty"`
}

type WebhookPayment struct {
	ID    string              `json:"id,omitempty"`
	Value decimal.NullDecimal `json:"value"`
}

// WebhookOutcome tells the caller what happened to an accepted delivery.
type WebhookOutcome string

const (
	WebhookApplied        WebhookOutcome = "applied"
	WebhookIgnored        WebhookOutcome = "ignored"
	WebhookDuplicate      WebhookOutcome = "duplicate"
	WebhookUnknownType    WebhookOutcome = "unknown_type"
	WebhookUnknownInvoice WebhookOutcome = "unknown_invoice"
)

// HandleWebhook verifies and applies one gateway delivery. The signature is
// checked over rawBody exactly as received. Errors wrap ErrSignature,
// ErrValidation or ErrInternal; only ErrInternal should make the gateway retry.
func (svc *CheckoutService) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (WebhookOutcome, error) {
	if !gateway.VerifySignature(rawBody, signatureHeader, []byte(svc.Config.WebhookSecret)) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("bad_signature").Inc()
		svc.Logger.Warnf("Rejected webhook with invalid signature (%d bytes)", len(rawBody))
		return "", fmt.Errorf("%w: webhook signature mismatch", ErrSignature)
	}

	event := &WebhookEvent{}
	if err := json.Unmarshal(rawBody, event); err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("malformed").Inc()
		svc.Logger.Errorf("Could not parse verified webhook body: %v", err)
		return "", fmt.Errorf("%w: malformed webhook body", ErrValidation)
	}
	if event.Type == "" {
		metrics.WebhookDeliveriesTotal.WithLabelValues("malformed").Inc()
		return "", fmt.Errorf("%w: webhook has no type", ErrValidation)
	}
	svc.Logger.Infof("Webhook %s received for invoice %s (delivery %s)", event.Type, event.InvoiceID, event.DeliveryID)

	if event.DeliveryID != "" {
		processed, err := svc.Store.BeginDelivery(ctx, &models.WebhookDelivery{
			DeliveryID: event.DeliveryID,
			EventType:  event.Type,
			InvoiceID:  event.InvoiceID,
			Payload:    rawBody,
			ReceivedAt: svc.now(),
		})
		if err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
			return "", fmt.Errorf("%w: recording delivery %s: %v", ErrInternal, event.DeliveryID, err)
		}
		if processed {
			metrics.WebhookDeliveriesTotal.WithLabelValues(string(WebhookDuplicate)).Inc()
			svc.Logger.Infof("Delivery %s was already processed, acknowledging", event.DeliveryID)
			return WebhookDuplicate, nil
		}
	}

	outcome, err := svc.dispatchWebhook(ctx, event, rawBody)
	if event.DeliveryID != "" {
		if finishErr := svc.Store.FinishDelivery(ctx, event.DeliveryID, svc.now(), err); finishErr != nil {
			svc.Logger.Errorf("Could not finish delivery %s: %v", event.DeliveryID, finishErr)
			if err == nil {
				err = fmt.Errorf("%w: finishing delivery %s: %v", ErrInternal, event.DeliveryID, finishErr)
			}
		}
	}
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, nil
}

func (svc *CheckoutService) dispatchWebhook(ctx context.Context, event *WebhookEvent, rawBody []byte) (WebhookOutcome, error) {
	status, ok := gateway.MapEventType(event.Type)
	if !ok {
		svc.Logger.Infof("Ignoring webhook type %s for invoice %s", event.Type, event.InvoiceID)
		return WebhookUnknownType, nil
	}
	if event.InvoiceID == "" {
		return "", fmt.Errorf("%w: webhook %s has no invoice id", ErrValidation, event.Type)
	}

	result, err := svc.ApplyStatus(ctx, event.InvoiceID, StatusChange{
		Status:      status,
		Source:      common.SourceWebhook,
		PaidAmount:  event.paidAmount(),
		PaymentHash: event.paymentHash(),
		SettledAt:   event.occurredAt(),
		Payload:     rawBody,
	})
	if errors.Is(err, ErrNotFound) {
		// a redelivery can not fix this, so it is acknowledged
		svc.Logger.Warnf("Webhook %s for unknown invoice %s", event.Type, event.InvoiceID)
		return WebhookUnknownInvoice, nil
	}
	if err != nil {
		return "", err
	}
	if !result.Changed {
		return WebhookIgnored, nil
	}
	return WebhookApplied, nil
}

func (event *WebhookEvent) paidAmount() decimal.NullDecimal {
	if event.Payment != nil && event.Payment.Value.Valid {
		return event.Payment.Value
	}
	if event.Data != nil {
		if event.Data.PaidAmount.Valid {
			return event.Data.PaidAmount
		}
		return event.Data.Amount
	}
	return decimal.NullDecimal{}
}

func (event *WebhookEvent) occurredAt() *time.Time {
	if event.Timestamp <= 0 {
		return nil
	}
	t := time.Unix(event.Timestamp, 0).UTC()
	return &t
}

func (event *WebhookEvent) paymentHash() string {
	if event.Data != nil {
		return event.Data.PaymentHash
	}
	return ""
}
