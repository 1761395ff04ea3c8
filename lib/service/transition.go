package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db/models"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// StatusChange is a request to move an invoice to Status, as reported by Source.
type StatusChange struct {
	Status      common.InvoiceStatus
	Source      string
	PaidAmount  decimal.NullDecimal
	PaymentHash string
	SettledAt   *time.Time // gateway settlement time, nil when unknown
	Payload     json.RawMessage
}

type TransitionResult struct {
	Invoice  *models.Invoice
	Previous common.InvoiceStatus
	Changed  bool
}

// ApplyStatus is the guarded transition: illegal, repeated and stale changes
// are no-ops, and of any number of concurrent callers at most one moves the
// invoice. The winner publishes the change and, for paid, starts fulfillment
// once without waiting for it.
func (svc *CheckoutService) ApplyStatus(ctx context.Context, id string, change StatusChange) (*TransitionResult, error) {
	if !change.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, change.Status)
	}

	unlock := sync.OnceFunc(svc.locks.Lock(id))
	defer unlock()

	invoice, err := svc.findInvoice(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := invoice.Status
	if !common.CanTransition(previous, change.Status) {
		svc.logIgnoredTransition(invoice, change)
		return &TransitionResult{Invoice: invoice, Previous: previous}, nil
	}

	now := svc.now()
	update := StatusUpdate{
		InvoiceID: id,
		From:      previous,
		To:        change.Status,
		At:        now,
		Snapshot:  change.Payload,
	}
	if change.Status == common.InvoiceStatusPaid {
		if change.SettledAt != nil && !change.SettledAt.IsZero() && !change.SettledAt.After(now) {
			update.SettledAt = change.SettledAt.UTC()
		}
		update.Payment = svc.newPayment(invoice, change, update.paidAt(), now)
	}

	swapped, err := svc.Store.CompareAndSwapStatus(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("%w: updating invoice %s: %v", ErrInternal, id, err)
	}
	if !swapped {
		// another process moved the invoice between our read and write
		metrics.IgnoredTransitionsTotal.WithLabelValues("lost_race").Inc()
		svc.Logger.Infof("Invoice %s changed concurrently, dropping %s update to %s", id, change.Source, change.Status)
		current, err := svc.Store.FindInvoice(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: reloading invoice %s: %v", ErrInternal, id, err)
		}
		return &TransitionResult{Invoice: current, Previous: current.Status}, nil
	}

	applyUpdate(invoice, update)
	unlock()

	svc.Logger.Infof("Invoice %s moved from %s to %s (source: %s)", id, previous, change.Status, change.Source)
	metrics.InvoiceTransitionsTotal.WithLabelValues(change.Status.String(), change.Source).Inc()
	if dropped := svc.InvoicePubSub.Publish(*invoice); dropped > 0 {
		svc.Logger.Warnf("Invoice %s update was not delivered to %d slow subscribers", id, dropped)
	}

	if update.Payment != nil {
		svc.fulfillAsync(ctx, *invoice, update.Payment)
	}
	return &TransitionResult{Invoice: invoice, Previous: previous, Changed: true}, nil
}

func (svc *CheckoutService) newPayment(invoice *models.Invoice, change StatusChange, completedAt, now time.Time) *models.Payment {
	amount := invoice.Amount
	if change.PaidAmount.Valid && change.PaidAmount.Decimal.IsPositive() {
		amount = change.PaidAmount.Decimal
	}
	paymentHash := change.PaymentHash
	if paymentHash == "" && invoice.PaymentRequest != "" {
		hash, err := gateway.PaymentHash(invoice.PaymentRequest)
		if err != nil {
			svc.Logger.Debugf("Could not decode payment hash of invoice %s: %v", invoice.ID, err)
		}
		paymentHash = hash
	}
	return &models.Payment{
		ID:          uuid.NewString(),
		InvoiceID:   invoice.ID,
		Amount:      amount,
		PaymentHash: paymentHash,
		CompletedAt: completedAt,
		RawPayload:  change.Payload,
		CreatedAt:   now,
	}
}

func (svc *CheckoutService) logIgnoredTransition(invoice *models.Invoice, change StatusChange) {
	switch {
	case invoice.Status == change.Status:
		metrics.IgnoredTransitionsTotal.WithLabelValues("duplicate").Inc()
		svc.Logger.Debugf("Invoice %s is already %s, ignoring %s update", invoice.ID, change.Status, change.Source)
	case invoice.Status.IsTerminal():
		metrics.IgnoredTransitionsTotal.WithLabelValues("terminal").Inc()
		svc.Logger.Warnf("Invoice %s is %s, ignoring late %s update to %s", invoice.ID, invoice.Status, change.Source, change.Status)
	case change.Source == common.SourcePoll || change.Source == common.SourceReconcile:
		// the gateway API lags behind its webhooks, this repeats on every poll
		metrics.IgnoredTransitionsTotal.WithLabelValues("regression").Inc()
		svc.Logger.Debugf("Gateway still reports %s for invoice %s, keeping %s (source: %s)", change.Status, invoice.ID, invoice.Status, change.Source)
	default:
		metrics.IgnoredTransitionsTotal.WithLabelValues("regression").Inc()
		svc.Logger.Warnf("Refusing to move invoice %s back from %s to %s (source: %s)", invoice.ID, invoice.Status, change.Status, change.Source)
	}
}

func applyUpdate(invoice *models.Invoice, update StatusUpdate) {
	invoice.Status = update.To
	invoice.UpdatedAt = bun.NullTime{Time: update.At}
	if len(update.Snapshot) > 0 {
		invoice.ProviderSnapshot = update.Snapshot
	}
	switch update.To {
	case common.InvoiceStatusPaid:
		if invoice.PaidAt.IsZero() {
			invoice.PaidAt = bun.NullTime{Time: update.paidAt()}
		}
	case common.InvoiceStatusCancelled:
		if invoice.CancelledAt.IsZero() {
			invoice.CancelledAt = bun.NullTime{Time: update.At}
		}
	}
}
