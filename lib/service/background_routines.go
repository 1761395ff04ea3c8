package service

import (
	"context"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getsentry/sentry-go"
)

// reconcileGracePeriod keeps the routine away from invoices that were just created.
const reconcileGracePeriod = time.Minute

// StartReconcileRoutine polls the gateway for every non-terminal invoice on
// each tick, so invoices whose webhooks were lost still converge.
func (svc *CheckoutService) StartReconcileRoutine(ctx context.Context) error {
	if svc.Config.ReconcileInterval <= 0 {
		svc.Logger.Info("Reconciliation routine disabled")
		return nil
	}
	ticker := time.NewTicker(time.Duration(svc.Config.ReconcileInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := svc.ReconcileInvoices(ctx); err != nil && ctx.Err() == nil {
				svc.Logger.Errorf("Reconciliation failed: %v", err)
				sentry.CaptureException(err)
			}
		}
	}
}

// ReconcileInvoices refreshes one batch of non-terminal invoices and returns
// how many of them changed status.
func (svc *CheckoutService) ReconcileInvoices(ctx context.Context) (int, error) {
	invoices, err := svc.Store.NonTerminalInvoices(ctx, svc.now().Add(-reconcileGracePeriod), svc.Config.ReconcileBatchSize)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range invoices {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		before := invoices[i].Status
		refreshed := svc.RefreshInvoice(ctx, &invoices[i], common.SourceReconcile)
		if refreshed.Status != before {
			changed++
		}
	}
	if len(invoices) > 0 {
		svc.Logger.Infof("Reconciled %d open invoices, %d changed", len(invoices), changed)
	}
	return changed, nil
}

// StartFulfillmentRetryRoutine re-drives fulfillment for paid invoices whose
// notification has not gone through yet.
func (svc *CheckoutService) StartFulfillmentRetryRoutine(ctx context.Context) error {
	if svc.Config.FulfillmentRetryInterval <= 0 {
		svc.Logger.Info("Fulfillment retry routine disabled")
		return nil
	}
	ticker := time.NewTicker(time.Duration(svc.Config.FulfillmentRetryInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := svc.RetryFulfillments(ctx); err != nil && ctx.Err() == nil {
				svc.Logger.Errorf("Fulfillment retry failed: %v", err)
				sentry.CaptureException(err)
			}
		}
	}
}

// RetryFulfillments runs fulfillment again for unfulfilled payments older than
// the retry interval and returns how many succeeded.
func (svc *CheckoutService) RetryFulfillments(ctx context.Context) (int, error) {
	olderThan := svc.now().Add(-time.Duration(svc.Config.FulfillmentRetryInterval) * time.Second)
	payments, err := svc.Store.UnfulfilledPayments(ctx, olderThan, svc.Config.FulfillmentMaxRuns, svc.Config.ReconcileBatchSize)
	if err != nil {
		return 0, err
	}
	fulfilled := 0
	for i := range payments {
		if ctx.Err() != nil {
			return fulfilled, ctx.Err()
		}
		invoice, err := svc.Store.FindInvoice(ctx, payments[i].InvoiceID)
		if err != nil {
			svc.Logger.Errorf("Could not load invoice %s of payment %s: %v", payments[i].InvoiceID, payments[i].ID, err)
			continue
		}
		if svc.Fulfill(ctx, invoice, &payments[i]) == nil {
			fulfilled++
		}
	}
	if len(payments) > 0 {
		svc.Logger.Infof("Retried fulfillment of %d payments, %d delivered", len(payments), fulfilled)
	}
	return fulfilled, nil
}
