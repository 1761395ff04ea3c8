package service

import (
	"context"

	"github.com/getAlby/lncheckout/db/models"
)

const invoiceWatchBuffer = 10

// WatchInvoice returns the current state of an invoice and a channel of its
// following status changes. The subscription is taken before the read so no
// change in between is lost. stop must be called once the caller is done.
func (svc *CheckoutService) WatchInvoice(ctx context.Context, id string) (current *models.Invoice, updates chan models.Invoice, stop func(), err error) {
	updates = make(chan models.Invoice, invoiceWatchBuffer)
	subId := svc.InvoicePubSub.Subscribe(id, updates)
	stop = func() {
		svc.InvoicePubSub.Unsubscribe(subId, id)
	}
	current, err = svc.findInvoice(ctx, id)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return current, updates, stop, nil
}
