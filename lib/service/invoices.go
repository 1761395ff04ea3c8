package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db/models"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/metrics"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	DefaultPageLimit     = 20
	MaxPageLimit         = 100
	maxDescriptionLength = 500
)

type ListInvoicesParams struct {
	Page          int
	Limit         int
	Status        string
	CustomerEmail string
}

type InvoicePage struct {
	Invoices []models.Invoice
	Page     int
	Limit    int
	Total    int
	Pages    int
}

type InvoiceStats struct {
	Timeframe      string
	Since          time.Time
	Total          int
	Paid           int
	Pending        int
	Expired        int
	TotalAmount    decimal.Decimal
	PaidAmount     decimal.Decimal
	ConversionRate float64
}

// CreateInvoice validates the request, creates the invoice at the gateway and
// stores it with its order. Nothing is stored when the gateway call fails.
func (svc *CheckoutService) CreateInvoice(ctx context.Context, amount decimal.Decimal, description, customerEmail string) (*models.Invoice, error) {
	if err := svc.validateInvoiceRequest(amount, description, customerEmail); err != nil {
		return nil, err
	}
	if description == "" {
		description = common.DefaultDescription
	}
	orderID := common.OrderIdPrefix + ulid.Make().String()

	remote, err := svc.Gateway.CreateInvoice(ctx, gateway.CreateInvoiceRequest{
		Amount:        amount,
		Description:   description,
		OrderID:       orderID,
		CustomerEmail: customerEmail,
	})
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("create_invoice").Inc()
		svc.Logger.Errorf("Creating gateway invoice for order %s failed: %v", orderID, err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	now := svc.now()
	invoice := &models.Invoice{
		ID:               remote.ID,
		OrderID:          orderID,
		Amount:           amount,
		Description:      description,
		Status:           common.InvoiceStatusPending,
		PaymentRequest:   remote.PaymentRequest,
		CheckoutLink:     remote.CheckoutLink,
		CustomerEmail:    customerEmail,
		ProviderSnapshot: remote.Raw,
		CreatedAt:        now,
		UpdatedAt:        bun.NullTime{Time: now},
	}
	if !remote.ExpiresAt.IsZero() {
		invoice.ExpiresAt = bun.NullTime{Time: remote.ExpiresAt.UTC()}
	}
	order := &models.Order{
		OrderID:   orderID,
		InvoiceID: remote.ID,
		Amount:    amount,
		Status:    common.InvoiceStatusPending,
		CreatedAt: now,
		UpdatedAt: bun.NullTime{Time: now},
	}
	if err := svc.Store.CreateInvoice(ctx, invoice, order); err != nil {
		// the gateway invoice exists but is unknown to us, it will expire on its own
		svc.Logger.Errorf("Storing invoice %s for order %s failed: %v", remote.ID, orderID, err)
		return nil, fmt.Errorf("%w: storing invoice: %v", ErrInternal, err)
	}

	metrics.InvoicesCreatedTotal.Inc()
	svc.Logger.Infof("Created invoice %s for order %s (%s %s)", invoice.ID, orderID, amount.StringFixed(2), common.Currency)
	svc.InvoicePubSub.Publish(*invoice)
	return invoice, nil
}

func (svc *CheckoutService) validateInvoiceRequest(amount decimal.Decimal, description, customerEmail string) error {
	if amount.LessThan(common.MinInvoiceAmount) || amount.GreaterThan(common.MaxInvoiceAmount) {
		return fmt.Errorf("%w: amount must be between %s and %s %s", ErrValidation, common.MinInvoiceAmount, common.MaxInvoiceAmount, common.Currency)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount can not have more than 2 decimal places", ErrValidation)
	}
	if len(description) > maxDescriptionLength {
		return fmt.Errorf("%w: description is longer than %d characters", ErrValidation, maxDescriptionLength)
	}
	if customerEmail != "" {
		if err := svc.validate.Var(customerEmail, "email"); err != nil {
			return fmt.Errorf("%w: invalid customer email", ErrValidation)
		}
	}
	return nil
}

// GetInvoice returns the stored invoice after a best-effort refresh from the
// gateway. The gateway being down never fails this call.
func (svc *CheckoutService) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := svc.findInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status.IsTerminal() && invoice.PaymentRequest != "" {
		return invoice, nil
	}
	return svc.RefreshInvoice(ctx, invoice, common.SourcePoll), nil
}

// RefreshInvoice pulls the gateway status of invoice and applies it. On any
// failure the given invoice is returned unchanged.
func (svc *CheckoutService) RefreshInvoice(ctx context.Context, invoice *models.Invoice, source string) *models.Invoice {
	refreshCtx, cancel := context.WithTimeout(ctx, svc.refreshTimeout())
	defer cancel()

	snapshot, err := svc.Gateway.GetInvoice(refreshCtx, invoice.ID)
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("get_invoice").Inc()
		svc.Logger.Warnf("Could not refresh invoice %s from the gateway, serving stored data: %v", invoice.ID, err)
		return invoice
	}

	remoteStatus, ok := gateway.MapInvoiceStatus(snapshot.Status)
	switch {
	case !ok:
		svc.Logger.Warnf("Gateway reported unknown status %q for invoice %s", snapshot.Status, invoice.ID)
	case remoteStatus != invoice.Status:
		result, err := svc.ApplyStatus(ctx, invoice.ID, StatusChange{
			Status:     remoteStatus,
			Source:     source,
			PaidAmount: snapshot.PaidAmount,
			SettledAt:  snapshot.SettledAt,
			Payload:    snapshot.Raw,
		})
		if err != nil {
			svc.Logger.Errorf("Applying gateway status %s to invoice %s failed: %v", remoteStatus, invoice.ID, err)
		} else {
			invoice = result.Invoice
		}
	}

	if invoice.PaymentRequest == "" {
		details, err := svc.Gateway.GetPaymentMethods(refreshCtx, invoice.ID)
		if err != nil {
			svc.Logger.Warnf("Could not fetch payment methods of invoice %s: %v", invoice.ID, err)
		} else if details != nil && details.PaymentRequest != "" {
			if err := svc.Store.BackfillPaymentRequest(ctx, invoice.ID, details.PaymentRequest); err != nil {
				svc.Logger.Errorf("Could not store payment request of invoice %s: %v", invoice.ID, err)
			}
			invoice.PaymentRequest = details.PaymentRequest
		}
	}
	return invoice
}

// CancelInvoice moves a non-terminal invoice to cancelled. The gateway invoice
// is left to expire.
func (svc *CheckoutService) CancelInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := svc.findInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: invoice %s is already %s", ErrInvalidState, id, invoice.Status)
	}
	result, err := svc.ApplyStatus(ctx, id, StatusChange{
		Status: common.InvoiceStatusCancelled,
		Source: common.SourceCancel,
	})
	if err != nil {
		return nil, err
	}
	if !result.Changed {
		return nil, fmt.Errorf("%w: invoice %s is already %s", ErrInvalidState, id, result.Invoice.Status)
	}
	return result.Invoice, nil
}

// LightningDetails returns the BOLT11 payment method of an invoice. When the
// gateway can not be reached the stored payment request is served instead.
func (svc *CheckoutService) LightningDetails(ctx context.Context, id string) (*gateway.LightningDetails, error) {
	invoice, err := svc.findInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	refreshCtx, cancel := context.WithTimeout(ctx, svc.refreshTimeout())
	defer cancel()

	details, err := svc.Gateway.GetPaymentMethods(refreshCtx, id)
	if err != nil {
		gwErr := &gateway.Error{}
		if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: invoice %s is unknown to the gateway", ErrNotFound, id)
		}
		metrics.GatewayErrorsTotal.WithLabelValues("get_payment_methods").Inc()
		if invoice.PaymentRequest == "" {
			return nil, fmt.Errorf("%w: %v", ErrGateway, err)
		}
		svc.Logger.Warnf("Could not fetch payment methods of invoice %s, serving stored payment request: %v", id, err)
		return &gateway.LightningDetails{
			PaymentMethod:  gateway.LightningPaymentMethod,
			PaymentRequest: invoice.PaymentRequest,
			PaymentLink:    "lightning:" + invoice.PaymentRequest,
		}, nil
	}
	if details == nil {
		return nil, fmt.Errorf("%w: invoice %s has no lightning payment method", ErrNotFound, id)
	}
	return details, nil
}

func (svc *CheckoutService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := svc.Store.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: loading order %s: %v", ErrInternal, orderID, err)
	}
	return order, nil
}

func (svc *CheckoutService) ListInvoices(ctx context.Context, params ListInvoicesParams) (*InvoicePage, error) {
	if params.Page == 0 {
		params.Page = 1
	}
	if params.Limit == 0 {
		params.Limit = DefaultPageLimit
	}
	if params.Page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", ErrValidation)
	}
	if params.Limit < 1 || params.Limit > MaxPageLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, MaxPageLimit)
	}
	filter := InvoiceFilter{
		CustomerEmail: params.CustomerEmail,
		Limit:         params.Limit,
		Offset:        (params.Page - 1) * params.Limit,
	}
	if params.Status != "" {
		status, err := common.ParseInvoiceStatus(params.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		filter.Status = status
	}

	invoices, total, err := svc.Store.ListInvoices(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: listing invoices: %v", ErrInternal, err)
	}
	return &InvoicePage{
		Invoices: invoices,
		Page:     params.Page,
		Limit:    params.Limit,
		Total:    total,
		Pages:    (total + params.Limit - 1) / params.Limit,
	}, nil
}

// GetStats aggregates the invoices created within the timeframe ending now.
func (svc *CheckoutService) GetStats(ctx context.Context, timeframe string) (*InvoiceStats, error) {
	now := svc.now()
	var since time.Time
	switch timeframe {
	case common.TimeframeDay:
		since = now.Add(-24 * time.Hour)
	case common.TimeframeWeek:
		since = now.AddDate(0, 0, -7)
	case common.TimeframeMonth:
		since = now.AddDate(0, -1, 0)
	default:
		return nil, fmt.Errorf("%w: timeframe must be one of %s, %s, %s", ErrValidation, common.TimeframeDay, common.TimeframeWeek, common.TimeframeMonth)
	}

	invoices, err := svc.Store.InvoicesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%w: loading invoices: %v", ErrInternal, err)
	}
	stats := &InvoiceStats{
		Timeframe:   timeframe,
		Since:       since,
		Total:       len(invoices),
		TotalAmount: decimal.Zero,
		PaidAmount:  decimal.Zero,
	}
	for _, invoice := range invoices {
		stats.TotalAmount = stats.TotalAmount.Add(invoice.Amount)
		switch invoice.Status {
		case common.InvoiceStatusPaid:
			stats.Paid++
			stats.PaidAmount = stats.PaidAmount.Add(invoice.Amount)
		case common.InvoiceStatusPending:
			stats.Pending++
		case common.InvoiceStatusExpired:
			stats.Expired++
		}
	}
	if stats.Total > 0 {
		stats.ConversionRate = decimal.NewFromInt(int64(stats.Paid)).
			Div(decimal.NewFromInt(int64(stats.Total))).
			Mul(decimal.NewFromInt(100)).
			Round(2).
			InexactFloat64()
	}
	return stats, nil
}

func (svc *CheckoutService) findInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := svc.Store.FindInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: loading invoice %s: %v", ErrInternal, id, err)
	}
	return invoice, nil
}
