package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db/models"
	"github.com/uptrace/bun"
)

// InvoiceStore is the only way persisted state is read or written.
// Status never changes outside CompareAndSwapStatus.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, invoice *models.Invoice, order *models.Order) error
	FindInvoice(ctx context.Context, id string) (*models.Invoice, error)
	FindOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, int, error)
	InvoicesSince(ctx context.Context, since time.Time) ([]models.Invoice, error)
	NonTerminalInvoices(ctx context.Context, createdBefore time.Time, limit int) ([]models.Invoice, error)
	BackfillPaymentRequest(ctx context.Context, id, paymentRequest string) error
	CompareAndSwapStatus(ctx context.Context, update StatusUpdate) (bool, error)

	FindPayment(ctx context.Context, invoiceID string) (*models.Payment, error)
	MarkFulfilled(ctx context.Context, paymentID string, at time.Time) error
	RecordFulfillmentFailure(ctx context.Context, paymentID string, cause error) error
	UnfulfilledPayments(ctx context.Context, createdBefore time.Time, maxRuns, limit int) ([]models.Payment, error)

	BeginDelivery(ctx context.Context, delivery *models.WebhookDelivery) (processed bool, err error)
	FinishDelivery(ctx context.Context, deliveryID string, at time.Time, processingErr error) error
}

type InvoiceFilter struct {
	Status        common.InvoiceStatus
	CustomerEmail string
	Limit         int
	Offset        int
}

// StatusUpdate moves one invoice from From to To. Payment is inserted in the
// same transaction and must be set when To is paid.
type StatusUpdate struct {
	InvoiceID string
	From      common.InvoiceStatus
	To        common.InvoiceStatus
	At        time.Time
	// SettledAt is the gateway's settlement time, zero when unknown
	SettledAt time.Time
	Snapshot  json.RawMessage
	Payment   *models.Payment
}

func (update StatusUpdate) paidAt() time.Time {
	if update.SettledAt.IsZero() {
		return update.At
	}
	return update.SettledAt
}

var errStatusChanged = errors.New("status changed concurrently")

type BunInvoiceStore struct {
	db *bun.DB
}

func NewBunInvoiceStore(db *bun.DB) *BunInvoiceStore {
	return &BunInvoiceStore{db: db}
}

func (s *BunInvoiceStore) CreateInvoice(ctx context.Context, invoice *models.Invoice, order *models.Order) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(invoice).Exec(ctx); err != nil {
			return fmt.Errorf("inserting invoice: %w", err)
		}
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}
		return nil
	})
}

func (s *BunInvoiceStore) FindInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	invoice := &models.Invoice{}
	err := s.db.NewSelect().Model(invoice).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}
	return invoice, nil
}

func (s *BunInvoiceStore) FindOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order := &models.Order{}
	err := s.db.NewSelect().Model(order).Where("order_id = ?", orderID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "order", orderID)
	}
	return order, nil
}

func (s *BunInvoiceStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]models.Invoice, int, error) {
	invoices := []models.Invoice{}
	query := s.db.NewSelect().Model(&invoices)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CustomerEmail != "" {
		query = query.Where("customer_email = ?", filter.CustomerEmail)
	}
	total, err := query.
		Order("created_at DESC", "id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func (s *BunInvoiceStore) InvoicesSince(ctx context.Context, since time.Time) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := s.db.NewSelect().
		Model(&invoices).
		Column("id", "amount", "status", "created_at").
		Where("created_at >= ?", since).
		Scan(ctx)
	return invoices, err
}

func (s *BunInvoiceStore) NonTerminalInvoices(ctx context.Context, createdBefore time.Time, limit int) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	err := s.db.NewSelect().
		Model(&invoices).
		Where("status IN (?)", bun.In([]common.InvoiceStatus{common.InvoiceStatusPending, common.InvoiceStatusProcessing})).
		Where("created_at <= ?", createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	return invoices, err
}

func (s *BunInvoiceStore) BackfillPaymentRequest(ctx context.Context, id, paymentRequest string) error {
	_, err := s.db.NewUpdate().
		Table("invoices").
		Set("payment_request = ?", paymentRequest).
		Where("id = ?", id).
		Where("payment_request IS NULL").
		Exec(ctx)
	return err
}

// CompareAndSwapStatus applies update only while the stored status still
// equals update.From. It reports false, without error, when another writer
// got there first.
func (s *BunInvoiceStore) CompareAndSwapStatus(ctx context.Context, update StatusUpdate) (bool, error) {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := tx.NewUpdate().
			Table("invoices").
			Set("status = ?", update.To).
			Set("updated_at = ?", update.At).
			Where("id = ?", update.InvoiceID).
			Where("status = ?", update.From)
		if len(update.Snapshot) > 0 {
			query = query.Set("provider_snapshot = ?", string(update.Snapshot))
		}
		switch update.To {
		case common.InvoiceStatusPaid:
			query = query.Set("paid_at = COALESCE(paid_at, ?)", update.paidAt())
		case common.InvoiceStatusCancelled:
			query = query.Set("cancelled_at = COALESCE(cancelled_at, ?)", update.At)
		}
		res, err := query.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errStatusChanged
		}

		_, err = tx.NewUpdate().
			Table("orders").
			Set("status = ?", update.To).
			Set("updated_at = ?", update.At).
			Where("invoice_id = ?", update.InvoiceID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mirroring order status: %w", err)
		}

		if update.To == common.InvoiceStatusPaid && update.Payment != nil {
			if _, err := tx.NewInsert().Model(update.Payment).Exec(ctx); err != nil {
				return fmt.Errorf("inserting payment: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errStatusChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BunInvoiceStore) FindPayment(ctx context.Context, invoiceID string) (*models.Payment, error) {
	payment := &models.Payment{}
	err := s.db.NewSelect().Model(payment).Where("invoice_id = ?", invoiceID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "payment for invoice", invoiceID)
	}
	return payment, nil
}

func (s *BunInvoiceStore) MarkFulfilled(ctx context.Context, paymentID string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Table("payments").
		Set("fulfilled_at = ?", at).
		Set("fulfillment_attempts = fulfillment_attempts + 1").
		Set("fulfillment_error = NULL").
		Where("id = ?", paymentID).
		Where("fulfilled_at IS NULL").
		Exec(ctx)
	return err
}

func (s *BunInvoiceStore) RecordFulfillmentFailure(ctx context.Context, paymentID string, cause error) error {
	_, err := s.db.NewUpdate().
		Table("payments").
		Set("fulfillment_attempts = fulfillment_attempts + 1").
		Set("fulfillment_error = ?", truncateError(cause, 1024)).
		Where("id = ?", paymentID).
		Where("fulfilled_at IS NULL").
		Exec(ctx)
	return err
}

func (s *BunInvoiceStore) UnfulfilledPayments(ctx context.Context, createdBefore time.Time, maxRuns, limit int) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := s.db.NewSelect().
		Model(&payments).
		Where("fulfilled_at IS NULL").
		Where("fulfillment_attempts < ?", maxRuns).
		Where("created_at <= ?", createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	return payments, err
}

// BeginDelivery records a webhook delivery. processed is true when the same
// delivery id was already handled successfully.
func (s *BunInvoiceStore) BeginDelivery(ctx context.Context, delivery *models.WebhookDelivery) (bool, error) {
	_, err := s.db.NewInsert().
		Model(delivery).
		On("CONFLICT (delivery_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	stored := &models.WebhookDelivery{}
	err = s.db.NewSelect().
		Model(stored).
		Where("delivery_id = ?", delivery.DeliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return false, err
	}
	return !stored.ProcessedAt.IsZero(), nil
}

func (s *BunInvoiceStore) FinishDelivery(ctx context.Context, deliveryID string, at time.Time, processingErr error) error {
	query := s.db.NewUpdate().
		Table("webhook_deliveries").
		Where("delivery_id = ?", deliveryID)
	if processingErr != nil {
		query = query.Set("processing_error = ?", truncateError(processingErr, 1024))
	} else {
		query = query.Set("processed_at = ?", at).Set("processing_error = NULL")
	}
	_, err := query.Exec(ctx)
	return err
}

func notFound(err error, what, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, key)
	}
	return err
}

func truncateError(err error, max int) string {
	msg := err.Error()
	if len(msg) > max {
		return msg[:max]
	}
	return msg
}
