package service_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/ziflex/lecho/v3"
)

func newSQLMockService(t *testing.T) (*service.CheckoutService, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	mockGateway, err := gateway.NewMockGateway(&gateway.Config{MockInvoiceExpiry: 900})
	require.NoError(t, err)
	logger := lecho.New(io.Discard, lecho.WithLevel(log.ERROR))
	svc := service.NewCheckoutService(&service.Config{WebhookSecret: testWebhookSecret}, bun.NewDB(sqlDB, pgdialect.New()), mockGateway, logger)
	return svc, mock
}

func TestStoreFailuresAreInternalErrors(t *testing.T) {
	svc, mock := newSQLMockService(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset by peer"))
	_, err := svc.GetInvoice(ctx, "inv1")
	assert.ErrorIs(t, err, service.ErrInternal)

	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)
	_, err = svc.GetInvoice(ctx, "inv1")
	assert.ErrorIs(t, err, service.ErrNotFound)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("too many connections"))
	_, err = svc.GetStats(ctx, common.TimeframeMonth)
	assert.ErrorIs(t, err, service.ErrInternal)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("statement timeout"))
	_, err = svc.ListInvoices(ctx, service.ListInvoicesParams{})
	assert.ErrorIs(t, err, service.ErrInternal)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookStoreFailureAsksForRedelivery(t *testing.T) {
	svc, mock := newSQLMockService(t)
	mock.ExpectExec("INSERT INTO \"webhook_deliveries\"").WillReturnError(errors.New("connection refused"))

	body, signature := signedWebhook(common.EventPaymentSettled, "inv1", "d1")
	_, err := svc.HandleWebhook(context.Background(), body, signature)
	assert.ErrorIs(t, err, service.ErrInternal)
	assert.NoError(t, mock.ExpectationsWereMet())
}
