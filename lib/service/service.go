package service

import (
	"sync"
	"time"

	"github.com/getAlby/lncheckout/gateway"
	"github.com/go-playground/validator/v10"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

const defaultRefreshTimeout = 3 * time.Second

// CheckoutService owns the invoice lifecycle. Every status change goes
// through ApplyStatus.
type CheckoutService struct {
	Config        *Config
	DB            *bun.DB
	Store         InvoiceStore
	Gateway       gateway.GatewayClient
	Logger        *lecho.Logger
	InvoicePubSub *Pubsub
	Notifier      FulfillmentNotifier
	Clock         func() time.Time

	locks    *KeyedMutex
	validate *validator.Validate

	fulfillments sync.WaitGroup
	// payment ids with a notification in flight
	fulfilling sync.Map
}

func NewCheckoutService(config *Config, db *bun.DB, gatewayClient gateway.GatewayClient, logger *lecho.Logger) *CheckoutService {
	return &CheckoutService{
		Config:        config,
		DB:            db,
		Store:         NewBunInvoiceStore(db),
		Gateway:       gatewayClient,
		Logger:        logger,
		InvoicePubSub: NewPubsub(),
		Notifier:      &LogNotifier{Logger: logger},
		Clock:         time.Now,
		locks:         NewKeyedMutex(),
		validate:      validator.New(),
	}
}

func (svc *CheckoutService) now() time.Time {
	return svc.Clock().UTC()
}

func (svc *CheckoutService) refreshTimeout() time.Duration {
	if svc.Config.GatewayRefreshTimeout <= 0 {
		return defaultRefreshTimeout
	}
	return time.Duration(svc.Config.GatewayRefreshTimeout) * time.Second
}
