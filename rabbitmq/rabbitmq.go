package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/getAlby/lncheckout/db/models"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ziflex/lecho/v3"
)

// bufPool is a classic buffer pool pattern that allows more clever reuse of heap memory.
// Instead of allocating new memory everytime we need to encode the invoices we
// reuse buffers from this buffer pool.
var bufPool = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

const (
	contentTypeJSON = "application/json"
	exchangeKind    = "topic"
)

type (
	SubscribeToInvoicesFunc = func() (invoices chan models.Invoice, err error)
	EncodeInvoiceFunc       = func(ctx context.Context, w io.Writer, invoice models.Invoice) error
)

type Client interface {
	// StartPublishInvoices streams every invoice update to the invoice exchange
	// with routing key invoice.<status> until ctx is done.
	StartPublishInvoices(context.Context, SubscribeToInvoicesFunc, EncodeInvoiceFunc) error
	// Publish sends payload as JSON to exchange.
	Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error
	Close() error
}

type DefaultClient struct {
	amqpClient AMQPClient

	logger *lecho.Logger

	invoiceExchange string
	orderExchange   string
}

type ClientOption = func(client *DefaultClient)

func WithInvoiceExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.invoiceExchange = exchange
	}
}

func WithOrderExchange(exchange string) ClientOption {
	return func(client *DefaultClient) {
		client.orderExchange = exchange
	}
}

func WithLogger(logger *lecho.Logger) ClientOption {
	return func(client *DefaultClient) {
		client.logger = logger
	}
}

// NewClient wraps an AMQP connection and declares the exchanges it publishes to.
func NewClient(amqpClient AMQPClient, options ...ClientOption) (*DefaultClient, error) {
	client := &DefaultClient{
		amqpClient: amqpClient,

		logger: lecho.New(
			os.Stdout,
			lecho.WithLevel(log.DEBUG),
			lecho.WithTimestamp(),
		),

		invoiceExchange: "lncheckout_invoice",
		orderExchange:   "lncheckout_order",
	}

	for _, opt := range options {
		opt(client)
	}

	for _, exchange := range []string{client.invoiceExchange, client.orderExchange} {
		err := amqpClient.ExchangeDeclare(
			exchange,
			// topic is a type of exchange that allows routing messages to different queue's bases on a routing key
			exchangeKind,
			// Durable and Non-Auto-Deleted exchanges will survive server restarts and remain
			// declared when there are no remaining bindings.
			true,
			false,
			// Non-Internal exchange's accept direct publishing
			false,
			// Nowait: We set this to false as we want to wait for a server response
			// to check whether the exchange was created succesfully
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
		}
	}

	return client, nil
}

func (client *DefaultClient) Close() error { return client.amqpClient.Close() }

func (client *DefaultClient) StartPublishInvoices(ctx context.Context, invoicesSubscribeFunc SubscribeToInvoicesFunc, payloadFunc EncodeInvoiceFunc) error {
	client.logger.Info("Starting rabbitmq publisher")

	invoices, err := invoicesSubscribeFunc()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case invoice, ok := <-invoices:
			if !ok {
				return fmt.Errorf("invoice subscription closed")
			}
			if err := client.publishInvoice(ctx, invoice, payloadFunc); err != nil {
				captureErr(client.logger, err)
			}
		}
	}
}

func (client *DefaultClient) publishInvoice(ctx context.Context, invoice models.Invoice, payloadFunc EncodeInvoiceFunc) error {
	payload := bufPool.Get().(*bytes.Buffer)
	payload.Reset()
	defer bufPool.Put(payload)

	err := payloadFunc(ctx, payload, invoice)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("invoice.%s", invoice.Status)

	err = client.amqpClient.PublishWithContext(ctx,
		client.invoiceExchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType: contentTypeJSON,
			Body:        payload.Bytes(),
		},
	)
	if err != nil {
		return err
	}

	client.logger.Debugf("Successfully published invoice %s to rabbitmq with key %s", invoice.ID, key)

	return nil
}

func (client *DefaultClient) Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return err
	}

	return client.amqpClient.PublishWithContext(ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			Body:         buf.Bytes(),
		},
	)
}

func captureErr(logger *lecho.Logger, err error) {
	logger.Error(err)
	sentry.CaptureException(err)
}
