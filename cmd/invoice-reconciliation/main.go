package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getAlby/lncheckout/db"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/logging"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/getAlby/lncheckout/rabbitmq"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// script to pull the gateway status of every open invoice once and re-drive failed fulfillments
func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := logging.Logger(c.LogFilePath, c.LogLevel)

	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{Dsn: c.SentryDSN}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	gwCfg, err := gateway.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading gateway config: %v", err)
	}
	gatewayClient, err := gateway.InitGatewayClient(gwCfg, logger)
	if err != nil {
		logger.Fatalf("Error initializing the %s gateway: %v", gwCfg.GatewayClientType, err)
	}

	svc := service.NewCheckoutService(c, dbConn, gatewayClient, logger)
	// same fulfillment channel as the server
	switch {
	case c.RabbitMQUri != "":
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithAmqpLogger(logger))
		if err != nil {
			logger.Fatal(err)
		}
		defer amqpClient.Close()
		rabbitmqClient, err := rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithInvoiceExchange(c.RabbitMQInvoiceExchange),
			rabbitmq.WithOrderExchange(c.RabbitMQOrderExchange),
		)
		if err != nil {
			logger.Fatal(err)
		}
		svc.Notifier = &service.RabbitMQNotifier{Client: rabbitmqClient, Exchange: c.RabbitMQOrderExchange}
	case c.WebhookUrl != "":
		svc.Notifier = service.NewWebhookNotifier(c.WebhookUrl, c.WebhookSigningSecret)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	changed, err := svc.ReconcileInvoices(ctx)
	if err != nil {
		sentry.CaptureException(err)
		logger.Fatalf("Reconciliation failed: %v", err)
	}
	svc.WaitForFulfillments()
	fulfilled, err := svc.RetryFulfillments(ctx)
	if err != nil {
		sentry.CaptureException(err)
		logger.Fatalf("Fulfillment retry failed: %v", err)
	}
	logger.Infof("Reconciliation done: %d invoices changed, %d orders fulfilled", changed, fulfilled)
}
