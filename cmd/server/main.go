package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/metrics"
	"github.com/getAlby/lncheckout/rabbitmq"
	ddEcho "gopkg.in/DataDog/dd-trace-go.v1/contrib/labstack/echo.v4"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/getAlby/lncheckout/db"
	"github.com/getAlby/lncheckout/db/migrations"
	"github.com/getAlby/lncheckout/docs"
	"github.com/getAlby/lncheckout/lib/logging"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/getAlby/lncheckout/lib/tokens"
	"github.com/getAlby/lncheckout/lib/transport"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"
)

// @title        lncheckout
// @version      0.1.0
// @description  USD priced Lightning checkout: invoices, gateway webhook reconciliation and order fulfillment.

// @contact.name   Alby
// @contact.url    https://getalby.com
// @contact.email  hello@getalby.com

// @license.name  GNU GPLv3
// @license.url   https://www.gnu.org/licenses/gpl-3.0.en.html

// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        Authorization
// @schemes                     https http
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

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}

	// Migrate the DB
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()
	if _, err = migrations.Run(startupCtx, dbConn); err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}
	// Setup exception tracking with Sentry if configured
	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			IgnoreErrors:     []string{"401"},
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
	}
	// Init the payment gateway client
	gwCfg, err := gateway.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading gateway config: %v", err)
	}
	gatewayClient, err := gateway.InitGatewayClient(gwCfg, logger)
	if err != nil {
		logger.Fatalf("Error initializing the %s gateway: %v", gwCfg.GatewayClientType, err)
	}
	logger.Infof("Using %s payment gateway", gatewayClient.Kind())

	// If no RABBITMQ_URI was provided we will not attempt to create a client
	// No rabbitmq features will be available in this case.
	var rabbitmqClient rabbitmq.Client
	if c.RabbitMQUri != "" {
		amqpClient, err := rabbitmq.DialAMQP(c.RabbitMQUri, rabbitmq.WithAmqpLogger(logger))
		if err != nil {
			logger.Fatal(err)
		}

		defer amqpClient.Close()

		rabbitmqClient, err = rabbitmq.NewClient(amqpClient,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithInvoiceExchange(c.RabbitMQInvoiceExchange),
			rabbitmq.WithOrderExchange(c.RabbitMQOrderExchange),
		)
		if err != nil {
			logger.Fatal(err)
		}

		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()
	}

	svc := service.NewCheckoutService(c, dbConn, gatewayClient, logger)
	switch {
	case rabbitmqClient != nil:
		svc.Notifier = &service.RabbitMQNotifier{Client: rabbitmqClient, Exchange: c.RabbitMQOrderExchange}
		logger.Infof("Fulfillment messages go to the %s exchange", c.RabbitMQOrderExchange)
	case c.WebhookUrl != "":
		svc.Notifier = service.NewWebhookNotifier(c.WebhookUrl, c.WebhookSigningSecret)
		logger.Infof("Fulfillment messages go to %s", c.WebhookUrl)
	default:
		logger.Warn("No fulfillment channel configured, paid orders are only logged")
	}
	if c.WebhookSecret == "" {
		logger.Warn("BTCPAY_WEBHOOK_SECRET is not set, every gateway webhook will be rejected")
	}
	metrics.Register()

	//init echo server
	e := transport.InitEcho(c, logger)
	//if Datadog is configured, add datadog middleware
	if c.DatadogAgentUrl != "" {
		tracer.Start(tracer.WithAgentAddr(c.DatadogAgentUrl))
		defer tracer.Stop()
		e.Use(ddEcho.Middleware(ddEcho.WithServiceName("lncheckout")))
	}

	//Start Prometheus server if necessary
	var echoPrometheus *echo.Echo
	if svc.Config.EnablePrometheus {
		echoPrometheus = transport.StartPrometheusEcho(logger, svc, e)
	}

	logMw := transport.CreateLoggingMiddleware(logger)
	// strict rate limit for requests creating invoices
	strictRateLimitMiddleware := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)
	transport.RegisterV2Endpoints(svc, e, strictRateLimitMiddleware, tokens.AdminTokenMiddleware(c.AdminToken), logMw)

	//Swagger API spec
	docs.SwaggerInfo.Host = c.Host
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	var backgroundWg sync.WaitGroup
	backGroundCtx, _ := signal.NotifyContext(context.Background(), os.Interrupt)

	// Refresh open invoices so lost webhooks still converge
	backgroundWg.Add(1)
	go func() {
		err := svc.StartReconcileRoutine(backGroundCtx)
		if err != nil && err != context.Canceled {
			sentry.CaptureException(err)
			svc.Logger.Error(err)
		}
		svc.Logger.Info("Reconciliation routine done")
		backgroundWg.Done()
	}()

	// Re-drive fulfillment for paid orders whose notification failed
	backgroundWg.Add(1)
	go func() {
		err := svc.StartFulfillmentRetryRoutine(backGroundCtx)
		if err != nil && err != context.Canceled {
			sentry.CaptureException(err)
			svc.Logger.Error(err)
		}
		svc.Logger.Info("Fulfillment retry routine done")
		backgroundWg.Done()
	}()

	//Start rabbit publisher
	if rabbitmqClient != nil {
		backgroundWg.Add(1)
		go func() {
			err := rabbitmqClient.StartPublishInvoices(backGroundCtx,
				svc.SubscribeInvoices,
				svc.EncodeInvoicePayload,
			)
			if err != nil && err != context.Canceled {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}

			svc.Logger.Info("Rabbit invoice publisher done")
			backgroundWg.Done()
		}()
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.WaitForFulfillments()
	svc.Logger.Info("lncheckout exiting gracefully. Goodbye.")
}
