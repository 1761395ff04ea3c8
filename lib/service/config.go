package service

type Config struct {
	DatabaseUri              string   `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns         int      `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns     int      `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime  int      `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	SentryDSN                string   `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate   float64  `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	DatadogAgentUrl          string   `envconfig:"DATADOG_AGENT_URL"`
	LogFilePath              string   `envconfig:"LOG_FILE_PATH"`
	LogLevel                 string   `envconfig:"LOG_LEVEL" default:"info"`
	AdminToken               string   `envconfig:"ADMIN_TOKEN"`
	Host                     string   `envconfig:"HOST" default:"localhost:3000"`
	Port                     int      `envconfig:"PORT" default:"3000"`
	DefaultRateLimit         int      `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit          int      `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit           int      `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus         bool     `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort           int      `envconfig:"PROMETHEUS_PORT" default:"9092"`
	CorsAllowOrigins         []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
	WebhookSecret            string   `envconfig:"BTCPAY_WEBHOOK_SECRET"`
	WebhookUrl               string   `envconfig:"WEBHOOK_URL"`
	WebhookSigningSecret     string   `envconfig:"WEBHOOK_SIGNING_SECRET"`
	GatewayRefreshTimeout    int      `envconfig:"GATEWAY_REFRESH_TIMEOUT" default:"3"`       // in seconds
	FulfillmentTimeout       int      `envconfig:"FULFILLMENT_TIMEOUT" default:"5"`           // in seconds, per attempt
	FulfillmentMaxRetries    int      `envconfig:"FULFILLMENT_MAX_RETRIES" default:"3"`
	FulfillmentRetryInterval int      `envconfig:"FULFILLMENT_RETRY_INTERVAL" default:"60"`   // in seconds
	FulfillmentMaxRuns       int      `envconfig:"FULFILLMENT_MAX_RUNS" default:"10"`
	ReconcileInterval        int      `envconfig:"RECONCILE_INTERVAL" default:"300"`          // in seconds, 0 disables the routine
	ReconcileBatchSize       int      `envconfig:"RECONCILE_BATCH_SIZE" default:"100"`
	StatsCacheTTL            int      `envconfig:"STATS_CACHE_TTL" default:"30"`              // in seconds
	RabbitMQUri              string   `envconfig:"RABBITMQ_URI"`
	RabbitMQInvoiceExchange  string   `envconfig:"RABBITMQ_INVOICE_EXCHANGE" default:"lncheckout_invoice"`
	RabbitMQOrderExchange    string   `envconfig:"RABBITMQ_ORDER_EXCHANGE" default:"lncheckout_order"`
}
