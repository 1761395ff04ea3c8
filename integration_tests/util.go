package integration_tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db"
	"github.com/getAlby/lncheckout/db/migrations"
	"github.com/getAlby/lncheckout/gateway"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/getAlby/lncheckout/lib/tokens"
	"github.com/getAlby/lncheckout/lib/transport"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/suite"
	"github.com/ziflex/lecho/v3"
)

const (
	testWebhookSecret = "whsec_integration"
	testAdminToken    = "admin-token"
)

type TestSuite struct {
	suite.Suite
	echo        *echo.Echo
	service     *service.CheckoutService
	mockGateway *gateway.MockGateway
	notifier    *recordingNotifier
}

// recordingNotifier stands in for the merchant's fulfillment endpoint.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []service.FulfillmentMessage
}

func (n *recordingNotifier) NotifyPaid(ctx context.Context, msg *service.FulfillmentMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, *msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func CheckoutTestServiceInit() (svc *service.CheckoutService, mockGateway *gateway.MockGateway, err error) {
	dbUri, ok := os.LookupEnv("DATABASE_URI")
	if !ok {
		dbUri = "sqlite://:memory:"
	}
	c := &service.Config{
		DatabaseUri:              dbUri,
		DatabaseMaxConns:         1,
		DatabaseMaxIdleConns:     1,
		DatabaseConnMaxLifetime:  10,
		AdminToken:               testAdminToken,
		DefaultRateLimit:         1000,
		StrictRateLimit:          1000,
		BurstRateLimit:           1000,
		CorsAllowOrigins:         []string{"*"},
		WebhookSecret:            testWebhookSecret,
		GatewayRefreshTimeout:    1,
		FulfillmentTimeout:       1,
		FulfillmentRetryInterval: 60,
		FulfillmentMaxRuns:       3,
		ReconcileBatchSize:       100,
		StatsCacheTTL:            1,
	}
	dbConn, err := db.Open(c)
	if err != nil {
		return nil, nil, err
	}
	if _, err = migrations.Run(context.Background(), dbConn); err != nil {
		return nil, nil, err
	}

	mockGateway, err = gateway.NewMockGateway(&gateway.Config{
		MockCheckoutURL:   "http://localhost:3000/mock-checkout",
		MockInvoiceExpiry: 900,
	})
	if err != nil {
		return nil, nil, err
	}
	logger := lecho.New(os.Stdout, lecho.WithLevel(log.WARN), lecho.WithTimestamp())
	svc = service.NewCheckoutService(c, dbConn, mockGateway, logger)
	return svc, mockGateway, nil
}

func newTestEcho(svc *service.CheckoutService) *echo.Echo {
	e := transport.InitEcho(svc.Config, svc.Logger)
	transport.RegisterV2Endpoints(svc, e,
		transport.CreateRateLimitMiddleware(svc.Config.StrictRateLimit, svc.Config.BurstRateLimit),
		tokens.AdminTokenMiddleware(svc.Config.AdminToken),
		transport.CreateLoggingMiddleware(svc.Logger),
	)
	return e
}

func clearTable(svc *service.CheckoutService, tableName string) error {
	_, err := svc.DB.NewDelete().TableExpr(tableName).Where("1 = 1").Exec(context.Background())
	return err
}

func (suite *TestSuite) do(method, target string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		var buf bytes.Buffer
		suite.Require().NoError(json.NewEncoder(&buf).Encode(body))
		reader = &buf
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	return rec
}

func (suite *TestSuite) decode(rec *httptest.ResponseRecorder, target interface{}) {
	suite.Require().NoError(json.NewDecoder(rec.Body).Decode(target), rec.Body.String())
}

func adminHeaders() map[string]string {
	return map[string]string{echo.HeaderAuthorization: "Bearer " + testAdminToken}
}


func signedWebhook(eventType, invoiceID, deliveryID string) ([]byte, map[string]string) {
	body, _ := json.Marshal(map[string]interface{}{
		"type":       eventType,
		"invoiceId":  invoiceID,
		"deliveryId": deliveryID,
		"timestamp":  time.Now().Unix(),
	})
	return body, map[string]string{common.SignatureHeader: gateway.Sign(body, []byte(testWebhookSecret))}
}
