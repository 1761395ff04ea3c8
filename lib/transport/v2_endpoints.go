package transport

import (
	"time"

	v2controllers "github.com/getAlby/lncheckout/controllers_v2"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/echo/v4"
)

func RegisterV2Endpoints(svc *service.CheckoutService, e *echo.Echo, strictRateLimitMiddleware echo.MiddlewareFunc, adminMw echo.MiddlewareFunc, logMw echo.MiddlewareFunc) {
	invoiceCtrl := v2controllers.NewInvoiceController(svc)
	healthCtrl := v2controllers.NewHealthController(svc)

	e.GET("/health", healthCtrl.Check)
	e.GET("/v2/status", healthCtrl.Status, logMw)

	// gateway callbacks are not rate limited, a rejected delivery is only retried later
	e.POST("/v2/webhooks/btcpay", v2controllers.NewWebhookController(svc).ReceiveBTCPayWebhook, logMw)

	e.POST("/v2/invoices", invoiceCtrl.AddInvoice, strictRateLimitMiddleware, logMw)
	e.GET("/v2/invoices/:id", invoiceCtrl.GetInvoice, logMw)
	e.GET("/v2/invoices/:id/lightning", invoiceCtrl.GetLightningDetails, logMw)
	e.GET("/v2/invoices/:id/stream", v2controllers.NewInvoiceStreamController(svc).StreamInvoice, logMw)
	e.GET("/v2/orders/:order_id", v2controllers.NewOrderController(svc).GetOrder, logMw)

	//admin endpoints are only available with an admin token
	if svc.Config.AdminToken != "" {
		e.GET("/v2/invoices", invoiceCtrl.GetInvoices, adminMw, logMw)
		e.DELETE("/v2/invoices/:id", invoiceCtrl.CancelInvoice, adminMw, logMw)
		e.GET("/v2/stats", v2controllers.NewStatsController(svc).GetStats, adminMw, logMw, CreateCacheMiddleware(time.Duration(svc.Config.StatsCacheTTL)*time.Second))
	}
}
