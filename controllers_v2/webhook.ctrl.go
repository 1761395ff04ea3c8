package v2controllers

import (
	"io"
	"net/http"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/lib/responses"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/echo/v4"
)

// WebhookController receives gateway callbacks.
type WebhookController struct {
	svc *service.CheckoutService
}

func NewWebhookController(svc *service.CheckoutService) *WebhookController {
	return &WebhookController{svc: svc}
}

type WebhookResponseBody struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// ReceiveBTCPayWebhook godoc
// @Summary      Receive a gateway webhook
// @Description  Verifies the BTCPay-Sig header over the raw body and applies the event. Duplicates, unknown events and unknown invoices are acknowledged.
// @Accept       json
// @Produce      json
// @Tags         Webhook
// @Param        BTCPay-Sig  header    string  true  "sha256=<hex hmac of the body>"
// @Success      200  {object}  WebhookResponseBody
// @Failure      400  {object}  responses.ErrorResponse
// @Failure      401  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/webhooks/btcpay [post]
func (controller *WebhookController) ReceiveBTCPayWebhook(c echo.Context) error {
	// the signature covers the bytes as sent, so the body is never bound
	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.Logger().Errorf("Failed to read webhook body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	outcome, err := controller.svc.HandleWebhook(c.Request().Context(), rawBody, c.Request().Header.Get(common.SignatureHeader))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &WebhookResponseBody{Received: true, Outcome: string(outcome)})
}
