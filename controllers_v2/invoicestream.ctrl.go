package v2controllers

import (
	"net/http"
	"time"

	"github.com/getAlby/lncheckout/db/models"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const streamKeepaliveInterval = 30 * time.Second

type InvoiceStreamController struct {
	svc *service.CheckoutService
}

type InvoiceEventWrapper struct {
	Type    string   `json:"type"`
	Invoice *Invoice `json:"invoice,omitempty"`
}

func NewInvoiceStreamController(svc *service.CheckoutService) *InvoiceStreamController {
	return &InvoiceStreamController{svc: svc}
}

// StreamInvoice godoc
// @Summary      Stream invoice status
// @Description  Upgrades to a websocket that sends the invoice once and again on every status change. The socket is closed after a final status.
// @Tags         Invoice
// @Param        id   path      string  true  "Invoice id"
// @Success      101
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id}/stream [get]
func (controller *InvoiceStreamController) StreamInvoice(c echo.Context) error {
	invoice, updates, stop, err := controller.svc.WatchInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	defer stop()

	upgrader := websocket.Upgrader{}
	upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already replied
		c.Logger().Errorf("Could not upgrade invoice stream %s: %v", invoice.ID, err)
		return nil
	}
	defer ws.Close()

	//start listening for close messages
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamKeepaliveInterval)
	defer ticker.Stop()

	if finished, err := writeInvoiceEvent(ws, invoice); finished || err != nil {
		return nil
	}
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			if err := ws.WriteJSON(&InvoiceEventWrapper{Type: "keepalive"}); err != nil {
				c.Logger().Error(err)
				return nil
			}
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			finished, err := writeInvoiceEvent(ws, &update)
			if err != nil {
				c.Logger().Error(err)
				return nil
			}
			if finished {
				return nil
			}
		}
	}
}

// writeInvoiceEvent sends the invoice and closes the socket when its status is final.
func writeInvoiceEvent(ws *websocket.Conn, invoice *models.Invoice) (finished bool, err error) {
	view := toInvoice(invoice)
	if err = ws.WriteJSON(&InvoiceEventWrapper{Type: "invoice", Invoice: &view}); err != nil {
		return false, err
	}
	if !invoice.Status.IsTerminal() {
		return false, nil
	}
	err = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, invoice.Status.String()),
		time.Now().Add(time.Second))
	return true, err
}
