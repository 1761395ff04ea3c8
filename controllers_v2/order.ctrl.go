package v2controllers

import (
	"net/http"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type OrderController struct {
	svc *service.CheckoutService
}

func NewOrderController(svc *service.CheckoutService) *OrderController {
	return &OrderController{svc: svc}
}

type Order struct {
	OrderID   string               `json:"order_id"`
	InvoiceID string               `json:"invoice_id"`
	Amount    decimal.Decimal      `json:"amount" swaggertype:"string" example:"50.00"`
	Currency  string               `json:"currency"`
	Status    common.InvoiceStatus `json:"status" swaggertype:"string"`
	CreatedAt time.Time            `json:"created_at"`
}

// GetOrder godoc
// @Summary      Retrieve an order
// @Description  Returns an order and the status mirrored from its invoice
// @Accept       json
// @Produce      json
// @Tags         Order
// @Param        order_id  path      string  true  "Order id"
// @Success      200  {object}  Order
// @Failure      404  {object}  responses.ErrorResponse
// @Router       /v2/orders/{order_id} [get]
func (controller *OrderController) GetOrder(c echo.Context) error {
	order, err := controller.svc.GetOrder(c.Request().Context(), c.Param("order_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &Order{
		OrderID:   order.OrderID,
		InvoiceID: order.InvoiceID,
		Amount:    order.Amount,
		Currency:  common.Currency,
		Status:    order.Status,
		CreatedAt: order.CreatedAt,
	})
}
