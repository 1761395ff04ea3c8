package v2controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/db/models"
	"github.com/getAlby/lncheckout/lib/responses"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// InvoiceController : Invoice controller struct
type InvoiceController struct {
	svc *service.CheckoutService
}

func NewInvoiceController(svc *service.CheckoutService) *InvoiceController {
	return &InvoiceController{svc: svc}
}

type Invoice struct {
	ID             string               `json:"id"`
	OrderID        string               `json:"order_id"`
	Amount         decimal.Decimal      `json:"amount" swaggertype:"string" example:"50.00"`
	Currency       string               `json:"currency"`
	Description    string               `json:"description"`
	Status         common.InvoiceStatus `json:"status" swaggertype:"string"`
	PaymentRequest string               `json:"payment_request"`
	CheckoutLink   string               `json:"checkout_link"`
	CustomerEmail  string               `json:"customer_email,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
	PaidAt         *time.Time           `json:"paid_at,omitempty"`
	CancelledAt    *time.Time           `json:"cancelled_at,omitempty"`
}

func toInvoice(invoice *models.Invoice) Invoice {
	return Invoice{
		ID:             invoice.ID,
		OrderID:        invoice.OrderID,
		Amount:         invoice.Amount,
		Currency:       common.Currency,
		Description:    invoice.Description,
		Status:         invoice.Status,
		PaymentRequest: invoice.PaymentRequest,
		CheckoutLink:   invoice.CheckoutLink,
		CustomerEmail:  invoice.CustomerEmail,
		CreatedAt:      invoice.CreatedAt,
		ExpiresAt:      optionalTime(invoice.ExpiresAt.Time),
		PaidAt:         optionalTime(invoice.PaidAt.Time),
		CancelledAt:    optionalTime(invoice.CancelledAt.Time),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type AddInvoiceRequestBody struct {
	Amount        decimal.Decimal `json:"amount" swaggertype:"string" example:"50.00"`
	Description   string          `json:"description" validate:"max=500"`
	CustomerEmail string          `json:"customer_email" validate:"omitempty,email"`
}

type CancelInvoiceResponseBody struct {
	Success     bool                 `json:"success"`
	ID          string               `json:"id"`
	Status      common.InvoiceStatus `json:"status" swaggertype:"string"`
	CancelledAt *time.Time           `json:"cancelled_at"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type GetInvoicesResponseBody struct {
	Invoices   []Invoice  `json:"invoices"`
	Pagination Pagination `json:"pagination"`
}

// AddInvoice godoc
// @Summary      Create a checkout invoice
// @Description  Creates a USD denominated Lightning invoice at the payment gateway. The amount must be between 20 and 100.
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        invoice  body      AddInvoiceRequestBody  True  "Add Invoice"
// @Success      201      {object}  Invoice
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      502      {object}  responses.ErrorResponse
// @Failure      500      {object}  responses.ErrorResponse
// @Router       /v2/invoices [post]
func (controller *InvoiceController) AddInvoice(c echo.Context) error {
	var body AddInvoiceRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	invoice, err := controller.svc.CreateInvoice(c.Request().Context(), body.Amount, body.Description, body.CustomerEmail)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toInvoice(invoice))
}

// GetInvoice godoc
// @Summary      Retrieve an invoice
// @Description  Returns the invoice after refreshing its status from the gateway. Stored data is served when the gateway is unreachable.
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        id   path      string  true  "Invoice id"
// @Success      200  {object}  Invoice
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      500  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id} [get]
func (controller *InvoiceController) GetInvoice(c echo.Context) error {
	invoice, err := controller.svc.GetInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toInvoice(invoice))
}

// GetLightningDetails godoc
// @Summary      Retrieve the Lightning payment method
// @Description  Returns the BOLT11 payment request and the BTC amounts of an invoice
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        id   path      string  true  "Invoice id"
// @Success      200  {object}  gateway.LightningDetails
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      502  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id}/lightning [get]
func (controller *InvoiceController) GetLightningDetails(c echo.Context) error {
	details, err := controller.svc.LightningDetails(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, details)
}

// CancelInvoice godoc
// @Summary      Cancel an invoice
// @Description  Cancels a pending or processing invoice. Terminal invoices can not be cancelled.
// @Accept       json
// @Produce      json
// @Tags         Admin
// @Param        id   path      string  true  "Invoice id"
// @Success      200  {object}  CancelInvoiceResponseBody
// @Failure      404  {object}  responses.ErrorResponse
// @Failure      409  {object}  responses.ErrorResponse
// @Router       /v2/invoices/{id} [delete]
// @Security     ApiKeyAuth
func (controller *InvoiceController) CancelInvoice(c echo.Context) error {
	invoice, err := controller.svc.CancelInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &CancelInvoiceResponseBody{
		Success:     true,
		ID:          invoice.ID,
		Status:      invoice.Status,
		CancelledAt: optionalTime(invoice.CancelledAt.Time),
	})
}

// GetInvoices godoc
// @Summary      List invoices
// @Description  Returns invoices ordered by creation time, newest first
// @Accept       json
// @Produce      json
// @Tags         Admin
// @Param        page            query     int     false  "Page, starting at 1"
// @Param        limit           query     int     false  "Page size, at most 100"
// @Param        status          query     string  false  "Status filter"
// @Param        customer_email  query     string  false  "Customer email filter"
// @Success      200  {object}  GetInvoicesResponseBody
// @Failure      400  {object}  responses.ErrorResponse
// @Router       /v2/invoices [get]
// @Security     ApiKeyAuth
func (controller *InvoiceController) GetInvoices(c echo.Context) error {
	params := service.ListInvoicesParams{
		Status:        c.QueryParam("status"),
		CustomerEmail: c.QueryParam("customer_email"),
	}
	var err error
	if params.Page, err = intQueryParam(c, "page"); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if params.Limit, err = intQueryParam(c, "limit"); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	page, err := controller.svc.ListInvoices(c.Request().Context(), params)
	if err != nil {
		return err
	}
	response := make([]Invoice, len(page.Invoices))
	for i := range page.Invoices {
		response[i] = toInvoice(&page.Invoices[i])
	}
	return c.JSON(http.StatusOK, &GetInvoicesResponseBody{
		Invoices: response,
		Pagination: Pagination{
			Page:  page.Page,
			Limit: page.Limit,
			Total: page.Total,
			Pages: page.Pages,
		},
	})
}

func intQueryParam(c echo.Context, name string) (int, error) {
	if !c.QueryParams().Has(name) {
		return 0, nil
	}
	value, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		c.Logger().Errorf("Could not parse %s %q: %v", name, c.QueryParam(name), err)
	}
	return value, err
}

