package v2controllers

import (
	"net/http"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type HealthController struct {
	svc *service.CheckoutService
}

func NewHealthController(svc *service.CheckoutService) *HealthController {
	return &HealthController{svc: svc}
}

type HealthResponse struct {
	Result string `json:"result"`
}

type StatusResponse struct {
	Gateway   string             `json:"gateway"`
	Currency  string             `json:"currency"`
	MinAmount decimal.Decimal    `json:"min_amount" swaggertype:"string"`
	MaxAmount decimal.Decimal    `json:"max_amount" swaggertype:"string"`
	Today     *StatsResponseBody `json:"today,omitempty"`
}

// Check godoc
// @Summary      Check system health
// @Description  Check system health
// @Accept       json
// @Produce      json
// @Tags         Status
// @Success      200  {object}  HealthResponse
// @Router       /health [get]
func (controller *HealthController) Check(c echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{
		Result: "OK",
	})
}

// Status godoc
// @Summary      Service status
// @Description  Returns the configured gateway, the accepted payment range and today's statistics
// @Accept       json
// @Produce      json
// @Tags         Status
// @Success      200  {object}  StatusResponse
// @Router       /v2/status [get]
func (controller *HealthController) Status(c echo.Context) error {
	response := &StatusResponse{
		Gateway:   controller.svc.Gateway.Kind(),
		Currency:  common.Currency,
		MinAmount: common.MinInvoiceAmount,
		MaxAmount: common.MaxInvoiceAmount,
	}
	stats, err := controller.svc.GetStats(c.Request().Context(), common.TimeframeDay)
	if err != nil {
		// the status page stays up when the database is not
		c.Logger().Errorf("Could not load stats for the status page: %v", err)
	} else {
		response.Today = toStats(stats)
	}
	return c.JSON(http.StatusOK, response)
}
