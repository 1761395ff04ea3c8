package v2controllers

import (
	"net/http"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/getAlby/lncheckout/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type StatsController struct {
	svc *service.CheckoutService
}

func NewStatsController(svc *service.CheckoutService) *StatsController {
	return &StatsController{svc: svc}
}

// StatsResponseBody uses the snake_case field names of every other v2 body:
// total_amount, paid_amount and conversion_rate.
type StatsResponseBody struct {
	Timeframe      string          `json:"timeframe"`
	Since          time.Time       `json:"since"`
	Total          int             `json:"total"`
	Paid           int             `json:"paid"`
	Pending        int             `json:"pending"`
	Expired        int             `json:"expired"`
	TotalAmount    decimal.Decimal `json:"total_amount" swaggertype:"string"`
	PaidAmount     decimal.Decimal `json:"paid_amount" swaggertype:"string"`
	ConversionRate float64         `json:"conversion_rate"` // percent of invoices paid
}

func toStats(stats *service.InvoiceStats) *StatsResponseBody {
	return &StatsResponseBody{
		Timeframe:      stats.Timeframe,
		Since:          stats.Since,
		Total:          stats.Total,
		Paid:           stats.Paid,
		Pending:        stats.Pending,
		Expired:        stats.Expired,
		TotalAmount:    stats.TotalAmount,
		PaidAmount:     stats.PaidAmount,
		ConversionRate: stats.ConversionRate,
	}
}

// GetStats godoc
// @Summary      Invoice statistics
// @Description  Aggregates the invoices created in the last day, week or month
// @Accept       json
// @Produce      json
// @Tags         Admin
// @Param        timeframe  query     string  false  "day (default), week or month"
// @Success      200  {object}  StatsResponseBody
// @Failure      400  {object}  responses.ErrorResponse
// @Router       /v2/stats [get]
// @Security     ApiKeyAuth
func (controller *StatsController) GetStats(c echo.Context) error {
	timeframe := c.QueryParam("timeframe")
	if timeframe == "" {
		timeframe = common.TimeframeDay
	}
	stats, err := controller.svc.GetStats(c.Request().Context(), timeframe)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toStats(stats))
}
