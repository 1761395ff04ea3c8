package models

import (
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Order mirrors the status of the invoice it was created with.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID   string               `json:"order_id" bun:",pk"`
	InvoiceID string               `json:"invoice_id" bun:",unique,notnull"`
	Amount    decimal.Decimal      `json:"amount" bun:",type:numeric(12,2),notnull"`
	Status    common.InvoiceStatus `json:"status" bun:",notnull,default:'pending'"`
	CreatedAt time.Time            `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt bun.NullTime         `json:"updated_at"`
}
