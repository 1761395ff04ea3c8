package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Payment is written once, when its invoice moves to paid.
// Only the fulfillment bookkeeping columns are ever updated afterwards.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID                  string          `json:"id" bun:",pk"`
	InvoiceID           string          `json:"invoice_id" bun:",unique,notnull"`
	Amount              decimal.Decimal `json:"amount" bun:",type:numeric(12,2),notnull"`
	PaymentHash         string          `json:"payment_hash,omitempty" bun:",nullzero"`
	CompletedAt         time.Time       `json:"completed_at" bun:",notnull"`
	RawPayload          json.RawMessage `json:"-" bun:",type:jsonb,nullzero"`
	FulfilledAt         bun.NullTime    `json:"fulfilled_at" bun:",nullzero"`
	FulfillmentAttempts int             `json:"-" bun:",notnull,default:0"`
	FulfillmentError    string          `json:"-" bun:",nullzero"`
	CreatedAt           time.Time       `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}
