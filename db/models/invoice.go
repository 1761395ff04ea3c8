package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/getAlby/lncheckout/common"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Invoice : Invoice Model
type Invoice struct {
	bun.BaseModel `bun:"table:invoices"`

	ID               string               `json:"id" bun:",pk"`
	OrderID          string               `json:"order_id" bun:",unique,notnull"`
	Amount           decimal.Decimal      `json:"amount" bun:",type:numeric(12,2),notnull"`
	Description      string               `json:"description" bun:",nullzero"`
	Status           common.InvoiceStatus `json:"status" bun:",notnull,default:'pending'"`
	PaymentRequest   string               `json:"payment_request" bun:",nullzero"`
	CheckoutLink     string               `json:"checkout_link" bun:",nullzero"`
	CustomerEmail    string               `json:"customer_email,omitempty" bun:",nullzero"`
	ProviderSnapshot json.RawMessage      `json:"-" bun:",type:jsonb,nullzero"`
	CreatedAt        time.Time            `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt        bun.NullTime         `json:"updated_at"`
	ExpiresAt        bun.NullTime         `json:"expires_at" bun:",nullzero"`
	PaidAt           bun.NullTime         `json:"paid_at" bun:",nullzero"`
	CancelledAt      bun.NullTime         `json:"cancelled_at" bun:",nullzero"`
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)
