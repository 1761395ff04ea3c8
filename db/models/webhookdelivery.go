package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// WebhookDelivery records every verified gateway callback so redeliveries can be absorbed.
type WebhookDelivery struct {
	bun.BaseModel `bun:"table:webhook_deliveries"`

	ID              int64           `json:"id" bun:",pk,autoincrement"`
	DeliveryID      string          `json:"delivery_id" bun:",unique,notnull"`
	EventType       string          `json:"event_type" bun:",notnull"`
	InvoiceID       string          `json:"invoice_id" bun:",nullzero"`
	Payload         json.RawMessage `json:"-" bun:",type:jsonb,nullzero"`
	ReceivedAt      time.Time       `json:"received_at" bun:",nullzero,notnull,default:current_timestamp"`
	ProcessedAt     bun.NullTime    `json:"processed_at" bun:",nullzero"`
	ProcessingError string          `json:"processing_error,omitempty" bun:",nullzero"`
}
