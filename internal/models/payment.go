package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentSettled   PaymentStatus = "settled"
	PaymentUnsettled PaymentStatus = "unsettled"
)

type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID      string `bun:"id,pk"`
	UserID  string `bun:"user_id,notnull"`
	EventID string `bun:"event_id,notnull"`

	Amount        float64       `bun:"amount,notnull"`
	Status        PaymentStatus `bun:"status,notnull"`
	DiscountCode  string        `bun:"discount_code,nullzero"`
	TransactionID string        `bun:"transaction_id,unique,notnull"`

	PaidAt    time.Time `bun:"paid_at,nullzero"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type SettleRequest struct {
	DiscountCode string `json:"discount_code,omitempty"`
}

type PaymentStatusRequest struct {
	Settled bool `json:"settled"`
}
