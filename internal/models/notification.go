package models

import (
	"time"

	"github.com/uptrace/bun"
)

type NotificationType string

const (
	NotificationReminder NotificationType = "reminder"
	NotificationUpdate   NotificationType = "update"
)

type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:notification"`

	ID      string           `bun:"id,pk"`
	EventID string           `bun:"event_id,nullzero"`
	Type    NotificationType `bun:"type,notnull"`
	Title   string           `bun:"title,notnull"`
	Message string           `bun:"message,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull"`
}

// NotificationDelivery links a notification to one recipient. The
// (notification_id, user_id) pair is unique so fanout stays idempotent.
type NotificationDelivery struct {
	bun.BaseModel `bun:"table:notification_deliveries"`

	NotificationID string `bun:"notification_id,pk"`
	UserID         string `bun:"user_id,pk"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	ReadAt    time.Time `bun:"read_at,nullzero"`
}
