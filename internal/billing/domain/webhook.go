package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookEvent is the dedup ledger row for one provider notification.
type WebhookEvent struct {
	ID                  snowflake.ID   `gorm:"primaryKey" json:"id"`
	ProviderEventID     string         `gorm:"type:text;not null;uniqueIndex" json:"provider_event_id"`
	EventType           string         `gorm:"type:text;not null" json:"event_type"`
	OrderID             *uuid.UUID     `gorm:"type:uuid;index" json:"order_id"`
	Processed           bool           `gorm:"not null;default:false" json:"processed"`
	ProcessingStartedAt *time.Time     `json:"processing_started_at"`
	ProcessedAt         *time.Time     `json:"processed_at"`
	ErrorMessage        *string        `gorm:"type:text" json:"error_message"`
	RetryCount          int            `gorm:"not null;default:0" json:"retry_count"`
	Payload             datatypes.JSON `gorm:"type:jsonb;not null" json:"-"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// EventKind is the closed set of provider events the reconciler understands.
type EventKind int

const (
	EventKindUnhandled EventKind = iota
	EventKindPaymentSucceeded
	EventKindPaymentFailed
	EventKindPaymentCanceled
)

func (k EventKind) String() string {
	switch k {
	case EventKindPaymentSucceeded:
		return "payment_succeeded"
	case EventKindPaymentFailed:
		return "payment_failed"
	case EventKindPaymentCanceled:
		return "payment_canceled"
	default:
		return "unhandled"
	}
}

// ProviderEvent is a verified, parsed provider notification.
type ProviderEvent struct {
	ID              string
	Type            string
	Kind            EventKind
	PaymentIntentID string
	FailureReason   string
	Metadata        map[string]string
	CreatedAt       time.Time
}

type ListWebhookEventsRequest struct {
	OnlyFailed bool
	Limit      int
}
