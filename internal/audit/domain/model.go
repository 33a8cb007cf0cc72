package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionOrderCreated         = "order_created"
	ActionPaymentIntentCreated = "payment_intent_created"
	ActionOrderCancelled       = "order_cancelled"
	ActionPaymentSucceeded     = "payment_succeeded"
	ActionPaymentFailed        = "payment_failed"
	ActionPaymentCanceled      = "payment_canceled"
)

// PaymentAudit is one append-only record of an order state change.
type PaymentAudit struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID         uuid.UUID    `gorm:"type:uuid;not null;index" json:"order_id"`
	Action          string       `gorm:"type:text;not null" json:"action"`
	OldStatus       *string      `gorm:"type:text" json:"old_status"`
	NewStatus       string       `gorm:"type:text;not null" json:"new_status"`
	ProviderEventID *string      `gorm:"type:text" json:"provider_event_id"`
	Details         *string      `gorm:"type:text" json:"details"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
}

func (PaymentAudit) TableName() string { return "payment_audits" }

// Entry describes an audit record before it is stamped with id and time.
type Entry struct {
	OrderID         uuid.UUID
	Action          string
	OldStatus       string
	NewStatus       string
	ProviderEventID string
	Details         string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *PaymentAudit) error
	ListByOrder(ctx context.Context, db *gorm.DB, orderID uuid.UUID) ([]PaymentAudit, error)
	CountByOrderAndAction(ctx context.Context, db *gorm.DB, orderID uuid.UUID, action string) (int64, error)
}

type Service interface {
	// Record appends an entry using db, which may be an open transaction.
	Record(ctx context.Context, db *gorm.DB, entry Entry) (PaymentAudit, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]PaymentAudit, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidOrder  = errors.New("invalid_order")
)
